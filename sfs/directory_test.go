package sfs

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

func TestNewDirEntryValidation(t *testing.T) {
	if _, err := NewDirEntry(5, ""); !errors.Is(err, ErrNameTooLong) {
		t.Fatalf("empty name error = %v, want ErrNameTooLong", err)
	}
	tooLong := strings.Repeat("x", DirentryNameLength)
	if _, err := NewDirEntry(5, tooLong); !errors.Is(err, ErrNameTooLong) {
		t.Fatalf("255-byte name error = %v, want ErrNameTooLong", err)
	}

	justFits := strings.Repeat("x", DirentryNameLength-1)
	e, err := NewDirEntry(5, justFits)
	if err != nil {
		t.Fatalf("254-byte name: %v", err)
	}
	if e.onDiskSize() != 5+DirentryNameLength-1 {
		t.Fatalf("onDiskSize() = %d, want %d", e.onDiskSize(), 5+DirentryNameLength-1)
	}
}

func TestDirEntryToBytes(t *testing.T) {
	e, err := NewDirEntry(7, "foo")
	if err != nil {
		t.Fatalf("NewDirEntry: %v", err)
	}
	b := e.toBytes()
	if len(b) != 8 {
		t.Fatalf("len(toBytes()) = %d, want 8", len(b))
	}
	if b[0] != 3 {
		t.Fatalf("name_size byte = %d, want 3", b[0])
	}
	if got := binary.LittleEndian.Uint32(b[1:5]); got != 7 {
		t.Fatalf("inode field = %d, want 7", got)
	}
	if string(b[5:]) != "foo" {
		t.Fatalf("name field = %q, want foo", string(b[5:]))
	}
}

func TestDirEntryIsEmpty(t *testing.T) {
	var tombstone DirEntry
	if !tombstone.IsEmpty() {
		t.Fatalf("zero-value DirEntry should be empty")
	}
	live, err := NewDirEntry(1, "x")
	if err != nil {
		t.Fatalf("NewDirEntry: %v", err)
	}
	if live.IsEmpty() {
		t.Fatalf("entry with inode and name should not be empty")
	}
}

func newTestDir(t *testing.T, fs *FileSystem) uint32 {
	t.Helper()
	num, err := fs.CreateInode(newInode(TypeDir, 0o755, 0, 0, 0))
	if err != nil {
		t.Fatalf("CreateInode(dir): %v", err)
	}
	return num
}

func TestWriteDirEntryAndIterate(t *testing.T) {
	fs := newTestFS(t, 128)
	dir := newTestDir(t, fs)

	names := []string{"alpha", "beta", "gamma"}
	for i, name := range names {
		e, err := NewDirEntry(uint32(100+i), name)
		if err != nil {
			t.Fatalf("NewDirEntry(%s): %v", name, err)
		}
		if _, err := fs.WriteDirEntry(dir, e, nil); err != nil {
			t.Fatalf("WriteDirEntry(%s): %v", name, err)
		}
	}

	it := NewDirIter(dir)
	var got []string
	for {
		e, ok, err := it.Next(fs)
		if err != nil {
			t.Fatalf("DirIter.Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, e.Name)
	}
	if len(got) != len(names) {
		t.Fatalf("got %v, want %v", got, names)
	}
	for i, name := range names {
		if got[i] != name {
			t.Fatalf("entry %d = %q, want %q", i, got[i], name)
		}
	}
}

func TestWriteDirEntrySkipsTombstones(t *testing.T) {
	fs := newTestFS(t, 128)
	dir := newTestDir(t, fs)

	for i, name := range []string{"one", "two", "three"} {
		e, err := NewDirEntry(uint32(10+i), name)
		if err != nil {
			t.Fatalf("NewDirEntry: %v", err)
		}
		if _, err := fs.WriteDirEntry(dir, e, nil); err != nil {
			t.Fatalf("WriteDirEntry: %v", err)
		}
	}

	// Tombstone slot 1 ("two") by overwriting it in place.
	slot := uint32(1)
	if _, err := fs.WriteDirEntry(dir, &DirEntry{}, &slot); err != nil {
		t.Fatalf("WriteDirEntry(tombstone): %v", err)
	}

	it := NewDirIter(dir)
	var got []string
	for {
		e, ok, err := it.Next(fs)
		if err != nil {
			t.Fatalf("DirIter.Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, e.Name)
	}
	if len(got) != 2 || got[0] != "one" || got[1] != "three" {
		t.Fatalf("got %v, want [one three]", got)
	}
}

func TestWriteDirEntryOverwriteBySlot(t *testing.T) {
	fs := newTestFS(t, 128)
	dir := newTestDir(t, fs)

	first, err := NewDirEntry(1, "original")
	if err != nil {
		t.Fatalf("NewDirEntry: %v", err)
	}
	if _, err := fs.WriteDirEntry(dir, first, nil); err != nil {
		t.Fatalf("WriteDirEntry: %v", err)
	}

	replacement, err := NewDirEntry(2, "replaced")
	if err != nil {
		t.Fatalf("NewDirEntry: %v", err)
	}
	slot := uint32(0)
	if _, err := fs.WriteDirEntry(dir, replacement, &slot); err != nil {
		t.Fatalf("WriteDirEntry(overwrite): %v", err)
	}

	it := NewDirIter(dir)
	e, ok, err := it.Next(fs)
	if err != nil || !ok {
		t.Fatalf("DirIter.Next: %v, %v", ok, err)
	}
	if e.Name != "replaced" || e.InodeNum != 2 {
		t.Fatalf("entry = %+v, want replaced/2", e)
	}
	if _, ok, _ := it.Next(fs); ok {
		t.Fatalf("expected only one entry after overwrite")
	}
}

func TestWriteDirEntrySpillsIntoNewBlock(t *testing.T) {
	fs := newTestFS(t, 256)
	dir := newTestDir(t, fs)

	// Each entry is 5 + 250 = 255 bytes; entries start at offsets 0, 255,
	// ..., 3825 (the last one below dirEntryCutoff, 3836), so 16 fit per
	// block and writing 20 forces a second data block.
	longName := strings.Repeat("n", 250)
	const count = 20
	for i := 0; i < count; i++ {
		name := longName[:240] + string(rune('a'+i%26)) + longName[:9]
		e, err := NewDirEntry(uint32(200+i), name)
		if err != nil {
			t.Fatalf("NewDirEntry(%d): %v", i, err)
		}
		if _, err := fs.WriteDirEntry(dir, e, nil); err != nil {
			t.Fatalf("WriteDirEntry(%d): %v", i, err)
		}
	}

	dirInode, err := fs.ReadInode(dir)
	if err != nil {
		t.Fatalf("ReadInode: %v", err)
	}
	if dirInode.BlockPointers[1] == 0 {
		t.Fatalf("expected directory to span at least 2 data blocks")
	}

	it := NewDirIter(dir)
	var n int
	for {
		_, ok, err := it.Next(fs)
		if err != nil {
			t.Fatalf("DirIter.Next: %v", err)
		}
		if !ok {
			break
		}
		n++
	}
	if n != count {
		t.Fatalf("iterated %d entries, want %d", n, count)
	}
}
