package sfs

import (
	"encoding/binary"
	"fmt"

	"github.com/sfs-go/sfs/blockdevice"
)

// DirEntry is one variable-length directory entry: an inode number and a
// name, packed as (name_size byte, inode u32, name bytes) with no
// terminator.
type DirEntry struct {
	NameSize uint8
	InodeNum uint32
	Name     string
}

// NewDirEntry builds a DirEntry, rejecting empty or overlong names.
func NewDirEntry(inodeNum uint32, name string) (*DirEntry, error) {
	if name == "" || len(name) >= DirentryNameLength {
		return nil, fmt.Errorf("sfs: directory entry name %q: %w", name, ErrNameTooLong)
	}
	return &DirEntry{NameSize: uint8(len(name)), InodeNum: inodeNum, Name: name}, nil
}

// IsEmpty reports whether this entry is a tombstone.
func (e *DirEntry) IsEmpty() bool {
	return e.InodeNum == 0 || e.NameSize == 0
}

// onDiskSize is the number of bytes this entry occupies on disk.
func (e *DirEntry) onDiskSize() int {
	return 5 + int(e.NameSize)
}

func (e *DirEntry) toBytes() []byte {
	b := make([]byte, e.onDiskSize())
	b[0] = e.NameSize
	binary.LittleEndian.PutUint32(b[1:5], e.InodeNum)
	copy(b[5:], e.Name)
	return b
}

// readDirEntryAt reads one DirEntry from the physical block blockID at
// intra-block offset off.
func (fs *FileSystem) readDirEntryAt(blockID uint32, off uint32) (*DirEntry, error) {
	addr := uint64(blockID)*BlockSize + uint64(off)

	var hdr [5]byte
	if err := blockdevice.ReadExact(fs.dev, addr, hdr[:]); err != nil {
		return nil, err
	}
	nameSize := hdr[0]
	inodeNum := binary.LittleEndian.Uint32(hdr[1:5])
	if nameSize == 0 {
		return &DirEntry{InodeNum: inodeNum}, nil
	}

	name := make([]byte, nameSize)
	if err := blockdevice.ReadExact(fs.dev, addr+5, name); err != nil {
		return nil, err
	}
	return &DirEntry{NameSize: nameSize, InodeNum: inodeNum, Name: string(name)}, nil
}

// writeDirEntryAt writes entry to the physical block blockID at
// intra-block offset off.
func (fs *FileSystem) writeDirEntryAt(blockID uint32, off uint32, entry *DirEntry) error {
	addr := uint64(blockID)*BlockSize + uint64(off)
	return blockdevice.WriteExact(fs.dev, addr, entry.toBytes())
}

// dirLocation names one entry's position within a directory: the logical
// (not yet necessarily allocated) block index, the intra-block offset,
// and the entry's sequential slot number.
type dirLocation struct {
	blockIdx     uint32
	off          uint32
	slotNum      uint32
	needNewBlock bool
}

// scanDirectory walks dirInode's entries in on-disk order. If wantSlot is
// non-negative, it stops at that exact sequential slot, failing with
// ErrNoEntry if the directory doesn't extend that far. Otherwise it stops
// at the first tombstone (or empty) entry, or past the last allocated
// block, in which case needNewBlock is set so the caller knows to extend
// the directory before writing.
func (fs *FileSystem) scanDirectory(dirInode *Inode, wantSlot int64) (dirLocation, error) {
	var blockIdx, off, slotNum uint32

	for {
		blockID, ok, err := dirInode.GetBlockID(fs, blockIdx)
		if err != nil {
			return dirLocation{}, err
		}
		if !ok {
			if wantSlot >= 0 {
				return dirLocation{}, ErrNoEntry
			}
			return dirLocation{blockIdx: blockIdx, off: 0, slotNum: slotNum, needNewBlock: true}, nil
		}

		entry, err := fs.readDirEntryAt(blockID, off)
		if err != nil {
			return dirLocation{}, err
		}

		if wantSlot >= 0 {
			if int64(slotNum) == wantSlot {
				return dirLocation{blockIdx: blockIdx, off: off, slotNum: slotNum}, nil
			}
		} else if entry.IsEmpty() {
			return dirLocation{blockIdx: blockIdx, off: off, slotNum: slotNum}, nil
		}

		off += uint32(entry.onDiskSize())
		if off >= dirEntryCutoff {
			blockIdx++
			off = 0
		}
		slotNum++
	}
}

// WriteDirEntry writes entry into the directory identified by
// dirInodeAddr. If slot is non-nil, the existing entry at that sequential
// slot number is overwritten (an empty entry tombstones the slot at its
// existing width); otherwise the next free slot is used,
// extending the directory by one data block if none of its existing
// blocks have room. It returns the slot number the entry was written to.
func (fs *FileSystem) WriteDirEntry(dirInodeAddr uint32, entry *DirEntry, slot *uint32) (uint32, error) {
	dirInode, err := fs.ReadInode(dirInodeAddr)
	if err != nil {
		return 0, err
	}
	if dirInode.FileType() != TypeDir {
		return 0, fmt.Errorf("sfs: inode %d is not a directory: %w", dirInodeAddr, ErrWrongType)
	}

	wantSlot := int64(-1)
	if slot != nil {
		wantSlot = int64(*slot)
	}

	loc, err := fs.scanDirectory(dirInode, wantSlot)
	if err != nil {
		return 0, err
	}

	if loc.needNewBlock {
		if err := dirInode.getNextFreeBlock(fs, dirInodeAddr); err != nil {
			return 0, err
		}
	}

	blockID, ok, err := dirInode.GetBlockID(fs, loc.blockIdx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNoEntry
	}

	// An empty entry written over an existing slot becomes a tombstone
	// that keeps the old name size, so it occupies the same on-disk width
	// and the entries after it still parse.
	if slot != nil && entry.IsEmpty() {
		old, err := fs.readDirEntryAt(blockID, loc.off)
		if err != nil {
			return 0, err
		}
		entry = &DirEntry{NameSize: old.NameSize, Name: old.Name}
	}

	if err := fs.writeDirEntryAt(blockID, loc.off, entry); err != nil {
		return 0, err
	}
	return loc.slotNum, nil
}

// RemoveDirEntry tombstones the entry at the given sequential slot number
// within the directory dirInodeAddr.
func (fs *FileSystem) RemoveDirEntry(dirInodeAddr uint32, slot uint32) error {
	_, err := fs.WriteDirEntry(dirInodeAddr, &DirEntry{}, &slot)
	return err
}

// findDirEntryByName scans the directory in the same on-disk placement
// order as scanDirectory, looking for the first live entry named name.
func (fs *FileSystem) findDirEntryByName(dirInode *Inode, name string) (dirLocation, *DirEntry, error) {
	var blockIdx, off, slotNum uint32

	for {
		blockID, ok, err := dirInode.GetBlockID(fs, blockIdx)
		if err != nil {
			return dirLocation{}, nil, err
		}
		if !ok {
			return dirLocation{}, nil, ErrNoEntry
		}

		entry, err := fs.readDirEntryAt(blockID, off)
		if err != nil {
			return dirLocation{}, nil, err
		}
		if !entry.IsEmpty() && entry.Name == name {
			return dirLocation{blockIdx: blockIdx, off: off, slotNum: slotNum}, entry, nil
		}

		off += uint32(entry.onDiskSize())
		if off >= dirEntryCutoff {
			blockIdx++
			off = 0
		}
		slotNum++
	}
}

// DirIter walks a directory's entries in on-disk placement order,
// skipping tombstones. It threads the FileSystem handle through Next as
// an explicit parameter rather than capturing a mutable reference, so the
// same *FileSystem can service other calls between iterations.
type DirIter struct {
	dirInodeAddr uint32
	nextBlk      uint32
	nextOff      uint32
	done         bool
}

// NewDirIter creates an iterator over the directory at dirInodeAddr.
func NewDirIter(dirInodeAddr uint32) *DirIter {
	return &DirIter{dirInodeAddr: dirInodeAddr}
}

// Next returns the next non-tombstone entry, or ok=false once iteration
// is exhausted.
func (it *DirIter) Next(fs *FileSystem) (entry *DirEntry, ok bool, err error) {
	if it.done {
		return nil, false, nil
	}

	dirInode, err := fs.ReadInode(it.dirInodeAddr)
	if err != nil {
		return nil, false, err
	}

	for {
		blockID, present, err := dirInode.GetBlockID(fs, it.nextBlk)
		if err != nil {
			return nil, false, err
		}
		if !present {
			it.done = true
			return nil, false, nil
		}

		e, err := fs.readDirEntryAt(blockID, it.nextOff)
		if err != nil {
			it.done = true
			return nil, false, nil
		}

		it.nextOff += uint32(e.onDiskSize())
		if it.nextOff >= dirEntryCutoff {
			it.nextOff = 0
			it.nextBlk++
		}

		if e.IsEmpty() {
			continue
		}
		return e, true, nil
	}
}
