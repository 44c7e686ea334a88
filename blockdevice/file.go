package blockdevice

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	times "gopkg.in/djherbis/times.v1"
)

// File is a Device backed by a regular file on disk, the usual way an sfs
// image is persisted between runs.
type File struct {
	f    *os.File
	size uint64
}

// OpenFile opens an existing sfs image file for reading and writing. The
// file must already exist and have a non-zero size; use CreateFile to make
// a fresh one.
func OpenFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("must pass a file path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	logBackingFileTimes(path)

	return &File{f: f, size: uint64(info.Size())}, nil
}

// CreateFile creates a new, zero-filled sfs image file of the given size.
// The path must not already exist.
func CreateFile(path string, size uint64) (*File, error) {
	if path == "" {
		return nil, errors.New("must pass a file path")
	}
	if size == 0 {
		return nil, errors.New("must pass a non-zero device size")
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("truncate %s to %d bytes: %w", path, size, err)
	}

	return &File{f: f, size: size}, nil
}

// logBackingFileTimes reports the backing file's OS-level birth/change
// time; purely diagnostic, never consulted by the block addressing logic.
func logBackingFileTimes(path string) {
	t, err := times.Stat(path)
	if err != nil {
		logrus.WithError(err).WithField("path", path).Debug("could not stat backing file times")
		return
	}
	entry := logrus.WithField("path", path).WithField("change_time", t.ChangeTime())
	if t.HasBirthTime() {
		entry = entry.WithField("birth_time", t.BirthTime())
	}
	entry.Debug("opened file-backed device")
}

// Size implements Device.
func (f *File) Size() uint64 {
	return f.size
}

// ReadLossy implements Device.
func (f *File) ReadLossy(addr uint64, buf []byte) (int, error) {
	if addr >= f.size {
		return 0, nil
	}
	n, err := f.f.ReadAt(buf, int64(addr))
	if n > 0 {
		return n, nil
	}
	return n, err
}

// WriteLossy implements Device.
func (f *File) WriteLossy(addr uint64, buf []byte) (int, error) {
	return f.f.WriteAt(buf, int64(addr))
}

// Close implements Device.
func (f *File) Close() error {
	return f.f.Close()
}
