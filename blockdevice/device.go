// Package blockdevice provides the byte-addressable storage collaborator
// that the sfs filesystem core is built against. The core never sees a
// concrete backend type, only the Device contract below; this package
// happens to ship an in-memory backend, a file-backed backend, and, on
// Linux, a raw block-special-file backend, so the core can actually be
// exercised end to end.
package blockdevice

import (
	"errors"
	"fmt"
	"io"
)

// ErrNotEnoughSpace is returned by the *Exact methods when the backing
// store could only satisfy a short read or write.
var ErrNotEnoughSpace = errors.New("not enough space")

// Device is the opaque byte-addressed store the sfs core depends on.
// A file-backed and an in-memory backend both satisfy it.
type Device interface {
	io.Closer
	// ReadLossy reads up to len(buf) bytes starting at addr, returning
	// however many bytes were actually available; it returns 0, nil at
	// or past EOF rather than an error.
	ReadLossy(addr uint64, buf []byte) (int, error)
	// WriteLossy writes up to len(buf) bytes starting at addr, returning
	// however many bytes were actually written.
	WriteLossy(addr uint64, buf []byte) (int, error)
	// Size returns the total addressable size of the device, in bytes.
	Size() uint64
}

// ReadExact reads exactly len(buf) bytes starting at addr, or returns
// ErrNotEnoughSpace.
func ReadExact(d Device, addr uint64, buf []byte) error {
	n, err := d.ReadLossy(addr, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("read %d of %d bytes at %d: %w", n, len(buf), addr, ErrNotEnoughSpace)
	}
	return nil
}

// WriteExact writes exactly len(buf) bytes starting at addr, or returns
// ErrNotEnoughSpace.
func WriteExact(d Device, addr uint64, buf []byte) error {
	n, err := d.WriteLossy(addr, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("wrote %d of %d bytes at %d: %w", n, len(buf), addr, ErrNotEnoughSpace)
	}
	return nil
}
