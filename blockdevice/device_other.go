//go:build !linux

package blockdevice

import (
	"errors"
	"runtime"
)

// OpenRawDevice is only implemented on Linux, where BLKGETSIZE64 exists.
// Elsewhere, open the image as a regular file with OpenFile instead.
func OpenRawDevice(_ string) (*File, error) {
	return nil, errors.New("blockdevice: raw device access not supported on " + runtime.GOOS)
}
