//go:build linux

package blockdevice

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// OpenRawDevice opens a raw block special file (e.g. /dev/sdb) directly as
// a Device, querying its size with the BLKGETSIZE64 ioctl rather than
// trusting os.Stat, which reports 0 for block devices.
func OpenRawDevice(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open device %s: %w", path, err)
	}

	size, err := unix.IoctlGetUint64(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("BLKGETSIZE64 on %s: %w", path, err)
	}

	logrus.WithField("path", path).WithField("size", size).Debug("opened raw block device")

	return &File{f: f, size: size}, nil
}
