//go:build linux
// +build linux

package disk

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

func nativeAllocate(f *os.File, size int64) error {
	for {
		err := unix.Fallocate(int(f.Fd()), 0, 0, size)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

// glibc's posix_fallocate falls back to writing zeros, which the zero-fill
// strategy already covers.
func posixAllocate(*os.File, int64) error {
	return errors.ErrUnsupported
}
