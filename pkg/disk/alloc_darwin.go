//go:build darwin
// +build darwin

package disk

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

func nativeAllocate(*os.File, int64) error {
	return errors.ErrUnsupported
}

func posixAllocate(f *os.File, size int64) error {
	store := &unix.Fstore_t{
		Flags:   unix.F_ALLOCATEALL,
		Posmode: unix.F_PEOFPOSMODE,
		Offset:  0,
		Length:  size,
	}
	if err := unix.FcntlFstore(f.Fd(), unix.F_PREALLOCATE, store); err != nil {
		return err
	}
	return f.Truncate(size)
}
