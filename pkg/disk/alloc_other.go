//go:build !linux && !darwin
// +build !linux,!darwin

package disk

import (
	"errors"
	"os"
)

func nativeAllocate(*os.File, int64) error {
	return errors.ErrUnsupported
}

func posixAllocate(*os.File, int64) error {
	return errors.ErrUnsupported
}
