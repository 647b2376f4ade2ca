package disk

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"syscall"

	"github.com/downfa11-org/go-journal/util"
)

const zeroFillChunkSize = 1 << 20

// SpaceAllocator reserves disk blocks for a freshly created file so later
// writes through a memory mapping never hit ENOSPC.
type SpaceAllocator interface {
	Allocate(f *os.File, size int64) error
}

// AllocatorFunc adapts a plain function to SpaceAllocator.
type AllocatorFunc func(f *os.File, size int64) error

func (fn AllocatorFunc) Allocate(f *os.File, size int64) error {
	return fn(f, size)
}

// NoopAllocator leaves the file sparse.
var NoopAllocator SpaceAllocator = AllocatorFunc(func(*os.File, int64) error { return nil })

// ZeroFillAllocator writes zeros up to size, which works on every filesystem.
var ZeroFillAllocator SpaceAllocator = AllocatorFunc(zeroFill)

type strategy struct {
	name     string
	allocate func(f *os.File, size int64) error
	disabled atomic.Bool
}

// FallbackAllocator tries its strategies in order. A strategy that reports
// the operation as unsupported is disabled for the lifetime of the allocator.
type FallbackAllocator struct {
	strategies []*strategy
}

func NewFallbackAllocator() *FallbackAllocator {
	return &FallbackAllocator{
		strategies: []*strategy{
			{name: "native", allocate: nativeAllocate},
			{name: "posix", allocate: posixAllocate},
			{name: "zero-fill", allocate: zeroFill},
		},
	}
}

var defaultAllocator = NewFallbackAllocator()

// DefaultAllocator returns the process-wide fallback allocator, so a strategy
// found unsupported once is never retried.
func DefaultAllocator() SpaceAllocator {
	return defaultAllocator
}

func (a *FallbackAllocator) Allocate(f *os.File, size int64) error {
	for _, s := range a.strategies {
		if s.disabled.Load() {
			continue
		}

		err := s.allocate(f, size)
		if err == nil {
			return nil
		}
		if !isUnsupported(err) {
			return fmt.Errorf("%s allocation of %s failed: %w", s.name, f.Name(), err)
		}
		if s.disabled.CompareAndSwap(false, true) {
			util.Warn("%s space allocation is not supported here, falling back: %v", s.name, err)
		}
	}
	return fmt.Errorf("no space allocation strategy available for %s", f.Name())
}

// Enabled lists the names of the strategies that have not been disabled.
func (a *FallbackAllocator) Enabled() []string {
	names := make([]string, 0, len(a.strategies))
	for _, s := range a.strategies {
		if !s.disabled.Load() {
			names = append(names, s.name)
		}
	}
	return names
}

func isUnsupported(err error) bool {
	return errors.Is(err, errors.ErrUnsupported) || errors.Is(err, syscall.EINVAL)
}

func zeroFill(f *os.File, size int64) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}

	buf := make([]byte, zeroFillChunkSize)
	for off := info.Size(); off < size; {
		n := int64(len(buf))
		if size-off < n {
			n = size - off
		}
		written, err := f.WriteAt(buf[:n], off)
		if err != nil {
			return err
		}
		off += int64(written)
	}
	return nil
}
