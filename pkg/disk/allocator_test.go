package disk

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "alloc.bin"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestFallbackAllocator_DisablesUnsupportedStrategy(t *testing.T) {
	var nativeCalls, fillCalls int
	a := &FallbackAllocator{strategies: []*strategy{
		{name: "native", allocate: func(*os.File, int64) error {
			nativeCalls++
			return errors.ErrUnsupported
		}},
		{name: "zero-fill", allocate: func(f *os.File, size int64) error {
			fillCalls++
			return zeroFill(f, size)
		}},
	}}

	f := newTestFile(t)
	require.NoError(t, a.Allocate(f, 4096))
	require.NoError(t, a.Allocate(f, 8192))

	assert.Equal(t, 1, nativeCalls, "unsupported strategy must not be retried")
	assert.Equal(t, 2, fillCalls)
	assert.Equal(t, []string{"zero-fill"}, a.Enabled())

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(8192), info.Size())
}

func TestFallbackAllocator_PropagatesRealErrors(t *testing.T) {
	boom := errors.New("disk on fire")
	a := &FallbackAllocator{strategies: []*strategy{
		{name: "native", allocate: func(*os.File, int64) error { return boom }},
		{name: "zero-fill", allocate: zeroFill},
	}}

	err := a.Allocate(newTestFile(t), 1024)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"native", "zero-fill"}, a.Enabled())
}

func TestFallbackAllocator_NothingLeft(t *testing.T) {
	a := &FallbackAllocator{strategies: []*strategy{
		{name: "native", allocate: func(*os.File, int64) error { return errors.ErrUnsupported }},
	}}
	require.Error(t, a.Allocate(newTestFile(t), 1024))
}

func TestDefaultAllocator_ReservesSize(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, DefaultAllocator().Allocate(f, 64*1024))

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(64*1024), info.Size())
}
