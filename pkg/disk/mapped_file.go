package disk

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	DirPerm  = 0o755
	FilePerm = 0o644
)

// MappedFile is a file mapped read-write into memory. It does not keep the
// file descriptor open once the mapping exists.
type MappedFile struct {
	path string
	data []byte
}

// CreateMappedFile creates (or overwrites) path, reserves size bytes with the
// allocator and maps the whole range.
func CreateMappedFile(path string, size int64, allocator SpaceAllocator) (*MappedFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, FilePerm)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if allocator == nil {
		allocator = NoopAllocator
	}
	if err := allocator.Allocate(f, size); err != nil {
		return nil, err
	}
	return mapOpenFile(f, size)
}

// OpenMappedFile maps an existing file. A file shorter than size is extended
// with zeros first.
func OpenMappedFile(path string, size int64) (*MappedFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, FilePerm)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return mapOpenFile(f, size)
}

func mapOpenFile(f *os.File, size int64) (*MappedFile, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			return nil, fmt.Errorf("resize %s to %d: %w", f.Name(), size, err)
		}
	}

	data, err := mmap(f, int(size))
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", f.Name(), err)
	}
	return &MappedFile{path: f.Name(), data: data}, nil
}

func (m *MappedFile) Path() string {
	return m.path
}

// Bytes returns the mapped region. It must not be used after Close.
func (m *MappedFile) Bytes() []byte {
	return m.data
}

func (m *MappedFile) Size() int {
	return len(m.data)
}

// Flush writes dirty pages of the mapping back to the file.
func (m *MappedFile) Flush() error {
	if m.data == nil {
		return os.ErrClosed
	}
	return msync(m.data)
}

// Rename moves the underlying file; the mapping stays valid.
func (m *MappedFile) Rename(newPath string) error {
	if err := os.Rename(m.path, newPath); err != nil {
		return err
	}
	m.path = newPath
	return SyncDir(filepath.Dir(newPath))
}

// Close unmaps the file. Closing twice is a no-op.
func (m *MappedFile) Close() error {
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	return munmap(data)
}

// Remove unmaps and deletes the file.
func (m *MappedFile) Remove() error {
	if err := m.Close(); err != nil {
		return err
	}
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SyncDir flushes directory metadata so created, renamed or removed entries
// survive a crash.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !isUnsupported(err) {
		return fmt.Errorf("sync directory %s: %w", dir, err)
	}
	return nil
}
