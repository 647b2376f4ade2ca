package metastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/downfa11-org/go-journal/pkg/disk"
	"github.com/downfa11-org/go-journal/pkg/types"
	"github.com/downfa11-org/go-journal/util"
	"github.com/google/uuid"
	"github.com/hashicorp/raft"
)

var (
	_ types.MetaStore  = (*FileStore)(nil)
	_ raft.StableStore = (*FileStore)(nil)
)

// FileStore is a small key-value store persisted as one JSON file. The file
// is replaced atomically on every flush, so a crash leaves either the old or
// the new content.
//
// Set and SetUint64 persist immediately as raft requires; the journal
// watermark is buffered until Flush.
type FileStore struct {
	*MemoryStore

	path    string
	flushMu sync.Mutex
}

func OpenFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), disk.DirPerm); err != nil {
		return nil, fmt.Errorf("create meta store directory: %w", err)
	}

	s := &FileStore{MemoryStore: NewMemoryStore(), path: path}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read meta store %s: %w", path, err)
	}

	values := make(map[string][]byte)
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decode meta store %s: %w", path, err)
	}
	s.replace(values)
	util.Debug("Loaded %d keys from meta store %s", len(values), path)
	return s, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Set(key []byte, val []byte) error {
	if err := s.MemoryStore.Set(key, val); err != nil {
		return err
	}
	return s.Flush()
}

func (s *FileStore) SetUint64(key []byte, val uint64) error {
	return s.Set(key, encodeUint64(val))
}

// Flush writes all values to a temporary file and renames it over the store.
func (s *FileStore) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	data, err := json.Marshal(s.snapshot())
	if err != nil {
		return fmt.Errorf("encode meta store: %w", err)
	}

	tmp := fmt.Sprintf("%s.%s.tmp", s.path, uuid.NewString())
	if err := writeFileSync(tmp, data); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write meta store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace meta store: %w", err)
	}
	return disk.SyncDir(filepath.Dir(s.path))
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, disk.FilePerm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
