package metastore

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/downfa11-org/go-journal/pkg/types"
	"github.com/hashicorp/raft"
)

// ErrKeyNotFound is returned by Get for a missing key. raft matches on its text.
var ErrKeyNotFound = errors.New("not found")

const lastFlushedIndexKey = "journal.last_flushed_index"

var (
	_ types.MetaStore  = (*MemoryStore)(nil)
	_ raft.StableStore = (*MemoryStore)(nil)
)

// MemoryStore keeps metadata in memory only. It is meant for tests and for
// journals whose durability is handled elsewhere.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (s *MemoryStore) Set(key []byte, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[string(key)] = append([]byte(nil), val...)
	return nil
}

func (s *MemoryStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if val, ok := s.values[string(key)]; ok {
		return append([]byte(nil), val...), nil
	}
	return nil, ErrKeyNotFound
}

func (s *MemoryStore) SetUint64(key []byte, val uint64) error {
	return s.Set(key, encodeUint64(val))
}

// GetUint64 returns 0 for a missing key.
func (s *MemoryStore) GetUint64(key []byte) (uint64, error) {
	val, err := s.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeUint64(val), nil
}

func (s *MemoryStore) Delete(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, string(key))
}

func (s *MemoryStore) LoadLastFlushedIndex() int64 {
	v, _ := s.GetUint64([]byte(lastFlushedIndexKey))
	return int64(v)
}

func (s *MemoryStore) StoreLastFlushedIndex(index int64) error {
	return s.SetUint64([]byte(lastFlushedIndexKey), uint64(index))
}

func (s *MemoryStore) ResetLastFlushedIndex() error {
	s.Delete([]byte(lastFlushedIndexKey))
	return nil
}

func (s *MemoryStore) Flush() error {
	return nil
}

func (s *MemoryStore) snapshot() map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *MemoryStore) replace(values map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = values
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(buf []byte) uint64 {
	if len(buf) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(buf)
}
