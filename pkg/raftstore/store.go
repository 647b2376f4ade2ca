package raftstore

import (
	"fmt"
	"sync"

	"github.com/downfa11-org/go-journal/pkg/metrics"
	"github.com/downfa11-org/go-journal/pkg/types"
	"github.com/downfa11-org/go-journal/util"
	"github.com/hashicorp/raft"
)

var _ raft.LogStore = (*LogStore)(nil)

// LogStore keeps raft log entries in a journal. Raft indexes map one to one
// onto journal indexes.
type LogStore struct {
	mu          sync.Mutex
	journal     types.Journal
	reader      types.JournalReader
	compression string
}

// New wraps j. Entries are msgpack encoded and compressed with the given codec.
func New(j types.Journal, compression string) (*LogStore, error) {
	if !util.ValidCompression(compression) {
		return nil, fmt.Errorf("unsupported compression codec %q", compression)
	}
	reader, err := j.OpenReader()
	if err != nil {
		return nil, err
	}
	return &LogStore{journal: j, reader: reader, compression: compression}, nil
}

func (s *LogStore) FirstIndex() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal.IsEmpty() {
		return 0, nil
	}
	return uint64(s.journal.FirstIndex()), nil
}

func (s *LogStore) LastIndex() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal.IsEmpty() {
		return 0, nil
	}
	return uint64(s.journal.LastIndex()), nil
}

// GetLog reads the entry at index, or returns raft.ErrLogNotFound.
func (s *LogStore) GetLog(index uint64, log *raft.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.getLog(int64(index), log)
	metrics.RecordRaftOperation("get", err)
	return err
}

func (s *LogStore) getLog(index int64, log *raft.Log) error {
	if index < 1 || s.journal.IsEmpty() || index < s.journal.FirstIndex() || index > s.journal.LastIndex() {
		return raft.ErrLogNotFound
	}
	if s.reader.Seek(index) != index || !s.reader.HasNext() {
		return raft.ErrLogNotFound
	}
	rec, err := s.reader.Next()
	if err != nil {
		return err
	}
	if err := decodeLog(rec.Data, s.compression, log); err != nil {
		return fmt.Errorf("decode raft log %d: %w", index, err)
	}
	return nil
}

func (s *LogStore) StoreLog(log *raft.Log) error {
	return s.StoreLogs([]*raft.Log{log})
}

// StoreLogs appends logs and flushes the journal once. An entry that does
// not follow the last stored index overwrites the tail, or resets the journal
// when it lies beyond it, as happens after a snapshot install.
func (s *LogStore) StoreLogs(logs []*raft.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.storeLogs(logs)
	metrics.RecordRaftOperation("store", err)
	return err
}

func (s *LogStore) storeLogs(logs []*raft.Log) error {
	for _, log := range logs {
		if err := s.prepare(int64(log.Index)); err != nil {
			return err
		}
		data, err := encodeLog(log, s.compression)
		if err != nil {
			return err
		}
		rec, err := s.journal.Append(types.AsqnIgnore, data)
		if err != nil {
			return fmt.Errorf("append raft log %d: %w", log.Index, err)
		}
		if rec.Index != int64(log.Index) {
			return fmt.Errorf("raft log %d was stored at journal index %d", log.Index, rec.Index)
		}
	}
	metrics.RaftLogEntriesStored.Add(float64(len(logs)))
	return s.journal.Flush()
}

// prepare makes index the next journal index.
func (s *LogStore) prepare(index int64) error {
	if index < 1 {
		return fmt.Errorf("invalid raft log index %d", index)
	}
	next := s.journal.LastIndex() + 1
	switch {
	case index == next:
		return nil
	case index < next && index > s.journal.FirstIndex():
		util.Warn("Overwriting raft log from index %d, last index was %d", index, next-1)
		return s.journal.DeleteAfter(index - 1)
	default:
		util.Info("Raft log jumps from %d to %d, resetting journal", next-1, index)
		metrics.RaftLogResets.Inc()
		return s.journal.Reset(index)
	}
}

// DeleteRange removes the entries in [min, max]. Prefix deletion is done at
// segment granularity, so entries below max may remain readable.
func (s *LogStore) DeleteRange(min, max uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.deleteRange(int64(min), int64(max))
	metrics.RecordRaftOperation("delete", err)
	return err
}

func (s *LogStore) deleteRange(min, max int64) error {
	if min > max || s.journal.IsEmpty() {
		return nil
	}
	first, last := s.journal.FirstIndex(), s.journal.LastIndex()
	switch {
	case min <= first && max >= last:
		return s.journal.Reset(max + 1)
	case min <= first:
		return s.journal.DeleteUntil(max + 1)
	case max >= last:
		return s.journal.DeleteAfter(min - 1)
	default:
		return fmt.Errorf("cannot delete raft logs [%d, %d] from the middle of [%d, %d]", min, max, first, last)
	}
}

// Close releases the reader. The journal stays open.
func (s *LogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader.Close()
}
