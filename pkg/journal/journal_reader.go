package journal

import (
	"fmt"
	"sync"

	"github.com/downfa11-org/go-journal/pkg/types"
	"github.com/downfa11-org/go-journal/util"
)

var _ types.JournalReader = (*SegmentedJournalReader)(nil)

// SegmentedJournalReader reads across segment boundaries. It follows
// truncation, compaction and reset of the journal it belongs to.
type SegmentedJournalReader struct {
	journal *SegmentedJournal

	mu        sync.Mutex
	segment   *Segment
	reader    *SegmentReader
	nextIndex int64
	closed    bool
}

func newSegmentedJournalReader(j *SegmentedJournal) *SegmentedJournalReader {
	return &SegmentedJournalReader{journal: j}
}

// NextIndex is the index of the record the next call to Next returns.
func (r *SegmentedJournalReader) NextIndex() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextIndex
}

func (r *SegmentedJournalReader) HasNext() bool {
	r.journal.mu.RLock()
	defer r.journal.mu.RUnlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || !r.journal.open.Load() {
		return false
	}
	return r.hasNextLocked()
}

func (r *SegmentedJournalReader) Next() (types.JournalRecord, error) {
	r.journal.mu.RLock()
	defer r.journal.mu.RUnlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || !r.journal.open.Load() {
		return types.JournalRecord{}, ErrJournalClosed
	}
	if !r.hasNextLocked() {
		return types.JournalRecord{}, fmt.Errorf("%w: next index %d, last index %d", ErrNoSuchRecord, r.nextIndex, r.journal.LastIndex())
	}

	rec, err := r.reader.Next()
	if err != nil {
		return types.JournalRecord{}, err
	}
	r.nextIndex = r.reader.NextIndex()
	return rec, nil
}

func (r *SegmentedJournalReader) Seek(index int64) int64 {
	return r.withSeek(func() { r.seekLocked(index) })
}

func (r *SegmentedJournalReader) SeekToFirst() int64 {
	return r.withSeek(func() { r.seekLocked(r.journal.firstIndex()) })
}

// SeekToLast positions the reader at the last record, or at the first index
// when the journal is empty.
func (r *SegmentedJournalReader) SeekToLast() int64 {
	return r.withSeek(func() { r.seekLocked(r.journal.LastIndex()) })
}

func (r *SegmentedJournalReader) SeekToAsqn(asqn int64) int64 {
	return r.withSeek(func() { r.seekToAsqnLocked(asqn) })
}

func (r *SegmentedJournalReader) withSeek(seek func()) int64 {
	r.journal.mu.RLock()
	defer r.journal.mu.RUnlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || !r.journal.open.Load() {
		return r.nextIndex
	}
	seek()
	return r.nextIndex
}

func (r *SegmentedJournalReader) hasNextLocked() bool {
	if r.reader == nil || !r.segment.isOpen() {
		// the segment was compacted or truncated away under us
		r.seekLocked(r.nextIndex)
		if r.reader == nil {
			return false
		}
	}
	if r.reader.HasNext() {
		return true
	}

	next := r.journal.segments.SegmentAfter(r.segment)
	if next == nil || next.FirstIndex() != r.reader.NextIndex() {
		return false
	}
	r.switchTo(next)
	return r.reader != nil && r.reader.HasNext()
}

func (r *SegmentedJournalReader) seekLocked(index int64) {
	segment := r.journal.segments.SegmentFor(index)
	if segment == nil {
		return
	}
	r.switchTo(segment)
	if r.reader == nil {
		return
	}
	r.reader.Seek(index)
	r.nextIndex = r.reader.NextIndex()
}

func (r *SegmentedJournalReader) seekToAsqnLocked(asqn int64) {
	first := r.journal.firstIndex()
	start := first
	if index, ok := r.journal.index.LookupAsqn(asqn); ok && index > first {
		start = index
	}
	r.seekLocked(start)

	found := int64(-1)
	for r.hasNextLocked() {
		rec, err := r.reader.Next()
		if err != nil {
			util.Warn("Stopped asqn lookup at index %d: %v", r.reader.NextIndex(), err)
			break
		}
		r.nextIndex = r.reader.NextIndex()
		if rec.Asqn == types.AsqnIgnore {
			continue
		}
		if rec.Asqn > asqn {
			break
		}
		found = rec.Index
	}

	if found < 0 {
		r.seekLocked(first)
		return
	}
	r.seekLocked(found)
}

// switchTo moves the reader onto segment, positioned at its first record.
func (r *SegmentedJournalReader) switchTo(segment *Segment) {
	if r.segment == segment && r.reader != nil && segment.isOpen() {
		r.reader.rewind()
		r.nextIndex = r.reader.NextIndex()
		return
	}
	if r.reader != nil {
		r.reader.Close()
		r.reader = nil
	}

	r.segment = segment
	reader, err := segment.CreateReader()
	if err != nil {
		util.Warn("Failed to open reader on segment %d: %v", segment.ID(), err)
		return
	}
	r.reader = reader
	r.nextIndex = reader.NextIndex()
}

// resetAfterTruncate moves the reader back if it points beyond index+1.
// Callers hold the journal write lock.
func (r *SegmentedJournalReader) resetAfterTruncate(index int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if r.nextIndex > index+1 || r.reader == nil || !r.segment.isOpen() {
		r.seekLocked(min(r.nextIndex, index+1))
	}
}

// resetAfterReset positions the reader on the new, empty journal.
// Callers hold the journal write lock.
func (r *SegmentedJournalReader) resetAfterReset(nextIndex int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.seekLocked(nextIndex)
}

func (r *SegmentedJournalReader) closeOnShutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.reader = nil
}

// Close releases the segment the reader is attached to. Closing twice is a no-op.
func (r *SegmentedJournalReader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.reader != nil {
		r.reader.Close()
		r.reader = nil
	}
	r.mu.Unlock()

	r.journal.removeReader(r)
	return nil
}
