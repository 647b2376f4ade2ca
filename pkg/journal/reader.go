package journal

import (
	"fmt"
	"sync/atomic"

	"github.com/downfa11-org/go-journal/pkg/types"
)

// SegmentReader iterates over the records of one segment. It never reads
// past the position the writer has committed.
type SegmentReader struct {
	segment *Segment
	buf     []byte
	index   *SparseIndex

	position  int
	nextIndex int64
	closed    atomic.Bool
}

func newSegmentReader(segment *Segment, index *SparseIndex) *SegmentReader {
	r := &SegmentReader{
		segment: segment,
		buf:     segment.file.Bytes(),
		index:   index,
	}
	r.rewind()
	return r
}

func (r *SegmentReader) rewind() {
	r.position = r.segment.descriptor.EncodedLength()
	r.nextIndex = r.segment.FirstIndex()
}

// NextIndex is the index of the record the next call to Next returns.
func (r *SegmentReader) NextIndex() int64 {
	return r.nextIndex
}

func (r *SegmentReader) Segment() *Segment {
	return r.segment
}

func (r *SegmentReader) HasNext() bool {
	if r.closed.Load() || !r.segment.isOpen() {
		return false
	}
	if r.position >= r.segment.writer.Position() {
		return false
	}
	return r.buf[r.position] == frameVersion
}

func (r *SegmentReader) Next() (types.JournalRecord, error) {
	if !r.HasNext() {
		return types.JournalRecord{}, fmt.Errorf("%w: segment %d at index %d", ErrNoSuchRecord, r.segment.ID(), r.nextIndex)
	}

	rec, frameLength, err := decodeFrame(r.buf, r.position)
	if err != nil {
		return types.JournalRecord{}, fmt.Errorf("segment %s: read record %d: %w", r.segment.Path(), r.nextIndex, err)
	}
	if rec.Index != r.nextIndex {
		return types.JournalRecord{}, fmt.Errorf("%w: segment %s: expected record %d but found %d", ErrCorruptedLog, r.segment.Path(), r.nextIndex, rec.Index)
	}

	r.position += frameLength
	r.nextIndex++
	return rec, nil
}

// Seek moves the reader so that the next record is index. If index is past
// the last record the reader ends up after the last record; if it is before
// the segment the reader starts at the first record.
func (r *SegmentReader) Seek(index int64) {
	r.rewind()

	if entry, ok := r.index.Lookup(index); ok &&
		entry.Index >= r.segment.FirstIndex() &&
		entry.Index <= r.segment.LastIndex() &&
		entry.Position < r.segment.writer.Position() {
		r.position = entry.Position
		r.nextIndex = entry.Index
	}

	for r.nextIndex < index && r.HasNext() {
		if _, err := r.Next(); err != nil {
			return
		}
	}
}

// Close detaches the reader from its segment. Closing twice is a no-op.
func (r *SegmentReader) Close() {
	if r.closed.CompareAndSwap(false, true) {
		r.segment.onReaderClosed(r)
	}
}
