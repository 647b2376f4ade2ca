package journal

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/downfa11-org/go-journal/pkg/types"
	"github.com/downfa11-org/go-journal/util"
)

// SegmentWriter appends frames to a single segment. Only one goroutine may
// write at a time; readers observe progress through the committed position.
type SegmentWriter struct {
	segment *Segment
	buf     []byte
	index   *SparseIndex

	firstIndex       int64
	descriptorLength int
	lastWrittenIndex int64
	baseAsqn         int64

	position  int
	lastAsqn  int64
	lastIndex atomic.Int64
	committed atomic.Int64
	closed    atomic.Bool
}

// newSegmentWriter scans the existing frames of the segment to restore the
// write position. lastWrittenIndex is the durable watermark of the journal:
// unreadable frames above it are partial writes and get discarded, below it
// they are reported as corruption. baseAsqn is the last asqn written before
// this segment.
func newSegmentWriter(segment *Segment, index *SparseIndex, lastWrittenIndex, baseAsqn int64) (*SegmentWriter, error) {
	w := &SegmentWriter{
		segment:          segment,
		buf:              segment.file.Bytes(),
		index:            index,
		firstIndex:       segment.FirstIndex(),
		descriptorLength: segment.descriptor.EncodedLength(),
		lastWrittenIndex: lastWrittenIndex,
		baseAsqn:         baseAsqn,
	}
	if err := w.reset(0); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *SegmentWriter) FirstIndex() int64 {
	return w.firstIndex
}

// LastIndex returns the index of the last record, or FirstIndex()-1 when the
// segment holds none.
func (w *SegmentWriter) LastIndex() int64 {
	return w.lastIndex.Load()
}

func (w *SegmentWriter) LastAsqn() int64 {
	return w.lastAsqn
}

// NextIndex is the index the next appended record must have.
func (w *SegmentWriter) NextIndex() int64 {
	return w.LastIndex() + 1
}

func (w *SegmentWriter) IsEmpty() bool {
	return w.LastIndex() < w.firstIndex
}

// Position is the byte offset the next frame will be written at.
func (w *SegmentWriter) Position() int {
	return int(w.committed.Load())
}

func (w *SegmentWriter) Append(index, asqn int64, data []byte) (types.JournalRecord, error) {
	return w.append(index, asqn, data, 0, false)
}

// AppendRecord writes a record that was created elsewhere. The checksum of
// the record as serialized here has to match rec.Checksum.
func (w *SegmentWriter) AppendRecord(rec types.JournalRecord) (types.JournalRecord, error) {
	return w.append(rec.Index, rec.Asqn, rec.Data, rec.Checksum, true)
}

func (w *SegmentWriter) append(index, asqn int64, data []byte, expected uint64, verify bool) (types.JournalRecord, error) {
	if w.closed.Load() {
		return types.JournalRecord{}, ErrSegmentClosed
	}
	if next := w.NextIndex(); index != next {
		return types.JournalRecord{}, fmt.Errorf("%w: expected to append index %d but got %d", ErrInvalidIndex, next, index)
	}
	if asqn != types.AsqnIgnore && asqn <= w.lastAsqn {
		return types.JournalRecord{}, fmt.Errorf("%w: asqn %d is not greater than last asqn %d", ErrInvalidAsqn, asqn, w.lastAsqn)
	}

	start := w.position
	frameLength := FrameLength(len(data))
	if start+frameLength > len(w.buf) {
		return types.JournalRecord{}, fmt.Errorf("%w: %d bytes needed, %d left in segment %d", ErrSegmentFull, frameLength, len(w.buf)-start, w.segment.ID())
	}

	recordStart := start + 1 + recordMetaLength
	n := putRecord(w.buf[recordStart:], index, asqn, data)
	checksum := xxhash.Sum64(w.buf[recordStart : recordStart+n])
	if verify && checksum != expected {
		w.buf[start] = frameIgnored
		return types.JournalRecord{}, fmt.Errorf("%w: record %d has checksum %d, computed %d", ErrInvalidChecksum, index, expected, checksum)
	}
	putRecordMeta(w.buf[start+1:], checksum, n)
	w.buf[start] = frameVersion

	w.position = start + frameLength
	w.markNextIgnored()

	rec := types.JournalRecord{
		Index:    index,
		Asqn:     asqn,
		Checksum: checksum,
		Data:     w.buf[recordStart+recordFixedLength : recordStart+n : recordStart+n],
	}
	if asqn != types.AsqnIgnore {
		w.lastAsqn = asqn
	}
	w.index.Index(rec, start)
	w.lastIndex.Store(index)
	w.committed.Store(int64(w.position))
	return rec, nil
}

// Truncate removes every record with an index greater than index. It is a
// no-op when index is not below the last index.
func (w *SegmentWriter) Truncate(index int64) error {
	if index >= w.LastIndex() {
		return nil
	}

	w.index.DeleteAfter(index)
	if index < w.firstIndex {
		w.position = w.descriptorLength
		w.lastAsqn = w.baseAsqn
		w.markNextIgnored()
		w.lastIndex.Store(w.firstIndex - 1)
		w.committed.Store(int64(w.position))
		return nil
	}
	return w.reset(index)
}

// reset rescans the segment from its first frame, stopping after target
// (or at the end of the written log when target is 0).
func (w *SegmentWriter) reset(target int64) error {
	position := w.descriptorLength
	lastIndex := w.firstIndex - 1
	lastAsqn := w.baseAsqn

	for target <= 0 || lastIndex < target {
		rec, frameLength, err := decodeFrame(w.buf, position)
		if err == nil && rec.Index != lastIndex+1 {
			err = fmt.Errorf("%w: expected index %d at position %d but found %d", ErrCorruptedLog, lastIndex+1, position, rec.Index)
		}
		if errors.Is(err, errNoFrame) || errors.Is(err, errUnderflow) {
			break
		}
		if err != nil {
			if lastIndex+1 <= w.lastWrittenIndex {
				return fmt.Errorf("segment %s: record %d was flushed (last flushed index %d) but is unreadable: %w",
					w.segment.Path(), lastIndex+1, w.lastWrittenIndex, err)
			}
			util.Warn("Discarding partially written record %d at position %d of %s: %v", lastIndex+1, position, w.segment.Path(), err)
			break
		}

		w.index.Index(rec, position)
		lastIndex = rec.Index
		if rec.Asqn != types.AsqnIgnore {
			lastAsqn = rec.Asqn
		}
		position += frameLength
	}

	w.position = position
	w.lastAsqn = lastAsqn
	w.markNextIgnored()
	w.lastIndex.Store(lastIndex)
	w.committed.Store(int64(position))
	return nil
}

// markNextIgnored zeroes the version byte after the last frame so stale
// bytes left over from a truncation are never read as a record.
func (w *SegmentWriter) markNextIgnored() {
	if w.position < len(w.buf) {
		w.buf[w.position] = frameIgnored
	}
}

func (w *SegmentWriter) Flush() error {
	return w.segment.Flush()
}

func (w *SegmentWriter) close() {
	w.closed.Store(true)
}
