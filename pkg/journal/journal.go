package journal

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/go-journal/pkg/types"
	"github.com/downfa11-org/go-journal/util"
)

var _ types.Journal = (*SegmentedJournal)(nil)

// SegmentedJournal is a journal split into memory-mapped segment files.
//
// Appends and reader positioning share the read side of mu; operations that
// change the set of segments (rollover, truncation, compaction, reset, close)
// take the write side.
type SegmentedJournal struct {
	mu       sync.RWMutex
	opts     Options
	index    *SparseIndex
	segments *SegmentsManager
	flusher  *SegmentsFlusher
	metrics  Metrics
	open     atomic.Bool

	readersMu sync.Mutex
	readers   map[*SegmentedJournalReader]struct{}

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open opens the journal in opts.Directory, recovering existing segments.
func Open(opts Options) (*SegmentedJournal, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	start := time.Now()
	j := &SegmentedJournal{
		opts:    opts,
		index:   NewSparseIndex(opts.IndexDensity),
		metrics: opts.metrics(),
		readers: make(map[*SegmentedJournalReader]struct{}),
		done:    make(chan struct{}),
	}
	j.flusher = NewSegmentsFlusher(opts.MetaStore, j.metrics)
	j.segments = newSegmentsManager(opts, j.index, j.flusher)
	if err := j.segments.Open(); err != nil {
		return nil, fmt.Errorf("open journal %s in %s: %w", opts.Name, opts.Directory, err)
	}
	j.open.Store(true)

	if opts.FlushInterval > 0 {
		j.wg.Add(1)
		go j.flushLoop(opts.FlushInterval)
	}

	j.metrics.ObserveJournalOpen(time.Since(start))
	util.Info("Opened journal %s in %s with %d segments, index range [%d, %d]",
		opts.Name, opts.Directory, len(j.segments.Segments()), j.FirstIndex(), j.LastIndex())
	return j, nil
}

func (j *SegmentedJournal) IsOpen() bool {
	return j.open.Load()
}

// Directory is the directory holding the segment files.
func (j *SegmentedJournal) Directory() string {
	return j.opts.Directory
}

func (j *SegmentedJournal) Name() string {
	return j.opts.Name
}

// Append writes data as the record following the last index.
func (j *SegmentedJournal) Append(asqn int64, data []byte) (types.JournalRecord, error) {
	start := time.Now()
	rec, err := j.appendWith(func(w *SegmentWriter) (types.JournalRecord, error) {
		return w.Append(w.NextIndex(), asqn, data)
	})
	if err == nil {
		j.metrics.ObserveAppend(len(data), time.Since(start))
	}
	return rec, err
}

// AppendRecord writes a record received from elsewhere, typically another
// replica. Its index must follow the last index and its checksum must match.
func (j *SegmentedJournal) AppendRecord(record types.JournalRecord) error {
	start := time.Now()
	_, err := j.appendWith(func(w *SegmentWriter) (types.JournalRecord, error) {
		return w.AppendRecord(record)
	})
	if err == nil {
		j.metrics.ObserveAppend(len(record.Data), time.Since(start))
	}
	return err
}

func (j *SegmentedJournal) appendWith(write func(w *SegmentWriter) (types.JournalRecord, error)) (types.JournalRecord, error) {
	j.mu.RLock()
	if !j.open.Load() {
		j.mu.RUnlock()
		return types.JournalRecord{}, ErrJournalClosed
	}
	rec, err := write(j.segments.CurrentSegment().Writer())
	j.mu.RUnlock()
	if !errors.Is(err, ErrSegmentFull) {
		return rec, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.open.Load() {
		return types.JournalRecord{}, ErrJournalClosed
	}

	current := j.segments.CurrentSegment()
	if rec, err = write(current.Writer()); !errors.Is(err, ErrSegmentFull) {
		return rec, err
	}
	if current.IsEmpty() {
		return types.JournalRecord{}, fmt.Errorf("%w: %v", ErrSegmentSizeTooSmall, err)
	}
	next, err := j.segments.NextSegment()
	if err != nil {
		return types.JournalRecord{}, err
	}
	rec, err = write(next.Writer())
	if errors.Is(err, ErrSegmentFull) {
		return types.JournalRecord{}, fmt.Errorf("%w: %v", ErrSegmentSizeTooSmall, err)
	}
	return rec, err
}

// DeleteAfter truncates the journal so that index is the last record. Open
// readers positioned past the new end are moved back to index+1.
func (j *SegmentedJournal) DeleteAfter(index int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.open.Load() {
		return ErrJournalClosed
	}

	start := time.Now()
	for {
		current := j.segments.CurrentSegment()
		if index >= current.FirstIndex() || current == j.segments.FirstSegment() {
			break
		}
		if err := j.segments.RemoveSegment(current); err != nil {
			util.Warn("Failed to remove segment %d while truncating after %d: %v", current.ID(), index, err)
		}
	}

	// entries of removed segments are not reached by the truncation below
	j.index.DeleteAfter(index)
	if err := j.segments.CurrentSegment().Writer().Truncate(index); err != nil {
		return err
	}
	if index < j.flusher.LastFlushedIndex() {
		if err := j.flusher.SetLastFlushedIndex(max(index, 0)); err != nil {
			return err
		}
	}
	j.metrics.ObserveSegmentTruncation(time.Since(start))

	for _, r := range j.openReaders() {
		r.resetAfterTruncate(index)
	}
	return nil
}

// DeleteUntil compacts the journal by deleting every segment whose records
// are all below index. Records of the segment containing index are kept, so
// the first index afterwards may still be lower than index.
func (j *SegmentedJournal) DeleteUntil(index int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.open.Load() {
		return ErrJournalClosed
	}
	j.segments.DeleteUntil(index)
	return nil
}

// Reset drops every record. The next appended record gets nextIndex and all
// open readers are positioned at it.
func (j *SegmentedJournal) Reset(nextIndex int64) error {
	if nextIndex < 1 {
		return fmt.Errorf("%w: cannot reset to index %d", ErrInvalidIndex, nextIndex)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.open.Load() {
		return ErrJournalClosed
	}
	if err := j.segments.ResetSegments(nextIndex); err != nil {
		return err
	}
	for _, r := range j.openReaders() {
		r.resetAfterReset(nextIndex)
	}
	util.Info("Reset journal %s, next index is %d", j.opts.Name, nextIndex)
	return nil
}

// OpenReader returns a reader positioned at the first record.
func (j *SegmentedJournal) OpenReader() (types.JournalReader, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if !j.open.Load() {
		return nil, ErrJournalClosed
	}

	r := newSegmentedJournalReader(j)
	r.mu.Lock()
	r.seekLocked(j.firstIndex())
	r.mu.Unlock()

	j.readersMu.Lock()
	j.readers[r] = struct{}{}
	j.readersMu.Unlock()
	return r, nil
}

func (j *SegmentedJournal) openReaders() []*SegmentedJournalReader {
	j.readersMu.Lock()
	defer j.readersMu.Unlock()
	readers := make([]*SegmentedJournalReader, 0, len(j.readers))
	for r := range j.readers {
		readers = append(readers, r)
	}
	return readers
}

func (j *SegmentedJournal) removeReader(r *SegmentedJournalReader) {
	j.readersMu.Lock()
	delete(j.readers, r)
	j.readersMu.Unlock()
}

func (j *SegmentedJournal) FirstIndex() int64 {
	return j.firstIndex()
}

func (j *SegmentedJournal) firstIndex() int64 {
	if first := j.segments.FirstSegment(); first != nil {
		return first.FirstIndex()
	}
	return 0
}

func (j *SegmentedJournal) LastIndex() int64 {
	if last := j.segments.LastSegment(); last != nil {
		return last.LastIndex()
	}
	return 0
}

func (j *SegmentedJournal) IsEmpty() bool {
	return j.LastIndex() < j.FirstIndex()
}

// LastFlushedIndex is the highest index known to be durable.
func (j *SegmentedJournal) LastFlushedIndex() int64 {
	return j.flusher.LastFlushedIndex()
}

// Flush makes every appended record durable.
func (j *SegmentedJournal) Flush() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if !j.open.Load() {
		return ErrJournalClosed
	}
	return j.flushLocked()
}

func (j *SegmentedJournal) flushLocked() error {
	next := j.flusher.NextFlushIndex()
	if j.LastIndex() < next {
		return nil
	}
	return j.flusher.Flush(j.segments.DirtySegments(next))
}

func (j *SegmentedJournal) flushLoop(interval time.Duration) {
	defer j.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := j.Flush(); err != nil && !errors.Is(err, ErrJournalClosed) {
				util.Error("Background flush of journal %s failed: %v", j.opts.Name, err)
			}
		case <-j.done:
			return
		}
	}
}

// Close flushes outstanding records, closes all readers and unmaps every
// segment. Closing twice is a no-op.
func (j *SegmentedJournal) Close() error {
	var err error
	j.closeOnce.Do(func() {
		close(j.done)
		j.wg.Wait()

		j.mu.Lock()
		defer j.mu.Unlock()

		if flushErr := j.flushLocked(); flushErr != nil {
			util.Error("Failed to flush journal %s on close: %v", j.opts.Name, flushErr)
			err = flushErr
		}
		j.open.Store(false)

		for _, r := range j.openReaders() {
			r.closeOnShutdown()
		}
		j.readersMu.Lock()
		clear(j.readers)
		j.readersMu.Unlock()

		if closeErr := j.segments.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		util.Info("Closed journal %s", j.opts.Name)
	})
	return err
}
