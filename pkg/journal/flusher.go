package journal

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/go-journal/pkg/types"
)

// SegmentsFlusher flushes dirty segments and maintains the durable
// watermark, the highest index known to be on disk.
type SegmentsFlusher struct {
	mu               sync.Mutex
	metaStore        types.MetaStore
	metrics          Metrics
	lastFlushedIndex atomic.Int64
}

func NewSegmentsFlusher(metaStore types.MetaStore, metrics Metrics) *SegmentsFlusher {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	f := &SegmentsFlusher{metaStore: metaStore, metrics: metrics}
	f.lastFlushedIndex.Store(metaStore.LoadLastFlushedIndex())
	return f
}

func (f *SegmentsFlusher) LastFlushedIndex() int64 {
	return f.lastFlushedIndex.Load()
}

// NextFlushIndex is the first index not yet known to be durable.
func (f *SegmentsFlusher) NextFlushIndex() int64 {
	return f.LastFlushedIndex() + 1
}

// Flush flushes segments in order. Every segment is attempted even after a
// failure, but the watermark only advances over the leading run of
// segments that flushed successfully. The watermark is persisted before the
// combined error is returned.
func (f *SegmentsFlusher) Flush(segments []*Segment) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := time.Now()
	flushed := f.lastFlushedIndex.Load()
	contiguous := true
	var errs []error

	for _, segment := range segments {
		// appends racing with the sync are not covered by it
		last := segment.LastIndex()
		segmentStart := time.Now()
		if err := segment.Flush(); err != nil {
			errs = append(errs, err)
			contiguous = false
			continue
		}
		f.metrics.ObserveSegmentFlush(time.Since(segmentStart))

		if contiguous && last > flushed {
			flushed = last
		}
	}

	if flushed > f.lastFlushedIndex.Load() {
		if err := f.store(flushed); err != nil {
			errs = append(errs, err)
		}
	}
	f.metrics.ObserveFlush(time.Since(start))
	return errors.Join(errs...)
}

// SetLastFlushedIndex overrides the watermark, used when the log is
// truncated below it or reset.
func (f *SegmentsFlusher) SetLastFlushedIndex(index int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store(index)
}

func (f *SegmentsFlusher) store(index int64) error {
	if err := f.metaStore.StoreLastFlushedIndex(index); err != nil {
		return fmt.Errorf("store last flushed index %d: %w", index, err)
	}
	if err := f.metaStore.Flush(); err != nil {
		return fmt.Errorf("flush meta store: %w", err)
	}
	f.lastFlushedIndex.Store(index)
	f.metrics.SetLastFlushedIndex(index)
	return nil
}
