package journal

import (
	"errors"
	"testing"
	"time"

	"github.com/downfa11-org/go-journal/pkg/metastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingMetaStore struct {
	*metastore.MemoryStore
}

func (failingMetaStore) Flush() error {
	return errors.New("disk on fire")
}

// threeSegments returns segments holding records 1-2, 3-4 and 5-6.
func threeSegments(t *testing.T) []*Segment {
	t.Helper()
	dir := t.TempDir()
	sparse := NewSparseIndex(1)
	var segments []*Segment
	for i := int64(0); i < 3; i++ {
		s := newTestSegment(t, dir, i+1, 2*i+1, 4096, sparse)
		appendN(t, s.Writer(), 2)
		segments = append(segments, s)
	}
	return segments
}

func TestFlusherAdvancesWatermark(t *testing.T) {
	store := metastore.NewMemoryStore()
	f := NewSegmentsFlusher(store, nil)
	assert.Zero(t, f.LastFlushedIndex())

	require.NoError(t, f.Flush(threeSegments(t)))
	assert.Equal(t, int64(6), f.LastFlushedIndex())
	assert.Equal(t, int64(7), f.NextFlushIndex())
	assert.Equal(t, int64(6), store.LoadLastFlushedIndex())
}

func TestFlusherStopsWatermarkAtFirstFailure(t *testing.T) {
	store := metastore.NewMemoryStore()
	f := NewSegmentsFlusher(store, nil)
	segments := threeSegments(t)

	// an unmapped file cannot be synced
	require.NoError(t, segments[1].file.Close())

	err := f.Flush(segments)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush segment 2")

	assert.Equal(t, int64(2), f.LastFlushedIndex())
	assert.Equal(t, int64(2), store.LoadLastFlushedIndex())
}

func TestFlusherReportsMetaStoreFailure(t *testing.T) {
	store := failingMetaStore{metastore.NewMemoryStore()}
	f := NewSegmentsFlusher(store, nil)

	err := f.Flush(threeSegments(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Zero(t, f.LastFlushedIndex())
}

// appendingMetrics appends to segment right after its first sync, the way a
// concurrent append lands between the sync and the watermark update.
type appendingMetrics struct {
	noopMetrics
	t       *testing.T
	segment *Segment
	done    bool
}

func (m *appendingMetrics) ObserveSegmentFlush(time.Duration) {
	if m.segment == nil || m.done {
		return
	}
	m.done = true
	appendN(m.t, m.segment.Writer(), 1)
}

func TestFlusherIgnoresAppendsDuringSync(t *testing.T) {
	store := metastore.NewMemoryStore()
	segments := threeSegments(t)
	last := segments[2]

	hook := &appendingMetrics{t: t}
	f := NewSegmentsFlusher(store, hook)
	hook.segment = last

	require.NoError(t, f.Flush(segments[2:]))
	assert.Equal(t, int64(7), last.LastIndex())
	assert.Equal(t, int64(6), f.LastFlushedIndex(), "record 7 was appended after the sync began")
	assert.Equal(t, int64(6), store.LoadLastFlushedIndex())

	require.NoError(t, f.Flush(segments[2:]))
	assert.Equal(t, int64(7), f.LastFlushedIndex())
}

func TestFlusherLoadsStoredWatermark(t *testing.T) {
	store := metastore.NewMemoryStore()
	require.NoError(t, store.StoreLastFlushedIndex(41))

	f := NewSegmentsFlusher(store, nil)
	assert.Equal(t, int64(41), f.LastFlushedIndex())

	require.NoError(t, f.SetLastFlushedIndex(10))
	assert.Equal(t, int64(10), store.LoadLastFlushedIndex())
}
