package metrics

import (
	"time"

	"github.com/downfa11-org/go-journal/pkg/journal"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JournalOpenLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "journal_open_seconds",
			Help:    "Time spent opening and recovering a journal",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"journal"},
	)

	SegmentCreationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "journal_segment_creation_seconds",
			Help:    "Time spent creating and preallocating a segment file",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"journal"},
	)

	SegmentFlushLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "journal_segment_flush_seconds",
			Help:    "Time spent syncing a single segment",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"journal"},
	)

	SegmentTruncationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "journal_truncation_seconds",
			Help:    "Time spent truncating the journal tail",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"journal"},
	)

	FlushLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "journal_flush_seconds",
			Help:    "Time spent flushing all dirty segments",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"journal"},
	)

	AppendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "journal_append_seconds",
			Help:    "Histogram of append latency",
			Buckets: []float64{.000001, .000005, .00001, .00005, .0001, .0005, .001, .005, .01},
		},
		[]string{"journal"},
	)

	AppendedRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_appended_records_total",
			Help: "Total number of records appended",
		},
		[]string{"journal"},
	)

	AppendedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_appended_bytes_total",
			Help: "Total number of payload bytes appended",
		},
		[]string{"journal"},
	)

	SegmentCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "journal_segments",
			Help: "Current number of segments",
		},
		[]string{"journal"},
	)

	LastFlushedIndex = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "journal_last_flushed_index",
			Help: "Highest index known to be durable",
		},
		[]string{"journal"},
	)
)

var _ journal.Metrics = (*JournalMetrics)(nil)

// JournalMetrics reports the events of one journal, labelled with its name.
type JournalMetrics struct {
	open       prometheus.Observer
	creation   prometheus.Observer
	segFlush   prometheus.Observer
	truncation prometheus.Observer
	flush      prometheus.Observer
	append     prometheus.Observer
	records    prometheus.Counter
	bytes      prometheus.Counter
	segments   prometheus.Gauge
	flushed    prometheus.Gauge
}

func NewJournalMetrics(name string) *JournalMetrics {
	return &JournalMetrics{
		open:       JournalOpenLatency.WithLabelValues(name),
		creation:   SegmentCreationLatency.WithLabelValues(name),
		segFlush:   SegmentFlushLatency.WithLabelValues(name),
		truncation: SegmentTruncationLatency.WithLabelValues(name),
		flush:      FlushLatency.WithLabelValues(name),
		append:     AppendLatency.WithLabelValues(name),
		records:    AppendedRecords.WithLabelValues(name),
		bytes:      AppendedBytes.WithLabelValues(name),
		segments:   SegmentCount.WithLabelValues(name),
		flushed:    LastFlushedIndex.WithLabelValues(name),
	}
}

func (m *JournalMetrics) ObserveJournalOpen(d time.Duration) {
	m.open.Observe(d.Seconds())
}

func (m *JournalMetrics) ObserveSegmentCreation(d time.Duration) {
	m.creation.Observe(d.Seconds())
}

func (m *JournalMetrics) ObserveSegmentFlush(d time.Duration) {
	m.segFlush.Observe(d.Seconds())
}

func (m *JournalMetrics) ObserveSegmentTruncation(d time.Duration) {
	m.truncation.Observe(d.Seconds())
}

func (m *JournalMetrics) ObserveFlush(d time.Duration) {
	m.flush.Observe(d.Seconds())
}

// ObserveAppend counts one appended record of the given payload size.
func (m *JournalMetrics) ObserveAppend(bytes int, d time.Duration) {
	m.records.Inc()
	m.bytes.Add(float64(bytes))
	m.append.Observe(d.Seconds())
}

func (m *JournalMetrics) SetSegmentCount(n int) {
	m.segments.Set(float64(n))
}

func (m *JournalMetrics) SetLastFlushedIndex(index int64) {
	m.flushed.Set(float64(index))
}
