package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/downfa11-org/go-journal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	_ = g.Write(m)
	return m.GetGauge().GetValue()
}

func getHistogramCount(o prometheus.Observer) uint64 {
	m := &dto.Metric{}
	_ = o.(prometheus.Histogram).Write(m)
	return m.GetHistogram().GetSampleCount()
}

func TestJournalMetricsObserveAppend(t *testing.T) {
	m := metrics.NewJournalMetrics("append-test")
	records := metrics.AppendedRecords.WithLabelValues("append-test")
	bytes := metrics.AppendedBytes.WithLabelValues("append-test")
	latency := metrics.AppendLatency.WithLabelValues("append-test")

	m.ObserveAppend(10, time.Microsecond)
	m.ObserveAppend(22, 2*time.Microsecond)

	assert.Equal(t, 2.0, getCounterValue(records))
	assert.Equal(t, 32.0, getCounterValue(bytes))
	assert.Equal(t, uint64(2), getHistogramCount(latency))
}

func TestJournalMetricsGauges(t *testing.T) {
	m := metrics.NewJournalMetrics("gauge-test")

	m.SetSegmentCount(3)
	m.SetLastFlushedIndex(42)
	m.ObserveSegmentCreation(time.Millisecond)
	m.ObserveFlush(time.Millisecond)

	assert.Equal(t, 3.0, getGaugeValue(metrics.SegmentCount.WithLabelValues("gauge-test")))
	assert.Equal(t, 42.0, getGaugeValue(metrics.LastFlushedIndex.WithLabelValues("gauge-test")))
	assert.Equal(t, uint64(1), getHistogramCount(metrics.SegmentCreationLatency.WithLabelValues("gauge-test")))
	assert.Equal(t, uint64(1), getHistogramCount(metrics.FlushLatency.WithLabelValues("gauge-test")))

	// other journals are labelled separately
	assert.Zero(t, getGaugeValue(metrics.SegmentCount.WithLabelValues("other")))
}

func TestRecordRaftOperation(t *testing.T) {
	success := metrics.RaftLogOperations.WithLabelValues("get", "success")
	failure := metrics.RaftLogOperations.WithLabelValues("get", "failure")
	initialSuccess := getCounterValue(success)
	initialFailure := getCounterValue(failure)

	metrics.RecordRaftOperation("get", nil)
	metrics.RecordRaftOperation("get", errors.New("boom"))
	metrics.RecordRaftOperation("get", nil)

	assert.Equal(t, initialSuccess+2, getCounterValue(success))
	assert.Equal(t, initialFailure+1, getCounterValue(failure))
}
