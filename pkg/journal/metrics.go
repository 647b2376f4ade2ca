package journal

import "time"

// Metrics receives journal events. Implementations must be safe for
// concurrent use and must not block.
type Metrics interface {
	ObserveJournalOpen(d time.Duration)
	ObserveSegmentCreation(d time.Duration)
	ObserveSegmentFlush(d time.Duration)
	ObserveSegmentTruncation(d time.Duration)
	ObserveAppend(bytes int, d time.Duration)
	ObserveFlush(d time.Duration)
	SetSegmentCount(n int)
	SetLastFlushedIndex(index int64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveJournalOpen(time.Duration)       {}
func (noopMetrics) ObserveSegmentCreation(time.Duration)   {}
func (noopMetrics) ObserveSegmentFlush(time.Duration)      {}
func (noopMetrics) ObserveSegmentTruncation(time.Duration) {}
func (noopMetrics) ObserveAppend(int, time.Duration)       {}
func (noopMetrics) ObserveFlush(time.Duration)             {}
func (noopMetrics) SetSegmentCount(int)                    {}
func (noopMetrics) SetLastFlushedIndex(int64)              {}
