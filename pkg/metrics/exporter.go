package metrics

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/downfa11-org/go-journal/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	prometheus.MustRegister(JournalOpenLatency, SegmentCreationLatency, SegmentFlushLatency, SegmentTruncationLatency)
	prometheus.MustRegister(FlushLatency, AppendLatency, AppendedRecords, AppendedBytes, SegmentCount, LastFlushedIndex)
	prometheus.MustRegister(RaftLogOperations, RaftLogEntriesStored, RaftLogResets)
}

// StartMetricsServer serves /metrics on port in the background. The returned
// server can be shut down by the caller.
func StartMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		util.Info("Prometheus exporter listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Error("Failed to start metrics server: %v", err)
		}
	}()
	return srv
}
