package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RaftLogOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_raft_log_operations_total",
			Help: "Raft log store operations backed by the journal",
		},
		[]string{"operation", "result"}, // store, get, delete; success, failure
	)

	RaftLogEntriesStored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "journal_raft_log_entries_stored_total",
		Help: "Total number of raft log entries written to the journal",
	})

	RaftLogResets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "journal_raft_log_resets_total",
		Help: "Total number of journal resets caused by non-contiguous raft log writes",
	})
)

// RecordRaftOperation counts a raft log store operation by outcome.
func RecordRaftOperation(operation string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	RaftLogOperations.WithLabelValues(operation, result).Inc()
}
