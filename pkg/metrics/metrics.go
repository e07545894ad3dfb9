package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Buffer pool metrics
	BufferFixes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_buffer_fixes_total",
			Help: "Total number of page fixes",
		},
	)

	BufferHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_buffer_hits_total",
			Help: "Total number of fixes served from the pool",
		},
	)

	BufferMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_buffer_misses_total",
			Help: "Total number of fixes that read from disk",
		},
	)

	BufferEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_buffer_evictions_total",
			Help: "Total number of pages evicted from the pool",
		},
	)

	BufferFlushes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_buffer_flushes_total",
			Help: "Total number of dirty pages written back",
		},
	)

	BufferFlushFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_buffer_flush_failures_total",
			Help: "Total number of page write-backs that failed after retries",
		},
	)

	BufferMemoryExhaust = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_buffer_memory_exhaust_total",
			Help: "Total number of fixes refused because the pool was exhausted",
		},
	)

	// Lock manager metrics
	LocksGranted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_locks_granted_total",
			Help: "Total number of locks granted by mode",
		},
		[]string{"mode"},
	)

	LockDeadlocks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_lock_deadlocks_total",
			Help: "Total number of lock requests refused by the deadlock detector",
		},
	)

	LockTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_lock_timeouts_total",
			Help: "Total number of lock requests that timed out",
		},
	)

	LockWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quarry_lock_wait_duration_seconds",
			Help:    "Time spent waiting for locks in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Transaction metrics
	TransactionsBegun = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_transactions_begun_total",
			Help: "Total number of transactions begun",
		},
	)

	TransactionsCommitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_transactions_committed_total",
			Help: "Total number of transactions committed",
		},
	)

	TransactionsAborted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_transactions_aborted_total",
			Help: "Total number of transactions aborted",
		},
	)

	// Executor metrics
	ProgramsExecuted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_programs_executed_total",
			Help: "Total number of executor programs run",
		},
	)

	RowsEmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_rows_emitted_total",
			Help: "Total number of rows emitted by iterators",
		},
	)

	ProgramDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quarry_program_duration_seconds",
			Help:    "Executor program duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Sequence metrics
	SequenceAllocations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_sequence_allocations_total",
			Help: "Total number of sequence values handed out",
		},
	)
)

func init() {
	prometheus.MustRegister(BufferFixes)
	prometheus.MustRegister(BufferHits)
	prometheus.MustRegister(BufferMisses)
	prometheus.MustRegister(BufferEvictions)
	prometheus.MustRegister(BufferFlushes)
	prometheus.MustRegister(BufferFlushFailures)
	prometheus.MustRegister(BufferMemoryExhaust)
	prometheus.MustRegister(LocksGranted)
	prometheus.MustRegister(LockDeadlocks)
	prometheus.MustRegister(LockTimeouts)
	prometheus.MustRegister(LockWaitDuration)
	prometheus.MustRegister(TransactionsBegun)
	prometheus.MustRegister(TransactionsCommitted)
	prometheus.MustRegister(TransactionsAborted)
	prometheus.MustRegister(ProgramsExecuted)
	prometheus.MustRegister(RowsEmitted)
	prometheus.MustRegister(ProgramDuration)
	prometheus.MustRegister(SequenceAllocations)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
