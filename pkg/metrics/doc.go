/*
Package metrics provides Prometheus metrics collection and exposition for
Quarry.

The metrics package defines and registers all engine metrics using the
Prometheus client library: buffer pool activity (fixes, hits, evictions,
flushes, exhaustion), lock manager outcomes (grants by mode, deadlocks,
timeouts, wait durations), transaction lifecycle counts, executor program
and row throughput, and sequence allocations.

Metrics are package-level collectors registered in init; the Handler
function exposes them over HTTP:

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

The Timer helper measures operation durations for histogram observation:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ProgramDuration)
*/
package metrics
