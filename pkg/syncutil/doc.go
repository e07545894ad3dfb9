/*
Package syncutil provides the synchronization substrate for the Quarry
engine: recursive mutexes and a process-wide deadlock detection service.

Mutex is a recursive mutex with multiplicity-aware Lock/Unlock; the same
goroutine may nest acquisitions and the underlying mutex is taken exactly
once. SyncMutex adds deadlock detection: while the Detector service is
enabled, every acquisition registers in a wait-for graph keyed by goroutine
id, and an acquisition that would close a wait cycle fails with
fault.KindDeadLock instead of blocking forever.

The graph is an arena of WaitingThread records indexed by goroutine id, with
each SyncMutex caching its owning record. The detector walks
waitingTarget -> lockerThread -> waitingTarget looking for a cycle back to
the candidate goroutine. Cycles are detected, not prevented; lock ordering
between unrelated mutexes is unspecified.

Latch ordering: the detector mutex is acquired strictly before any
per-SyncMutex graph state. All other latches in the engine are leaf latches.
*/
package syncutil
