/*
Package lock implements the Quarry lock manager.

Resources are named by granularity (database, file, page, tuple); modes are
shared and exclusive, with tuple-granularity variants. Scheduling is strict
two-phase: Transaction-duration locks accumulate until commit or abort,
while Pulse-duration locks cover a single operation and are released
immediately after it.

Waits are FIFO per resource and bounded by a Timeout in milliseconds
(0 = non-blocking, negative = infinite); expiry raises
fault.KindLockTimeout. A single latch protects the lock table. Cycles among
lock waiters are broken by timeouts; the wait-for-graph detector in
pkg/syncutil covers the engine's internal mutexes.

LockAllTuples is the constraint-enforcement primitive: it X/Pulse-locks
every tuple in a set without waiting, and either all locks are taken or the
operation backs out with no side effects.

PageTracker supports no-version reads: index drivers register pages they
mutate outside the versioning system, and readers consult Check before
trusting a page image.
*/
package lock
