/*
Package fault defines the typed error objects used across the Quarry engine.

Every operation in the engine either returns a value or returns a *fault.Error
carrying a Kind from a closed taxonomy, the raising module's name, and the
source file and line where the error originated. The taxonomy is:

  - MemoryExhaust: buffer allocation failed; callers may retry after eviction
  - NotLocked: unlock without a matching lock (programming error)
  - StillLocked: a sync object destroyed while locks were held
  - DeadLock: the deadlock detector found a wait cycle
  - LockTimeout: a lock wait exceeded its bound
  - IntegerOverflow: a sequence reached its maximum without cycling
  - BadArgument: a caller passed an invalid argument
  - Unavailable: a file was marked unusable after a failed recovery
  - Canceled: the owning transaction was canceled
  - NotFound: a named file or object does not exist
  - Unexpected: any unchecked internal condition
  - UserLevel: errors meant for the client; logged at Info, not Error

Kinds are matched with fault.IsKind or errors.Is, never by string comparison.
The module/file/line metadata is for diagnostics only.
*/
package fault
