/*
Package buffer implements the Quarry page cache.

The pool caches fixed-size pages of one or more physical files and hands
out Memory guards through Fix. A guard owns one pin: a pinned page is
never evicted, and the pin is released exactly once, by Unfix or by
transfer through Refix. Fix categories combine an access mode (ReadOnly,
Write, Allocate) with modifiers:

  - Discardable routes writes through a scratch buffer allocated on first
    write. Unfixing with dirty=true promotes scratch into the body;
    dirty=false discards it. Touch promotes early, making prior updates
    undiscardable. This is the engine's rollback mechanism for
    transactional page updates.
  - Deterrentable marks updates whose write-back may be skipped; the page
    stays dirty for eviction or FlushAll.
  - NoLock suppresses the page latch.

Eviction considers only unpinned pages, preferring low replacement
priority and least recent use; dirty victims are written through first.
Dirty pages otherwise flush asynchronously on a background goroutine with
bounded-backoff retries; a page whose flush keeps failing is marked and
the error re-raises on its next fix. When every buffer is pinned, Fix
fails with fault.KindMemoryExhaust — except when obtaining scratch for a
discardable page, where the pool first raids reclaimable buffers.

Latch ordering: the pool lock protects membership, per-page latches
protect contents, and both are leaf latches.
*/
package buffer
