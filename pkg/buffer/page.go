package buffer

import (
	"container/list"
	"sync"

	"github.com/cuemby/quarry/pkg/vfile"
)

// Priority biases eviction: Low pages are reclaimed first, High pages last.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMiddle
	PriorityHigh
)

type pageKey struct {
	file *vfile.File
	id   vfile.PageID
}

// page is the in-pool descriptor for one cached page. Membership fields
// (refCount, lru position) are guarded by the pool lock; contents are
// guarded by the page latch held through the owning Memory guards.
type page struct {
	key  pageKey
	body []byte

	// scratch receives writes while at least one Discardable fix is
	// live. It is allocated lazily on the first write and either
	// promoted into body (touch, dirty unfix) or discarded.
	scratch          []byte
	discardableFixes int

	refCount int
	dirty    bool
	// stamp increments on every dirty-marking unfix; the flusher uses it
	// to detect writes that raced its copy.
	stamp uint64
	// deterrent suppresses async flush scheduling for this page while a
	// Deterrentable fix is live.
	deterrent int
	// failed holds the error of a failed async flush; it is re-raised
	// on the next fix of this page.
	failed error

	priority Priority
	lruElem  *list.Element

	latch latch
}

// latch is the per-page reader/writer latch. Write guards share ownership
// through a reference count so Refix never re-acquires (and never
// self-deadlocks); the latch is released when the last sharing guard
// unfixes.
type latch struct {
	mu      sync.Mutex
	cond    *sync.Cond
	readers int
	writer  bool
	// writeShares counts the guards sharing the current hold (refix copies).
	writeShares int
}

func (l *latch) init() {
	l.cond = sync.NewCond(&l.mu)
}

func (l *latch) lockRead() {
	l.mu.Lock()
	for l.writer {
		l.cond.Wait()
	}
	l.readers++
	l.mu.Unlock()
}

func (l *latch) unlockRead() {
	l.mu.Lock()
	l.readers--
	if l.readers == 0 {
		l.cond.Broadcast()
	}
	l.mu.Unlock()
}

func (l *latch) lockWrite() {
	l.mu.Lock()
	for l.writer || l.readers > 0 {
		l.cond.Wait()
	}
	l.writer = true
	l.writeShares = 1
	l.mu.Unlock()
}

// shareWrite joins an existing write hold (refix of a writable guard).
func (l *latch) shareWrite() {
	l.mu.Lock()
	l.writeShares++
	l.mu.Unlock()
}

func (l *latch) unlockWrite() {
	l.mu.Lock()
	l.writeShares--
	if l.writeShares == 0 {
		l.writer = false
		l.cond.Broadcast()
	}
	l.mu.Unlock()
}
