package syncutil

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/quarry/pkg/fault"
)

const moduleName = "syncutil"

// Mutex is a recursive mutex. The same goroutine may lock it repeatedly;
// the underlying mutex is acquired exactly once and a lock count tracks the
// nesting depth. Lock and Unlock accept a multiplicity so a caller can take
// or release several nested acquisitions at once.
type Mutex struct {
	inner sync.Mutex
	// owner is only meaningful while count > 0. Both are atomic because
	// a non-owning goroutine reads them to decide whether it must block;
	// owner is always stored before count so a reader seeing count > 0
	// sees the matching owner.
	owner atomic.Int64
	count atomic.Int64
}

// Lock acquires the mutex times times, blocking if another goroutine holds
// it. It returns the resulting lock count.
func (m *Mutex) Lock(times int) int {
	self := goid()
	if m.count.Load() > 0 && m.owner.Load() == self {
		// Recursive acquisition; the owner check is only valid because
		// owner is never reset while count > 0.
		return int(m.count.Add(int64(times)))
	}

	m.inner.Lock()

	m.owner.Store(self)
	m.count.Store(int64(times))
	return times
}

// TryLock attempts to acquire the mutex without blocking. It returns the
// resulting lock count, or 0 if the mutex is held by another goroutine.
func (m *Mutex) TryLock(times int) int {
	self := goid()
	if m.count.Load() > 0 && m.owner.Load() == self {
		return int(m.count.Add(int64(times)))
	}

	if !m.inner.TryLock() {
		return 0
	}

	m.owner.Store(self)
	m.count.Store(int64(times))
	return times
}

// Unlock releases times nested acquisitions. The underlying mutex is
// released only when the count reaches zero. Unlocking from a goroutine
// that does not own the mutex, or releasing more than is held, returns
// NotLocked.
func (m *Mutex) Unlock(times int) error {
	if m.count.Load() < int64(times) || m.owner.Load() != goid() {
		return fault.New(fault.KindNotLocked, moduleName, "unlock of a mutex not locked by this goroutine")
	}

	if m.count.Add(-int64(times)) == 0 {
		m.inner.Unlock()
	}
	return nil
}

// UnlockAll drops every nested acquisition held by the calling goroutine.
func (m *Mutex) UnlockAll() error {
	if m.count.Load() <= 0 || m.owner.Load() != goid() {
		return fault.New(fault.KindNotLocked, moduleName, "unlock of a mutex not locked by this goroutine")
	}

	m.count.Store(0)
	m.inner.Unlock()
	return nil
}

// Count returns the current lock count. Only meaningful to the owner.
func (m *Mutex) Count() int {
	if c := m.count.Load(); c > 0 && m.owner.Load() == goid() {
		return int(c)
	}
	return 0
}

// Close verifies the mutex is not held. A held mutex cannot be unlocked
// here because the closer may not be the owner; production builds report
// StillLocked instead of asserting.
func (m *Mutex) Close() error {
	if c := m.count.Load(); c != 0 {
		return fault.New(fault.KindStillLocked, moduleName, "mutex closed with %d locks held", c)
	}
	return nil
}
