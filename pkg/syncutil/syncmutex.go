package syncutil

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/quarry/pkg/events"
	"github.com/cuemby/quarry/pkg/fault"
	"github.com/cuemby/quarry/pkg/metrics"
)

// SyncMutex is a recursive mutex that participates in deadlock detection
// when the Detector service is enabled. Acquisition runs in three phases:
// beginLock registers this mutex as the caller's waiting target and runs
// the cycle check, the underlying mutex is then acquired (possibly
// blocking), and endLock records ownership. The detector mutex is the only
// lock held across graph updates, and it is always acquired before any
// per-SyncMutex state is touched.
type SyncMutex struct {
	inner sync.Mutex
	owner atomic.Int64
	count atomic.Int64

	// lockerThread is the record of the goroutine owning inner, or nil.
	// lockingCount is the number of goroutines mid-acquisition. Both are
	// guarded by the detector mutex.
	lockerThread *WaitingThread
	lockingCount int
}

// Lock acquires the mutex times times. When deadlock detection is enabled
// and the acquisition would close a wait cycle, it returns DeadLock without
// acquiring anything.
func (m *SyncMutex) Lock(times int) (int, error) {
	self := goid()
	if m.count.Load() > 0 && m.owner.Load() == self {
		return int(m.count.Add(int64(times))), nil
	}

	if d := currentDetector(); d != nil {
		w, err := m.beginLock(d, self, true)
		if err != nil {
			return 0, err
		}
		m.inner.Lock()
		m.endLock(d, w)
	} else {
		m.inner.Lock()
	}

	m.owner.Store(self)
	m.count.Store(int64(times))
	return times, nil
}

// TryLock attempts the acquisition without blocking. No cycle check is
// needed because the caller never waits.
func (m *SyncMutex) TryLock(times int) int {
	self := goid()
	if m.count.Load() > 0 && m.owner.Load() == self {
		return int(m.count.Add(int64(times)))
	}

	var locked bool
	if d := currentDetector(); d != nil {
		w, _ := m.beginLock(d, self, false)
		locked = m.inner.TryLock()
		if locked {
			m.endLock(d, w)
		} else {
			m.endLock(d, nil)
		}
	} else {
		locked = m.inner.TryLock()
	}
	if !locked {
		return 0
	}

	m.owner.Store(self)
	m.count.Store(int64(times))
	return times
}

// Unlock releases times nested acquisitions, updating the wait-for graph
// when the last one is released.
func (m *SyncMutex) Unlock(times int) error {
	if m.count.Load() < int64(times) || m.owner.Load() != goid() {
		return fault.New(fault.KindNotLocked, moduleName, "unlock of a sync mutex not locked by this goroutine")
	}

	if m.count.Add(-int64(times)) == 0 {
		m.inner.Unlock()
		if d := currentDetector(); d != nil {
			m.endUnlock(d)
		}
	}
	return nil
}

// UnlockAll drops every nested acquisition.
func (m *SyncMutex) UnlockAll() error {
	if m.count.Load() <= 0 || m.owner.Load() != goid() {
		return fault.New(fault.KindNotLocked, moduleName, "unlock of a sync mutex not locked by this goroutine")
	}

	m.count.Store(0)
	m.inner.Unlock()
	if d := currentDetector(); d != nil {
		m.endUnlock(d)
	}
	return nil
}

// beginLock attaches this mutex as the caller's waiting target and, when
// doCheck is set, runs the cycle check. A concurrent acquirer that is
// mid-phase (lockingCount > 0) may have half-linked state, so the check
// backs off 1ms and retries until the count drains.
func (m *SyncMutex) beginLock(d *Detector, self int64, doCheck bool) (*WaitingThread, error) {
	d.mu.Lock()

	w := d.waitingThread(self)
	w.waitingTarget = m

	if doCheck {
	retry:
		if !d.check(w, m) {
			w.waitingTarget = nil
			if w.count == 0 {
				d.dropWaitingThread(w)
			}
			d.mu.Unlock()
			metrics.LockDeadlocks.Inc()
			if b := d.broker.Load(); b != nil {
				b.Publish(&events.Event{
					Type:    events.EventDeadlockDetected,
					Message: "acquisition refused to avoid a wait cycle",
				})
			}
			return nil, fault.New(fault.KindDeadLock, moduleName, "locking would dead lock")
		}
		if m.lockingCount > 0 {
			for m.lockingCount > 0 {
				d.mu.Unlock()
				time.Sleep(time.Millisecond)
				d.mu.Lock()
			}
			goto retry
		}
	}

	m.lockingCount++
	d.mu.Unlock()
	return w, nil
}

// endLock records ownership after the underlying mutex was acquired.
// A nil record means the acquisition did not happen (failed TryLock).
func (m *SyncMutex) endLock(d *Detector, w *WaitingThread) {
	d.mu.Lock()
	if w != nil {
		m.lockerThread = w
		w.count++
		w.waitingTarget = nil
	}
	m.lockingCount--
	d.mu.Unlock()
}

// endUnlock clears ownership in the graph and discards the caller's record
// when it holds no more sync objects.
func (m *SyncMutex) endUnlock(d *Detector) {
	self := goid()
	d.mu.Lock()
	if m.lockerThread != nil && m.lockerThread.ID == self {
		m.lockerThread = nil
	}
	w := d.waitingThread(self)
	w.count--
	if w.count <= 0 {
		d.dropWaitingThread(w)
	}
	d.mu.Unlock()
}

// Count returns the current lock count. Only meaningful to the owner.
func (m *SyncMutex) Count() int {
	if c := m.count.Load(); c > 0 && m.owner.Load() == goid() {
		return int(c)
	}
	return 0
}

// Close verifies the mutex is not held.
func (m *SyncMutex) Close() error {
	if c := m.count.Load(); c != 0 {
		return fault.New(fault.KindStillLocked, moduleName, "sync mutex closed with %d locks held", c)
	}
	return nil
}
