package lock

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/cuemby/quarry/pkg/fault"
	"github.com/cuemby/quarry/pkg/metrics"
)

const moduleName = "lock"

// grant records one owner's hold on a resource: the strongest mode held
// and a count per duration for recursive acquisition.
type grant struct {
	mode       Mode
	pulseCount int
	transCount int
}

func (g *grant) total() int { return g.pulseCount + g.transCount }

type waiter struct {
	client *Client
	mode   Mode
	ready  chan struct{}
	// granted is set under the manager latch before ready is closed.
	granted bool
}

type entry struct {
	granted map[*Client]*grant
	queue   []*waiter
}

// Manager grants locks with strict two-phase scheduling: Transaction
// locks accumulate until the owner commits or aborts, Pulse locks are
// released right after the operation that requested them. A single latch
// protects the lock table; waits are FIFO per resource.
type Manager struct {
	mu    sync.Mutex
	table map[Name]*entry
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	return &Manager{table: make(map[Name]*entry)}
}

// NewClient creates a lock owner attached to this manager.
func (m *Manager) NewClient() *Client {
	return &Client{manager: m, held: make(map[Name]Duration)}
}

// Lock acquires name in the given mode for client. It blocks up to
// timeout; on expiry it returns LockTimeout. A client holding a resource
// may re-lock it recursively; an upgrade from shared to exclusive waits
// until the client is the sole holder.
func (m *Manager) Lock(c *Client, name Name, mode Mode, dur Duration, timeout Timeout) error {
	start := time.Now()
	m.mu.Lock()

	e, ok := m.table[name]
	if !ok {
		e = &entry{granted: make(map[*Client]*grant)}
		m.table[name] = e
	}

	if m.grantableLocked(e, c, mode) {
		m.grantLocked(e, c, name, mode, dur)
		m.mu.Unlock()
		metrics.LocksGranted.WithLabelValues(mode.String()).Inc()
		return nil
	}

	if timeout == TimeoutNone {
		m.mu.Unlock()
		metrics.LockTimeouts.Inc()
		return fault.New(fault.KindLockTimeout, moduleName, "lock %s (%s) unavailable", name, mode)
	}

	w := &waiter{client: c, mode: mode, ready: make(chan struct{})}
	e.queue = append(e.queue, w)
	m.mu.Unlock()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(time.Duration(timeout) * time.Millisecond)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-w.ready:
		// Grant recorded by the releaser.
		m.mu.Lock()
		m.recordLocked(e, c, name, mode, dur)
		m.mu.Unlock()
		metrics.LocksGranted.WithLabelValues(mode.String()).Inc()
		metrics.LockWaitDuration.Observe(time.Since(start).Seconds())
		return nil
	case <-timer:
		m.mu.Lock()
		if w.granted {
			// The grant raced the timer; keep the lock.
			m.recordLocked(e, c, name, mode, dur)
			m.mu.Unlock()
			metrics.LocksGranted.WithLabelValues(mode.String()).Inc()
			return nil
		}
		m.removeWaiterLocked(e, w)
		m.mu.Unlock()
		metrics.LockTimeouts.Inc()
		return fault.New(fault.KindLockTimeout, moduleName, "lock %s (%s) timed out after %dms", name, mode, timeout)
	}
}

// Unlock releases one acquisition of name held with the given duration.
func (m *Manager) Unlock(c *Client, name Name, dur Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.table[name]
	if !ok {
		return fault.New(fault.KindNotLocked, moduleName, "unlock of %s which is not locked", name)
	}
	g, ok := e.granted[c]
	if !ok {
		return fault.New(fault.KindNotLocked, moduleName, "unlock of %s by a non-holder", name)
	}
	switch dur {
	case DurationPulse:
		if g.pulseCount == 0 {
			return fault.New(fault.KindNotLocked, moduleName, "pulse unlock of %s without a pulse lock", name)
		}
		g.pulseCount--
	default:
		if g.transCount == 0 {
			return fault.New(fault.KindNotLocked, moduleName, "unlock of %s without a transaction lock", name)
		}
		g.transCount--
	}
	if g.total() == 0 {
		delete(e.granted, c)
		if g.transCount == 0 {
			delete(c.held, name)
		}
		m.promoteLocked(e)
		if len(e.granted) == 0 && len(e.queue) == 0 {
			delete(m.table, name)
		}
	}
	return nil
}

// ReleaseAll drops every Transaction-duration lock the client holds.
// Called at commit and abort.
func (m *Manager) ReleaseAll(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name := range c.held {
		e, ok := m.table[name]
		if !ok {
			continue
		}
		g, ok := e.granted[c]
		if !ok {
			continue
		}
		g.transCount = 0
		if g.total() == 0 {
			delete(e.granted, c)
			m.promoteLocked(e)
			if len(e.granted) == 0 && len(e.queue) == 0 {
				delete(m.table, name)
			}
		}
	}
	c.held = make(map[Name]Duration)
}

// LockAllTuples X-locks every tuple in the set with Pulse duration and
// without waiting. Either every lock is acquired and held (caller clears
// the sub-file, then calls UnlockAllTuples), or none is: the first refusal
// rolls back the locks already taken and returns false.
func (m *Manager) LockAllTuples(c *Client, db, file uint32, tuples *bitset.BitSet) (bool, error) {
	var taken []Name
	for i, ok := tuples.NextSet(0); ok; i, ok = tuples.NextSet(i + 1) {
		name := TupleName(db, file, uint32(i))
		if err := m.Lock(c, name, ModeTupleX, DurationPulse, TimeoutNone); err != nil {
			for _, t := range taken {
				_ = m.Unlock(c, t, DurationPulse)
			}
			if fault.IsKind(err, fault.KindLockTimeout) {
				return false, nil
			}
			return false, err
		}
		taken = append(taken, name)
	}
	return true, nil
}

// UnlockAllTuples releases the pulse locks taken by LockAllTuples.
func (m *Manager) UnlockAllTuples(c *Client, db, file uint32, tuples *bitset.BitSet) {
	for i, ok := tuples.NextSet(0); ok; i, ok = tuples.NextSet(i + 1) {
		_ = m.Unlock(c, TupleName(db, file, uint32(i)), DurationPulse)
	}
}

// grantableLocked reports whether c can take mode on e immediately:
// nothing incompatible is held by others and no earlier waiter starves.
func (m *Manager) grantableLocked(e *entry, c *Client, mode Mode) bool {
	for owner, g := range e.granted {
		if owner == c {
			continue
		}
		if !compatible(g.mode, mode) {
			return false
		}
	}
	// FIFO fairness: a shared request does not overtake a queued
	// exclusive one.
	if len(e.queue) > 0 && e.queue[0].client != c {
		return false
	}
	return true
}

func (m *Manager) grantLocked(e *entry, c *Client, name Name, mode Mode, dur Duration) {
	m.recordLocked(e, c, name, mode, dur)
}

func (m *Manager) recordLocked(e *entry, c *Client, name Name, mode Mode, dur Duration) {
	g, ok := e.granted[c]
	if !ok {
		g = &grant{mode: mode}
		e.granted[c] = g
	}
	if !mode.shared() {
		g.mode = mode
	}
	switch dur {
	case DurationPulse:
		g.pulseCount++
	default:
		g.transCount++
		c.held[name] = DurationTransaction
	}
}

// promoteLocked wakes queued waiters, in order, while they remain
// compatible with what is granted.
func (m *Manager) promoteLocked(e *entry) {
	for len(e.queue) > 0 {
		w := e.queue[0]
		ok := true
		for owner, g := range e.granted {
			if owner == w.client {
				continue
			}
			if !compatible(g.mode, w.mode) {
				ok = false
				break
			}
		}
		if !ok {
			break
		}
		e.queue = e.queue[1:]
		w.granted = true
		close(w.ready)
		// The woken goroutine records its own grant; reserve the slot so
		// a racing request cannot conflict in between.
		g, has := e.granted[w.client]
		if !has {
			g = &grant{mode: w.mode}
			e.granted[w.client] = g
		} else if !w.mode.shared() {
			g.mode = w.mode
		}
		if !w.mode.shared() {
			break
		}
	}
}

func (m *Manager) removeWaiterLocked(e *entry, w *waiter) {
	for i, q := range e.queue {
		if q == w {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			break
		}
	}
}

// Client is a lock owner, normally one per transaction. It tracks
// Transaction-duration locks for release at commit or abort.
type Client struct {
	manager *Manager
	held    map[Name]Duration
}

// Lock acquires a lock through the owning manager.
func (c *Client) Lock(name Name, mode Mode, dur Duration, timeout Timeout) error {
	return c.manager.Lock(c, name, mode, dur, timeout)
}

// Unlock releases a lock through the owning manager.
func (c *Client) Unlock(name Name, dur Duration) error {
	return c.manager.Unlock(c, name, dur)
}

// ReleaseAll drops all Transaction-duration locks.
func (c *Client) ReleaseAll() {
	c.manager.ReleaseAll(c)
}

// Holds reports whether the client holds a Transaction lock on name.
func (c *Client) Holds(name Name) bool {
	c.manager.mu.Lock()
	defer c.manager.mu.Unlock()
	_, ok := c.held[name]
	return ok
}
