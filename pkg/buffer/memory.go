package buffer

import (
	"github.com/cuemby/quarry/pkg/fault"
)

// Category describes how a page is fixed. Exactly one of ReadOnly, Write or
// Allocate is set, optionally combined with the Deterrentable, Discardable
// and NoLock modifiers.
type Category uint8

const (
	CategoryUnknown Category = 0x00
	// ReadOnly fixes grant shared access.
	ReadOnly Category = 0x01
	// Write fixes grant exclusive access.
	Write Category = 0x02
	// Allocate fixes a fresh page; the body starts zeroed, no read occurs.
	Allocate Category = 0x04

	// Deterrentable marks updates whose flush may be skipped.
	Deterrentable Category = 0x10
	// Discardable routes updates through a scratch buffer so they can be
	// rolled back by unfixing with dirty=false.
	Discardable Category = 0x20
	// NoLock suppresses read/write latching.
	NoLock Category = 0x40
)

func (c Category) isWritable() bool {
	return c&(Write|Allocate) != 0
}

func (c Category) isDiscardable() bool {
	return c&Discardable != 0
}

// Memory is the guard returned by Pool.Fix. It owns one pin on the page;
// the pin is released exactly once, by Unfix or by the copying transfer in
// Refix. Reads and writes go through Body and WritableBody.
type Memory struct {
	category Category
	owner    bool
	dirty    bool
	page     *page
	pool     *Pool
}

// Category returns the guard's fix category.
func (m *Memory) Category() Category { return m.category }

// IsOwner reports whether the guard still owns its pin.
func (m *Memory) IsOwner() bool { return m.owner }

// IsUpdatable reports whether the guard permits writes.
func (m *Memory) IsUpdatable() bool { return m.category.isWritable() }

// IsDiscardable reports whether writes go to scratch.
func (m *Memory) IsDiscardable() bool { return m.category.isDiscardable() }

// IsDirty reports whether this guard marked the page dirty.
func (m *Memory) IsDirty() bool { return m.dirty }

// Size returns the usable page body size.
func (m *Memory) Size() int {
	return len(m.page.body)
}

// Body returns the page contents for reading. While a discardable guard
// has written through scratch, the scratch view is returned so the guard
// observes its own updates.
func (m *Memory) Body() []byte {
	if !m.owner {
		return nil
	}
	if m.category.isDiscardable() && m.page.scratch != nil {
		return m.page.scratch
	}
	return m.page.body
}

// WritableBody returns the buffer writes must go to. For a discardable
// guard the scratch buffer is allocated on the first call, seeded with the
// current body. Allocation failures surface as MemoryExhaust only after
// the pool has raided every reclaimable buffer.
func (m *Memory) WritableBody() ([]byte, error) {
	if !m.owner {
		return nil, fault.New(fault.KindNotLocked, moduleName, "write through a released guard")
	}
	if !m.category.isWritable() {
		return nil, fault.New(fault.KindBadArgument, moduleName, "write through a read-only guard")
	}
	if m.category.isDiscardable() {
		if m.page.scratch == nil {
			if err := m.pool.allocateScratch(m.page); err != nil {
				return nil, err
			}
		}
		return m.page.scratch, nil
	}
	return m.page.body, nil
}

// Dirty marks the page as updated without promoting scratch.
func (m *Memory) Dirty() {
	if m.owner && m.IsUpdatable() {
		m.dirty = true
	}
}

// Discardable upgrades subsequent writes to copy-on-write. Updates made
// before the upgrade stay in the body.
func (m *Memory) Discardable() {
	if m.owner && m.IsUpdatable() && !m.category.isDiscardable() {
		m.pool.mu.Lock(1)
		m.category |= Discardable
		m.page.discardableFixes++
		m.pool.mu.Unlock(1)
	}
}

// Touch makes the updates applied so far undiscardable: scratch is swapped
// into the body and freed. The guard stays discardable; later writes
// allocate a fresh scratch.
func (m *Memory) Touch(dirty bool) {
	if !m.owner || !m.IsUpdatable() {
		return
	}
	m.pool.mu.Lock(1)
	if m.page.scratch != nil {
		m.page.body, m.page.scratch = m.page.scratch, nil
		m.pool.inUse--
	}
	if dirty || m.dirty {
		m.page.dirty = true
	}
	m.pool.mu.Unlock(1)
	m.dirty = m.dirty || dirty
}

// Refix pins the same page again in the same mode; Allocate downgrades to
// Write. The new guard shares the page latch hold of the original.
func (m *Memory) Refix() (*Memory, error) {
	if !m.owner {
		return nil, fault.New(fault.KindNotLocked, moduleName, "refix of a released guard")
	}
	return m.pool.refix(m)
}

// Unfix releases the pin. For a discardable guard, dirty=true promotes the
// scratch buffer into the body; dirty=false discards it. A dirty page is
// scheduled for asynchronous flush unless async is false, in which case it
// is written through before Unfix returns.
func (m *Memory) Unfix(dirty bool, async bool) error {
	if !m.owner {
		return nil
	}
	m.owner = false
	return m.pool.unfix(m, dirty || m.dirty, async)
}
