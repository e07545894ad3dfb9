package buffer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/quarry/pkg/fault"
	"github.com/cuemby/quarry/pkg/vfile"
)

const testPageSize = 4096

func newTestFile(t *testing.T) *vfile.File {
	t.Helper()
	f := vfile.New(filepath.Join(t.TempDir(), "data.qry"), testPageSize)
	require.NoError(t, f.Create())
	t.Cleanup(func() { f.Close() })
	return f
}

func newTestPool(t *testing.T, capacity int) *Pool {
	t.Helper()
	p := NewPool(capacity)
	t.Cleanup(p.Close)
	return p
}

func TestFixReadBack(t *testing.T) {
	f := newTestFile(t)
	p := newTestPool(t, 16)

	id, err := f.Allocate()
	require.NoError(t, err)

	mem, err := p.Fix(f, id, Write)
	require.NoError(t, err)
	body, err := mem.WritableBody()
	require.NoError(t, err)
	body[0] = 0x42
	require.NoError(t, mem.Unfix(true, false))

	mem, err = p.Fix(f, id, ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), mem.Body()[0])
	require.NoError(t, mem.Unfix(false, true))
}

func TestFixBadCategory(t *testing.T) {
	f := newTestFile(t)
	p := newTestPool(t, 16)

	_, err := p.Fix(f, 1, ReadOnly|Write)
	assert.True(t, fault.IsKind(err, fault.KindBadArgument))

	_, err = p.Fix(f, 1, Discardable)
	assert.True(t, fault.IsKind(err, fault.KindBadArgument), "modifier without access mode")
}

// TestDiscardableRollback is the copy-on-write scenario: a write through
// a discardable guard unfixed with dirty=false must leave the body
// untouched.
func TestDiscardableRollback(t *testing.T) {
	f := newTestFile(t)
	p := newTestPool(t, 16)

	id, err := f.Allocate()
	require.NoError(t, err)

	mem, err := p.Fix(f, id, Write)
	require.NoError(t, err)
	body, err := mem.WritableBody()
	require.NoError(t, err)
	body[0] = 0x11
	require.NoError(t, mem.Unfix(true, false))

	mem, err = p.Fix(f, id, Write|Discardable)
	require.NoError(t, err)
	scratch, err := mem.WritableBody()
	require.NoError(t, err)
	scratch[0] = 0xAA
	assert.Equal(t, byte(0xAA), mem.Body()[0], "guard observes its own scratch write")
	require.NoError(t, mem.Unfix(false, true))

	mem, err = p.Fix(f, id, ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, byte(0x11), mem.Body()[0], "scratch discarded on dirty=false")
	require.NoError(t, mem.Unfix(false, true))
}

func TestDiscardablePromoteOnDirtyUnfix(t *testing.T) {
	f := newTestFile(t)
	p := newTestPool(t, 16)

	id, err := f.Allocate()
	require.NoError(t, err)

	mem, err := p.Fix(f, id, Write|Discardable)
	require.NoError(t, err)
	scratch, err := mem.WritableBody()
	require.NoError(t, err)
	scratch[7] = 0x77
	require.NoError(t, mem.Unfix(true, false))

	mem, err = p.Fix(f, id, ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, byte(0x77), mem.Body()[7], "scratch promoted on dirty unfix")
	require.NoError(t, mem.Unfix(false, true))
}

func TestTouchPromotesScratch(t *testing.T) {
	f := newTestFile(t)
	p := newTestPool(t, 16)

	id, err := f.Allocate()
	require.NoError(t, err)

	mem, err := p.Fix(f, id, Write|Discardable)
	require.NoError(t, err)
	scratch, err := mem.WritableBody()
	require.NoError(t, err)
	scratch[3] = 0x33
	mem.Touch(true)

	// After touch the write is undiscardable: dirty=false no longer
	// rolls it back.
	require.NoError(t, mem.Unfix(false, true))

	mem, err = p.Fix(f, id, ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, byte(0x33), mem.Body()[3])
	require.NoError(t, mem.Unfix(false, true))
}

func TestRefixDowngradesAllocate(t *testing.T) {
	f := newTestFile(t)
	p := newTestPool(t, 16)

	id, err := f.Allocate()
	require.NoError(t, err)

	mem, err := p.Fix(f, id, Allocate)
	require.NoError(t, err)
	again, err := mem.Refix()
	require.NoError(t, err)
	assert.Equal(t, Write, again.Category()&(ReadOnly|Write|Allocate))
	require.NoError(t, again.Unfix(false, true))
	require.NoError(t, mem.Unfix(false, true))
}

func TestUnfixReleasesPinExactlyOnce(t *testing.T) {
	f := newTestFile(t)
	p := newTestPool(t, 16)

	id, err := f.Allocate()
	require.NoError(t, err)

	mem, err := p.Fix(f, id, ReadOnly)
	require.NoError(t, err)
	require.NoError(t, mem.Unfix(false, true))
	assert.False(t, mem.IsOwner())
	require.NoError(t, mem.Unfix(false, true), "second unfix is a no-op")

	p.mu.Lock(1)
	pg := p.pages[pageKey{f, id}]
	assert.Equal(t, 0, pg.refCount)
	p.mu.Unlock(1)
}

func TestFlushAllIdempotent(t *testing.T) {
	f := newTestFile(t)
	p := newTestPool(t, 16)

	id, err := f.Allocate()
	require.NoError(t, err)

	mem, err := p.Fix(f, id, Write|Deterrentable)
	require.NoError(t, err)
	body, err := mem.WritableBody()
	require.NoError(t, err)
	body[0] = 0x55
	require.NoError(t, mem.Unfix(true, true))

	n, err := p.FlushAll(f)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = p.FlushAll(f)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second flush without writes flushes nothing")
}

func TestEvictionAndMemoryExhaust(t *testing.T) {
	f := newTestFile(t)
	p := newTestPool(t, 2)

	var ids []vfile.PageID
	for i := 0; i < 3; i++ {
		id, err := f.Allocate()
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// Hold pins on two pages; the third fix cannot evict anything.
	m0, err := p.Fix(f, ids[0], ReadOnly)
	require.NoError(t, err)
	m1, err := p.Fix(f, ids[1], ReadOnly)
	require.NoError(t, err)

	_, err = p.Fix(f, ids[2], ReadOnly)
	assert.True(t, fault.IsKind(err, fault.KindMemoryExhaust))

	// Releasing one pin makes room again.
	require.NoError(t, m0.Unfix(false, true))
	m2, err := p.Fix(f, ids[2], ReadOnly)
	require.NoError(t, err)
	require.NoError(t, m2.Unfix(false, true))
	require.NoError(t, m1.Unfix(false, true))
}

func TestEvictionWritesDirtyVictim(t *testing.T) {
	f := newTestFile(t)
	p := newTestPool(t, 1)

	id0, err := f.Allocate()
	require.NoError(t, err)
	id1, err := f.Allocate()
	require.NoError(t, err)

	mem, err := p.Fix(f, id0, Write|Deterrentable)
	require.NoError(t, err)
	body, err := mem.WritableBody()
	require.NoError(t, err)
	body[0] = 0x99
	require.NoError(t, mem.Unfix(true, true))

	// Fixing another page evicts the dirty one, writing it through.
	mem, err = p.Fix(f, id1, ReadOnly)
	require.NoError(t, err)
	require.NoError(t, mem.Unfix(false, true))

	buf := make([]byte, f.BodySize())
	require.NoError(t, f.ReadPage(id0, buf))
	assert.Equal(t, byte(0x99), buf[0])
}

func TestDiscardableUpgrade(t *testing.T) {
	f := newTestFile(t)
	p := newTestPool(t, 16)

	id, err := f.Allocate()
	require.NoError(t, err)

	mem, err := p.Fix(f, id, Write)
	require.NoError(t, err)
	body, err := mem.WritableBody()
	require.NoError(t, err)
	body[0] = 0x10

	mem.Discardable()
	assert.True(t, mem.IsDiscardable())
	scratch, err := mem.WritableBody()
	require.NoError(t, err)
	scratch[0] = 0x20
	require.NoError(t, mem.Unfix(false, true))

	mem, err = p.Fix(f, id, ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, byte(0x10), mem.Body()[0], "pre-upgrade write survives, post-upgrade write rolls back")
	require.NoError(t, mem.Unfix(false, true))
}
