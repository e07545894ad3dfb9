package backup

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/quarry/pkg/buffer"
	"github.com/cuemby/quarry/pkg/cfile"
	"github.com/cuemby/quarry/pkg/vfile"
)

const testPageSize = 4096

func newComposite(t *testing.T) *cfile.Composite {
	t.Helper()
	pool := buffer.NewPool(16)
	t.Cleanup(pool.Close)

	dir := t.TempDir()
	f := vfile.New(filepath.Join(dir, "data.qry"), testPageSize)
	require.NoError(t, f.Create())
	t.Cleanup(func() { f.Close() })
	return cfile.NewComposite(dir, cfile.NewBase(f, pool))
}

func TestBackupLifecycle(t *testing.T) {
	reg, err := NewRegistry(t.TempDir())
	require.NoError(t, err)
	defer reg.Close()

	c := newComposite(t)
	snap, err := reg.Start("main", 42, c)
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, uint64(42), snap.Point)

	interrupted, err := reg.Interrupted()
	require.NoError(t, err)
	assert.Len(t, interrupted, 1, "running backup is visible as interrupted until ended")

	require.NoError(t, reg.End(snap.ID))

	interrupted, err = reg.Interrupted()
	require.NoError(t, err)
	assert.Empty(t, interrupted)
}

func TestEndUnknownSnapshot(t *testing.T) {
	reg, err := NewRegistry(t.TempDir())
	require.NoError(t, err)
	defer reg.Close()

	assert.Error(t, reg.End("no-such-id"))
}

func TestInterruptedSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	reg, err := NewRegistry(dir)
	require.NoError(t, err)
	c := newComposite(t)
	snap, err := reg.Start("main", 7, c)
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	reopened, err := NewRegistry(dir)
	require.NoError(t, err)
	defer reopened.Close()

	interrupted, err := reopened.Interrupted()
	require.NoError(t, err)
	require.Len(t, interrupted, 1)
	assert.Equal(t, snap.ID, interrupted[0].ID)

	require.NoError(t, reopened.Forget(snap.ID))
	interrupted, err = reopened.Interrupted()
	require.NoError(t, err)
	assert.Empty(t, interrupted)
}
