package vector

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/quarry/pkg/btree"
	"github.com/cuemby/quarry/pkg/buffer"
	"github.com/cuemby/quarry/pkg/schema"
)

const testPageSize = 4096

func newTestFile(t *testing.T) *File {
	t.Helper()
	pool := buffer.NewPool(64)
	t.Cleanup(pool.Close)

	f, err := NewFile(filepath.Join(t.TempDir(), "vec.qry"), testPageSize, pool,
		[]schema.FieldType{schema.FieldInt64, schema.FieldUint32})
	require.NoError(t, err)
	require.NoError(t, f.Create())
	t.Cleanup(func() { f.Close() })
	return f
}

func rec(a int64, b uint32) []btree.Value {
	return []btree.Value{
		btree.IntValue(schema.FieldInt64, a),
		btree.IntValue(schema.FieldUint32, int64(b)),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	f := newTestFile(t)

	require.NoError(t, f.Put(0, rec(100, 1)))
	require.NoError(t, f.Put(7, rec(700, 7)))

	vals, ok, err := f.Get(7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(700), vals[0].Int)
	assert.Equal(t, int64(7), vals[1].Int)

	_, ok, err = f.Get(3)
	require.NoError(t, err)
	assert.False(t, ok, "empty slot reads as absent")
}

func TestDirectAddressingAcrossPages(t *testing.T) {
	f := newTestFile(t)

	// Far-apart row ids land on different pages without any tree walk.
	ids := []uint32{0, 500, 2000, 9000}
	for _, id := range ids {
		require.NoError(t, f.Put(id, rec(int64(id)*10, id)))
	}
	for _, id := range ids {
		vals, ok, err := f.Get(id)
		require.NoError(t, err)
		require.True(t, ok, "row %d", id)
		assert.Equal(t, int64(id)*10, vals[0].Int)
	}

	count, err := f.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(len(ids)), count)
}

func TestOverwriteKeepsCount(t *testing.T) {
	f := newTestFile(t)

	require.NoError(t, f.Put(4, rec(1, 1)))
	require.NoError(t, f.Put(4, rec(2, 2)))

	count, err := f.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	vals, ok, err := f.Get(4)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), vals[0].Int)
}

func TestDelete(t *testing.T) {
	f := newTestFile(t)

	require.NoError(t, f.Put(2, rec(20, 2)))
	removed, err := f.Delete(2)
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok, err := f.Get(2)
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err = f.Delete(2)
	require.NoError(t, err)
	assert.False(t, removed, "double delete reports false")

	count, err := f.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestNullFields(t *testing.T) {
	f := newTestFile(t)

	require.NoError(t, f.Put(1, []btree.Value{
		btree.NullValue(schema.FieldInt64),
		btree.IntValue(schema.FieldUint32, 5),
	}))

	vals, ok, err := f.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, vals[0].Null)
	assert.Equal(t, int64(5), vals[1].Int)
}

func TestScanInRowOrder(t *testing.T) {
	f := newTestFile(t)

	for _, id := range []uint32{30, 10, 20} {
		require.NoError(t, f.Put(id, rec(int64(id), id)))
	}

	var got []uint32
	require.NoError(t, f.Scan(func(rowID uint32, vals []btree.Value) bool {
		got = append(got, rowID)
		return true
	}))
	assert.Equal(t, []uint32{10, 20, 30}, got)
}

func TestVariableLengthRejected(t *testing.T) {
	pool := buffer.NewPool(8)
	defer pool.Close()
	_, err := NewFile(filepath.Join(t.TempDir(), "vec.qry"), testPageSize, pool,
		[]schema.FieldType{schema.FieldString})
	assert.Error(t, err)
}

func TestPersistsAcrossReopen(t *testing.T) {
	pool := buffer.NewPool(64)
	defer pool.Close()

	path := filepath.Join(t.TempDir(), "vec.qry")
	types := []schema.FieldType{schema.FieldInt64, schema.FieldUint32}

	f, err := NewFile(path, testPageSize, pool, types)
	require.NoError(t, err)
	require.NoError(t, f.Create())
	require.NoError(t, f.Put(11, rec(110, 11)))
	require.NoError(t, f.Close())

	g, err := NewFile(path, testPageSize, pool, types)
	require.NoError(t, err)
	require.NoError(t, g.Open())
	vals, ok, err := g.Get(11)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(110), vals[0].Int)
	require.NoError(t, g.Close())
}
