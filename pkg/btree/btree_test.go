package btree

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/quarry/pkg/buffer"
	"github.com/cuemby/quarry/pkg/fault"
	"github.com/cuemby/quarry/pkg/schema"
)

const testPageSize = 4096

func TestCompareAntisymmetry(t *testing.T) {
	cmp := NewCompare([]schema.FieldType{schema.FieldInt64, schema.FieldString}, false, true)

	cases := [][2][]Value{
		{
			{IntValue(schema.FieldInt64, 1), BytesValue(schema.FieldString, []byte("a"))},
			{IntValue(schema.FieldInt64, 2), BytesValue(schema.FieldString, []byte("a"))},
		},
		{
			{IntValue(schema.FieldInt64, 1), BytesValue(schema.FieldString, []byte("a"))},
			{IntValue(schema.FieldInt64, 1), BytesValue(schema.FieldString, []byte("b"))},
		},
		{
			{NullValue(schema.FieldInt64), BytesValue(schema.FieldString, []byte("a"))},
			{IntValue(schema.FieldInt64, 1), BytesValue(schema.FieldString, []byte("a"))},
		},
	}
	for i, c := range cases {
		r1 := cmp.Compare(c[0], c[1])
		r2 := cmp.Compare(c[1], c[0])
		assert.Equal(t, -r2, r1, "case %d: compare(a,b) = -compare(b,a)", i)
		assert.Equal(t, 0, cmp.Compare(c[0], c[0]), "case %d: compare(a,a) = 0", i)
	}
}

func TestCompareTransitivity(t *testing.T) {
	cmp := NewCompare([]schema.FieldType{schema.FieldInt64}, false, false)
	a := []Value{IntValue(schema.FieldInt64, 1)}
	b := []Value{IntValue(schema.FieldInt64, 5)}
	c := []Value{IntValue(schema.FieldInt64, 9)}

	assert.Negative(t, cmp.Compare(a, b))
	assert.Negative(t, cmp.Compare(b, c))
	assert.Negative(t, cmp.Compare(a, c))
}

func TestCompareNullFirst(t *testing.T) {
	cmp := NewCompare([]schema.FieldType{schema.FieldInt64}, false, true)
	null := []Value{NullValue(schema.FieldInt64)}
	small := []Value{IntValue(schema.FieldInt64, -1 << 60)}

	assert.Negative(t, cmp.Compare(null, small), "NULL sorts before any non-NULL")
	assert.Equal(t, 0, cmp.Compare(null, null))
}

func TestIntegrityCheckNullMasks(t *testing.T) {
	cmp := NewCompare([]schema.FieldType{schema.FieldInt64, schema.FieldInt64}, false, true)

	a := []Value{IntValue(schema.FieldInt64, 1), IntValue(schema.FieldInt64, 2)}
	b := []Value{IntValue(schema.FieldInt64, 1), IntValue(schema.FieldInt64, 2)}
	assert.True(t, cmp.IntegrityCheck(a, b))

	b = []Value{IntValue(schema.FieldInt64, 1), IntValue(schema.FieldInt64, 3)}
	assert.False(t, cmp.IntegrityCheck(a, b))

	// Any NULL among the participating fields masks the violation.
	b = []Value{IntValue(schema.FieldInt64, 1), NullValue(schema.FieldInt64)}
	assert.True(t, cmp.IntegrityCheck(a, b))

	// With the check restricted to the first field, a second-field
	// difference is out of scope.
	cmp.SetIntegrityFields(1)
	b = []Value{IntValue(schema.FieldInt64, 1), IntValue(schema.FieldInt64, 99)}
	assert.True(t, cmp.IntegrityCheck(a, b))
}

func TestEntryEncodeDecode(t *testing.T) {
	cmp := NewCompare([]schema.FieldType{
		schema.FieldInt32,
		schema.FieldInt64,
		schema.FieldFloat64,
		schema.FieldString,
	}, false, true)

	vals := []Value{
		IntValue(schema.FieldInt32, -7),
		NullValue(schema.FieldInt64),
		FloatValue(3.5),
		BytesValue(schema.FieldString, []byte("hello")),
	}
	buf, err := cmp.Encode(vals)
	require.NoError(t, err)
	assert.Equal(t, 0, len(buf)%4, "entries are packed u32 arrays")

	got, err := cmp.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, int64(-7), got[0].Int)
	assert.True(t, got[1].Null)
	assert.Equal(t, 3.5, got[2].Float)
	assert.Equal(t, []byte("hello"), got[3].Bytes)
	assert.Equal(t, 0, cmp.Compare(vals, got))
}

func TestEntryNullWithoutHeader(t *testing.T) {
	cmp := NewCompare([]schema.FieldType{schema.FieldInt32}, false, false)
	_, err := cmp.Encode([]Value{NullValue(schema.FieldInt32)})
	assert.Error(t, err, "headerless entries cannot carry NULLs")
}

func TestTreeHeaderDumpRestore(t *testing.T) {
	h := TreeHeader{Root: 3, LeftmostLeaf: 4, RightmostLeaf: 9, EntryCount: 100, StepCount: 2}
	buf := make([]byte, TreeHeaderSize)
	h.Dump(buf)

	var got TreeHeader
	got.Restore(buf)
	assert.Equal(t, h, got)
	assert.Equal(t, 0, TreeHeaderSize%4, "header image is a multiple of 4 bytes")
}

func TestHeaderPageDumpRestore(t *testing.T) {
	hp := NewHeaderPage()
	hp.Trees[0] = TreeHeader{Root: 2, LeftmostLeaf: 2, RightmostLeaf: 2, EntryCount: 1, StepCount: 1}
	hp.TupleCount = 42

	buf := make([]byte, headerPageSize)
	hp.Dump(buf)

	got := NewHeaderPage()
	got.Restore(buf)
	assert.Equal(t, hp.Trees, got.Trees)
	assert.Equal(t, uint64(42), got.TupleCount)
}

func newTestTree(t *testing.T, unique bool) *File {
	t.Helper()
	pool := buffer.NewPool(64)
	t.Cleanup(pool.Close)

	types := []schema.FieldType{schema.FieldInt64, schema.FieldUint32}
	keyFields := 1
	if unique {
		keyFields = len(types)
	}
	cmp := NewCompare(types, unique, true)
	f := NewFile(filepath.Join(t.TempDir(), "idx.qry"), testPageSize, pool, cmp, keyFields)
	require.NoError(t, f.Create())
	t.Cleanup(func() { f.Close() })
	return f
}

func entry(key int64, row uint32) []Value {
	return []Value{IntValue(schema.FieldInt64, key), IntValue(schema.FieldUint32, int64(row))}
}

func TestTreeInsertSearchDelete(t *testing.T) {
	f := newTestTree(t, false)

	require.NoError(t, f.Insert(entry(10, 1)))
	require.NoError(t, f.Insert(entry(5, 2)))
	require.NoError(t, f.Insert(entry(20, 3)))

	found, err := f.Search(entry(10, 1))
	require.NoError(t, err)
	assert.True(t, found)

	found, err = f.Search(entry(11, 0))
	require.NoError(t, err)
	assert.False(t, found)

	removed, err := f.Delete(entry(10, 1))
	require.NoError(t, err)
	assert.True(t, removed)

	found, err = f.Search(entry(10, 1))
	require.NoError(t, err)
	assert.False(t, found)

	removed, err = f.Delete(entry(10, 1))
	require.NoError(t, err)
	assert.False(t, removed, "deleting a missing entry reports false")

	assert.Equal(t, uint32(2), f.EntryCount())
	require.NoError(t, f.Verify())
}

func TestTreeSplitsKeepOrder(t *testing.T) {
	f := newTestTree(t, false)

	// Enough entries to force several leaf and node splits.
	const n = 2000
	for i := 0; i < n; i++ {
		key := int64((i * 7919) % n)
		require.NoError(t, f.Insert(entry(key, uint32(i))))
	}
	assert.Equal(t, uint32(n), f.EntryCount())
	require.NoError(t, f.Verify())

	var prev int64 = -1
	var count int
	require.NoError(t, f.Scan(nil, func(vals []Value) bool {
		assert.GreaterOrEqual(t, vals[0].Int, prev)
		prev = vals[0].Int
		count++
		return true
	}))
	assert.Equal(t, n, count)
}

func TestTreeUniqueViolation(t *testing.T) {
	f := newTestTree(t, true)

	require.NoError(t, f.Insert(entry(1, 1)))
	err := f.Insert(entry(1, 1))
	assert.True(t, fault.IsKind(err, fault.KindUserLevel), "duplicates are a user-level error")
}

func TestTreeNonUniqueAllowsDuplicateKeys(t *testing.T) {
	f := newTestTree(t, false)

	require.NoError(t, f.Insert(entry(1, 1)))
	require.NoError(t, f.Insert(entry(1, 2)), "same key, different row id")

	var rows []uint32
	require.NoError(t, f.Scan(nil, func(vals []Value) bool {
		rows = append(rows, uint32(vals[1].Int))
		return true
	}))
	assert.Equal(t, []uint32{1, 2}, rows)
}

func TestTreePersistsAcrossReopen(t *testing.T) {
	pool := buffer.NewPool(64)
	defer pool.Close()

	path := filepath.Join(t.TempDir(), "idx.qry")
	cmp := NewCompare([]schema.FieldType{schema.FieldInt64, schema.FieldUint32}, false, true)

	f := NewFile(path, testPageSize, pool, cmp, 1)
	require.NoError(t, f.Create())
	for i := 0; i < 100; i++ {
		require.NoError(t, f.Insert(entry(int64(i), uint32(i))))
	}
	require.NoError(t, f.Close())

	g := NewFile(path, testPageSize, pool, NewCompare([]schema.FieldType{schema.FieldInt64, schema.FieldUint32}, false, true), 1)
	require.NoError(t, g.Open())
	assert.Equal(t, uint32(100), g.EntryCount())
	found, err := g.Search(entry(57, 57))
	require.NoError(t, err)
	assert.True(t, found)
	require.NoError(t, g.Verify())
	require.NoError(t, g.Close())
}

func TestTreeScanFromLowerBound(t *testing.T) {
	f := newTestTree(t, false)
	for i := 0; i < 50; i++ {
		require.NoError(t, f.Insert(entry(int64(i), uint32(i))))
	}

	var got []int64
	require.NoError(t, f.Scan(entry(45, 0), func(vals []Value) bool {
		got = append(got, vals[0].Int)
		return true
	}))
	assert.Equal(t, []int64{45, 46, 47, 48, 49}, got)
}

func TestTreeVariableLengthKeys(t *testing.T) {
	pool := buffer.NewPool(64)
	defer pool.Close()

	cmp := NewCompare([]schema.FieldType{schema.FieldString, schema.FieldUint32}, false, true)
	f := NewFile(filepath.Join(t.TempDir(), "idx.qry"), testPageSize, pool, cmp, 1)
	require.NoError(t, f.Create())
	defer f.Close()

	for i := 0; i < 300; i++ {
		key := []byte(fmt.Sprintf("key-%04d-%s", i, string(make([]byte, i%17))))
		require.NoError(t, f.Insert([]Value{
			BytesValue(schema.FieldString, key),
			IntValue(schema.FieldUint32, int64(i)),
		}))
	}
	require.NoError(t, f.Verify())
	assert.Equal(t, uint32(300), f.EntryCount())
}
