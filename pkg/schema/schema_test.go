package schema

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/quarry/pkg/buffer"
	"github.com/cuemby/quarry/pkg/sequence"
)

const testPageSize = 4096

func newSeq(t *testing.T, opts sequence.Options) *sequence.Sequence {
	t.Helper()
	pool := buffer.NewPool(16)
	t.Cleanup(pool.Close)
	return sequence.New(filepath.Join(t.TempDir(), "seq.qry"), testPageSize, pool, opts)
}

func TestObjectIDValidity(t *testing.T) {
	assert.False(t, InvalidObjectID.IsValid())
	assert.True(t, ObjectID(1).IsValid())
	assert.True(t, MaxObjectID.IsValid())
	assert.False(t, (MaxObjectID + 1).IsValid(), "band above the maximum is reserved")
}

func TestAllocatorNeverReuses(t *testing.T) {
	a := NewAllocator(newSeq(t, sequence.Options{Min: 1, Max: int64(MaxObjectID), Init: 1, Step: 1}))

	seen := make(map[ObjectID]bool)
	for i := 0; i < 20; i++ {
		id, err := a.Next()
		require.NoError(t, err)
		assert.False(t, seen[id], "id %d minted twice", id)
		seen[id] = true
	}
}

func TestAllocatorReconcile(t *testing.T) {
	a := NewAllocator(newSeq(t, sequence.Options{Min: 1, Max: int64(MaxObjectID), Init: 1, Step: 1}))

	// Replay observed ids up to 100; allocation resumes above them.
	require.NoError(t, a.Reconcile(100))
	id, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, ObjectID(101), id)
}

func TestTupleIDAlwaysReconciles(t *testing.T) {
	tid := NewTupleID(newSeq(t, TupleIDOptions()))

	v, err := tid.Assign()
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	// An explicit row id always advances the sequence, get-max or not.
	v, err = tid.AssignWith(50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), v)

	v, err = tid.Assign()
	require.NoError(t, err)
	assert.Equal(t, int64(51), v)
}

func TestIdentityGetMaxAsymmetry(t *testing.T) {
	plain := NewIdentity(newSeq(t, sequence.Options{Min: 0, Max: 1 << 20, Init: 0, Step: 1}))
	getMax := NewIdentity(newSeq(t, sequence.Options{Min: 0, Max: 1 << 20, Init: 0, Step: 1, GetMax: true}))

	// Without get-max an explicit value leaves the generator alone.
	v, err := plain.AssignExplicit(100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), v)
	v, err = plain.Assign()
	require.NoError(t, err)
	assert.Equal(t, int64(0), v, "generator progression untouched")

	// With get-max the explicit value advances the generator.
	v, err = getMax.AssignExplicit(100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), v)
	v, err = getMax.Assign()
	require.NoError(t, err)
	assert.Equal(t, int64(101), v)
}

func TestBoltStoreRoundTrip(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	db := &Database{ID: 1, Name: "main", Path: "/tmp/main"}
	require.NoError(t, store.CreateDatabase(db))

	got, err := store.GetDatabase(1)
	require.NoError(t, err)
	assert.Equal(t, "main", got.Name)

	byName, err := store.GetDatabaseByName("main")
	require.NoError(t, err)
	assert.Equal(t, ObjectID(1), byName.ID)

	table := &Table{
		ID:       2,
		Database: 1,
		Name:     "users",
		Columns: []Column{
			{ID: 3, Name: "id", Type: FieldUint32, Identity: true, IdentityGetMax: true},
			{ID: 4, Name: "name", Type: FieldString, Nullable: true},
		},
	}
	require.NoError(t, store.CreateTable(table))

	gotTable, err := store.GetTableByName(1, "users")
	require.NoError(t, err)
	assert.Len(t, gotTable.Columns, 2)
	assert.True(t, gotTable.Columns[0].IdentityGetMax)

	index := &Index{ID: 5, Table: 2, Name: "users_pk", Kind: IndexBtree, Unique: true}
	require.NoError(t, store.CreateIndex(index))

	indexes, err := store.ListIndexes(2)
	require.NoError(t, err)
	require.Len(t, indexes, 1)
	assert.True(t, indexes[0].Unique)

	max, err := store.MaxObjectID()
	require.NoError(t, err)
	assert.Equal(t, ObjectID(5), max)

	require.NoError(t, store.DeleteIndex(5))
	_, err = store.GetIndex(5)
	assert.Error(t, err)
}

func TestCatalogReplayReconciliation(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.CreateTable(&Table{ID: 7, Database: 1, Name: "t"}))

	max, err := store.MaxObjectID()
	require.NoError(t, err)

	a := NewAllocator(newSeq(t, sequence.Options{Min: 1, Max: int64(MaxObjectID), Init: 1, Step: 1}))
	require.NoError(t, a.Reconcile(max))

	id, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, ObjectID(8), id, "allocation resumes above replayed ids")
}
