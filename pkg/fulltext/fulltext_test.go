package fulltext

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/quarry/pkg/buffer"
)

const testPageSize = 4096

// TestWhiteListFilter is the reference scenario: underlying list
// [1,3,5,7,9], white list {3,7}; iteration yields 3, 7, then end.
func TestWhiteListFilter(t *testing.T) {
	inner := NewMemoryListIterator([]DocID{1, 3, 5, 7, 9})
	white := NewWhiteList(3, 7)
	it := NewWhiteListIterator(inner, white)

	assert.Equal(t, DocID(3), it.Next())
	assert.Equal(t, DocID(7), it.Next())
	assert.Equal(t, UndefinedDocID, it.Next())
}

func TestWhiteListNextMonotonicAndComplete(t *testing.T) {
	inner := NewMemoryListIterator([]DocID{2, 4, 6, 8, 10, 12})
	white := NewWhiteList(4, 8, 10, 11)
	it := NewWhiteListIterator(inner, white)

	var got []DocID
	for id := it.Next(); id != UndefinedDocID; id = it.Next() {
		got = append(got, id)
	}
	// Every white-listed id present in the list, in order; 11 is not in
	// the list and must not appear.
	assert.Equal(t, []DocID{4, 8, 10}, got)
}

func TestWhiteListLowerBound(t *testing.T) {
	inner := NewMemoryListIterator([]DocID{1, 3, 5, 7, 9})
	white := NewWhiteList(3, 7)
	it := NewWhiteListIterator(inner, white)

	assert.Equal(t, DocID(3), it.LowerBound(2))
	assert.Equal(t, DocID(7), it.LowerBound(4), "list at 5, set skips to 7")
	assert.Equal(t, UndefinedDocID, it.LowerBound(8))

	// Seeking backwards resets the set cursor.
	it.Reset()
	assert.Equal(t, DocID(7), it.LowerBound(6))
	assert.Equal(t, DocID(3), it.LowerBound(1))
}

func TestWhiteListFindSkipsSet(t *testing.T) {
	inner := NewMemoryListIterator([]DocID{1, 3, 5})
	white := NewWhiteList(3)
	it := NewWhiteListIterator(inner, white)

	// Find consults only the underlying list: 5 is found even though the
	// white list excludes it.
	assert.True(t, it.Find(5))
	assert.False(t, it.Find(4))
}

func TestMemoryListIterator(t *testing.T) {
	it := NewMemoryListIterator([]DocID{10, 20, 30})

	assert.Equal(t, DocID(10), it.Next())
	assert.Equal(t, DocID(20), it.Next())
	assert.Equal(t, DocID(30), it.Next())
	assert.Equal(t, UndefinedDocID, it.Next())

	it.Reset()
	assert.Equal(t, DocID(20), it.LowerBound(15))
	assert.Equal(t, DocID(30), it.Next())
	assert.True(t, it.Find(10))
}

func TestListFileAppendAndIterate(t *testing.T) {
	pool := buffer.NewPool(64)
	defer pool.Close()

	lf := NewListFile(filepath.Join(t.TempDir(), "lists.qry"), testPageSize, pool)
	require.NoError(t, lf.Create())
	defer lf.Close()

	// Enough ids to span several pages.
	const n = 3000
	ids := make([]DocID, n)
	for i := range ids {
		ids[i] = DocID(i*3 + 1)
	}
	require.NoError(t, lf.Append(7, ids))

	it, err := lf.Iterator(7)
	require.NoError(t, err)

	count := 0
	for id := it.Next(); id != UndefinedDocID; id = it.Next() {
		assert.Equal(t, ids[count], id)
		count++
	}
	assert.Equal(t, n, count)

	assert.Equal(t, DocID(1), it.LowerBound(0))
	assert.Equal(t, DocID(4), it.LowerBound(2))
	assert.Equal(t, ids[n-1], it.LowerBound(ids[n-1]))
	assert.Equal(t, UndefinedDocID, it.LowerBound(ids[n-1]+1))
}

func TestListFileWhiteListIntegration(t *testing.T) {
	pool := buffer.NewPool(64)
	defer pool.Close()

	lf := NewListFile(filepath.Join(t.TempDir(), "lists.qry"), testPageSize, pool)
	require.NoError(t, lf.Create())
	defer lf.Close()

	require.NoError(t, lf.Append(1, []DocID{1, 3, 5, 7, 9}))
	inner, err := lf.Iterator(1)
	require.NoError(t, err)

	it := NewWhiteListIterator(inner, NewWhiteList(3, 7))
	assert.Equal(t, DocID(3), it.Next())
	assert.Equal(t, DocID(7), it.Next())
	assert.Equal(t, UndefinedDocID, it.Next())
}

func TestInfoFileFlip(t *testing.T) {
	pool := buffer.NewPool(16)
	defer pool.Close()

	info := NewInfoFile(filepath.Join(t.TempDir(), "info.qry"), testPageSize, pool)
	require.NoError(t, info.Create())
	defer info.Close()

	assert.Equal(t, uint32(0), info.Index())
	assert.False(t, info.IsProceeding())

	require.NoError(t, info.StartMerge())
	assert.True(t, info.IsProceeding())

	require.NoError(t, info.EndMerge())
	assert.Equal(t, uint32(1), info.Index(), "sides flip on merge completion")
	assert.False(t, info.IsProceeding())
}

func TestInfoFileProceedingSurvivesReopen(t *testing.T) {
	pool := buffer.NewPool(16)
	defer pool.Close()

	path := filepath.Join(t.TempDir(), "info.qry")
	info := NewInfoFile(path, testPageSize, pool)
	require.NoError(t, info.Create())
	require.NoError(t, info.StartMerge())
	require.NoError(t, info.Close())

	reopened := NewInfoFile(path, testPageSize, pool)
	require.NoError(t, reopened.Open())
	assert.True(t, reopened.IsProceeding(), "interrupted merge visible after reopen")
	require.NoError(t, reopened.Close())
}

func TestIndexFileMergeAndQuery(t *testing.T) {
	pool := buffer.NewPool(128)
	defer pool.Close()

	idx := NewIndexFile(filepath.Join(t.TempDir(), "ft"), testPageSize, pool)
	require.NoError(t, idx.Create())
	defer idx.Close()

	idx.Insert(1, []string{"quick", "brown", "fox"})
	idx.Insert(2, []string{"quick", "dog"})
	idx.Insert(3, []string{"brown", "dog"})

	require.NoError(t, idx.Merge())

	it, err := idx.Iterator("quick")
	require.NoError(t, err)
	assert.Equal(t, DocID(1), it.Next())
	assert.Equal(t, DocID(2), it.Next())
	assert.Equal(t, UndefinedDocID, it.Next())

	it, err = idx.Iterator("dog")
	require.NoError(t, err)
	assert.Equal(t, DocID(2), it.Next())
	assert.Equal(t, DocID(3), it.Next())

	it, err = idx.Iterator("absent")
	require.NoError(t, err)
	assert.Equal(t, UndefinedDocID, it.Next())
}

func TestIndexFileBackgroundMerger(t *testing.T) {
	pool := buffer.NewPool(128)
	defer pool.Close()

	idx := NewIndexFile(filepath.Join(t.TempDir(), "ft"), testPageSize, pool)
	require.NoError(t, idx.Create())

	idx.StartMerger(10 * time.Millisecond)
	idx.Insert(5, []string{"term"})

	require.Eventually(t, func() bool {
		it, err := idx.Iterator("term")
		if err != nil {
			return false
		}
		return it.Next() == DocID(5)
	}, 2*time.Second, 20*time.Millisecond, "merger folds buffered postings in")

	require.NoError(t, idx.Close())
}

func TestCompositeLifecycle(t *testing.T) {
	pool := buffer.NewPool(64)
	defer pool.Close()

	idx := NewIndexFile(filepath.Join(t.TempDir(), "ft"), testPageSize, pool)
	require.NoError(t, idx.Create())

	c := idx.Composite()
	assert.True(t, c.IsAccessible())
	assert.True(t, c.IsMounted())

	require.NoError(t, c.Unmount())
	require.NoError(t, c.Unmount(), "unmount is idempotent")
	require.NoError(t, c.Mount())
	assert.True(t, c.IsMounted())

	require.NoError(t, c.Flush())
	require.NoError(t, c.Verify())
	require.NoError(t, idx.Close())

	require.NoError(t, idx.Destroy())
	assert.False(t, c.IsAccessible())
}
