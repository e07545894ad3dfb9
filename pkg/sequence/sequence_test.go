package sequence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/quarry/pkg/buffer"
	"github.com/cuemby/quarry/pkg/fault"
)

const testPageSize = 4096

func newTestSequence(t *testing.T, opts Options) (*Sequence, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seq.qry")
	pool := buffer.NewPool(16)
	t.Cleanup(pool.Close)
	return New(path, testPageSize, pool, opts), path
}

func TestNextIsStrictlyIncreasing(t *testing.T) {
	s, _ := newTestSequence(t, Options{Min: 0, Max: 1 << 30, Init: 0, Step: 1})

	prev, err := s.Next()
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		v, err := s.Next()
		require.NoError(t, err)
		assert.Greater(t, v, prev)
		prev = v
	}
}

// TestCycleWrap: min=1 max=3 step=1 cycle, current=2: the next value is 3,
// then the sequence wraps to 1.
func TestCycleWrap(t *testing.T) {
	s, _ := newTestSequence(t, Options{Min: 1, Max: 3, Init: 1, Step: 1, Cycle: true})

	v, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	v, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	v, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "cycling sequence wraps to min")
}

// TestOverflow: at the maximum without cycle, Next raises IntegerOverflow
// and the stored value stays at the maximum.
func TestOverflow(t *testing.T) {
	s, path := newTestSequence(t, Options{Min: 1, Max: 3, Init: 1, Step: 1})

	for want := int64(1); want <= 3; want++ {
		v, err := s.Next()
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}

	_, err := s.Next()
	assert.True(t, fault.IsKind(err, fault.KindIntegerOverflow))

	// Re-read through a fresh descriptor: the persisted value is still 3.
	pool := buffer.NewPool(16)
	defer pool.Close()
	reopened := New(path, testPageSize, pool, Options{})
	assert.Equal(t, int64(3), mustLast(t, reopened))
}

func TestPersistReopenRoundTrip(t *testing.T) {
	s, path := newTestSequence(t, Options{Min: 0, Max: 1000, Init: 0, Step: 1})

	var last int64
	for i := 0; i < 5; i++ {
		v, err := s.Next()
		require.NoError(t, err)
		last = v
	}
	require.NoError(t, s.Persist())

	pool := buffer.NewPool(16)
	defer pool.Close()
	reopened := New(path, testPageSize, pool, Options{})
	assert.GreaterOrEqual(t, mustLast(t, reopened), last)
}

func TestNextValueReconciles(t *testing.T) {
	s, _ := newTestSequence(t, Options{Min: 0, Max: 1000, Init: 0, Step: 1})

	v, err := s.NextValue(42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	// A lower value does not move the sequence backwards.
	v, err = s.NextValue(10)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	// Allocation resumes past the reconciled value.
	v, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(43), v)
}

func TestNextValueAboveMax(t *testing.T) {
	s, _ := newTestSequence(t, Options{Min: 0, Max: 100, Init: 0, Step: 1})
	_, err := s.NextValue(101)
	assert.True(t, fault.IsKind(err, fault.KindIntegerOverflow))
}

func TestLazySubstantiation(t *testing.T) {
	s, _ := newTestSequence(t, Options{Min: 0, Max: 100, Init: 0, Step: 1})

	assert.False(t, s.IsAccessible(), "no file before first use")
	_, err := s.Next()
	require.NoError(t, err)
	assert.True(t, s.IsAccessible(), "file substantiated on first allocation")
}

func TestCreateExisting(t *testing.T) {
	s, _ := newTestSequence(t, Options{Min: 0, Max: 100, Init: 0, Step: 1})
	require.NoError(t, s.Create(0, false))
	assert.Error(t, s.Create(0, false))
	require.NoError(t, s.Create(0, true), "allowExistence tolerates the file")
}

func TestVerify(t *testing.T) {
	s, _ := newTestSequence(t, Options{Min: 0, Max: 1000, Init: 0, Step: 1})

	v, err := s.NextValue(10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), v)

	require.NoError(t, s.Verify(5, TreatmentReport), "stored value covers 5")

	err = s.Verify(20, TreatmentReport)
	assert.Error(t, err, "stored value below assigned id")

	require.NoError(t, s.Verify(20, TreatmentCorrect))
	assert.Equal(t, int64(20), s.Last(), "correct treatment raises the value")
}

func TestDrop(t *testing.T) {
	s, _ := newTestSequence(t, Options{Min: 0, Max: 100, Init: 0, Step: 1})
	_, err := s.Next()
	require.NoError(t, err)
	require.NoError(t, s.Drop())
	assert.False(t, s.IsAccessible())
}

func mustLast(t *testing.T, s *Sequence) int64 {
	t.Helper()
	// Last loads lazily through Verify's load path; trigger a load by
	// reconciling with the minimum possible value.
	require.NoError(t, s.Verify(Invalid+1, TreatmentReport))
	return s.Last()
}
