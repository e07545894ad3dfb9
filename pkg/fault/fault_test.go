package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCapturesLocation(t *testing.T) {
	err := New(KindDeadLock, "lock", "cycle on %s", "m1")
	assert.Equal(t, KindDeadLock, err.Kind)
	assert.Equal(t, "lock", err.Module)
	assert.Equal(t, "fault_test.go", err.File)
	assert.Positive(t, err.Line)
	assert.Contains(t, err.Error(), "deadlock")
	assert.Contains(t, err.Location(), "fault_test.go")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk on fire")
	err := Wrap(KindUnexpected, "buffer", cause, "flush of page %d failed", 7)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestIsKind(t *testing.T) {
	err := New(KindLockTimeout, "lock", "timed out")
	assert.True(t, IsKind(err, KindLockTimeout))
	assert.False(t, IsKind(err, KindDeadLock))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsKind(wrapped, KindLockTimeout), "kind matches through wrapping")

	assert.False(t, IsKind(errors.New("plain"), KindLockTimeout))
	assert.False(t, IsKind(nil, KindLockTimeout))
}

func TestIsUserLevel(t *testing.T) {
	assert.True(t, IsUserLevel(New(KindUserLevel, "btree", "duplicate key")))
	assert.False(t, IsUserLevel(New(KindUnexpected, "btree", "broken page")))
}

func TestKindStrings(t *testing.T) {
	kinds := []Kind{
		KindMemoryExhaust, KindNotLocked, KindStillLocked, KindDeadLock,
		KindLockTimeout, KindIntegerOverflow, KindBadArgument,
		KindUnavailable, KindCanceled, KindNotFound, KindUnexpected,
		KindUserLevel,
	}
	seen := make(map[string]bool)
	for _, k := range kinds {
		s := k.String()
		require.NotEqual(t, "unknown", s)
		assert.False(t, seen[s], "kind string %q duplicated", s)
		seen[s] = true
	}
}
