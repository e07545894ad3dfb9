package trans

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/quarry/pkg/events"
	"github.com/cuemby/quarry/pkg/lock"
)

func newManager() *Manager {
	return NewManager(lock.NewManager())
}

func TestBeginAssignsDistinctIDs(t *testing.T) {
	m := newManager()
	a := m.Begin(CategoryReadWrite, IsolationReadCommitted)
	b := m.Begin(CategoryReadOnly, IsolationReadCommitted)
	defer a.Abort()
	defer b.Abort()

	assert.NotEqual(t, a.ID(), b.ID())
	assert.NotEqual(t, a.Trace(), b.Trace())
}

func TestCommitBumpsVersionForUpdaters(t *testing.T) {
	m := newManager()

	before := m.Version()
	tx := m.Begin(CategoryReadWrite, IsolationReadCommitted)
	require.NoError(t, tx.Commit())
	assert.Equal(t, before+1, m.Version())

	ro := m.Begin(CategoryReadOnly, IsolationReadCommitted)
	require.NoError(t, ro.Commit())
	assert.Equal(t, before+1, m.Version(), "read-only commit leaves the version alone")
}

func TestSnapshotCapturedAtBegin(t *testing.T) {
	m := newManager()

	reader := m.Begin(CategoryReadOnly, IsolationReadCommitted)
	defer reader.Abort()
	snapshot := reader.Snapshot()

	writer := m.Begin(CategoryReadWrite, IsolationReadCommitted)
	require.NoError(t, writer.Commit())

	assert.Equal(t, snapshot, reader.Snapshot(), "snapshot does not move under the reader")
	assert.Less(t, snapshot, m.Version())
}

func TestIsNoVersion(t *testing.T) {
	m := newManager()
	ru := m.Begin(CategoryReadOnly, IsolationReadUncommitted)
	rc := m.Begin(CategoryReadOnly, IsolationReadCommitted)
	defer ru.Abort()
	defer rc.Abort()

	assert.True(t, ru.IsNoVersion())
	assert.False(t, rc.IsNoVersion())
}

func TestCancelFlag(t *testing.T) {
	m := newManager()
	tx := m.Begin(CategoryReadOnly, IsolationReadCommitted)
	defer tx.Abort()

	assert.False(t, tx.Canceled())
	tx.Cancel()
	assert.True(t, tx.Canceled())
}

type recordingPersister struct {
	persisted int
	fail      error
}

func (p *recordingPersister) Persist() error {
	p.persisted++
	return p.fail
}

func TestCommitPersistsRegistered(t *testing.T) {
	m := newManager()
	tx := m.Begin(CategoryReadWrite, IsolationReadCommitted)

	p1 := &recordingPersister{}
	p2 := &recordingPersister{}
	tx.RegisterPersister(p1)
	tx.RegisterPersister(p2)

	require.NoError(t, tx.Commit())
	assert.Equal(t, 1, p1.persisted)
	assert.Equal(t, 1, p2.persisted)
}

func TestCommitPersistFailureAborts(t *testing.T) {
	m := newManager()
	tx := m.Begin(CategoryReadWrite, IsolationReadCommitted)

	boom := errors.New("page write failed")
	tx.RegisterPersister(&recordingPersister{fail: boom})

	before := m.Version()
	err := tx.Commit()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, before, m.Version(), "failed commit does not advance the version")
}

func TestAbortSkipsPersisters(t *testing.T) {
	m := newManager()
	tx := m.Begin(CategoryReadWrite, IsolationReadCommitted)

	p := &recordingPersister{}
	tx.RegisterPersister(p)
	tx.Abort()
	assert.Equal(t, 0, p.persisted)
}

func TestCommitReleasesLocks(t *testing.T) {
	lockMgr := lock.NewManager()
	m := NewManager(lockMgr)

	tx := m.Begin(CategoryReadWrite, IsolationReadCommitted)
	name := lock.FileName(1, 1)
	require.NoError(t, tx.Locks().Lock(name, lock.ModeX, lock.DurationTransaction, lock.TimeoutNone))
	require.NoError(t, tx.Commit())

	other := lockMgr.NewClient()
	require.NoError(t, other.Lock(name, lock.ModeX, lock.DurationTransaction, lock.TimeoutNone),
		"commit released the transaction's locks")
}

func TestLifecycleEvents(t *testing.T) {
	m := newManager()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	m.SetBroker(broker)

	committed := m.Begin(CategoryReadWrite, IsolationReadCommitted)
	require.NoError(t, committed.Commit())

	aborted := m.Begin(CategoryReadWrite, IsolationReadCommitted)
	aborted.Abort()

	var got []events.EventType
	for len(got) < 2 {
		select {
		case ev := <-sub:
			got = append(got, ev.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("lifecycle events never published")
		}
	}
	assert.Equal(t, []events.EventType{
		events.EventTransactionCommitted,
		events.EventTransactionAborted,
	}, got)
}

func TestDoubleCommit(t *testing.T) {
	m := newManager()
	tx := m.Begin(CategoryReadWrite, IsolationReadCommitted)
	require.NoError(t, tx.Commit())
	assert.Error(t, tx.Commit())
}
