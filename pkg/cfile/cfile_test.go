package cfile

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/quarry/pkg/events"
	"github.com/cuemby/quarry/pkg/fault"
)

// fakeFile records lifecycle calls and can be told to fail a given
// operation.
type fakeFile struct {
	mounted     bool
	opened      bool
	created     bool
	inBackup    bool
	failMount   error
	failUnmount error
	calls       []string
}

func (f *fakeFile) Create() error {
	f.calls = append(f.calls, "create")
	f.created = true
	return nil
}
func (f *fakeFile) Destroy() error {
	f.calls = append(f.calls, "destroy")
	f.created = false
	return nil
}
func (f *fakeFile) Mount() error {
	f.calls = append(f.calls, "mount")
	if f.failMount != nil {
		return f.failMount
	}
	f.mounted = true
	return nil
}
func (f *fakeFile) Unmount() error {
	f.calls = append(f.calls, "unmount")
	if f.failUnmount != nil {
		return f.failUnmount
	}
	f.mounted = false
	return nil
}
func (f *fakeFile) Open() error { f.opened = true; return nil }
func (f *fakeFile) Close() error { f.opened = false; return nil }
func (f *fakeFile) StartBackup() error {
	f.inBackup = true
	return nil
}
func (f *fakeFile) EndBackup() error {
	f.inBackup = false
	return nil
}
func (f *fakeFile) Recover(point uint64) error { return nil }
func (f *fakeFile) Restore(point uint64) error { return nil }
func (f *fakeFile) Flush() error { return nil }
func (f *fakeFile) Sync() error { return nil }
func (f *fakeFile) Verify() error { return nil }
func (f *fakeFile) Size() int64 { return 0 }
func (f *fakeFile) IsAccessible() bool { return f.created }
func (f *fakeFile) IsMounted() bool { return f.mounted }

// TestMountRollback is the composite atomicity scenario: with three
// sub-files and the second refusing to mount, sub-files 0 and 1 must be
// unmounted again and the caller must observe the original error.
func TestMountRollback(t *testing.T) {
	boom := errors.New("mount refused")
	subs := []*fakeFile{
		{created: true},
		{created: true, failMount: boom},
		{created: true},
	}
	c := NewComposite(t.TempDir(), subs[0], subs[1], subs[2])

	err := c.Mount()
	require.Error(t, err)
	assert.Equal(t, boom, err, "caller sees the original error, not the rollback error")

	assert.False(t, subs[0].mounted, "sub-file 0 unmounted again")
	assert.False(t, subs[1].mounted)
	assert.False(t, subs[2].mounted, "sub-file 2 never mounted")
	assert.True(t, c.IsAvailable())
}

func TestMountRollbackFailureMarksUnavailable(t *testing.T) {
	boom := errors.New("mount refused")
	rollbackBoom := errors.New("unmount also broken")
	subs := []*fakeFile{
		{created: true, failUnmount: rollbackBoom},
		{created: true, failMount: boom},
	}
	c := NewComposite(t.TempDir(), subs[0], subs[1])

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	c.SetBroker(broker)

	err := c.Mount()
	assert.Equal(t, boom, err, "outer error re-raised, not the rollback error")
	assert.False(t, c.IsAvailable(), "failed undo marks the composite unavailable")

	err = c.Mount()
	assert.True(t, fault.IsKind(err, fault.KindUnavailable), "unavailable composite refuses operations")

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventFileUnavailable, ev.Type)
		assert.Equal(t, c.Path(), ev.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("unavailable event never published")
	}
}

func TestRecoverPublishesEvents(t *testing.T) {
	subs := []*fakeFile{{created: true}, {created: true}}
	c := NewComposite(t.TempDir(), subs[0], subs[1])

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	c.SetBroker(broker)

	require.NoError(t, c.Recover(1))

	var got []events.EventType
	for len(got) < 2 {
		select {
		case ev := <-sub:
			got = append(got, ev.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("recovery events never published")
		}
	}
	assert.Equal(t, []events.EventType{events.EventRecoveryStarted, events.EventRecoveryCompleted}, got)
}

func TestMountAllSucceeds(t *testing.T) {
	subs := []*fakeFile{{created: true}, {created: true}, {created: true}}
	c := NewComposite(t.TempDir(), subs[0], subs[1], subs[2])

	require.NoError(t, c.Mount())
	for i, s := range subs {
		assert.True(t, s.mounted, "sub-file %d mounted", i)
	}
	assert.True(t, c.IsMounted())

	require.NoError(t, c.Unmount())
	assert.False(t, c.IsMounted())
}

func TestMountNothingAccessibleIsNoop(t *testing.T) {
	subs := []*fakeFile{{}, {}}
	c := NewComposite(t.TempDir(), subs[0], subs[1])

	require.NoError(t, c.Mount(), "mount with no accessible content is a no-op")
	assert.False(t, subs[0].mounted)
	assert.False(t, subs[1].mounted)
}

func TestBackupBrackets(t *testing.T) {
	subs := []*fakeFile{{created: true}, {created: true}}
	c := NewComposite(t.TempDir(), subs[0], subs[1])

	require.NoError(t, c.StartBackup())
	assert.True(t, subs[0].inBackup)
	assert.True(t, subs[1].inBackup)

	require.NoError(t, c.EndBackup())
	assert.False(t, subs[0].inBackup)
	assert.False(t, subs[1].inBackup)
}

func TestSizeSumsSubFiles(t *testing.T) {
	c := NewComposite(t.TempDir(), &fakeFile{}, &fakeFile{})
	assert.Equal(t, int64(0), c.Size())
}
