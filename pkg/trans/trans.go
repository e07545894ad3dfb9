package trans

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/quarry/pkg/events"
	"github.com/cuemby/quarry/pkg/fault"
	"github.com/cuemby/quarry/pkg/lock"
	"github.com/cuemby/quarry/pkg/log"
	"github.com/cuemby/quarry/pkg/metrics"
)

const moduleName = "trans"

// Category tells whether a transaction may update.
type Category int

const (
	CategoryReadOnly Category = iota
	CategoryReadWrite
)

// Isolation level of a transaction.
type Isolation int

const (
	IsolationReadUncommitted Isolation = iota
	IsolationReadCommitted
	IsolationSerializable
)

// Persister is anything that must be written through when the owning
// transaction commits; sequences register themselves here.
type Persister interface {
	Persist() error
}

// Manager creates transactions and owns the commit-version counter that
// backs snapshot reads.
type Manager struct {
	lockMgr *lock.Manager
	tracker *lock.PageTracker

	nextID  atomic.Uint64
	version atomic.Uint64

	mu     sync.Mutex
	active map[uint64]*Transaction

	broker *events.Broker
	logger zerolog.Logger
}

// NewManager creates a transaction manager bound to a lock manager.
func NewManager(lockMgr *lock.Manager) *Manager {
	return &Manager{
		lockMgr: lockMgr,
		tracker: lock.NewPageTracker(),
		active:  make(map[uint64]*Transaction),
		logger:  log.WithComponent("trans"),
	}
}

// Tracker returns the no-version page tracker shared by index drivers.
func (m *Manager) Tracker() *lock.PageTracker { return m.tracker }

// SetBroker routes transaction lifecycle notifications through an event
// broker.
func (m *Manager) SetBroker(b *events.Broker) {
	m.mu.Lock()
	m.broker = b
	m.mu.Unlock()
}

func (m *Manager) publish(t events.EventType, tx *Transaction) {
	m.mu.Lock()
	b := m.broker
	m.mu.Unlock()
	if b == nil {
		return
	}
	b.Publish(&events.Event{
		ID:   tx.trace.String(),
		Type: t,
		Metadata: map[string]string{
			"transaction_id": strconv.FormatUint(tx.id, 10),
		},
	})
}

// Version returns the current commit version.
func (m *Manager) Version() uint64 { return m.version.Load() }

// Begin starts a transaction. Read-only transactions capture the current
// commit version as their snapshot; updaters always see latest.
func (m *Manager) Begin(category Category, isolation Isolation) *Transaction {
	t := &Transaction{
		id:        m.nextID.Add(1),
		trace:     uuid.New(),
		category:  category,
		isolation: isolation,
		snapshot:  m.version.Load(),
		manager:   m,
		locks:     m.lockMgr.NewClient(),
	}
	m.mu.Lock()
	m.active[t.id] = t
	m.mu.Unlock()
	metrics.TransactionsBegun.Inc()
	return t
}

func (m *Manager) finish(t *Transaction) {
	m.mu.Lock()
	delete(m.active, t.id)
	m.mu.Unlock()
}

// Transaction is one unit of work. All blocking operations it performs go
// through its lock client; commit releases every Transaction-duration lock
// and persists registered sequences.
type Transaction struct {
	id        uint64
	trace     uuid.UUID
	category  Category
	isolation Isolation
	snapshot  uint64

	manager *Manager
	locks   *lock.Client

	canceled atomic.Bool

	mu         sync.Mutex
	done       bool
	persisters []Persister
}

// ID returns the transaction id.
func (t *Transaction) ID() uint64 { return t.id }

// Trace returns the transaction's trace identifier for logging.
func (t *Transaction) Trace() uuid.UUID { return t.trace }

// Category returns the transaction category.
func (t *Transaction) Category() Category { return t.category }

// Snapshot returns the commit version this transaction reads at.
func (t *Transaction) Snapshot() uint64 { return t.snapshot }

// Locks returns the transaction's lock client.
func (t *Transaction) Locks() *lock.Client { return t.locks }

// IsUpdate reports whether the transaction may write.
func (t *Transaction) IsUpdate() bool { return t.category == CategoryReadWrite }

// IsNoVersion reports whether reads bypass snapshot versions entirely.
// True in read-uncommitted transactions; index drivers then consult the
// page tracker before trusting a page image.
func (t *Transaction) IsNoVersion() bool {
	return t.isolation == IsolationReadUncommitted
}

// Cancel requests cancellation. Running executor actions observe the flag
// between rows and unwind; there are no forced interrupts.
func (t *Transaction) Cancel() {
	t.canceled.Store(true)
}

// Canceled reports whether Cancel was called.
func (t *Transaction) Canceled() bool {
	return t.canceled.Load()
}

// RegisterPersister adds a participant to be persisted at commit.
func (t *Transaction) RegisterPersister(p Persister) {
	t.mu.Lock()
	t.persisters = append(t.persisters, p)
	t.mu.Unlock()
}

// Commit persists registered participants, bumps the commit version for
// updaters and releases all transaction locks.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return fault.New(fault.KindUnexpected, moduleName, "commit of a finished transaction")
	}
	t.done = true
	persisters := t.persisters
	t.persisters = nil
	t.mu.Unlock()

	for _, p := range persisters {
		if err := p.Persist(); err != nil {
			// The transaction still releases its locks; the caller sees
			// the persist failure and must treat the transaction as
			// aborted.
			t.release()
			metrics.TransactionsAborted.Inc()
			t.manager.publish(events.EventTransactionAborted, t)
			return err
		}
	}
	if t.category == CategoryReadWrite {
		t.manager.version.Add(1)
	}
	t.release()
	metrics.TransactionsCommitted.Inc()
	t.manager.publish(events.EventTransactionCommitted, t)
	return nil
}

// Abort discards the transaction, releasing all locks. Sequence values
// already handed out are not reclaimed; gaps are allowed on rollback.
func (t *Transaction) Abort() {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	t.persisters = nil
	t.mu.Unlock()

	t.release()
	metrics.TransactionsAborted.Inc()
	t.manager.publish(events.EventTransactionAborted, t)
}

func (t *Transaction) release() {
	t.manager.tracker.UntrackAll(t.locks)
	t.locks.ReleaseAll()
	t.manager.finish(t)
}
