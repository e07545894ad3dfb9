package backup

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/quarry/pkg/cfile"
	"github.com/cuemby/quarry/pkg/events"
	"github.com/cuemby/quarry/pkg/log"
)

var bucketSnapshots = []byte("snapshots")

// Snapshot records one backup in progress or completed.
type Snapshot struct {
	ID        string    `json:"id"`
	Database  string    `json:"database"`
	Point     uint64    `json:"point"`
	StartedAt time.Time `json:"started_at"`
	Completed bool      `json:"completed"`
}

// Registry coordinates backups: it brackets every file of a database
// with StartBackup/EndBackup and records the snapshot durably, so an
// interrupted backup is visible at recovery.
type Registry struct {
	db *bolt.DB

	mu     sync.Mutex
	active map[string][]*cfile.Composite

	broker *events.Broker
	logger zerolog.Logger
}

// NewRegistry opens the backup registry under dataDir.
func NewRegistry(dataDir string) (*Registry, error) {
	dbPath := filepath.Join(dataDir, "backup.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup registry: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSnapshots)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Registry{
		db:     db,
		active: make(map[string][]*cfile.Composite),
		logger: log.WithComponent("backup"),
	}, nil
}

// Close closes the registry.
func (r *Registry) Close() error { return r.db.Close() }

// SetBroker routes backup notifications through an event broker.
func (r *Registry) SetBroker(b *events.Broker) { r.broker = b }

func (r *Registry) publish(t events.EventType, snap *Snapshot) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(&events.Event{
		ID:   snap.ID,
		Type: t,
		Metadata: map[string]string{
			"database": snap.Database,
		},
	})
}

// Start begins a backup of the given files at the given recovery point.
// Files already bracketed are rolled back if a later one refuses.
func (r *Registry) Start(database string, point uint64, files ...*cfile.Composite) (*Snapshot, error) {
	snap := &Snapshot{
		ID:        uuid.New().String(),
		Database:  database,
		Point:     point,
		StartedAt: time.Now().UTC(),
	}

	started := make([]*cfile.Composite, 0, len(files))
	for _, f := range files {
		if err := f.StartBackup(); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				if uerr := started[i].EndBackup(); uerr != nil {
					r.logger.Error().Err(uerr).Str("path", started[i].Path()).Msg("Backup rollback failed")
				}
			}
			return nil, err
		}
		started = append(started, f)
	}

	if err := r.put(snap); err != nil {
		for i := len(started) - 1; i >= 0; i-- {
			started[i].EndBackup()
		}
		return nil, err
	}

	r.mu.Lock()
	r.active[snap.ID] = started
	r.mu.Unlock()

	r.logger.Info().Str("snapshot", snap.ID).Str("database", database).Msg("Backup started")
	r.publish(events.EventBackupStarted, snap)
	return snap, nil
}

// End completes a backup, releasing every bracketed file.
func (r *Registry) End(id string) error {
	r.mu.Lock()
	files, ok := r.active[id]
	delete(r.active, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("snapshot not found: %s", id)
	}

	var firstErr error
	for _, f := range files {
		if err := f.EndBackup(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}

	snap, err := r.get(id)
	if err != nil {
		return err
	}
	snap.Completed = true
	if err := r.put(snap); err != nil {
		return err
	}
	r.logger.Info().Str("snapshot", id).Msg("Backup completed")
	r.publish(events.EventBackupCompleted, snap)
	return nil
}

// Interrupted lists snapshots that were started but never completed;
// recovery consults this after a crash.
func (r *Registry) Interrupted() ([]*Snapshot, error) {
	var snaps []*Snapshot
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		return b.ForEach(func(k, v []byte) error {
			var s Snapshot
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			if !s.Completed {
				snaps = append(snaps, &s)
			}
			return nil
		})
	})
	return snaps, err
}

// Forget removes a snapshot record.
func (r *Registry) Forget(id string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete([]byte(id))
	})
}

func (r *Registry) put(s *Snapshot) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSnapshots).Put([]byte(s.ID), data)
	})
}

func (r *Registry) get(id string) (*Snapshot, error) {
	var s Snapshot
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnapshots).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("snapshot not found: %s", id)
		}
		return json.Unmarshal(data, &s)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}
