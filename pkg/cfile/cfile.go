package cfile

import (
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/quarry/pkg/events"
	"github.com/cuemby/quarry/pkg/fault"
	"github.com/cuemby/quarry/pkg/log"
)

const moduleName = "cfile"

// File is the logical-file contract shared by index driver files. All
// lifecycle methods are idempotent with respect to state transitions and
// safe to invoke under an active transaction.
type File interface {
	Create() error
	Destroy() error
	Mount() error
	Unmount() error
	Open() error
	Close() error
	StartBackup() error
	EndBackup() error
	// Recover rolls the file back to the given point.
	Recover(point uint64) error
	// Restore makes the version a read-only transaction started at the
	// given point the most recent one.
	Restore(point uint64) error
	Flush() error
	Sync() error
	Verify() error

	Size() int64
	IsAccessible() bool
	IsMounted() bool
}

// Composite presents several sub-files as one logical file. Every
// lifecycle operation applies to all sub-files in order; when step k
// fails, steps 0..k-1 are undone in reverse order so the whole operation
// is atomic. If the undo itself fails the composite is marked unavailable
// and the original error is re-raised, never the rollback error.
type Composite struct {
	mu   sync.Mutex
	path string
	subs []File

	unavailable bool
	broker      *events.Broker
	logger      zerolog.Logger
}

// NewComposite creates a composite over the given sub-files rooted at
// path. Sub-file order is significant: operations apply in slice order
// and undo in reverse.
func NewComposite(path string, subs ...File) *Composite {
	return &Composite{path: path, subs: subs, logger: log.WithComponent("cfile")}
}

// Path returns the composite's root directory.
func (c *Composite) Path() string { return c.path }

// SetBroker routes availability and recovery notifications through an
// event broker.
func (c *Composite) SetBroker(b *events.Broker) {
	c.mu.Lock()
	c.broker = b
	c.mu.Unlock()
}

// publish emits an event when a broker is attached. Caller holds the
// composite lock.
func (c *Composite) publish(t events.EventType) {
	if c.broker != nil {
		c.broker.Publish(&events.Event{Type: t, Message: c.path})
	}
}

// markUnavailable records a failed rollback. Caller holds the composite
// lock.
func (c *Composite) markUnavailable() {
	c.unavailable = true
	c.publish(events.EventFileUnavailable)
}

// IsAvailable reports whether the composite is usable. A composite
// becomes unavailable when a rollback fails during recovery.
func (c *Composite) IsAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.unavailable
}

func (c *Composite) checkAvailable() error {
	if c.unavailable {
		return fault.New(fault.KindUnavailable, moduleName, "composite file %s is unavailable", c.path)
	}
	return nil
}

// forward runs op over all sub-files, undoing completed steps in reverse
// order on failure.
func (c *Composite) forward(op func(File) error, undo func(File) error) error {
	for k := range c.subs {
		if err := op(c.subs[k]); err != nil {
			if undo != nil {
				for i := k - 1; i >= 0; i-- {
					if uerr := undo(c.subs[i]); uerr != nil {
						c.logger.Error().Err(uerr).Str("path", c.path).Msg("Recovery failed")
						c.markUnavailable()
						break
					}
				}
			}
			return err
		}
	}
	return nil
}

// Create creates all sub-files. On failure the created ones are destroyed
// and the then-empty directory is removed.
func (c *Composite) Create() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAvailable(); err != nil {
		return err
	}
	err := c.forward(File.Create, File.Destroy)
	if err != nil {
		// Sub-file creation makes directories as needed; destruction does
		// not remove them.
		os.Remove(c.path)
	}
	return err
}

// Destroy destroys every sub-file regardless of mount state, then removes
// the directory.
func (c *Composite) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.subs {
		if err := s.Destroy(); err != nil {
			c.logger.Error().Err(err).Str("path", c.path).Msg("Recovery failed")
			c.markUnavailable()
			return err
		}
	}
	os.Remove(c.path)
	return nil
}

// Mount mounts all sub-files; a failure unmounts the ones already
// mounted. Mounting when nothing is accessible is a no-op.
func (c *Composite) Mount() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAvailable(); err != nil {
		return err
	}
	if !c.isAccessibleLocked() {
		return nil
	}
	return c.forward(File.Mount, File.Unmount)
}

// Unmount unmounts all sub-files; a failure re-mounts the ones already
// unmounted.
func (c *Composite) Unmount() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAvailable(); err != nil {
		return err
	}
	return c.forward(File.Unmount, File.Mount)
}

// Open opens all sub-files; a failure closes the ones already open.
func (c *Composite) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAvailable(); err != nil {
		return err
	}
	return c.forward(File.Open, File.Close)
}

// Close closes all sub-files.
func (c *Composite) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forward(File.Close, nil)
}

// StartBackup begins a backup on all sub-files; a failure ends the backup
// on the ones already started.
func (c *Composite) StartBackup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAvailable(); err != nil {
		return err
	}
	return c.forward(File.StartBackup, File.EndBackup)
}

// EndBackup ends the backup on all sub-files. Completed steps are not
// undone; a failure marks the composite unavailable.
func (c *Composite) EndBackup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.subs {
		if err := s.EndBackup(); err != nil {
			c.logger.Error().Err(err).Str("path", c.path).Msg("Recovery failed")
			c.markUnavailable()
			return err
		}
	}
	return nil
}

// Recover rolls every sub-file back to the given point. When the result
// leaves nothing accessible, an empty on-disk directory is removed.
func (c *Composite) Recover(point uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAvailable(); err != nil {
		return err
	}
	c.publish(events.EventRecoveryStarted)
	if err := c.forward(func(f File) error { return f.Recover(point) }, nil); err != nil {
		return err
	}
	if !c.isAccessibleLocked() {
		os.Remove(c.path)
	}
	c.publish(events.EventRecoveryCompleted)
	return nil
}

// Restore applies Restore to every sub-file.
func (c *Composite) Restore(point uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAvailable(); err != nil {
		return err
	}
	return c.forward(func(f File) error { return f.Restore(point) }, nil)
}

// Flush flushes every sub-file.
func (c *Composite) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forward(File.Flush, nil)
}

// Sync syncs every sub-file.
func (c *Composite) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forward(File.Sync, nil)
}

// Verify verifies every sub-file.
func (c *Composite) Verify() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAvailable(); err != nil {
		return err
	}
	return c.forward(File.Verify, nil)
}

// Size sums the sub-file sizes.
func (c *Composite) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var size int64
	for _, s := range c.subs {
		size += s.Size()
	}
	return size
}

// IsAccessible reports whether any sub-file exists on disk.
func (c *Composite) IsAccessible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isAccessibleLocked()
}

func (c *Composite) isAccessibleLocked() bool {
	for _, s := range c.subs {
		if s.IsAccessible() {
			return true
		}
	}
	return false
}

// IsMounted reports whether every sub-file is mounted.
func (c *Composite) IsMounted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.subs {
		if !s.IsMounted() {
			return false
		}
	}
	return len(c.subs) > 0
}
