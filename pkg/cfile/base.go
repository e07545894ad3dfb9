package cfile

import (
	"github.com/cuemby/quarry/pkg/buffer"
	"github.com/cuemby/quarry/pkg/vfile"
)

// Base adapts a physical page file to the logical File contract so it can
// be a sub-file of a Composite. Flush writes dirty pages of the file out
// of the buffer pool; backup brackets force a sync and hold the file
// read-consistent by relying on page latching.
type Base struct {
	f    *vfile.File
	pool *buffer.Pool

	inBackup bool
}

// NewBase wraps a physical file.
func NewBase(f *vfile.File, pool *buffer.Pool) *Base {
	return &Base{f: f, pool: pool}
}

// Physical returns the wrapped physical file.
func (b *Base) Physical() *vfile.File { return b.f }

func (b *Base) Create() error { return b.f.Create() }
func (b *Base) Mount() error { return b.f.Mount() }
func (b *Base) Unmount() error { return b.f.Unmount() }
func (b *Base) Open() error { return b.f.Open() }
func (b *Base) Close() error { return b.f.Close() }
func (b *Base) Sync() error { return b.f.Sync() }
func (b *Base) Verify() error { return b.f.Verify() }

func (b *Base) Destroy() error {
	if b.pool != nil {
		b.pool.Discard(b.f)
	}
	return b.f.Destroy()
}

func (b *Base) Flush() error {
	if b.pool != nil {
		if _, err := b.pool.FlushAll(b.f); err != nil {
			return err
		}
	}
	return b.f.Sync()
}

func (b *Base) StartBackup() error {
	if err := b.Flush(); err != nil {
		return err
	}
	b.inBackup = true
	return nil
}

func (b *Base) EndBackup() error {
	b.inBackup = false
	return nil
}

// Recover discards cached pages and re-verifies the on-disk image. Page
// images newer than the recovery point live only in the buffer pool, so
// dropping them restores the persisted state.
func (b *Base) Recover(point uint64) error {
	if !b.f.IsAccessible() {
		return nil
	}
	if b.pool != nil {
		b.pool.Discard(b.f)
	}
	return b.f.Verify()
}

// Restore is a no-op for single-version physical files.
func (b *Base) Restore(point uint64) error { return nil }

func (b *Base) Size() int64 { return b.f.Size() }
func (b *Base) IsAccessible() bool { return b.f.IsAccessible() }
func (b *Base) IsMounted() bool { return b.f.IsMounted() }
