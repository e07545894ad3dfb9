package buffer

import (
	"container/list"

	"github.com/rs/zerolog"

	"github.com/cuemby/quarry/pkg/events"
	"github.com/cuemby/quarry/pkg/fault"
	"github.com/cuemby/quarry/pkg/log"
	"github.com/cuemby/quarry/pkg/metrics"
	"github.com/cuemby/quarry/pkg/syncutil"
	"github.com/cuemby/quarry/pkg/vfile"
)

const moduleName = "buffer"

// Pool caches pages of one or more physical files. The pool lock protects
// membership (the page table, reference counts, LRU lists and the buffer
// budget); per-page latches protect contents. Buffers are budgeted: each
// cached body and each live scratch buffer consumes one slot, and when the
// budget is exhausted Fix fails with MemoryExhaust after eviction has been
// tried.
type Pool struct {
	mu syncutil.Mutex

	capacity int
	inUse    int

	pages map[pageKey]*page
	// lru keeps one recency list per replacement priority; eviction scans
	// Low first, High last.
	lru [3]*list.List

	flusher *flusher
	broker  *events.Broker
	logger  zerolog.Logger
}

// NewPool creates a pool with the given buffer budget and starts its
// background flusher.
func NewPool(capacity int) *Pool {
	p := &Pool{
		capacity: capacity,
		pages:    make(map[pageKey]*page),
		logger:   log.WithComponent("buffer"),
	}
	for i := range p.lru {
		p.lru[i] = list.New()
	}
	p.flusher = newFlusher(p)
	p.flusher.start()
	return p
}

// Close stops the flusher after draining pending work.
func (p *Pool) Close() {
	p.flusher.stop()
}

// SetBroker routes flush-failure notifications through an event broker.
func (p *Pool) SetBroker(b *events.Broker) {
	p.mu.Lock(1)
	p.broker = b
	p.mu.Unlock(1)
}

// Fix pins a page and returns its guard. The category must name exactly
// one of ReadOnly, Write or Allocate. Allocate skips the disk read and
// starts from a zeroed body.
func (p *Pool) Fix(file *vfile.File, id vfile.PageID, category Category) (*Memory, error) {
	base := category & (ReadOnly | Write | Allocate)
	if base != ReadOnly && base != Write && base != Allocate {
		return nil, fault.New(fault.KindBadArgument, moduleName, "fix category must name exactly one access mode")
	}

	p.mu.Lock(1)
	pg, ok := p.pages[pageKey{file, id}]
	if !ok {
		if err := p.ensureRoomLocked(); err != nil {
			p.mu.Unlock(1)
			metrics.BufferMemoryExhaust.Inc()
			return nil, err
		}
		pg = &page{
			key:      pageKey{file, id},
			body:     make([]byte, file.BodySize()),
			priority: PriorityMiddle,
		}
		pg.latch.init()
		p.pages[pg.key] = pg
		pg.lruElem = p.lru[pg.priority].PushBack(pg)
		p.inUse++

		if base != Allocate {
			// The read happens under the pool lock so no other fixer can
			// observe a half-loaded body. Read errors surface
			// synchronously.
			if err := file.ReadPage(id, pg.body); err != nil {
				p.dropLocked(pg)
				p.mu.Unlock(1)
				return nil, err
			}
		}
		metrics.BufferMisses.Inc()
	} else {
		if pg.failed != nil {
			// A failed asynchronous flush surfaces on the next fix.
			err := pg.failed
			pg.failed = nil
			p.mu.Unlock(1)
			return nil, err
		}
		p.touchLRULocked(pg)
		metrics.BufferHits.Inc()
	}

	pg.refCount++
	if category.isDiscardable() {
		pg.discardableFixes++
	}
	if category&Deterrentable != 0 {
		pg.deterrent++
	}
	p.mu.Unlock(1)

	if category&NoLock == 0 {
		if category.isWritable() {
			pg.latch.lockWrite()
		} else {
			pg.latch.lockRead()
		}
	}

	metrics.BufferFixes.Inc()
	return &Memory{category: category, owner: true, page: pg, pool: p}, nil
}

// refix hands out another guard on the same page in the same mode.
// Allocate downgrades to Write. The new guard shares the original's latch
// hold, so it never blocks.
func (p *Pool) refix(m *Memory) (*Memory, error) {
	category := m.category
	if category&Allocate != 0 {
		category = (category &^ Allocate) | Write
	}

	p.mu.Lock(1)
	pg := m.page
	pg.refCount++
	if category.isDiscardable() {
		pg.discardableFixes++
	}
	if category&Deterrentable != 0 {
		pg.deterrent++
	}
	p.mu.Unlock(1)

	if category&NoLock == 0 {
		if category.isWritable() {
			pg.latch.shareWrite()
		} else {
			pg.latch.lockRead()
		}
	}
	return &Memory{category: category, owner: true, page: pg, pool: p}, nil
}

// unfix releases one pin, settling scratch promotion or discard, and
// schedules or performs the flush of a dirty page.
func (p *Pool) unfix(m *Memory, dirty bool, async bool) error {
	pg := m.page

	p.mu.Lock(1)
	if m.category.isDiscardable() {
		pg.discardableFixes--
		if dirty {
			if pg.scratch != nil {
				pg.body, pg.scratch = pg.scratch, nil
				p.inUse--
			}
		} else if pg.discardableFixes == 0 && pg.scratch != nil {
			pg.scratch = nil
			p.inUse--
		}
	}
	if dirty && m.IsUpdatable() {
		pg.dirty = true
		pg.stamp++
	}
	pg.refCount--

	// A deterrentable guard's own flush may be skipped; the page stays
	// dirty for eviction or an explicit FlushAll.
	flushNow := pg.dirty && !async && pg.deterrent == 0
	scheduleFlush := pg.dirty && async && pg.deterrent == 0
	if m.category&Deterrentable != 0 {
		pg.deterrent--
	}
	var body []byte
	var stamp uint64
	if flushNow {
		body = append([]byte(nil), pg.body...)
		stamp = pg.stamp
	}
	p.mu.Unlock(1)

	if m.category&NoLock == 0 {
		if m.category.isWritable() {
			pg.latch.unlockWrite()
		} else {
			pg.latch.unlockRead()
		}
	}

	if flushNow {
		if err := pg.key.file.WritePage(pg.key.id, body); err != nil {
			return err
		}
		p.mu.Lock(1)
		if pg.stamp == stamp {
			pg.dirty = false
		}
		p.mu.Unlock(1)
		metrics.BufferFlushes.Inc()
		return nil
	}
	if scheduleFlush {
		p.flusher.schedule(pg)
	}
	return nil
}

// allocateScratch gives a discardable page its copy-on-write buffer. When
// the buffer budget is exhausted it raids reclaimable buffers by evicting
// unpinned pages; MemoryExhaust is raised only after that recovery fails.
func (p *Pool) allocateScratch(pg *page) error {
	p.mu.Lock(1)
	defer p.mu.Unlock(1)

	if pg.scratch != nil {
		return nil
	}
	if p.inUse >= p.capacity {
		if err := p.evictLocked(); err != nil {
			metrics.BufferMemoryExhaust.Inc()
			return err
		}
	}
	pg.scratch = append([]byte(nil), pg.body...)
	p.inUse++
	return nil
}

// SetPriority changes a page's replacement priority.
func (p *Pool) SetPriority(file *vfile.File, id vfile.PageID, prio Priority) {
	p.mu.Lock(1)
	defer p.mu.Unlock(1)
	pg, ok := p.pages[pageKey{file, id}]
	if !ok || pg.priority == prio {
		return
	}
	p.lru[pg.priority].Remove(pg.lruElem)
	pg.priority = prio
	pg.lruElem = p.lru[prio].PushBack(pg)
}

// FlushAll writes every dirty page of the given file (all files when file
// is nil) and returns how many pages were written. Calling it twice
// without intervening writes flushes nothing the second time.
func (p *Pool) FlushAll(file *vfile.File) (int, error) {
	type work struct {
		pg    *page
		body  []byte
		stamp uint64
	}
	var pending []work

	p.mu.Lock(1)
	for _, pg := range p.pages {
		if file != nil && pg.key.file != file {
			continue
		}
		if pg.dirty {
			pending = append(pending, work{pg, append([]byte(nil), pg.body...), pg.stamp})
		}
	}
	p.mu.Unlock(1)

	for _, w := range pending {
		if err := w.pg.key.file.WritePage(w.pg.key.id, w.body); err != nil {
			return 0, err
		}
		p.mu.Lock(1)
		if w.pg.stamp == w.stamp {
			w.pg.dirty = false
		}
		p.mu.Unlock(1)
		metrics.BufferFlushes.Inc()
	}
	return len(pending), nil
}

// Discard drops every cached page of the file without flushing. Used when
// a file is destroyed.
func (p *Pool) Discard(file *vfile.File) {
	p.mu.Lock(1)
	defer p.mu.Unlock(1)
	for key, pg := range p.pages {
		if key.file == file && pg.refCount == 0 {
			p.dropLocked(pg)
		}
	}
}

func (p *Pool) ensureRoomLocked() error {
	if p.inUse < p.capacity {
		return nil
	}
	return p.evictLocked()
}

// evictLocked reclaims one unpinned page, preferring low replacement
// priority and least recent use. Dirty victims are written through before
// being dropped.
func (p *Pool) evictLocked() error {
	for prio := PriorityLow; prio <= PriorityHigh; prio++ {
		for e := p.lru[prio].Front(); e != nil; e = e.Next() {
			pg := e.Value.(*page)
			if pg.refCount != 0 {
				continue
			}
			if pg.dirty {
				if err := pg.key.file.WritePage(pg.key.id, pg.body); err != nil {
					pg.failed = err
					continue
				}
				pg.dirty = false
				metrics.BufferFlushes.Inc()
			}
			p.dropLocked(pg)
			metrics.BufferEvictions.Inc()
			return nil
		}
	}
	return fault.New(fault.KindMemoryExhaust, moduleName, "buffer pool exhausted (%d buffers)", p.capacity)
}

func (p *Pool) dropLocked(pg *page) {
	delete(p.pages, pg.key)
	if pg.lruElem != nil {
		p.lru[pg.priority].Remove(pg.lruElem)
		pg.lruElem = nil
	}
	p.inUse--
	if pg.scratch != nil {
		pg.scratch = nil
		p.inUse--
	}
}

func (p *Pool) touchLRULocked(pg *page) {
	p.lru[pg.priority].MoveToBack(pg.lruElem)
}
