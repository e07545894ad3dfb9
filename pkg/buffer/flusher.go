package buffer

import (
	"sync"
	"time"

	"github.com/cuemby/quarry/pkg/events"
	"github.com/cuemby/quarry/pkg/metrics"
)

const (
	flushRetries     = 3
	flushBackoffBase = 10 * time.Millisecond
	flushQueueDepth  = 256
)

// flusher writes dirty pages back asynchronously. I/O failures are retried
// with bounded backoff; a page that cannot be written is marked failed and
// the error re-raises on its next fix.
type flusher struct {
	pool  *Pool
	ch    chan *page
	wg    sync.WaitGroup
	stop1 sync.Once
}

func newFlusher(p *Pool) *flusher {
	return &flusher{pool: p, ch: make(chan *page, flushQueueDepth)}
}

func (f *flusher) start() {
	f.wg.Add(1)
	go f.run()
}

func (f *flusher) stop() {
	f.stop1.Do(func() { close(f.ch) })
	f.wg.Wait()
}

func (f *flusher) schedule(pg *page) {
	select {
	case f.ch <- pg:
	default:
		// Queue full; the page stays dirty and will be picked up by
		// eviction or FlushAll.
	}
}

func (f *flusher) run() {
	defer f.wg.Done()
	for pg := range f.ch {
		f.flush(pg)
	}
}

func (f *flusher) flush(pg *page) {
	f.pool.mu.Lock(1)
	if !pg.dirty {
		f.pool.mu.Unlock(1)
		return
	}
	body := append([]byte(nil), pg.body...)
	stamp := pg.stamp
	f.pool.mu.Unlock(1)

	var err error
	backoff := flushBackoffBase
	for attempt := 0; attempt < flushRetries; attempt++ {
		if err = pg.key.file.WritePage(pg.key.id, body); err == nil {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
	}

	f.pool.mu.Lock(1)
	broker := f.pool.broker
	if err != nil {
		pg.failed = err
		metrics.BufferFlushFailures.Inc()
		f.pool.logger.Error().Err(err).
			Uint32("page", uint32(pg.key.id)).
			Str("file", pg.key.file.Path()).
			Msg("Asynchronous flush failed")
	} else {
		if pg.stamp == stamp {
			pg.dirty = false
		}
		metrics.BufferFlushes.Inc()
	}
	f.pool.mu.Unlock(1)

	if err != nil && broker != nil {
		broker.Publish(&events.Event{
			Type:    events.EventFlushFailed,
			Message: err.Error(),
			Metadata: map[string]string{
				"file": pg.key.file.Path(),
			},
		})
	}
}
