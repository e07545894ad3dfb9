package fulltext

import (
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/quarry/pkg/btree"
	"github.com/cuemby/quarry/pkg/buffer"
	"github.com/cuemby/quarry/pkg/cfile"
	"github.com/cuemby/quarry/pkg/events"
	"github.com/cuemby/quarry/pkg/log"
	"github.com/cuemby/quarry/pkg/schema"
	"github.com/cuemby/quarry/pkg/vfile"
)

// IndexFile is the full-text index driver: one logical file made of a
// term dictionary (B-tree mapping term to list id), the posting-list
// file, and the state file. Lifecycle operations go through the
// composite so they apply to all sub-files atomically.
//
// Inserts land in an in-memory buffer per term; the background merger
// folds buffered postings into the list file, bracketed by the info
// file's proceeding mark.
type IndexFile struct {
	composite *cfile.Composite
	dict      *btree.File
	lists     *ListFile
	info      *InfoFile

	mu       sync.Mutex
	pending  map[string][]DocID
	nextList uint32

	stopCh chan struct{}
	doneCh chan struct{}
	broker *events.Broker
	logger zerolog.Logger
}

// dictCmp is the term dictionary layout: term bytes to list id.
func dictCmp() *btree.Compare {
	return btree.NewCompare([]schema.FieldType{schema.FieldString, schema.FieldUint32}, true, false)
}

// NewIndexFile assembles the driver under dir.
func NewIndexFile(dir string, pageSize int, pool *buffer.Pool) *IndexFile {
	dict := btree.NewFile(filepath.Join(dir, "dict.qry"), pageSize, pool, dictCmp(), 1)
	lists := NewListFile(filepath.Join(dir, "lists.qry"), pageSize, pool)
	info := NewInfoFile(filepath.Join(dir, "info.qry"), pageSize, pool)

	f := &IndexFile{
		dict:    dict,
		lists:   lists,
		info:    info,
		pending: make(map[string][]DocID),
		logger:  log.WithComponent("fulltext"),
	}
	f.composite = cfile.NewComposite(dir,
		newSub(dict, dict.Physical(), pool, dict.Verify),
		newSub(lists, lists.Physical(), pool, nil),
		newSub(info, info.Physical(), pool, nil),
	)
	return f
}

// Composite exposes the logical file for lifecycle operations.
func (f *IndexFile) Composite() *cfile.Composite { return f.composite }

// SetBroker routes merge and file-availability notifications through an
// event broker.
func (f *IndexFile) SetBroker(b *events.Broker) {
	f.broker = b
	f.composite.SetBroker(b)
}

func (f *IndexFile) publish(t events.EventType) {
	if f.broker != nil {
		f.broker.Publish(&events.Event{Type: t})
	}
}

// Create creates all sub-files.
func (f *IndexFile) Create() error { return f.composite.Create() }

// Open opens all sub-files and recovers the list-id allocator from the
// dictionary.
func (f *IndexFile) Open() error {
	if err := f.composite.Open(); err != nil {
		return err
	}
	return f.dict.Scan(nil, func(vals []btree.Value) bool {
		if id := uint32(vals[1].Int); id >= f.nextList {
			f.nextList = id + 1
		}
		return true
	})
}

// Close stops the merger and closes all sub-files.
func (f *IndexFile) Close() error {
	f.StopMerger()
	return f.composite.Close()
}

// Destroy removes the index.
func (f *IndexFile) Destroy() error { return f.composite.Destroy() }

// Insert buffers a document under each of its terms. Document ids must
// arrive in ascending order per term, which row-id assignment guarantees.
func (f *IndexFile) Insert(doc DocID, terms []string) {
	f.mu.Lock()
	for _, t := range terms {
		f.pending[t] = append(f.pending[t], doc)
	}
	f.mu.Unlock()
}

// Merge folds every buffered posting into the list file. The background
// merger invokes it on every tick and once more when it stops.
func (f *IndexFile) Merge() error {
	f.mu.Lock()
	if len(f.pending) == 0 {
		f.mu.Unlock()
		return nil
	}
	pending := f.pending
	f.pending = make(map[string][]DocID)
	f.mu.Unlock()

	if err := f.info.StartMerge(); err != nil {
		return err
	}
	f.publish(events.EventMergeStarted)

	terms := make([]string, 0, len(pending))
	for t := range pending {
		terms = append(terms, t)
	}
	sort.Strings(terms)

	for _, t := range terms {
		listID, err := f.listIDFor(t)
		if err != nil {
			return err
		}
		ids := pending[t]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		if err := f.lists.Append(listID, ids); err != nil {
			return err
		}
	}

	if err := f.info.EndMerge(); err != nil {
		return err
	}
	f.publish(events.EventMergeCompleted)
	return nil
}

// Iterator returns an iterator over one term's posting list. Buffered
// postings not yet merged are not visible; callers wanting read-your-own
// writes call Merge first.
func (f *IndexFile) Iterator(term string) (ListIterator, error) {
	listID, ok, err := f.lookup(term)
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewMemoryListIterator(nil), nil
	}
	return f.lists.Iterator(listID)
}

// StartMerger launches the background merge worker.
func (f *IndexFile) StartMerger(interval time.Duration) {
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	go f.runMerger(interval)
}

// StopMerger stops the background merge worker, running a final merge.
func (f *IndexFile) StopMerger() {
	if f.stopCh == nil {
		return
	}
	close(f.stopCh)
	<-f.doneCh
	f.stopCh = nil
}

func (f *IndexFile) runMerger(interval time.Duration) {
	defer close(f.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := f.Merge(); err != nil {
				f.logger.Error().Err(err).Msg("Merge cycle failed")
			}
		case <-f.stopCh:
			if err := f.Merge(); err != nil {
				f.logger.Error().Err(err).Msg("Final merge failed")
			}
			return
		}
	}
}

// listIDFor finds or assigns the list id of a term.
func (f *IndexFile) listIDFor(term string) (uint32, error) {
	id, ok, err := f.lookup(term)
	if err != nil {
		return 0, err
	}
	if ok {
		return id, nil
	}
	f.mu.Lock()
	id = f.nextList
	f.nextList++
	f.mu.Unlock()
	err = f.dict.Insert([]btree.Value{
		btree.BytesValue(schema.FieldString, []byte(term)),
		btree.IntValue(schema.FieldUint32, int64(id)),
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (f *IndexFile) lookup(term string) (uint32, bool, error) {
	var listID uint32
	found := false
	key := []btree.Value{btree.BytesValue(schema.FieldString, []byte(term)), {}}
	err := f.dict.Scan(key, func(vals []btree.Value) bool {
		if string(vals[0].Bytes) == term {
			listID = uint32(vals[1].Int)
			found = true
		}
		return false
	})
	if err != nil {
		return 0, false, err
	}
	return listID, found, nil
}

// driverFile is the lifecycle surface each sub-file driver provides
// itself; everything else comes from the page-file default in cfile.Base.
type driverFile interface {
	Create() error
	Open() error
	Close() error
	Destroy() error
}

// sub adapts a driver file to the composite's File contract: the driver
// handles creation, open/close and destruction (it owns its header
// pages), cfile.Base covers mount, backup, recovery and flushing.
type sub struct {
	*cfile.Base
	driver driverFile
	verify func() error
}

func newSub(driver driverFile, phys *vfile.File, pool *buffer.Pool, verify func() error) *sub {
	return &sub{Base: cfile.NewBase(phys, pool), driver: driver, verify: verify}
}

func (s *sub) Create() error { return s.driver.Create() }
func (s *sub) Open() error { return s.driver.Open() }
func (s *sub) Close() error { return s.driver.Close() }
func (s *sub) Destroy() error { return s.driver.Destroy() }

func (s *sub) Verify() error {
	if s.verify != nil {
		return s.verify()
	}
	return s.Base.Verify()
}
