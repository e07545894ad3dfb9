package lock

import "sync"

// PageTracker records pages that a transaction is mutating outside the
// versioning system. Index drivers consult it before trusting a page image
// read without a snapshot: Check returns false while another transaction
// has the page registered, telling the reader to re-fetch through its own
// fix instead.
type PageTracker struct {
	mu sync.Mutex
	m  map[Name]map[*Client]struct{}
}

// NewPageTracker creates an empty tracker.
func NewPageTracker() *PageTracker {
	return &PageTracker{m: make(map[Name]map[*Client]struct{})}
}

// Track registers a page as being mutated by c.
func (t *PageTracker) Track(db, file, page uint32, c *Client) {
	name := PageName(db, file, page)
	t.mu.Lock()
	owners, ok := t.m[name]
	if !ok {
		owners = make(map[*Client]struct{})
		t.m[name] = owners
	}
	owners[c] = struct{}{}
	t.mu.Unlock()
}

// Untrack removes a registration.
func (t *PageTracker) Untrack(db, file, page uint32, c *Client) {
	name := PageName(db, file, page)
	t.mu.Lock()
	if owners, ok := t.m[name]; ok {
		delete(owners, c)
		if len(owners) == 0 {
			delete(t.m, name)
		}
	}
	t.mu.Unlock()
}

// UntrackAll removes every registration held by c.
func (t *PageTracker) UntrackAll(c *Client) {
	t.mu.Lock()
	for name, owners := range t.m {
		delete(owners, c)
		if len(owners) == 0 {
			delete(t.m, name)
		}
	}
	t.mu.Unlock()
}

// Check reports whether self may read the page image directly: true when
// no other transaction has the page registered.
func (t *PageTracker) Check(db, file, page uint32, self *Client) bool {
	name := PageName(db, file, page)
	t.mu.Lock()
	defer t.mu.Unlock()
	owners, ok := t.m[name]
	if !ok {
		return true
	}
	for owner := range owners {
		if owner != self {
			return false
		}
	}
	return true
}
