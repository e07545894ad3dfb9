package btree

import (
	"encoding/binary"

	"github.com/cuemby/quarry/pkg/buffer"
	"github.com/cuemby/quarry/pkg/fault"
	"github.com/cuemby/quarry/pkg/lock"
	"github.com/cuemby/quarry/pkg/vfile"
)

const moduleName = "btree"

const (
	nodeKindInternal = uint32(0)
	nodeKindLeaf     = uint32(1)

	nodeKindOff  = 0
	nodeCountOff = 4
	nodeNextOff  = 8
	nodeDataOff  = 12
)

// headerPageID is where the driver header lives; page 0 belongs to the
// physical layer.
const headerPageID = vfile.PageID(1)

// Tracking connects a tree to the no-version page tracker: pages the tree
// mutates are registered under the owning transaction's lock client, and
// readers in no-version transactions consult Check before trusting a page
// image.
type Tracking struct {
	Tracker  *lock.PageTracker
	Database uint32
	FileID   uint32
	Client   *lock.Client
}

// File is a page-structured B-tree: a header page plus node and leaf
// pages holding packed entries. Non-unique indexes store the row id as
// the final entry field and compare real keys separately from full
// entries; unique indexes enforce distinctness on the key fields alone.
type File struct {
	phys *vfile.File
	pool *buffer.Pool
	cmp  *Compare
	// keyFields is the prefix length of the "real key" comparator; the
	// remaining fields (the row id) only discriminate non-unique entries.
	keyFields int

	header   *HeaderPage
	tree     int
	tracking *Tracking
}

// NewFile describes a B-tree stored at path. For unique indexes keyFields
// equals the comparator's field count; for non-unique ones it excludes
// the trailing row id field.
func NewFile(path string, pageSize int, pool *buffer.Pool, cmp *Compare, keyFields int) *File {
	return &File{
		phys:      vfile.New(path, pageSize),
		pool:      pool,
		cmp:       cmp,
		keyFields: keyFields,
		header:    NewHeaderPage(),
	}
}

// SetTracking enables no-version page tracking for this tree.
func (f *File) SetTracking(t *Tracking) { f.tracking = t }

// View returns a handle on another tree slot of the same file with its
// own comparator. Views share the physical file, pool and header page;
// writers are serialized above this layer by the lock manager.
func (f *File) View(slot int, cmp *Compare, keyFields int) *File {
	return &File{
		phys:      f.phys,
		pool:      f.pool,
		cmp:       cmp,
		keyFields: keyFields,
		header:    f.header,
		tree:      slot,
		tracking:  f.tracking,
	}
}

// Physical exposes the backing file for composite-file assembly.
func (f *File) Physical() *vfile.File { return f.phys }

// Count returns the global tuple count.
func (f *File) Count() uint64 { return f.header.TupleCount }

// EntryCount returns the entry count of the tree slot this handle uses.
func (f *File) EntryCount() uint32 { return f.header.Trees[f.tree].EntryCount }

// Create creates the file with an empty header page.
func (f *File) Create() error {
	if err := f.phys.Create(); err != nil {
		return err
	}
	id, err := f.phys.Allocate()
	if err != nil {
		return err
	}
	if id != headerPageID {
		return fault.New(fault.KindUnexpected, moduleName, "header page allocated at %d", id)
	}
	return f.storeHeader()
}

// Open opens the file and restores the header.
func (f *File) Open() error {
	if err := f.phys.Open(); err != nil {
		return err
	}
	return f.loadHeader()
}

// Close flushes the header and closes the file.
func (f *File) Close() error {
	if err := f.storeHeader(); err != nil {
		return err
	}
	if _, err := f.pool.FlushAll(f.phys); err != nil {
		return err
	}
	return f.phys.Close()
}

// Destroy drops cached pages and removes the file.
func (f *File) Destroy() error {
	f.pool.Discard(f.phys)
	return f.phys.Destroy()
}

// Insert adds an entry. Unique indexes refuse an entry whose key fields
// match an existing one; the violation is a user-level error.
func (f *File) Insert(vals []Value) error {
	encoded, err := f.cmp.Encode(vals)
	if err != nil {
		return err
	}

	th := &f.header.Trees[f.tree]
	if th.Root == vfile.InvalidPageID {
		id, err := f.allocNode(nodeKindLeaf)
		if err != nil {
			return err
		}
		n := &node{kind: nodeKindLeaf, next: vfile.InvalidPageID}
		n.entries = append(n.entries, encoded)
		if err := f.writeNode(id, n); err != nil {
			return err
		}
		th.Root = id
		th.LeftmostLeaf = id
		th.RightmostLeaf = id
		th.EntryCount = 1
		th.StepCount = 1
		f.header.AddTuple(1)
		return f.storeHeader()
	}

	split, sep, right, err := f.insertInto(th.Root, vals, encoded)
	if err != nil {
		return err
	}
	if split {
		rootID, err := f.allocNode(nodeKindInternal)
		if err != nil {
			return err
		}
		oldRoot := th.Root
		oldSep, err := f.firstKey(oldRoot)
		if err != nil {
			return err
		}
		root := &node{kind: nodeKindInternal, next: vfile.InvalidPageID}
		root.children = []vfile.PageID{oldRoot, right}
		root.entries = [][]byte{oldSep, sep}
		if err := f.writeNode(rootID, root); err != nil {
			return err
		}
		th.Root = rootID
		th.StepCount++
	}
	th.EntryCount++
	f.header.AddTuple(1)
	return f.storeHeader()
}

// Delete removes the entry exactly matching vals. It reports whether an
// entry was removed. Leaves are allowed to run underfull; the chain stays
// intact.
func (f *File) Delete(vals []Value) (bool, error) {
	th := &f.header.Trees[f.tree]
	if th.Root == vfile.InvalidPageID {
		return false, nil
	}
	leafID, err := f.descend(th.Root, vals)
	if err != nil {
		return false, err
	}
	n, err := f.readNode(leafID)
	if err != nil {
		return false, err
	}
	for i, e := range n.entries {
		dec, err := f.cmp.Decode(e)
		if err != nil {
			return false, err
		}
		if f.cmp.Compare(dec, vals) == 0 {
			n.entries = append(n.entries[:i], n.entries[i+1:]...)
			if err := f.writeNode(leafID, n); err != nil {
				return false, err
			}
			th.EntryCount--
			f.header.AddTuple(-1)
			return true, f.storeHeader()
		}
	}
	return false, nil
}

// Search reports whether an entry with the same key fields exists.
func (f *File) Search(vals []Value) (bool, error) {
	th := &f.header.Trees[f.tree]
	if th.Root == vfile.InvalidPageID {
		return false, nil
	}
	leafID, err := f.descend(th.Root, vals)
	if err != nil {
		return false, err
	}
	// The sought key may sit past the end of this leaf when it is larger
	// than everything in it.
	for leafID != vfile.InvalidPageID {
		n, err := f.readNode(leafID)
		if err != nil {
			return false, err
		}
		for _, e := range n.entries {
			dec, err := f.cmp.Decode(e)
			if err != nil {
				return false, err
			}
			r := f.cmp.ComparePrefix(dec, vals, f.keyFields)
			if r == 0 {
				return true, nil
			}
			if r > 0 {
				return false, nil
			}
		}
		leafID = n.next
	}
	return false, nil
}

// Scan walks entries in order starting at the first entry not less than
// from (nil means the leftmost entry), invoking fn until it returns
// false.
func (f *File) Scan(from []Value, fn func(vals []Value) bool) error {
	th := &f.header.Trees[f.tree]
	if th.Root == vfile.InvalidPageID {
		return nil
	}
	var leafID vfile.PageID
	var err error
	if from == nil {
		leafID = th.LeftmostLeaf
	} else {
		leafID, err = f.descend(th.Root, from)
		if err != nil {
			return err
		}
	}
	for leafID != vfile.InvalidPageID {
		n, err := f.readNode(leafID)
		if err != nil {
			return err
		}
		for _, e := range n.entries {
			dec, err := f.cmp.Decode(e)
			if err != nil {
				return err
			}
			if from != nil && f.cmp.ComparePrefix(dec, from, f.keyFields) < 0 {
				continue
			}
			if !fn(dec) {
				return nil
			}
		}
		leafID = n.next
	}
	return nil
}

// Verify checks tree invariants: entries in order within and across
// leaves, counts consistent with the header.
func (f *File) Verify() error {
	th := &f.header.Trees[f.tree]
	if th.Root == vfile.InvalidPageID {
		if th.EntryCount != 0 {
			return fault.New(fault.KindUnexpected, moduleName, "empty tree with entry count %d", th.EntryCount)
		}
		return nil
	}
	var prev []Value
	var count uint32
	leafID := th.LeftmostLeaf
	for leafID != vfile.InvalidPageID {
		n, err := f.readNode(leafID)
		if err != nil {
			return err
		}
		for _, e := range n.entries {
			dec, err := f.cmp.Decode(e)
			if err != nil {
				return err
			}
			if prev != nil && f.cmp.Compare(prev, dec) > 0 {
				return fault.New(fault.KindUnexpected, moduleName, "entries out of order in leaf %d", leafID)
			}
			prev = dec
			count++
		}
		if n.next == vfile.InvalidPageID && leafID != th.RightmostLeaf {
			return fault.New(fault.KindUnexpected, moduleName, "leaf chain ends at %d, rightmost is %d", leafID, th.RightmostLeaf)
		}
		leafID = n.next
	}
	if count != th.EntryCount {
		return fault.New(fault.KindUnexpected, moduleName, "leaf chain holds %d entries, header says %d", count, th.EntryCount)
	}
	return nil
}

// node is the decoded in-memory form of one tree page.
type node struct {
	kind uint32
	next vfile.PageID
	// entries holds packed tuples; for internal nodes entry i is the
	// separator (smallest key) of children[i].
	entries  [][]byte
	children []vfile.PageID
}

func (n *node) encodedSize() int {
	size := nodeDataOff
	for _, e := range n.entries {
		size += wordSize + wordsFor(len(e))*wordSize
	}
	if n.kind == nodeKindInternal {
		size += len(n.children) * wordSize
	}
	return size
}

func (f *File) allocNode(kind uint32) (vfile.PageID, error) {
	return f.phys.Allocate()
}

func (f *File) readNode(id vfile.PageID) (*node, error) {
	if t := f.tracking; t != nil {
		// A page registered by another transaction is being mutated
		// outside the versioning system; the pool fix below serializes on
		// the page latch, so by the time the image is read it is settled.
		_ = t.Tracker.Check(t.Database, t.FileID, uint32(id), t.Client)
	}
	mem, err := f.pool.Fix(f.phys, id, buffer.ReadOnly)
	if err != nil {
		return nil, err
	}
	defer mem.Unfix(false, true)

	body := mem.Body()
	n := &node{
		kind: binary.LittleEndian.Uint32(body[nodeKindOff:]),
		next: vfile.PageID(binary.LittleEndian.Uint32(body[nodeNextOff:])),
	}
	count := int(binary.LittleEndian.Uint32(body[nodeCountOff:]))
	off := nodeDataOff
	for i := 0; i < count; i++ {
		if n.kind == nodeKindInternal {
			n.children = append(n.children, vfile.PageID(binary.LittleEndian.Uint32(body[off:])))
			off += wordSize
		}
		ln := int(binary.LittleEndian.Uint32(body[off:]))
		off += wordSize
		n.entries = append(n.entries, append([]byte(nil), body[off:off+ln]...))
		off += wordsFor(ln) * wordSize
	}
	return n, nil
}

func (f *File) writeNode(id vfile.PageID, n *node) error {
	if t := f.tracking; t != nil {
		t.Tracker.Track(t.Database, t.FileID, uint32(id), t.Client)
	}
	mem, err := f.pool.Fix(f.phys, id, buffer.Write)
	if err != nil {
		return err
	}
	body, err := mem.WritableBody()
	if err != nil {
		mem.Unfix(false, true)
		return err
	}
	binary.LittleEndian.PutUint32(body[nodeKindOff:], n.kind)
	binary.LittleEndian.PutUint32(body[nodeCountOff:], uint32(len(n.entries)))
	binary.LittleEndian.PutUint32(body[nodeNextOff:], uint32(n.next))
	off := nodeDataOff
	for i, e := range n.entries {
		if n.kind == nodeKindInternal {
			binary.LittleEndian.PutUint32(body[off:], uint32(n.children[i]))
			off += wordSize
		}
		binary.LittleEndian.PutUint32(body[off:], uint32(len(e)))
		off += wordSize
		copy(body[off:], e)
		off += wordsFor(len(e)) * wordSize
	}
	return mem.Unfix(true, true)
}

// descend walks internal nodes to the leaf that should hold vals.
func (f *File) descend(id vfile.PageID, vals []Value) (vfile.PageID, error) {
	for {
		n, err := f.readNode(id)
		if err != nil {
			return vfile.InvalidPageID, err
		}
		if n.kind == nodeKindLeaf {
			return id, nil
		}
		child := n.children[0]
		for i := 1; i < len(n.entries); i++ {
			sep, err := f.cmp.Decode(n.entries[i])
			if err != nil {
				return vfile.InvalidPageID, err
			}
			if f.cmp.Compare(sep, vals) <= 0 {
				child = n.children[i]
			} else {
				break
			}
		}
		id = child
	}
}

// insertInto inserts into the subtree rooted at id, splitting on the way
// back up. It returns the separator and page of a newly created right
// sibling when a split happened.
func (f *File) insertInto(id vfile.PageID, vals []Value, encoded []byte) (bool, []byte, vfile.PageID, error) {
	n, err := f.readNode(id)
	if err != nil {
		return false, nil, vfile.InvalidPageID, err
	}

	if n.kind == nodeKindLeaf {
		pos := len(n.entries)
		for i, e := range n.entries {
			dec, err := f.cmp.Decode(e)
			if err != nil {
				return false, nil, vfile.InvalidPageID, err
			}
			r := f.cmp.Compare(dec, vals)
			if f.cmp.IsUnique() && f.cmp.ComparePrefix(dec, vals, f.keyFields) == 0 {
				return false, nil, vfile.InvalidPageID,
					fault.New(fault.KindUserLevel, moduleName, "duplicate key")
			}
			if r == 0 {
				return false, nil, vfile.InvalidPageID,
					fault.New(fault.KindUserLevel, moduleName, "duplicate entry")
			}
			if r > 0 {
				pos = i
				break
			}
		}
		n.entries = append(n.entries, nil)
		copy(n.entries[pos+1:], n.entries[pos:])
		n.entries[pos] = encoded
		return f.writeBackMaybeSplit(id, n)
	}

	// Internal: descend into the child covering vals.
	childIdx := 0
	for i := 1; i < len(n.entries); i++ {
		sep, err := f.cmp.Decode(n.entries[i])
		if err != nil {
			return false, nil, vfile.InvalidPageID, err
		}
		if f.cmp.Compare(sep, vals) <= 0 {
			childIdx = i
		} else {
			break
		}
	}
	split, sep, right, err := f.insertInto(n.children[childIdx], vals, encoded)
	if err != nil {
		return false, nil, vfile.InvalidPageID, err
	}
	if !split {
		return false, nil, vfile.InvalidPageID, nil
	}
	n.children = append(n.children, 0)
	copy(n.children[childIdx+2:], n.children[childIdx+1:])
	n.children[childIdx+1] = right
	n.entries = append(n.entries, nil)
	copy(n.entries[childIdx+2:], n.entries[childIdx+1:])
	n.entries[childIdx+1] = sep
	return f.writeBackMaybeSplit(id, n)
}

// writeBackMaybeSplit writes n back to id, splitting it in half first
// when it no longer fits the page.
func (f *File) writeBackMaybeSplit(id vfile.PageID, n *node) (bool, []byte, vfile.PageID, error) {
	if n.encodedSize() <= f.phys.BodySize() || len(n.entries) < 2 {
		return false, nil, vfile.InvalidPageID, f.writeNode(id, n)
	}

	mid := len(n.entries) / 2
	right := &node{kind: n.kind, next: n.next}
	right.entries = append(right.entries, n.entries[mid:]...)
	n.entries = n.entries[:mid]
	if n.kind == nodeKindInternal {
		right.children = append(right.children, n.children[mid:]...)
		n.children = n.children[:mid]
	}

	rightID, err := f.allocNode(n.kind)
	if err != nil {
		return false, nil, vfile.InvalidPageID, err
	}
	if n.kind == nodeKindLeaf {
		n.next = rightID
		th := &f.header.Trees[f.tree]
		if th.RightmostLeaf == id {
			th.RightmostLeaf = rightID
		}
	}
	if err := f.writeNode(rightID, right); err != nil {
		return false, nil, vfile.InvalidPageID, err
	}
	if err := f.writeNode(id, n); err != nil {
		return false, nil, vfile.InvalidPageID, err
	}
	return true, right.entries[0], rightID, nil
}

// firstKey returns the separator for a node: its first entry.
func (f *File) firstKey(id vfile.PageID) ([]byte, error) {
	n, err := f.readNode(id)
	if err != nil {
		return nil, err
	}
	if len(n.entries) == 0 {
		return nil, fault.New(fault.KindUnexpected, moduleName, "empty node %d has no separator", id)
	}
	return n.entries[0], nil
}

func (f *File) loadHeader() error {
	mem, err := f.pool.Fix(f.phys, headerPageID, buffer.ReadOnly)
	if err != nil {
		return err
	}
	f.header.Restore(mem.Body())
	return mem.Unfix(false, true)
}

func (f *File) storeHeader() error {
	mem, err := f.pool.Fix(f.phys, headerPageID, buffer.Write)
	if err != nil {
		return err
	}
	body, err := mem.WritableBody()
	if err != nil {
		mem.Unfix(false, true)
		return err
	}
	f.header.Dump(body)
	return mem.Unfix(true, true)
}
