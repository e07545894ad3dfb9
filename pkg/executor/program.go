package executor

import (
	"sort"

	"github.com/cuemby/quarry/pkg/btree"
	"github.com/cuemby/quarry/pkg/fault"
	"github.com/cuemby/quarry/pkg/trans"
)

// Program is a prepared executor unit: a table of nodes referenced by
// integer id, one iterator root per SQL statement, and placeholder
// parameters supplied at execution. Node references are integers so the
// whole program serializes and can be reused.
type Program struct {
	nodes map[int]Node
	roots []int

	// files binds index-probe file references at initialize time; the
	// binding is runtime state, never serialized.
	files map[int]*btree.File

	initialized bool
}

// NewProgram creates an empty program.
func NewProgram() *Program {
	return &Program{nodes: make(map[int]Node), files: make(map[int]*btree.File)}
}

// AddNode registers a node under an id. Id 0 is reserved so that a zero
// reference always means "none".
func (p *Program) AddNode(id int, n Node) error {
	if id == 0 {
		return fault.New(fault.KindBadArgument, moduleName, "node id 0 is reserved")
	}
	if _, dup := p.nodes[id]; dup {
		return fault.New(fault.KindBadArgument, moduleName, "duplicate node id %d", id)
	}
	p.nodes[id] = n
	return nil
}

// SetRoots declares the iterator roots, one per statement.
func (p *Program) SetRoots(roots ...int) { p.roots = roots }

// Roots returns the declared roots.
func (p *Program) Roots() []int { return p.roots }

// BindFile attaches an index file to a file reference.
func (p *Program) BindFile(ref int, f *btree.File) { p.files[ref] = f }

// Initialize resolves every node reference, failing on dangling ids.
// A program must be initialized once before execution.
func (p *Program) Initialize(tx *trans.Transaction, params Row) (*Context, error) {
	for id, n := range p.nodes {
		for _, ref := range nodeRefs(n) {
			if ref == 0 {
				continue
			}
			if _, ok := p.nodes[ref]; !ok {
				return nil, fault.New(fault.KindUnexpected, moduleName, "node %d references missing node %d", id, ref)
			}
		}
	}
	for _, root := range p.roots {
		if _, err := p.iterator(root); err != nil {
			return nil, err
		}
	}
	p.initialized = true
	return NewContext(tx, params), nil
}

// Serialize writes the program: nodes in ascending id order, then the
// roots. Serializing, deserializing and serializing again yields
// identical bytes.
func (p *Program) Serialize() []byte {
	a := &Archive{}
	ids := make([]int, 0, len(p.nodes))
	for id := range p.nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	a.WriteInt(len(ids))
	for _, id := range ids {
		n := p.nodes[id]
		a.WriteInt(id)
		a.WriteInt(n.ClassID())
		n.Serialize(a)
	}
	a.WriteInt(len(p.roots))
	for _, r := range p.roots {
		a.WriteInt(r)
	}
	return a.Bytes()
}

// Deserialize reconstructs a program from its serialized form, using the
// class id registry to build node instances.
func Deserialize(buf []byte) (*Program, error) {
	r := NewReader(buf)
	p := NewProgram()

	count, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	for i := 0; i < count; i++ {
		id, err := r.ReadInt()
		if err != nil {
			return nil, err
		}
		classID, err := r.ReadInt()
		if err != nil {
			return nil, err
		}
		n, err := newNode(classID)
		if err != nil {
			return nil, err
		}
		if err := n.Deserialize(r); err != nil {
			return nil, err
		}
		if err := p.AddNode(id, n); err != nil {
			return nil, err
		}
	}
	nroots, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	p.roots = make([]int, nroots)
	for i := range p.roots {
		if p.roots[i], err = r.ReadInt(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Program) iterator(id int) (Iterator, error) {
	n, ok := p.nodes[id]
	if !ok {
		return nil, fault.New(fault.KindUnexpected, moduleName, "no node %d", id)
	}
	it, ok := n.(Iterator)
	if !ok {
		return nil, fault.New(fault.KindUnexpected, moduleName, "node %d is not an iterator", id)
	}
	return it, nil
}

func (p *Program) action(id int) (Action, error) {
	n, ok := p.nodes[id]
	if !ok {
		return nil, fault.New(fault.KindUnexpected, moduleName, "no node %d", id)
	}
	a, ok := n.(Action)
	if !ok {
		return nil, fault.New(fault.KindUnexpected, moduleName, "node %d is not an action", id)
	}
	return a, nil
}

func (p *Program) collection(id int) (*RowCollection, error) {
	n, ok := p.nodes[id]
	if !ok {
		return nil, fault.New(fault.KindUnexpected, moduleName, "no node %d", id)
	}
	c, ok := n.(*RowCollection)
	if !ok {
		return nil, fault.New(fault.KindUnexpected, moduleName, "node %d is not a collection", id)
	}
	return c, nil
}

// nodeRefs lists the node ids a node references, for initialize-time
// validation.
func nodeRefs(n Node) []int {
	switch t := n.(type) {
	case *ScanIterator:
		return append([]int{t.Source}, t.Actions...)
	case *FilterIterator:
		return []int{t.Input, t.Predicate}
	case *SortIterator:
		return []int{t.Input}
	case *JoinIterator:
		return []int{t.Left, t.Right, t.Predicate}
	case *AggregateIterator:
		return []int{t.Input}
	case *UpdateOperator:
		return []int{t.Input, t.Target}
	case *ParallelIterator:
		return t.Children
	default:
		return nil
	}
}
