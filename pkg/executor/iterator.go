package executor

import (
	"sort"

	"github.com/cuemby/quarry/pkg/btree"
	"github.com/cuemby/quarry/pkg/fault"
	"github.com/cuemby/quarry/pkg/schema"
)

// Iterator is a program node producing rows. StartUp runs once before the
// iteration loop, Next produces one row per call, Finish runs once after.
// The V2 executor publishes each root's current row to the context's
// shared buffers so later iterators in the program can reference it.
type Iterator interface {
	Node
	StartUp(ctx *Context, p *Program) error
	Next(ctx *Context, p *Program) (Row, bool, error)
	Finish(ctx *Context, p *Program) error
}

// RowCollection is a serializable data holder: literal rows embedded in
// the program (VALUES lists, small lookup tables) and the target of
// update operators.
type RowCollection struct {
	Rows []Row
}

func (c *RowCollection) ClassID() int { return ClassRowCollection }

func (c *RowCollection) Serialize(ar *Archive) {
	ar.WriteInt(len(c.Rows))
	for _, row := range c.Rows {
		ar.WriteInt(len(row))
		for _, v := range row {
			ar.WriteValue(v)
		}
	}
}

func (c *RowCollection) Deserialize(r *Reader) error {
	n, err := r.ReadInt()
	if err != nil {
		return err
	}
	c.Rows = make([]Row, n)
	for i := range c.Rows {
		m, err := r.ReadInt()
		if err != nil {
			return err
		}
		row := make(Row, m)
		for j := range row {
			if row[j], err = r.ReadValue(); err != nil {
				return err
			}
		}
		c.Rows[i] = row
	}
	return nil
}

// Append adds a row; used by update operators.
func (c *RowCollection) Append(row Row) { c.Rows = append(c.Rows, row) }

// ScanIterator walks a collection, running its actions on every row.
// Rows failing a predicate action are skipped; StatusBreak unwinds.
type ScanIterator struct {
	Source  int
	Actions []int

	pos int
}

func (it *ScanIterator) ClassID() int { return ClassScanIterator }

func (it *ScanIterator) Serialize(ar *Archive) {
	ar.WriteInt(it.Source)
	ar.WriteInt(len(it.Actions))
	for _, a := range it.Actions {
		ar.WriteInt(a)
	}
}

func (it *ScanIterator) Deserialize(r *Reader) error {
	var err error
	if it.Source, err = r.ReadInt(); err != nil {
		return err
	}
	n, err := r.ReadInt()
	if err != nil {
		return err
	}
	it.Actions = make([]int, n)
	for i := range it.Actions {
		if it.Actions[i], err = r.ReadInt(); err != nil {
			return err
		}
	}
	return nil
}

func (it *ScanIterator) StartUp(ctx *Context, p *Program) error {
	it.pos = 0
	return nil
}

func (it *ScanIterator) Next(ctx *Context, p *Program) (Row, bool, error) {
	src, err := p.collection(it.Source)
	if err != nil {
		return nil, false, err
	}
rows:
	for it.pos < len(src.Rows) {
		row := src.Rows[it.pos]
		it.pos++
		for _, id := range it.Actions {
			act, err := p.action(id)
			if err != nil {
				return nil, false, err
			}
			status, err := act.Execute(ctx, row)
			if err != nil {
				return nil, false, err
			}
			switch status {
			case StatusFalse:
				continue rows
			case StatusBreak:
				return nil, false, nil
			}
		}
		return row, true, nil
	}
	return nil, false, nil
}

func (it *ScanIterator) Finish(ctx *Context, p *Program) error { return nil }

// FilterIterator applies a predicate to another iterator's rows.
type FilterIterator struct {
	Input     int
	Predicate int
}

func (it *FilterIterator) ClassID() int { return ClassFilterIterator }

func (it *FilterIterator) Serialize(ar *Archive) {
	ar.WriteInt(it.Input)
	ar.WriteInt(it.Predicate)
}

func (it *FilterIterator) Deserialize(r *Reader) error {
	var err error
	if it.Input, err = r.ReadInt(); err != nil {
		return err
	}
	it.Predicate, err = r.ReadInt()
	return err
}

func (it *FilterIterator) StartUp(ctx *Context, p *Program) error {
	input, err := p.iterator(it.Input)
	if err != nil {
		return err
	}
	return input.StartUp(ctx, p)
}

func (it *FilterIterator) Next(ctx *Context, p *Program) (Row, bool, error) {
	input, err := p.iterator(it.Input)
	if err != nil {
		return nil, false, err
	}
	pred, err := p.action(it.Predicate)
	if err != nil {
		return nil, false, err
	}
	for {
		row, ok, err := input.Next(ctx, p)
		if err != nil || !ok {
			return nil, false, err
		}
		status, err := pred.Execute(ctx, row)
		if err != nil {
			return nil, false, err
		}
		if status == StatusBreak {
			return nil, false, nil
		}
		if status == StatusContinue {
			return row, true, nil
		}
	}
}

func (it *FilterIterator) Finish(ctx *Context, p *Program) error {
	input, err := p.iterator(it.Input)
	if err != nil {
		return err
	}
	return input.Finish(ctx, p)
}

// SortIterator materializes its input and emits it ordered by the given
// column positions, NULL first, using the index comparator's ordering.
type SortIterator struct {
	Input   int
	Columns []int

	rows []Row
	pos  int
}

func (it *SortIterator) ClassID() int { return ClassSortIterator }

func (it *SortIterator) Serialize(ar *Archive) {
	ar.WriteInt(it.Input)
	ar.WriteInt(len(it.Columns))
	for _, c := range it.Columns {
		ar.WriteInt(c)
	}
}

func (it *SortIterator) Deserialize(r *Reader) error {
	var err error
	if it.Input, err = r.ReadInt(); err != nil {
		return err
	}
	n, err := r.ReadInt()
	if err != nil {
		return err
	}
	it.Columns = make([]int, n)
	for i := range it.Columns {
		if it.Columns[i], err = r.ReadInt(); err != nil {
			return err
		}
	}
	return nil
}

func (it *SortIterator) StartUp(ctx *Context, p *Program) error {
	input, err := p.iterator(it.Input)
	if err != nil {
		return err
	}
	if err := input.StartUp(ctx, p); err != nil {
		return err
	}
	it.rows = nil
	it.pos = 0
	for {
		row, ok, err := input.Next(ctx, p)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		it.rows = append(it.rows, row)
	}
	sortRows(it.rows, it.Columns)
	return nil
}

func (it *SortIterator) Next(ctx *Context, p *Program) (Row, bool, error) {
	if it.pos >= len(it.rows) {
		return nil, false, nil
	}
	row := it.rows[it.pos]
	it.pos++
	return row, true, nil
}

func (it *SortIterator) Finish(ctx *Context, p *Program) error {
	it.rows = nil
	input, err := p.iterator(it.Input)
	if err != nil {
		return err
	}
	return input.Finish(ctx, p)
}

// JoinIterator is a nested-loop join: the right side is materialized at
// start-up, and each left row is paired with every right row passing the
// join predicate (0 means no predicate, a cross join).
type JoinIterator struct {
	Left      int
	Right     int
	Predicate int

	rightRows []Row
	leftRow   Row
	leftOK    bool
	rightPos  int
}

func (it *JoinIterator) ClassID() int { return ClassJoinIterator }

func (it *JoinIterator) Serialize(ar *Archive) {
	ar.WriteInt(it.Left)
	ar.WriteInt(it.Right)
	ar.WriteInt(it.Predicate)
}

func (it *JoinIterator) Deserialize(r *Reader) error {
	var err error
	if it.Left, err = r.ReadInt(); err != nil {
		return err
	}
	if it.Right, err = r.ReadInt(); err != nil {
		return err
	}
	it.Predicate, err = r.ReadInt()
	return err
}

func (it *JoinIterator) StartUp(ctx *Context, p *Program) error {
	left, err := p.iterator(it.Left)
	if err != nil {
		return err
	}
	if err := left.StartUp(ctx, p); err != nil {
		return err
	}
	right, err := p.iterator(it.Right)
	if err != nil {
		return err
	}
	if err := right.StartUp(ctx, p); err != nil {
		return err
	}
	it.rightRows = nil
	for {
		row, ok, err := right.Next(ctx, p)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		it.rightRows = append(it.rightRows, row)
	}
	it.leftOK = false
	it.rightPos = 0
	return nil
}

func (it *JoinIterator) Next(ctx *Context, p *Program) (Row, bool, error) {
	left, err := p.iterator(it.Left)
	if err != nil {
		return nil, false, err
	}
	for {
		if !it.leftOK {
			it.leftRow, it.leftOK, err = left.Next(ctx, p)
			if err != nil || !it.leftOK {
				return nil, false, err
			}
			it.rightPos = 0
		}
		for it.rightPos < len(it.rightRows) {
			joined := append(append(Row{}, it.leftRow...), it.rightRows[it.rightPos]...)
			it.rightPos++
			if it.Predicate != 0 {
				pred, err := p.action(it.Predicate)
				if err != nil {
					return nil, false, err
				}
				status, err := pred.Execute(ctx, joined)
				if err != nil {
					return nil, false, err
				}
				if status == StatusBreak {
					return nil, false, nil
				}
				if status == StatusFalse {
					continue
				}
			}
			return joined, true, nil
		}
		it.leftOK = false
	}
}

func (it *JoinIterator) Finish(ctx *Context, p *Program) error {
	it.rightRows = nil
	left, err := p.iterator(it.Left)
	if err != nil {
		return err
	}
	if err := left.Finish(ctx, p); err != nil {
		return err
	}
	right, err := p.iterator(it.Right)
	if err != nil {
		return err
	}
	return right.Finish(ctx, p)
}

// AggregateKind selects the aggregate function.
type AggregateKind int

const (
	AggCount AggregateKind = iota
	AggSum
	AggMin
	AggMax
)

// AggregateIterator folds its input into a single row. NULLs are skipped
// for sum, min and max; count counts rows.
type AggregateIterator struct {
	Input  int
	Kind   AggregateKind
	Column int

	done bool
}

func (it *AggregateIterator) ClassID() int { return ClassAggregateIterator }

func (it *AggregateIterator) Serialize(ar *Archive) {
	ar.WriteInt(it.Input)
	ar.WriteInt(int(it.Kind))
	ar.WriteInt(it.Column)
}

func (it *AggregateIterator) Deserialize(r *Reader) error {
	var err error
	if it.Input, err = r.ReadInt(); err != nil {
		return err
	}
	k, err := r.ReadInt()
	if err != nil {
		return err
	}
	it.Kind = AggregateKind(k)
	it.Column, err = r.ReadInt()
	return err
}

func (it *AggregateIterator) StartUp(ctx *Context, p *Program) error {
	input, err := p.iterator(it.Input)
	if err != nil {
		return err
	}
	it.done = false
	return input.StartUp(ctx, p)
}

func (it *AggregateIterator) Next(ctx *Context, p *Program) (Row, bool, error) {
	if it.done {
		return nil, false, nil
	}
	it.done = true

	input, err := p.iterator(it.Input)
	if err != nil {
		return nil, false, err
	}

	var count int64
	var acc btree.Value
	accSet := false
	for {
		row, ok, err := input.Next(ctx, p)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			break
		}
		count++
		if it.Kind == AggCount {
			continue
		}
		if it.Column >= len(row) || row[it.Column].Null {
			continue
		}
		v := row[it.Column]
		if !accSet {
			acc = v
			accSet = true
			continue
		}
		switch it.Kind {
		case AggSum:
			if v.Type == schema.FieldFloat64 {
				acc.Float += v.Float
			} else {
				acc.Int += v.Int
			}
		case AggMin:
			c := btree.NewCompare([]schema.FieldType{v.Type}, false, false)
			if c.Compare([]btree.Value{v}, []btree.Value{acc}) < 0 {
				acc = v
			}
		case AggMax:
			c := btree.NewCompare([]schema.FieldType{v.Type}, false, false)
			if c.Compare([]btree.Value{v}, []btree.Value{acc}) > 0 {
				acc = v
			}
		}
	}

	if it.Kind == AggCount {
		return Row{btree.IntValue(schema.FieldInt64, count)}, true, nil
	}
	if !accSet {
		return Row{btree.NullValue(schema.FieldInt64)}, true, nil
	}
	return Row{acc}, true, nil
}

func (it *AggregateIterator) Finish(ctx *Context, p *Program) error {
	input, err := p.iterator(it.Input)
	if err != nil {
		return err
	}
	return input.Finish(ctx, p)
}

// IndexProbe walks a B-tree index bound at initialize time, emitting its
// entries as rows from the given lower bound.
type IndexProbe struct {
	FileRef int
	// From is the probe's lower bound; empty means the leftmost entry.
	From Row

	rows []Row
	pos  int
}

func (it *IndexProbe) ClassID() int { return ClassIndexProbe }

func (it *IndexProbe) Serialize(ar *Archive) {
	ar.WriteInt(it.FileRef)
	ar.WriteInt(len(it.From))
	for _, v := range it.From {
		ar.WriteValue(v)
	}
}

func (it *IndexProbe) Deserialize(r *Reader) error {
	var err error
	if it.FileRef, err = r.ReadInt(); err != nil {
		return err
	}
	n, err := r.ReadInt()
	if err != nil {
		return err
	}
	it.From = make(Row, n)
	for i := range it.From {
		if it.From[i], err = r.ReadValue(); err != nil {
			return err
		}
	}
	return nil
}

func (it *IndexProbe) StartUp(ctx *Context, p *Program) error {
	file, ok := p.files[it.FileRef]
	if !ok {
		return fault.New(fault.KindBadArgument, moduleName, "index probe file %d not bound", it.FileRef)
	}
	it.rows = nil
	it.pos = 0
	var from []btree.Value
	if len(it.From) > 0 {
		from = it.From
	}
	return file.Scan(from, func(vals []btree.Value) bool {
		it.rows = append(it.rows, Row(vals))
		return true
	})
}

func (it *IndexProbe) Next(ctx *Context, p *Program) (Row, bool, error) {
	if it.pos >= len(it.rows) {
		return nil, false, nil
	}
	row := it.rows[it.pos]
	it.pos++
	return row, true, nil
}

func (it *IndexProbe) Finish(ctx *Context, p *Program) error {
	it.rows = nil
	return nil
}

// UpdateOperator drains its input into a target collection, emitting the
// stored rows. It is the write-side shape: the input computes, the
// operator applies.
type UpdateOperator struct {
	Input  int
	Target int
}

func (it *UpdateOperator) ClassID() int { return ClassUpdateOperator }

func (it *UpdateOperator) Serialize(ar *Archive) {
	ar.WriteInt(it.Input)
	ar.WriteInt(it.Target)
}

func (it *UpdateOperator) Deserialize(r *Reader) error {
	var err error
	if it.Input, err = r.ReadInt(); err != nil {
		return err
	}
	it.Target, err = r.ReadInt()
	return err
}

func (it *UpdateOperator) StartUp(ctx *Context, p *Program) error {
	input, err := p.iterator(it.Input)
	if err != nil {
		return err
	}
	return input.StartUp(ctx, p)
}

func (it *UpdateOperator) Next(ctx *Context, p *Program) (Row, bool, error) {
	input, err := p.iterator(it.Input)
	if err != nil {
		return nil, false, err
	}
	target, err := p.collection(it.Target)
	if err != nil {
		return nil, false, err
	}
	row, ok, err := input.Next(ctx, p)
	if err != nil || !ok {
		return nil, false, err
	}
	target.Append(row)
	return row, true, nil
}

func (it *UpdateOperator) Finish(ctx *Context, p *Program) error {
	input, err := p.iterator(it.Input)
	if err != nil {
		return err
	}
	return input.Finish(ctx, p)
}

// sortRows orders rows by the given columns with the NULL-first ordering
// of the index comparator.
func sortRows(rows []Row, columns []int) {
	less := func(a, b Row) bool {
		for _, c := range columns {
			if c >= len(a) || c >= len(b) {
				continue
			}
			cmp := btree.NewCompare([]schema.FieldType{a[c].Type}, false, false)
			r := cmp.Compare([]btree.Value{a[c]}, []btree.Value{b[c]})
			if r != 0 {
				return r < 0
			}
		}
		return false
	}
	sort.SliceStable(rows, func(i, j int) bool { return less(rows[i], rows[j]) })
}
