package executor

import (
	"github.com/cuemby/quarry/pkg/btree"
	"github.com/cuemby/quarry/pkg/fault"
	"github.com/cuemby/quarry/pkg/schema"
	"github.com/cuemby/quarry/pkg/trans"
)

// Row is one tuple flowing between iterators.
type Row []btree.Value

// Status is the result of executing an action against the current row.
type Status int

const (
	// StatusContinue keeps the row.
	StatusContinue Status = iota
	// StatusFalse drops the row.
	StatusFalse
	// StatusBreak unwinds the whole program (cancellation).
	StatusBreak
)

// Context is the runtime state a program executes against: the owning
// transaction, placeholder parameters, and the shared row buffers that
// iterators publish into and read from, keyed by node id.
type Context struct {
	Tx     *trans.Transaction
	Params Row

	buffers map[int]Row
}

// NewContext builds a runtime context.
func NewContext(tx *trans.Transaction, params Row) *Context {
	return &Context{Tx: tx, Params: params, buffers: make(map[int]Row)}
}

// Publish stores a node's current row in the shared buffer table.
func (c *Context) Publish(nodeID int, row Row) { c.buffers[nodeID] = row }

// Fetch reads another node's current row.
func (c *Context) Fetch(nodeID int) Row { return c.buffers[nodeID] }

// Action is a per-row node: predicates, projections, cancellation polls.
type Action interface {
	Node
	Execute(ctx *Context, row Row) (Status, error)
}

// CheckCancel polls the transaction's cancel flag between rows. There are
// no forced interrupts: a canceled transaction unwinds at the next poll.
type CheckCancel struct{}

func (a *CheckCancel) ClassID() int { return ClassCheckCancel }
func (a *CheckCancel) Serialize(ar *Archive) {}
func (a *CheckCancel) Deserialize(r *Reader) error { return nil }

func (a *CheckCancel) Execute(ctx *Context, row Row) (Status, error) {
	if ctx.Tx != nil && ctx.Tx.Canceled() {
		return StatusBreak, nil
	}
	return StatusContinue, nil
}

// Projection narrows a row to the named column positions.
type Projection struct {
	Columns []int
}

func (a *Projection) ClassID() int { return ClassProjection }

func (a *Projection) Serialize(ar *Archive) {
	ar.WriteInt(len(a.Columns))
	for _, c := range a.Columns {
		ar.WriteInt(c)
	}
}

func (a *Projection) Deserialize(r *Reader) error {
	n, err := r.ReadInt()
	if err != nil {
		return err
	}
	a.Columns = make([]int, n)
	for i := range a.Columns {
		if a.Columns[i], err = r.ReadInt(); err != nil {
			return err
		}
	}
	return nil
}

func (a *Projection) Execute(ctx *Context, row Row) (Status, error) {
	return StatusContinue, nil
}

// Apply builds the projected row.
func (a *Projection) Apply(row Row) Row {
	out := make(Row, 0, len(a.Columns))
	for _, c := range a.Columns {
		if c < len(row) {
			out = append(out, row[c])
		} else {
			out = append(out, btree.NullValue(schema.FieldInt32))
		}
	}
	return out
}

// CompareOp is a comparison predicate operator.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

// Comparison compares a column against a literal or a placeholder
// parameter (ParamRef >= 0 selects a parameter; otherwise Literal is
// used). NULL operands make the predicate false, never an error.
type Comparison struct {
	Column   int
	Op       CompareOp
	ParamRef int
	Literal  btree.Value
}

func (p *Comparison) ClassID() int { return ClassComparison }

func (p *Comparison) Serialize(ar *Archive) {
	ar.WriteInt(p.Column)
	ar.WriteInt(int(p.Op))
	ar.WriteInt(p.ParamRef)
	ar.WriteValue(p.Literal)
}

func (p *Comparison) Deserialize(r *Reader) error {
	var err error
	if p.Column, err = r.ReadInt(); err != nil {
		return err
	}
	op, err := r.ReadInt()
	if err != nil {
		return err
	}
	p.Op = CompareOp(op)
	if p.ParamRef, err = r.ReadInt(); err != nil {
		return err
	}
	p.Literal, err = r.ReadValue()
	return err
}

func (p *Comparison) Execute(ctx *Context, row Row) (Status, error) {
	if p.Column >= len(row) {
		return StatusFalse, nil
	}
	operand := p.Literal
	if p.ParamRef >= 0 {
		if p.ParamRef >= len(ctx.Params) {
			return StatusFalse, fault.New(fault.KindBadArgument, moduleName, "parameter %d not supplied", p.ParamRef)
		}
		operand = ctx.Params[p.ParamRef]
	}
	a := row[p.Column]
	if a.Null || operand.Null {
		return StatusFalse, nil
	}
	cmp := btree.NewCompare([]schema.FieldType{a.Type}, false, false)
	r := cmp.Compare([]btree.Value{a}, []btree.Value{operand})
	ok := false
	switch p.Op {
	case OpEq:
		ok = r == 0
	case OpNe:
		ok = r != 0
	case OpLt:
		ok = r < 0
	case OpLe:
		ok = r <= 0
	case OpGt:
		ok = r > 0
	case OpGe:
		ok = r >= 0
	}
	if ok {
		return StatusContinue, nil
	}
	return StatusFalse, nil
}

// IsNull tests a column for NULL.
type IsNull struct {
	Column int
	// Negate turns the predicate into IS NOT NULL.
	Negate bool
}

func (p *IsNull) ClassID() int { return ClassIsNull }

func (p *IsNull) Serialize(ar *Archive) {
	ar.WriteInt(p.Column)
	ar.WriteBool(p.Negate)
}

func (p *IsNull) Deserialize(r *Reader) error {
	var err error
	if p.Column, err = r.ReadInt(); err != nil {
		return err
	}
	p.Negate, err = r.ReadBool()
	return err
}

func (p *IsNull) Execute(ctx *Context, row Row) (Status, error) {
	if p.Column >= len(row) {
		return StatusFalse, nil
	}
	if row[p.Column].Null != p.Negate {
		return StatusContinue, nil
	}
	return StatusFalse, nil
}
