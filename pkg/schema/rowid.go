package schema

import (
	"math"

	"github.com/cuemby/quarry/pkg/sequence"
)

// TupleID hands out row identifiers for one table. Every table owns one;
// explicit assignments (bulk load, replay) always reconcile the sequence
// to at least the assigned value, regardless of the get-max flag.
type TupleID struct {
	seq *sequence.Sequence
}

// NewTupleID wraps a table's row-id sequence.
func NewTupleID(seq *sequence.Sequence) *TupleID {
	return &TupleID{seq: seq}
}

// TupleIDOptions are the sequence bounds for row ids.
func TupleIDOptions() sequence.Options {
	return sequence.Options{Min: 0, Max: math.MaxUint32 - 1, Init: 0, Step: 1}
}

// Assign mints the next row id.
func (t *TupleID) Assign() (int64, error) {
	return t.seq.Next()
}

// AssignWith records an externally chosen row id, advancing the sequence
// past it.
func (t *TupleID) AssignWith(v int64) (int64, error) {
	return t.seq.NextValue(v)
}

// Persist writes the sequence through; invoked at commit.
func (t *TupleID) Persist() error {
	return t.seq.Persist()
}

// Verify checks the stored value covers the given assigned id.
func (t *TupleID) Verify(v int64, treatment sequence.Treatment) error {
	return t.seq.Verify(v, treatment)
}

// Identity generates values for an IDENTITY column. Unlike TupleID, an
// explicit assignment touches the sequence only when the column's get-max
// flag is set; otherwise the assigned value is used as-is and the
// generator keeps its own progression.
type Identity struct {
	seq *sequence.Sequence
}

// NewIdentity wraps an identity column's sequence.
func NewIdentity(seq *sequence.Sequence) *Identity {
	return &Identity{seq: seq}
}

// Assign mints the next identity value.
func (i *Identity) Assign() (int64, error) {
	return i.seq.Next()
}

// AssignExplicit accepts an explicitly provided value. With get-max the
// sequence is reconciled to at least v; without it the sequence is left
// alone.
func (i *Identity) AssignExplicit(v int64) (int64, error) {
	if i.seq.IsGetMax() {
		return i.seq.NextValue(v)
	}
	return v, nil
}

// Persist writes the sequence through; invoked at commit.
func (i *Identity) Persist() error {
	return i.seq.Persist()
}
