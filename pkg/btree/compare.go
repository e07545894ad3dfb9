package btree

import (
	"bytes"

	"github.com/cuemby/quarry/pkg/schema"
)

// Value is one decoded field of an index entry.
type Value struct {
	Type  schema.FieldType
	Null  bool
	Int   int64
	Float float64
	Bytes []byte
}

// IntValue builds a non-null integer value.
func IntValue(t schema.FieldType, v int64) Value { return Value{Type: t, Int: v} }

// FloatValue builds a non-null float value.
func FloatValue(v float64) Value { return Value{Type: schema.FieldFloat64, Float: v} }

// BytesValue builds a non-null string or bytes value.
func BytesValue(t schema.FieldType, b []byte) Value { return Value{Type: t, Bytes: b} }

// NullValue builds a null of the given type.
func NullValue(t schema.FieldType) Value { return Value{Type: t, Null: true} }

// Compare is a value-typed comparator over packed index tuples: a tuple of
// field types plus the unique and has-header flags. It never reads past
// its declared field count. NULL sorts before any non-NULL value.
type Compare struct {
	types  []schema.FieldType
	unique bool
	// hasHeader marks entries that carry a NULL bitmap word.
	hasHeader bool
	// integrityFields is the field prefix participating in integrity
	// checks; zero means all fields.
	integrityFields int
}

// NewCompare builds a comparator.
func NewCompare(types []schema.FieldType, unique, hasHeader bool) *Compare {
	return &Compare{types: types, unique: unique, hasHeader: hasHeader}
}

// SetIntegrityFields restricts integrity checks to a field prefix.
func (c *Compare) SetIntegrityFields(n int) { c.integrityFields = n }

// Types returns the declared field types.
func (c *Compare) Types() []schema.FieldType { return c.types }

// IsUnique reports whether entries are unique on the key fields alone.
func (c *Compare) IsUnique() bool { return c.unique }

// HasHeader reports whether entries carry a NULL bitmap.
func (c *Compare) HasHeader() bool { return c.hasHeader }

// FieldCount returns the declared field count.
func (c *Compare) FieldCount() int { return len(c.types) }

// Compare orders two decoded tuples field by field. Only the declared
// field count participates even if the slices are longer.
func (c *Compare) Compare(a, b []Value) int {
	for i := range c.types {
		if r := compareField(a[i], b[i]); r != 0 {
			return r
		}
	}
	return 0
}

// ComparePrefix orders two tuples on the first n fields only. Used by
// non-unique indexes to compare real keys without the row id.
func (c *Compare) ComparePrefix(a, b []Value, n int) int {
	for i := 0; i < n && i < len(c.types); i++ {
		if r := compareField(a[i], b[i]); r != 0 {
			return r
		}
	}
	return 0
}

// IntegrityCheck reports whether two tuples agree on the integrity field
// prefix. Any NULL among the participating fields on either side masks
// the check: the result is then true (no violation), even for partially
// specified keys.
func (c *Compare) IntegrityCheck(a, b []Value) bool {
	n := c.integrityFields
	if n == 0 || n > len(c.types) {
		n = len(c.types)
	}
	for i := 0; i < n; i++ {
		if a[i].Null || b[i].Null {
			return true
		}
	}
	for i := 0; i < n; i++ {
		if compareField(a[i], b[i]) != 0 {
			return false
		}
	}
	return true
}

func compareField(a, b Value) int {
	if a.Null || b.Null {
		switch {
		case a.Null && b.Null:
			return 0
		case a.Null:
			return -1
		default:
			return 1
		}
	}
	switch a.Type {
	case schema.FieldFloat64:
		switch {
		case a.Float < b.Float:
			return -1
		case a.Float > b.Float:
			return 1
		default:
			return 0
		}
	case schema.FieldString, schema.FieldBytes:
		return bytes.Compare(a.Bytes, b.Bytes)
	case schema.FieldUint32:
		au, bu := uint32(a.Int), uint32(b.Int)
		switch {
		case au < bu:
			return -1
		case au > bu:
			return 1
		default:
			return 0
		}
	default:
		switch {
		case a.Int < b.Int:
			return -1
		case a.Int > b.Int:
			return 1
		default:
			return 0
		}
	}
}
