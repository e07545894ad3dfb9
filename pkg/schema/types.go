package schema

// FieldType enumerates the typed values index comparators understand.
type FieldType int

const (
	FieldInt32 FieldType = iota
	FieldInt64
	FieldUint32
	FieldFloat64
	FieldString
	FieldBytes
)

// Fixed reports whether values of this type have a fixed encoded size.
func (t FieldType) Fixed() bool {
	switch t {
	case FieldString, FieldBytes:
		return false
	default:
		return true
	}
}

// Database is the root schema object.
type Database struct {
	ID   ObjectID `json:"id"`
	Name string   `json:"name"`
	Path string   `json:"path"`
}

// Column describes one table column.
type Column struct {
	ID       ObjectID  `json:"id"`
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Nullable bool      `json:"nullable"`
	// Identity marks a generated column backed by its own sequence.
	Identity bool `json:"identity,omitempty"`
	// IdentityGetMax makes explicit assignments advance the identity
	// sequence.
	IdentityGetMax bool `json:"identity_get_max,omitempty"`
}

// Table describes a table: its columns, its row-id sequence path and its
// indexes.
type Table struct {
	ID       ObjectID   `json:"id"`
	Database ObjectID   `json:"database"`
	Name     string     `json:"name"`
	Columns  []Column   `json:"columns"`
	Indexes  []ObjectID `json:"indexes,omitempty"`
}

// IndexKind selects the index driver.
type IndexKind int

const (
	IndexBtree IndexKind = iota
	IndexArray
	IndexFullText
	IndexVector
)

// Index describes one index over a table.
type Index struct {
	ID      ObjectID   `json:"id"`
	Table   ObjectID   `json:"table"`
	Name    string     `json:"name"`
	Kind    IndexKind  `json:"kind"`
	Columns []ObjectID `json:"columns"`
	Unique  bool       `json:"unique"`
	Path    string     `json:"path"`
}
