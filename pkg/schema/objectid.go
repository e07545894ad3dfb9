package schema

import (
	"github.com/cuemby/quarry/pkg/fault"
	"github.com/cuemby/quarry/pkg/sequence"
)

const moduleName = "schema"

// ObjectID identifies a persistent schema object within a database.
type ObjectID uint32

// InvalidObjectID is the sentinel for "no object".
const InvalidObjectID = ObjectID(^uint32(0))

// categoryCount is the number of schema object categories (database,
// table, column, index, file, constraint and friends).
const categoryCount = 12

// MaxObjectID reserves a band of IDs below the sentinel for system
// objects: one per category for each of up to 20 columns (column + field)
// plus index fields.
const MaxObjectID = InvalidObjectID - (categoryCount*20*2 + 4*3)

// IsValid reports whether the id is usable.
func (id ObjectID) IsValid() bool {
	return id != InvalidObjectID && id <= MaxObjectID
}

// Allocator mints ObjectIDs from a persisted sequence. IDs are never
// reused within a database; during catalog replay the sequence is
// reconciled to the highest used ID before normal allocation resumes.
type Allocator struct {
	seq *sequence.Sequence
}

// NewAllocator wraps the database's object-id sequence.
func NewAllocator(seq *sequence.Sequence) *Allocator {
	return &Allocator{seq: seq}
}

// Next mints a fresh ObjectID.
func (a *Allocator) Next() (ObjectID, error) {
	v, err := a.seq.Next()
	if err != nil {
		return InvalidObjectID, err
	}
	id := ObjectID(v)
	if !id.IsValid() {
		return InvalidObjectID, fault.New(fault.KindIntegerOverflow, moduleName, "object id space exhausted at %d", v)
	}
	return id, nil
}

// Reconcile advances the allocator past an id observed during replay.
func (a *Allocator) Reconcile(used ObjectID) error {
	_, err := a.seq.NextValue(int64(used))
	return err
}

// Persist writes the allocator state through; invoked at commit.
func (a *Allocator) Persist() error {
	return a.seq.Persist()
}
