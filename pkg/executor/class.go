package executor

import (
	"github.com/cuemby/quarry/pkg/fault"
)

const moduleName = "executor"

// Class IDs identify concrete node types for serialization. Each executor
// submodule owns a 100-wide contiguous band; additions append within a
// band and bands are never reordered.
const (
	bandAction     = 0
	bandCollection = 100
	bandInterface  = 200
	bandIterator   = 300
	bandOperator   = 400
	bandPredicate  = 500
	bandControl    = 600
	bandFunction   = 700
	bandParallel   = 800

	bandWidth = 100
	maxClass  = 900
)

// Stable class ids. Never renumber; append only.
const (
	ClassCheckCancel = bandAction + 1
	ClassProjection  = bandAction + 2

	ClassRowCollection = bandCollection + 1

	ClassScanIterator      = bandIterator + 1
	ClassFilterIterator    = bandIterator + 2
	ClassSortIterator      = bandIterator + 3
	ClassJoinIterator      = bandIterator + 4
	ClassAggregateIterator = bandIterator + 5
	ClassIndexProbe        = bandIterator + 6

	ClassUpdateOperator = bandOperator + 1

	ClassComparison = bandPredicate + 1
	ClassIsNull     = bandPredicate + 2

	ClassParallelIterator = bandParallel + 1
)

// Node is anything a program can serialize: it declares a stable class id
// and its own payload encoding.
type Node interface {
	ClassID() int
	Serialize(a *Archive)
	Deserialize(r *Reader) error
}

// constructors maps a class id to its factory, band by band.
var constructors [maxClass]func() Node

func register(id int, fn func() Node) {
	if constructors[id] != nil {
		panic("duplicate class id")
	}
	constructors[id] = fn
}

func init() {
	register(ClassCheckCancel, func() Node { return &CheckCancel{} })
	register(ClassProjection, func() Node { return &Projection{} })
	register(ClassRowCollection, func() Node { return &RowCollection{} })
	register(ClassScanIterator, func() Node { return &ScanIterator{} })
	register(ClassFilterIterator, func() Node { return &FilterIterator{} })
	register(ClassSortIterator, func() Node { return &SortIterator{} })
	register(ClassJoinIterator, func() Node { return &JoinIterator{} })
	register(ClassAggregateIterator, func() Node { return &AggregateIterator{} })
	register(ClassIndexProbe, func() Node { return &IndexProbe{} })
	register(ClassUpdateOperator, func() Node { return &UpdateOperator{} })
	register(ClassComparison, func() Node { return &Comparison{} })
	register(ClassIsNull, func() Node { return &IsNull{} })
	register(ClassParallelIterator, func() Node { return &ParallelIterator{} })
}

// newNode constructs an instance for a class id read from an archive.
func newNode(id int) (Node, error) {
	if id < 0 || id >= maxClass || constructors[id] == nil {
		return nil, fault.New(fault.KindUnexpected, moduleName, "unknown class id %d", id)
	}
	return constructors[id](), nil
}
