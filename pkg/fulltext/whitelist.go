package fulltext

import "github.com/bits-and-blooms/bitset"

// WhiteList is a set of permitted document ids. Its iterator view behaves
// as if UndefinedDocID were appended as a final sentinel element, which
// guarantees termination of the filtering loops below.
type WhiteList struct {
	bits *bitset.BitSet
}

// NewWhiteList builds a white list from the given ids.
func NewWhiteList(ids ...DocID) *WhiteList {
	w := &WhiteList{bits: bitset.New(64)}
	for _, id := range ids {
		w.Add(id)
	}
	return w
}

// Add inserts a document id.
func (w *WhiteList) Add(id DocID) {
	w.bits.Set(uint(id))
}

// Contains reports membership. The sentinel is a member by construction.
func (w *WhiteList) Contains(id DocID) bool {
	if id == UndefinedDocID {
		return true
	}
	return w.bits.Test(uint(id))
}

// lowerBound returns the first member >= id, or the sentinel.
func (w *WhiteList) lowerBound(id DocID) DocID {
	if id == UndefinedDocID {
		return UndefinedDocID
	}
	if i, ok := w.bits.NextSet(uint(id)); ok {
		return DocID(i)
	}
	return UndefinedDocID
}

// WhiteListIterator intersects an inverted-list iterator with a white
// list: it yields exactly the documents of the underlying list that are
// members of the set, in ascending order.
type WhiteListIterator struct {
	inner ListIterator
	white *WhiteList

	// setPos is the white list's cursor once lowerBound has positioned
	// it; currentID tracks the last result so a backward seek resets.
	setPos    DocID
	currentID DocID
	started   bool
}

// NewWhiteListIterator wraps an inverted-list iterator.
func NewWhiteListIterator(inner ListIterator, white *WhiteList) *WhiteListIterator {
	return &WhiteListIterator{inner: inner, white: white}
}

// Find positions on the exact document without consulting the white
// list: the surrounding word-boundary probe only runs after a hit, so
// set filtering has already happened upstream.
func (it *WhiteListIterator) Find(id DocID) bool {
	return it.inner.Find(id)
}

// LowerBound advances to the first white-listed document >= id. The list
// side and the set side take turns advancing; each pass strictly moves
// one of them, so the loop terminates.
func (it *WhiteListIterator) LowerBound(id DocID) DocID {
	if id < it.currentID {
		// Seeking backwards; restart the set cursor.
		it.currentID = 0
		it.started = false
	}

	for id != UndefinedDocID {
		id = it.inner.LowerBound(id)
		if id == UndefinedDocID {
			break
		}

		if !it.started {
			it.setPos = it.white.lowerBound(id)
			it.started = true
		} else {
			for it.setPos < id {
				it.setPos = it.white.lowerBound(it.setPos + 1)
			}
		}

		if it.setPos > id {
			// The set skipped past the list position; probe the list
			// again from the set side.
			id = it.setPos
			it.currentID = id
			continue
		}
		break
	}

	it.currentID = id
	return id
}

// Next steps the list forward, skipping documents outside the white
// list. The sentinel as the set's last element guarantees termination
// once the list is exhausted.
func (it *WhiteListIterator) Next() DocID {
	for {
		id := it.inner.Next()
		if it.white.Contains(id) {
			it.currentID = id
			return id
		}
	}
}

// Reset rewinds both sides.
func (it *WhiteListIterator) Reset() {
	it.inner.Reset()
	it.setPos = 0
	it.currentID = 0
	it.started = false
}
