package btree

import (
	"encoding/binary"
	"math"

	"github.com/cuemby/quarry/pkg/vfile"
)

// TreeHeader is the per-tree metadata kept at the top of an index's
// header page. It is dumped and restored by raw field copy, with no
// dispatch bits, so on-disk images stay portable across word sizes. Its
// encoded size is a multiple of 4 bytes.
type TreeHeader struct {
	Root          vfile.PageID
	LeftmostLeaf  vfile.PageID
	RightmostLeaf vfile.PageID
	EntryCount    uint32
	// StepCount is the tree depth, maintained on splits.
	StepCount uint32
}

// TreeHeaderSize is the encoded size of one TreeHeader: five 4-byte
// fields, keeping the image a multiple of 4.
const TreeHeaderSize = 20

// Dump writes the header into buf.
func (h *TreeHeader) Dump(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(h.Root))
	binary.LittleEndian.PutUint32(buf[4:], uint32(h.LeftmostLeaf))
	binary.LittleEndian.PutUint32(buf[8:], uint32(h.RightmostLeaf))
	binary.LittleEndian.PutUint32(buf[12:], h.EntryCount)
	binary.LittleEndian.PutUint32(buf[16:], h.StepCount)
}

// Restore reads the header back from buf.
func (h *TreeHeader) Restore(buf []byte) {
	h.Root = vfile.PageID(binary.LittleEndian.Uint32(buf[0:]))
	h.LeftmostLeaf = vfile.PageID(binary.LittleEndian.Uint32(buf[4:]))
	h.RightmostLeaf = vfile.PageID(binary.LittleEndian.Uint32(buf[8:]))
	h.EntryCount = binary.LittleEndian.Uint32(buf[12:])
	h.StepCount = binary.LittleEndian.Uint32(buf[16:])
}

// Reset points the header at no tree.
func (h *TreeHeader) Reset() {
	h.Root = vfile.InvalidPageID
	h.LeftmostLeaf = vfile.InvalidPageID
	h.RightmostLeaf = vfile.InvalidPageID
	h.EntryCount = 0
	h.StepCount = 0
}

// maxTrees is the number of tree slots a header page owns; the array
// driver uses all three (data, null-data, null-array).
const maxTrees = 3

// HeaderPage is the driver header living on page 1 of an index file: up
// to three TreeHeaders plus the global tuple count.
type HeaderPage struct {
	Trees      [maxTrees]TreeHeader
	TupleCount uint64
}

const headerPageSize = maxTrees*20 + 8

// NewHeaderPage returns a header with every tree slot reset.
func NewHeaderPage() *HeaderPage {
	hp := &HeaderPage{}
	for i := range hp.Trees {
		hp.Trees[i].Reset()
	}
	return hp
}

// Dump writes the header page payload into buf.
func (hp *HeaderPage) Dump(buf []byte) {
	off := 0
	for i := range hp.Trees {
		hp.Trees[i].Dump(buf[off:])
		off += 20
	}
	binary.LittleEndian.PutUint64(buf[off:], hp.TupleCount)
}

// Restore reads the header page payload back from buf.
func (hp *HeaderPage) Restore(buf []byte) {
	off := 0
	for i := range hp.Trees {
		hp.Trees[i].Restore(buf[off:])
		off += 20
	}
	hp.TupleCount = binary.LittleEndian.Uint64(buf[off:])
}

// AddTuple adjusts the global tuple count.
func (hp *HeaderPage) AddTuple(delta int) {
	if delta < 0 && hp.TupleCount < uint64(-delta) {
		hp.TupleCount = 0
		return
	}
	if delta < 0 {
		hp.TupleCount -= uint64(-delta)
	} else if hp.TupleCount <= math.MaxUint64-uint64(delta) {
		hp.TupleCount += uint64(delta)
	}
}
