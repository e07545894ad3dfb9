package vector

import (
	"encoding/binary"
	"math"

	"github.com/cuemby/quarry/pkg/btree"
	"github.com/cuemby/quarry/pkg/buffer"
	"github.com/cuemby/quarry/pkg/fault"
	"github.com/cuemby/quarry/pkg/schema"
	"github.com/cuemby/quarry/pkg/vfile"
)

const moduleName = "vector"

func floatBits(f float64) uint64 { return math.Float64bits(f) }
func floatFrom(b uint64) float64 { return math.Float64frombits(b) }

// File is the vector driver: fixed-size records addressed directly by
// row id. Each page holds a presence bitmap followed by record slots, so
// a lookup is one page computation away from its record; there is no
// tree to descend. Fields are packed little-endian with a per-record
// NULL bitmap, matching the entry layout of the other drivers.
type File struct {
	phys *vfile.File
	pool *buffer.Pool

	types      []schema.FieldType
	recordSize int
	perPage    int
	bitmapSize int
}

// headerPageID is the driver header: record count. Page 0 belongs to the
// physical layer.
const headerPageID = vfile.PageID(1)

// NewFile describes a vector file over fixed-size fields. Variable
// length types are not accepted; the driver's addressing depends on a
// constant record size.
func NewFile(path string, pageSize int, pool *buffer.Pool, types []schema.FieldType) (*File, error) {
	size := 4 // null bitmap word
	for _, t := range types {
		switch t {
		case schema.FieldInt32, schema.FieldUint32:
			size += 4
		case schema.FieldInt64, schema.FieldFloat64:
			size += 8
		default:
			return nil, fault.New(fault.KindBadArgument, moduleName, "vector fields must be fixed size")
		}
	}

	f := &File{
		phys:       vfile.New(path, pageSize),
		pool:       pool,
		types:      types,
		recordSize: size,
	}
	body := f.phys.BodySize()
	// Solve slots + bitmap <= body with one bitmap bit per slot.
	f.perPage = (body * 8) / (size*8 + 1)
	f.bitmapSize = (f.perPage + 7) / 8
	for f.bitmapSize+f.perPage*size > body {
		f.perPage--
		f.bitmapSize = (f.perPage + 7) / 8
	}
	if f.perPage < 1 {
		return nil, fault.New(fault.KindBadArgument, moduleName, "record size %d does not fit a page", size)
	}
	return f, nil
}

// Physical exposes the backing file for composite-file assembly.
func (f *File) Physical() *vfile.File { return f.phys }

// Create creates the file with its header page.
func (f *File) Create() error {
	if err := f.phys.Create(); err != nil {
		return err
	}
	id, err := f.phys.Allocate()
	if err != nil {
		return err
	}
	if id != headerPageID {
		return fault.New(fault.KindUnexpected, moduleName, "header page allocated at %d", id)
	}
	return nil
}

// Open opens an existing file.
func (f *File) Open() error { return f.phys.Open() }

// Close flushes and closes the file.
func (f *File) Close() error {
	if _, err := f.pool.FlushAll(f.phys); err != nil {
		return err
	}
	return f.phys.Close()
}

// Destroy removes the file.
func (f *File) Destroy() error {
	f.pool.Discard(f.phys)
	return f.phys.Destroy()
}

// Count returns the live record count from the header page.
func (f *File) Count() (uint64, error) {
	mem, err := f.pool.Fix(f.phys, headerPageID, buffer.ReadOnly)
	if err != nil {
		return 0, err
	}
	defer mem.Unfix(false, true)
	return binary.LittleEndian.Uint64(mem.Body()), nil
}

func (f *File) locate(rowID uint32) (vfile.PageID, int) {
	page := vfile.PageID(uint32(headerPageID) + 1 + rowID/uint32(f.perPage))
	slot := int(rowID % uint32(f.perPage))
	return page, slot
}

// Put stores a record under its row id, extending the file as needed.
// Overwriting an existing record is allowed.
func (f *File) Put(rowID uint32, vals []btree.Value) error {
	if len(vals) < len(f.types) {
		return fault.New(fault.KindBadArgument, moduleName, "record has %d fields, file declares %d", len(vals), len(f.types))
	}
	page, slot := f.locate(rowID)
	for f.phys.PageCount() <= uint32(page) {
		if _, err := f.phys.Allocate(); err != nil {
			return err
		}
	}

	mem, err := f.pool.Fix(f.phys, page, buffer.Write)
	if err != nil {
		return err
	}
	body, err := mem.WritableBody()
	if err != nil {
		mem.Unfix(false, true)
		return err
	}

	fresh := body[slot/8]&(1<<uint(slot%8)) == 0
	body[slot/8] |= 1 << uint(slot%8)

	off := f.bitmapSize + slot*f.recordSize
	var bitmap uint32
	for i := range f.types {
		if vals[i].Null {
			bitmap |= 1 << uint(i)
		}
	}
	binary.LittleEndian.PutUint32(body[off:], bitmap)
	fieldOff := off + 4
	for i, t := range f.types {
		switch t {
		case schema.FieldInt32, schema.FieldUint32:
			if !vals[i].Null {
				binary.LittleEndian.PutUint32(body[fieldOff:], uint32(vals[i].Int))
			}
			fieldOff += 4
		case schema.FieldInt64:
			if !vals[i].Null {
				binary.LittleEndian.PutUint64(body[fieldOff:], uint64(vals[i].Int))
			}
			fieldOff += 8
		case schema.FieldFloat64:
			if !vals[i].Null {
				binary.LittleEndian.PutUint64(body[fieldOff:], floatBits(vals[i].Float))
			}
			fieldOff += 8
		}
	}
	if err := mem.Unfix(true, true); err != nil {
		return err
	}
	if fresh {
		return f.bumpCount(1)
	}
	return nil
}

// Get reads a record; ok is false when the slot holds nothing.
func (f *File) Get(rowID uint32) ([]btree.Value, bool, error) {
	page, slot := f.locate(rowID)
	if f.phys.PageCount() <= uint32(page) {
		return nil, false, nil
	}

	mem, err := f.pool.Fix(f.phys, page, buffer.ReadOnly)
	if err != nil {
		return nil, false, err
	}
	defer mem.Unfix(false, true)
	body := mem.Body()

	if body[slot/8]&(1<<uint(slot%8)) == 0 {
		return nil, false, nil
	}

	off := f.bitmapSize + slot*f.recordSize
	bitmap := binary.LittleEndian.Uint32(body[off:])
	fieldOff := off + 4
	vals := make([]btree.Value, len(f.types))
	for i, t := range f.types {
		vals[i].Type = t
		if bitmap&(1<<uint(i)) != 0 {
			vals[i].Null = true
		}
		switch t {
		case schema.FieldInt32:
			if !vals[i].Null {
				vals[i].Int = int64(int32(binary.LittleEndian.Uint32(body[fieldOff:])))
			}
			fieldOff += 4
		case schema.FieldUint32:
			if !vals[i].Null {
				vals[i].Int = int64(binary.LittleEndian.Uint32(body[fieldOff:]))
			}
			fieldOff += 4
		case schema.FieldInt64:
			if !vals[i].Null {
				vals[i].Int = int64(binary.LittleEndian.Uint64(body[fieldOff:]))
			}
			fieldOff += 8
		case schema.FieldFloat64:
			if !vals[i].Null {
				vals[i].Float = floatFrom(binary.LittleEndian.Uint64(body[fieldOff:]))
			}
			fieldOff += 8
		}
	}
	return vals, true, nil
}

// Delete clears a record's slot. It reports whether a record was there.
func (f *File) Delete(rowID uint32) (bool, error) {
	page, slot := f.locate(rowID)
	if f.phys.PageCount() <= uint32(page) {
		return false, nil
	}

	mem, err := f.pool.Fix(f.phys, page, buffer.Write)
	if err != nil {
		return false, err
	}
	body, err := mem.WritableBody()
	if err != nil {
		mem.Unfix(false, true)
		return false, err
	}
	present := body[slot/8]&(1<<uint(slot%8)) != 0
	if !present {
		return false, mem.Unfix(false, true)
	}
	body[slot/8] &^= 1 << uint(slot%8)
	if err := mem.Unfix(true, true); err != nil {
		return false, err
	}
	return true, f.bumpCount(-1)
}

// Scan walks live records in row-id order.
func (f *File) Scan(fn func(rowID uint32, vals []btree.Value) bool) error {
	pages := f.phys.PageCount()
	for page := uint32(headerPageID) + 1; page < pages; page++ {
		base := (page - uint32(headerPageID) - 1) * uint32(f.perPage)
		for slot := 0; slot < f.perPage; slot++ {
			rowID := base + uint32(slot)
			vals, ok, err := f.Get(rowID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if !fn(rowID, vals) {
				return nil
			}
		}
	}
	return nil
}

func (f *File) bumpCount(delta int64) error {
	mem, err := f.pool.Fix(f.phys, headerPageID, buffer.Write)
	if err != nil {
		return err
	}
	body, err := mem.WritableBody()
	if err != nil {
		mem.Unfix(false, true)
		return err
	}
	count := int64(binary.LittleEndian.Uint64(body))
	count += delta
	if count < 0 {
		count = 0
	}
	binary.LittleEndian.PutUint64(body, uint64(count))
	return mem.Unfix(true, true)
}
