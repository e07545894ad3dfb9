package arridx

import (
	"github.com/cuemby/quarry/pkg/btree"
	"github.com/cuemby/quarry/pkg/buffer"
	"github.com/cuemby/quarry/pkg/schema"
)

// The array index stores one entry per array element. Its header page
// owns three trees: element values with their row ids, null elements by
// row id, and rows whose whole array is null.
const (
	treeData = iota
	treeNullData
	treeNullArray
)

// File is the array index driver.
type File struct {
	data      *btree.File
	nullData  *btree.File
	nullArray *btree.File
}

// NewFile describes an array index over elements of the given type.
func NewFile(path string, pageSize int, pool *buffer.Pool, elem schema.FieldType) *File {
	dataCmp := btree.NewCompare([]schema.FieldType{elem, schema.FieldUint32}, false, true)
	rowCmp := btree.NewCompare([]schema.FieldType{schema.FieldUint32}, true, false)

	data := btree.NewFile(path, pageSize, pool, dataCmp, 1)
	return &File{
		data:      data,
		nullData:  data.View(treeNullData, rowCmp, 1),
		nullArray: data.View(treeNullArray, rowCmp, 1),
	}
}

// Create creates the index file.
func (f *File) Create() error { return f.data.Create() }

// Open opens an existing index file.
func (f *File) Open() error { return f.data.Open() }

// Close flushes and closes the index file.
func (f *File) Close() error { return f.data.Close() }

// Destroy removes the index file.
func (f *File) Destroy() error { return f.data.Destroy() }

// TupleCount returns the global tuple count maintained on the header
// page: one per entry across the three trees.
func (f *File) TupleCount() uint64 { return f.data.Count() }

// Insert indexes one row's array. A nil values slice records a null
// array; null elements land in the null-data tree.
func (f *File) Insert(rowID uint32, elems []btree.Value) error {
	if elems == nil {
		return f.nullArray.Insert([]btree.Value{btree.IntValue(schema.FieldUint32, int64(rowID))})
	}
	row := btree.IntValue(schema.FieldUint32, int64(rowID))
	nullSeen := false
	for _, e := range elems {
		if e.Null {
			if !nullSeen {
				// One null-data entry per row, however many null
				// elements the array holds.
				if err := f.nullData.Insert([]btree.Value{row}); err != nil {
					return err
				}
				nullSeen = true
			}
			continue
		}
		if err := f.data.Insert([]btree.Value{e, row}); err != nil {
			return err
		}
	}
	return nil
}

// Remove drops one row's entries.
func (f *File) Remove(rowID uint32, elems []btree.Value) error {
	row := btree.IntValue(schema.FieldUint32, int64(rowID))
	if elems == nil {
		_, err := f.nullArray.Delete([]btree.Value{row})
		return err
	}
	nullSeen := false
	for _, e := range elems {
		if e.Null {
			if !nullSeen {
				if _, err := f.nullData.Delete([]btree.Value{row}); err != nil {
					return err
				}
				nullSeen = true
			}
			continue
		}
		if _, err := f.data.Delete([]btree.Value{e, row}); err != nil {
			return err
		}
	}
	return nil
}

// SearchValue reports whether any row's array contains the element.
func (f *File) SearchValue(elem btree.Value) (bool, error) {
	return f.data.Search([]btree.Value{elem, {}})
}

// ScanValue walks (element, rowID) pairs in element order.
func (f *File) ScanValue(fn func(elem btree.Value, rowID uint32) bool) error {
	return f.data.Scan(nil, func(vals []btree.Value) bool {
		return fn(vals[0], uint32(vals[1].Int))
	})
}

// NullRows walks rows that contain a null element.
func (f *File) NullRows(fn func(rowID uint32) bool) error {
	return f.nullData.Scan(nil, func(vals []btree.Value) bool {
		return fn(uint32(vals[0].Int))
	})
}

// NullArrayRows walks rows whose whole array is null.
func (f *File) NullArrayRows(fn func(rowID uint32) bool) error {
	return f.nullArray.Scan(nil, func(vals []btree.Value) bool {
		return fn(uint32(vals[0].Int))
	})
}

// Verify checks all three trees.
func (f *File) Verify() error {
	if err := f.data.Verify(); err != nil {
		return err
	}
	if err := f.nullData.Verify(); err != nil {
		return err
	}
	return f.nullArray.Verify()
}
