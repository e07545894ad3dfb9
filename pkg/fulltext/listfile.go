package fulltext

import (
	"encoding/binary"

	"github.com/cuemby/quarry/pkg/buffer"
	"github.com/cuemby/quarry/pkg/fault"
	"github.com/cuemby/quarry/pkg/vfile"
)

const moduleName = "fulltext"

// ListFile stores posting lists page by page: ascending document ids
// packed as little-endian u32 words. Page 1 is the directory mapping a
// list id to its first page; list pages chain through a next pointer.
//
// Page layouts:
//
//	directory: u32 count, then (u32 listID, u32 firstPage) pairs
//	list page: u32 next, u32 count, then count u32 doc ids
type ListFile struct {
	phys *vfile.File
	pool *buffer.Pool
}

const (
	dirPageID = vfile.PageID(1)

	listNextOff  = 0
	listCountOff = 4
	listDataOff  = 8
)

// NewListFile describes a posting-list file.
func NewListFile(path string, pageSize int, pool *buffer.Pool) *ListFile {
	return &ListFile{phys: vfile.New(path, pageSize), pool: pool}
}

// Physical exposes the backing file for composite-file assembly.
func (lf *ListFile) Physical() *vfile.File { return lf.phys }

// Create creates the file with an empty directory.
func (lf *ListFile) Create() error {
	if err := lf.phys.Create(); err != nil {
		return err
	}
	id, err := lf.phys.Allocate()
	if err != nil {
		return err
	}
	if id != dirPageID {
		return fault.New(fault.KindUnexpected, moduleName, "directory page allocated at %d", id)
	}
	return nil
}

// Open opens an existing file.
func (lf *ListFile) Open() error { return lf.phys.Open() }

// Close flushes and closes the file.
func (lf *ListFile) Close() error {
	if _, err := lf.pool.FlushAll(lf.phys); err != nil {
		return err
	}
	return lf.phys.Close()
}

// Destroy removes the file.
func (lf *ListFile) Destroy() error {
	lf.pool.Discard(lf.phys)
	return lf.phys.Destroy()
}

func (lf *ListFile) idsPerPage() int {
	return (lf.phys.BodySize() - listDataOff) / 4
}

// Append writes ids (ascending, greater than anything already stored for
// the list) to the end of the list, allocating pages as needed. The
// merger uses this to fold the insert buffer in.
func (lf *ListFile) Append(listID uint32, ids []DocID) error {
	if len(ids) == 0 {
		return nil
	}
	first, err := lf.firstPage(listID)
	if err != nil {
		return err
	}
	if first == vfile.InvalidPageID {
		first, err = lf.phys.Allocate()
		if err != nil {
			return err
		}
		if err := lf.initListPage(first); err != nil {
			return err
		}
		if err := lf.setFirstPage(listID, first); err != nil {
			return err
		}
	}

	// Walk to the tail page.
	tail := first
	for {
		next, _, err := lf.pageHeader(tail)
		if err != nil {
			return err
		}
		if next == vfile.InvalidPageID {
			break
		}
		tail = next
	}

	for len(ids) > 0 {
		mem, err := lf.pool.Fix(lf.phys, tail, buffer.Write)
		if err != nil {
			return err
		}
		body, err := mem.WritableBody()
		if err != nil {
			mem.Unfix(false, true)
			return err
		}
		count := int(binary.LittleEndian.Uint32(body[listCountOff:]))
		room := lf.idsPerPage() - count
		n := len(ids)
		if n > room {
			n = room
		}
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(body[listDataOff+(count+i)*4:], uint32(ids[i]))
		}
		binary.LittleEndian.PutUint32(body[listCountOff:], uint32(count+n))
		ids = ids[n:]

		if len(ids) > 0 {
			next, err := lf.phys.Allocate()
			if err != nil {
				mem.Unfix(false, true)
				return err
			}
			if err := lf.initListPage(next); err != nil {
				mem.Unfix(false, true)
				return err
			}
			binary.LittleEndian.PutUint32(body[listNextOff:], uint32(next))
			tail = next
		}
		if err := mem.Unfix(true, true); err != nil {
			return err
		}
	}
	return nil
}

// Iterator returns a ListIterator over one stored list.
func (lf *ListFile) Iterator(listID uint32) (*FileListIterator, error) {
	first, err := lf.firstPage(listID)
	if err != nil {
		return nil, err
	}
	return &FileListIterator{lf: lf, first: first, page: first, idx: -1}, nil
}

func (lf *ListFile) initListPage(id vfile.PageID) error {
	mem, err := lf.pool.Fix(lf.phys, id, buffer.Allocate)
	if err != nil {
		return err
	}
	body, err := mem.WritableBody()
	if err != nil {
		mem.Unfix(false, true)
		return err
	}
	binary.LittleEndian.PutUint32(body[listNextOff:], uint32(vfile.InvalidPageID))
	binary.LittleEndian.PutUint32(body[listCountOff:], 0)
	return mem.Unfix(true, true)
}

func (lf *ListFile) pageHeader(id vfile.PageID) (vfile.PageID, int, error) {
	mem, err := lf.pool.Fix(lf.phys, id, buffer.ReadOnly)
	if err != nil {
		return vfile.InvalidPageID, 0, err
	}
	defer mem.Unfix(false, true)
	body := mem.Body()
	next := vfile.PageID(binary.LittleEndian.Uint32(body[listNextOff:]))
	count := int(binary.LittleEndian.Uint32(body[listCountOff:]))
	return next, count, nil
}

func (lf *ListFile) firstPage(listID uint32) (vfile.PageID, error) {
	mem, err := lf.pool.Fix(lf.phys, dirPageID, buffer.ReadOnly)
	if err != nil {
		return vfile.InvalidPageID, err
	}
	defer mem.Unfix(false, true)
	body := mem.Body()
	count := int(binary.LittleEndian.Uint32(body))
	for i := 0; i < count; i++ {
		off := 4 + i*8
		if binary.LittleEndian.Uint32(body[off:]) == listID {
			return vfile.PageID(binary.LittleEndian.Uint32(body[off+4:])), nil
		}
	}
	return vfile.InvalidPageID, nil
}

func (lf *ListFile) setFirstPage(listID uint32, first vfile.PageID) error {
	mem, err := lf.pool.Fix(lf.phys, dirPageID, buffer.Write)
	if err != nil {
		return err
	}
	body, err := mem.WritableBody()
	if err != nil {
		mem.Unfix(false, true)
		return err
	}
	count := int(binary.LittleEndian.Uint32(body))
	off := 4 + count*8
	if off+8 > len(body) {
		mem.Unfix(false, true)
		return fault.New(fault.KindMemoryExhaust, moduleName, "list directory full at %d lists", count)
	}
	binary.LittleEndian.PutUint32(body[off:], listID)
	binary.LittleEndian.PutUint32(body[off+4:], uint32(first))
	binary.LittleEndian.PutUint32(body, uint32(count+1))
	return mem.Unfix(true, true)
}

// FileListIterator walks one page-backed posting list.
type FileListIterator struct {
	lf    *ListFile
	first vfile.PageID
	page  vfile.PageID
	idx   int

	// cache of the current page
	cached vfile.PageID
	ids    []DocID
	next   vfile.PageID
}

func (it *FileListIterator) load(id vfile.PageID) error {
	if it.cached == id && it.ids != nil {
		return nil
	}
	mem, err := it.lf.pool.Fix(it.lf.phys, id, buffer.ReadOnly)
	if err != nil {
		return err
	}
	defer mem.Unfix(false, true)
	body := mem.Body()
	count := int(binary.LittleEndian.Uint32(body[listCountOff:]))
	it.ids = make([]DocID, count)
	for i := 0; i < count; i++ {
		it.ids[i] = DocID(binary.LittleEndian.Uint32(body[listDataOff+i*4:]))
	}
	it.next = vfile.PageID(binary.LittleEndian.Uint32(body[listNextOff:]))
	it.cached = id
	return nil
}

func (it *FileListIterator) Find(id DocID) bool {
	pos := it.page
	if pos == vfile.InvalidPageID {
		return false
	}
	save := it.page
	saveIdx := it.idx
	if got := it.LowerBound(id); got == id {
		return true
	}
	it.page, it.idx = save, saveIdx
	return false
}

func (it *FileListIterator) LowerBound(id DocID) DocID {
	page := it.first
	for page != vfile.InvalidPageID {
		if err := it.load(page); err != nil {
			return UndefinedDocID
		}
		for i, did := range it.ids {
			if did >= id {
				it.page = page
				it.idx = i
				return did
			}
		}
		page = it.next
	}
	it.page = vfile.InvalidPageID
	return UndefinedDocID
}

func (it *FileListIterator) Next() DocID {
	if it.page == vfile.InvalidPageID {
		return UndefinedDocID
	}
	if err := it.load(it.page); err != nil {
		return UndefinedDocID
	}
	it.idx++
	for it.idx >= len(it.ids) {
		if it.next == vfile.InvalidPageID {
			it.page = vfile.InvalidPageID
			return UndefinedDocID
		}
		it.page = it.next
		if err := it.load(it.page); err != nil {
			return UndefinedDocID
		}
		it.idx = 0
		break
	}
	return it.ids[it.idx]
}

func (it *FileListIterator) Reset() {
	it.page = it.first
	it.idx = -1
}
