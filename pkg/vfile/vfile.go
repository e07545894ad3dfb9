package vfile

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/cuemby/quarry/pkg/fault"
)

const moduleName = "vfile"

// PageID identifies a page within one file. Page 0 is always the header.
type PageID uint32

// InvalidPageID is the sentinel for "no page".
const InvalidPageID = PageID(^uint32(0))

const (
	magic         = uint32(0x51524646) // "QRFF"
	formatVersion = uint32(2)

	// trailerSize is the per-page checksum trailer maintained by this
	// layer. The usable body is the page size minus the trailer.
	trailerSize = 8

	headerMagicOff   = 0
	headerVersionOff = 4
	headerPgSizeOff  = 8
	headerPgCountOff = 12
)

// File is a page-structured physical file. All multi-byte integers in the
// header and trailers are little-endian. Reads verify the per-page
// checksum; writes maintain it.
type File struct {
	mu       sync.Mutex
	path     string
	pageSize int

	f         *os.File
	mounted   bool
	pageCount uint32
}

// New returns a descriptor for a physical file. The file on disk is not
// touched until Create or Open.
func New(path string, pageSize int) *File {
	return &File{path: path, pageSize: pageSize}
}

// Path returns the file's path.
func (f *File) Path() string { return f.path }

// PageSize returns the configured page size.
func (f *File) PageSize() int { return f.pageSize }

// BodySize returns the usable bytes per page.
func (f *File) BodySize() int { return f.pageSize - trailerSize }

// Create creates the file on disk with a header page. Parent directories
// are created as needed.
func (f *File) Create() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fault.Wrap(fault.KindUnexpected, moduleName, err, "failed to create directory for %s", f.path)
	}
	file, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fault.Wrap(fault.KindUnexpected, moduleName, err, "failed to create %s", f.path)
	}
	f.f = file
	f.pageCount = 1
	f.mounted = true

	header := make([]byte, f.BodySize())
	binary.LittleEndian.PutUint32(header[headerMagicOff:], magic)
	binary.LittleEndian.PutUint32(header[headerVersionOff:], formatVersion)
	binary.LittleEndian.PutUint32(header[headerPgSizeOff:], uint32(f.pageSize))
	binary.LittleEndian.PutUint32(header[headerPgCountOff:], f.pageCount)
	return f.writePageLocked(0, header)
}

// Open opens an existing file and validates its header.
func (f *File) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.f != nil {
		return nil
	}
	file, err := os.OpenFile(f.path, os.O_RDWR, 0o600)
	if err != nil {
		if os.IsNotExist(err) {
			return fault.Wrap(fault.KindNotFound, moduleName, err, "no such file %s", f.path)
		}
		return fault.Wrap(fault.KindUnexpected, moduleName, err, "failed to open %s", f.path)
	}
	f.f = file
	f.mounted = true

	header := make([]byte, f.BodySize())
	if err := f.readPageLocked(0, header); err != nil {
		file.Close()
		f.f = nil
		return err
	}
	if binary.LittleEndian.Uint32(header[headerMagicOff:]) != magic {
		file.Close()
		f.f = nil
		return fault.New(fault.KindUnexpected, moduleName, "bad magic in %s", f.path)
	}
	if ps := binary.LittleEndian.Uint32(header[headerPgSizeOff:]); int(ps) != f.pageSize {
		file.Close()
		f.f = nil
		return fault.New(fault.KindUnexpected, moduleName, "page size mismatch in %s: header %d, expected %d", f.path, ps, f.pageSize)
	}
	f.pageCount = binary.LittleEndian.Uint32(header[headerPgCountOff:])
	return nil
}

// Close closes the file descriptor. Pending data is synced first.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.f == nil {
		return nil
	}
	if err := f.syncLocked(); err != nil {
		return err
	}
	err := f.f.Close()
	f.f = nil
	f.mounted = false
	if err != nil {
		return fault.Wrap(fault.KindUnexpected, moduleName, err, "failed to close %s", f.path)
	}
	return nil
}

// Destroy removes the file from disk regardless of mount state.
func (f *File) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.f != nil {
		f.f.Close()
		f.f = nil
	}
	f.mounted = false
	f.pageCount = 0
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fault.Wrap(fault.KindUnexpected, moduleName, err, "failed to destroy %s", f.path)
	}
	return nil
}

// Mount makes the file available for page I/O. Mounting a mounted file is
// a no-op.
func (f *File) Mount() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mounted {
		return nil
	}
	if f.f == nil {
		f.mu.Unlock()
		err := f.Open()
		f.mu.Lock()
		if err != nil {
			return err
		}
	}
	f.mounted = true
	return nil
}

// Unmount syncs and detaches the file. Unmounting an unmounted file is a
// no-op.
func (f *File) Unmount() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.mounted {
		return nil
	}
	if err := f.syncLocked(); err != nil {
		return err
	}
	f.mounted = false
	return nil
}

// IsMounted reports whether the file is mounted.
func (f *File) IsMounted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mounted
}

// IsAccessible reports whether the file exists on disk.
func (f *File) IsAccessible() bool {
	if _, err := os.Stat(f.path); err != nil {
		return false
	}
	return true
}

// Allocate appends a fresh page and returns its id.
func (f *File) Allocate() (PageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureMountedLocked(); err != nil {
		return InvalidPageID, err
	}
	id := PageID(f.pageCount)
	f.pageCount++
	zero := make([]byte, f.BodySize())
	if err := f.writePageLocked(id, zero); err != nil {
		f.pageCount--
		return InvalidPageID, err
	}
	if err := f.persistPageCountLocked(); err != nil {
		return InvalidPageID, err
	}
	return id, nil
}

// PageCount returns the number of pages including the header.
func (f *File) PageCount() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageCount
}

// ReadPage reads the body of the given page into buf, verifying the
// checksum trailer. len(buf) must be BodySize.
func (f *File) ReadPage(id PageID, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureMountedLocked(); err != nil {
		return err
	}
	return f.readPageLocked(id, buf)
}

// WritePage writes the body of the given page, maintaining the checksum
// trailer. len(buf) must be BodySize.
func (f *File) WritePage(id PageID, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureMountedLocked(); err != nil {
		return err
	}
	return f.writePageLocked(id, buf)
}

// Sync forces written pages to stable storage.
func (f *File) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncLocked()
}

// Verify checks the checksum of every page.
func (f *File) Verify() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureMountedLocked(); err != nil {
		return err
	}
	buf := make([]byte, f.BodySize())
	for id := uint32(0); id < f.pageCount; id++ {
		if err := f.readPageLocked(PageID(id), buf); err != nil {
			return err
		}
	}
	return nil
}

// Move renames the file on disk.
func (f *File) Move(newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.f != nil {
		if err := f.syncLocked(); err != nil {
			return err
		}
		f.f.Close()
		f.f = nil
	}
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return fault.Wrap(fault.KindUnexpected, moduleName, err, "failed to create directory for %s", newPath)
	}
	if err := os.Rename(f.path, newPath); err != nil {
		return fault.Wrap(fault.KindUnexpected, moduleName, err, "failed to move %s to %s", f.path, newPath)
	}
	f.path = newPath
	if f.mounted {
		file, err := os.OpenFile(f.path, os.O_RDWR, 0o600)
		if err != nil {
			f.mounted = false
			return fault.Wrap(fault.KindUnexpected, moduleName, err, "failed to reopen %s", f.path)
		}
		f.f = file
	}
	return nil
}

// Size returns the on-disk size in bytes.
func (f *File) Size() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(f.pageCount) * int64(f.pageSize)
}

func (f *File) ensureMountedLocked() error {
	if f.f == nil || !f.mounted {
		return fault.New(fault.KindUnavailable, moduleName, "%s is not mounted", f.path)
	}
	return nil
}

func (f *File) readPageLocked(id PageID, buf []byte) error {
	if len(buf) != f.BodySize() {
		return fault.New(fault.KindBadArgument, moduleName, "page buffer must be %d bytes, got %d", f.BodySize(), len(buf))
	}
	page := make([]byte, f.pageSize)
	if _, err := f.f.ReadAt(page, int64(id)*int64(f.pageSize)); err != nil {
		return fault.Wrap(fault.KindUnexpected, moduleName, err, "failed to read page %d of %s", id, f.path)
	}
	body := page[:f.BodySize()]
	want := binary.LittleEndian.Uint64(page[f.BodySize():])
	if got := xxhash.Sum64(body); got != want {
		return fault.New(fault.KindUnexpected, moduleName, "checksum mismatch on page %d of %s", id, f.path)
	}
	copy(buf, body)
	return nil
}

func (f *File) writePageLocked(id PageID, buf []byte) error {
	if len(buf) != f.BodySize() {
		return fault.New(fault.KindBadArgument, moduleName, "page buffer must be %d bytes, got %d", f.BodySize(), len(buf))
	}
	page := make([]byte, f.pageSize)
	copy(page, buf)
	binary.LittleEndian.PutUint64(page[f.BodySize():], xxhash.Sum64(buf))
	if _, err := f.f.WriteAt(page, int64(id)*int64(f.pageSize)); err != nil {
		return fault.Wrap(fault.KindUnexpected, moduleName, err, "failed to write page %d of %s", id, f.path)
	}
	return nil
}

func (f *File) persistPageCountLocked() error {
	header := make([]byte, f.BodySize())
	if err := f.readPageLocked(0, header); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(header[headerPgCountOff:], f.pageCount)
	return f.writePageLocked(0, header)
}

func (f *File) syncLocked() error {
	if f.f == nil {
		return nil
	}
	if err := fdatasync(f.f); err != nil {
		return fault.Wrap(fault.KindUnexpected, moduleName, err, "failed to sync %s", f.path)
	}
	return nil
}
