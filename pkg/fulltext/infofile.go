package fulltext

import (
	"encoding/binary"

	"github.com/cuemby/quarry/pkg/buffer"
	"github.com/cuemby/quarry/pkg/fault"
	"github.com/cuemby/quarry/pkg/vfile"
)

// InfoFile is the full-text driver's state page: which of the two index
// sides is current (index) and whether a merge is in progress
// (proceeding). The page carries a versioned header; EndMerge flips the
// current side when a merge completes.
type InfoFile struct {
	phys *vfile.File
	pool *buffer.Pool

	loaded     bool
	index      uint32
	proceeding uint32
}

const (
	infoVersion = uint32(2)

	infoPageID = vfile.PageID(1)

	infoVersionOff    = 0
	infoIndexOff      = 4
	infoProceedingOff = 8
)

// NewInfoFile describes the state file.
func NewInfoFile(path string, pageSize int, pool *buffer.Pool) *InfoFile {
	return &InfoFile{phys: vfile.New(path, pageSize), pool: pool}
}

// Physical exposes the backing file for composite-file assembly.
func (f *InfoFile) Physical() *vfile.File { return f.phys }

// Create creates the state file with side 0 current and no merge
// proceeding.
func (f *InfoFile) Create() error {
	if err := f.phys.Create(); err != nil {
		return err
	}
	id, err := f.phys.Allocate()
	if err != nil {
		return err
	}
	if id != infoPageID {
		return fault.New(fault.KindUnexpected, moduleName, "info page allocated at %d", id)
	}
	f.index = 0
	f.proceeding = 0
	f.loaded = true
	return f.store()
}

// Open opens an existing state file.
func (f *InfoFile) Open() error {
	if err := f.phys.Open(); err != nil {
		return err
	}
	return f.load()
}

// Close flushes and closes the state file.
func (f *InfoFile) Close() error {
	if _, err := f.pool.FlushAll(f.phys); err != nil {
		return err
	}
	return f.phys.Close()
}

// Destroy removes the state file.
func (f *InfoFile) Destroy() error {
	f.pool.Discard(f.phys)
	f.loaded = false
	return f.phys.Destroy()
}

// Index returns the current side (0 or 1).
func (f *InfoFile) Index() uint32 { return f.index }

// IsProceeding reports whether a merge was in progress.
func (f *InfoFile) IsProceeding() bool { return f.proceeding != 0 }

// StartMerge marks a merge as proceeding and persists the mark, so a
// crash mid-merge is visible at recovery.
func (f *InfoFile) StartMerge() error {
	f.proceeding = 1
	return f.store()
}

// EndMerge flips the current side and clears the proceeding mark in one
// page write.
func (f *InfoFile) EndMerge() error {
	f.index ^= 1
	f.proceeding = 0
	return f.store()
}

func (f *InfoFile) load() error {
	mem, err := f.pool.Fix(f.phys, infoPageID, buffer.ReadOnly)
	if err != nil {
		return err
	}
	defer mem.Unfix(false, true)
	body := mem.Body()
	if binary.LittleEndian.Uint32(body[infoVersionOff:]) != infoVersion {
		return fault.New(fault.KindUnexpected, moduleName, "bad info header version in %s", f.phys.Path())
	}
	f.index = binary.LittleEndian.Uint32(body[infoIndexOff:])
	f.proceeding = binary.LittleEndian.Uint32(body[infoProceedingOff:])
	f.loaded = true
	return nil
}

func (f *InfoFile) store() error {
	mem, err := f.pool.Fix(f.phys, infoPageID, buffer.Write)
	if err != nil {
		return err
	}
	body, err := mem.WritableBody()
	if err != nil {
		mem.Unfix(false, true)
		return err
	}
	binary.LittleEndian.PutUint32(body[infoVersionOff:], infoVersion)
	binary.LittleEndian.PutUint32(body[infoIndexOff:], f.index)
	binary.LittleEndian.PutUint32(body[infoProceedingOff:], f.proceeding)
	return mem.Unfix(true, false)
}
