package sequence

import (
	"encoding/binary"

	"github.com/cuemby/quarry/pkg/buffer"
	"github.com/cuemby/quarry/pkg/fault"
	"github.com/cuemby/quarry/pkg/metrics"
	"github.com/cuemby/quarry/pkg/syncutil"
	"github.com/cuemby/quarry/pkg/vfile"
)

const moduleName = "sequence"

// Invalid marks an unset sequence value.
const Invalid = int64(-1) << 62

const (
	formatVersion = uint32(2)

	flagCycle  = uint32(1 << 0)
	flagGetMax = uint32(1 << 1)

	offVersion = 0
	offFlags   = 4
	offCurrent = 8
	offMin     = 16
	offMax     = 24
	offStep    = 32
	offInit    = 40

	payloadSize = 48
)

// Treatment selects how Verify handles an inconsistent stored value.
type Treatment int

const (
	// TreatmentReport only reports the inconsistency.
	TreatmentReport Treatment = iota
	// TreatmentCorrect raises the stored value to the expected one.
	TreatmentCorrect
)

// Options configures a sequence.
type Options struct {
	Min   int64
	Max   int64
	Init  int64
	Step  int64
	Cycle bool
	// GetMax makes explicit assignments advance the current value to at
	// least the assigned one.
	GetMax bool
}

// Sequence is a persisted monotonic counter living in a single page of
// its own physical file. The file is created lazily: a sequence that is
// defined but never advanced occupies no disk space.
type Sequence struct {
	latch syncutil.Mutex

	file *vfile.File
	pool *buffer.Pool
	page vfile.PageID

	opts    Options
	current int64
	loaded  bool
	dirty   bool
}

// New describes a sequence stored at path. No I/O happens until the first
// Next, Create or load.
func New(path string, pageSize int, pool *buffer.Pool, opts Options) *Sequence {
	if opts.Step == 0 {
		opts.Step = 1
	}
	return &Sequence{
		file:    vfile.New(path, pageSize),
		pool:    pool,
		page:    vfile.InvalidPageID,
		opts:    opts,
		current: Invalid,
	}
}

// IsGetMax reports whether explicit assignments reconcile the sequence.
func (s *Sequence) IsGetMax() bool { return s.opts.GetMax }

// IsAscending reports whether the sequence advances upward.
func (s *Sequence) IsAscending() bool { return s.opts.Step > 0 }

// IsAccessible reports whether the backing file exists.
func (s *Sequence) IsAccessible() bool { return s.file.IsAccessible() }

// Create substantiates the backing file. Calling it for an existing file
// with allowExistence is a no-op.
func (s *Sequence) Create(init int64, allowExistence bool) error {
	s.latch.Lock(1)
	defer s.latch.Unlock(1)
	if s.file.IsAccessible() {
		if allowExistence {
			return s.loadLocked()
		}
		return fault.New(fault.KindUnexpected, moduleName, "sequence file %s already exists", s.file.Path())
	}
	return s.substantiateLocked(init)
}

// Drop removes the backing file.
func (s *Sequence) Drop() error {
	s.latch.Lock(1)
	defer s.latch.Unlock(1)
	s.loaded = false
	s.current = Invalid
	s.page = vfile.InvalidPageID
	if s.pool != nil {
		s.pool.Discard(s.file)
	}
	return s.file.Destroy()
}

// Last returns the most recently assigned value without advancing.
func (s *Sequence) Last() int64 {
	s.latch.Lock(1)
	defer s.latch.Unlock(1)
	return s.current
}

// Next advances the sequence by its step and returns the new value. At
// the upper bound a cycling sequence wraps to its minimum exactly once
// per cycle; a non-cycling one raises IntegerOverflow and leaves the
// stored value untouched.
func (s *Sequence) Next() (int64, error) {
	s.latch.Lock(1)
	defer s.latch.Unlock(1)

	if err := s.ensureLoadedLocked(); err != nil {
		return Invalid, err
	}

	var v int64
	switch {
	case s.current == Invalid:
		v = s.opts.Init
	case s.reachesMaxLocked(s.current):
		if !s.opts.Cycle {
			return Invalid, fault.New(fault.KindIntegerOverflow, moduleName, "sequence %s reached its maximum %d", s.file.Path(), s.opts.Max)
		}
		v = s.opts.Min
	default:
		v = s.current + s.opts.Step
	}

	s.current = v
	s.dirty = true
	if err := s.persistLocked(); err != nil {
		return Invalid, err
	}
	metrics.SequenceAllocations.Inc()
	return v, nil
}

// NextValue reconciles the sequence to at least value and returns the
// stored result. Used when replaying assigned IDs and for get-max columns
// receiving explicit assignments.
func (s *Sequence) NextValue(value int64) (int64, error) {
	s.latch.Lock(1)
	defer s.latch.Unlock(1)

	if err := s.ensureLoadedLocked(); err != nil {
		return Invalid, err
	}
	if value > s.opts.Max {
		return Invalid, fault.New(fault.KindIntegerOverflow, moduleName, "value %d exceeds sequence maximum %d", value, s.opts.Max)
	}
	if s.current == Invalid || value > s.current {
		s.current = value
		s.dirty = true
		if err := s.persistLocked(); err != nil {
			return Invalid, err
		}
	}
	return s.current, nil
}

// Persist force-writes the current value. Registered with the owning
// transaction and invoked on commit.
func (s *Sequence) Persist() error {
	s.latch.Lock(1)
	defer s.latch.Unlock(1)
	if !s.dirty {
		return nil
	}
	return s.persistLocked()
}

// Verify checks that the stored value is at least value. With
// TreatmentCorrect a low stored value is raised; otherwise the
// inconsistency is reported as an error.
func (s *Sequence) Verify(value int64, treatment Treatment) error {
	s.latch.Lock(1)
	defer s.latch.Unlock(1)

	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	if s.current != Invalid && s.current >= value {
		return nil
	}
	if treatment == TreatmentCorrect {
		s.current = value
		s.dirty = true
		return s.persistLocked()
	}
	return fault.New(fault.KindUnexpected, moduleName, "sequence %s holds %d, below assigned %d", s.file.Path(), s.current, value)
}

func (s *Sequence) reachesMaxLocked(v int64) bool {
	if s.opts.Step > 0 {
		return v > s.opts.Max-s.opts.Step
	}
	return v < s.opts.Min-s.opts.Step
}

func (s *Sequence) ensureLoadedLocked() error {
	if s.loaded {
		return nil
	}
	if !s.file.IsAccessible() {
		return s.substantiateLocked(s.opts.Init)
	}
	return s.loadLocked()
}

// substantiateLocked creates the backing file with an unset current
// value; the first Next starts from init.
func (s *Sequence) substantiateLocked(init int64) error {
	if err := s.file.Create(); err != nil {
		return err
	}
	id, err := s.file.Allocate()
	if err != nil {
		return err
	}
	s.page = id
	s.opts.Init = init
	s.current = Invalid
	s.loaded = true
	s.dirty = true
	return s.persistLocked()
}

func (s *Sequence) loadLocked() error {
	if err := s.file.Open(); err != nil {
		return err
	}
	s.page = vfile.PageID(1)

	mem, err := s.pool.Fix(s.file, s.page, buffer.ReadOnly)
	if err != nil {
		return err
	}
	body := mem.Body()
	if binary.LittleEndian.Uint32(body[offVersion:]) != formatVersion {
		mem.Unfix(false, true)
		return fault.New(fault.KindUnexpected, moduleName, "bad sequence header version in %s", s.file.Path())
	}
	flags := binary.LittleEndian.Uint32(body[offFlags:])
	s.opts.Cycle = flags&flagCycle != 0
	s.opts.GetMax = flags&flagGetMax != 0
	s.current = int64(binary.LittleEndian.Uint64(body[offCurrent:]))
	s.opts.Min = int64(binary.LittleEndian.Uint64(body[offMin:]))
	s.opts.Max = int64(binary.LittleEndian.Uint64(body[offMax:]))
	s.opts.Step = int64(binary.LittleEndian.Uint64(body[offStep:]))
	s.opts.Init = int64(binary.LittleEndian.Uint64(body[offInit:]))
	if err := mem.Unfix(false, true); err != nil {
		return err
	}
	s.loaded = true
	s.dirty = false
	return nil
}

// persistLocked writes the value page through synchronously.
func (s *Sequence) persistLocked() error {
	mem, err := s.pool.Fix(s.file, s.page, buffer.Write)
	if err != nil {
		return err
	}
	body, err := mem.WritableBody()
	if err != nil {
		mem.Unfix(false, true)
		return err
	}
	var flags uint32
	if s.opts.Cycle {
		flags |= flagCycle
	}
	if s.opts.GetMax {
		flags |= flagGetMax
	}
	binary.LittleEndian.PutUint32(body[offVersion:], formatVersion)
	binary.LittleEndian.PutUint32(body[offFlags:], flags)
	binary.LittleEndian.PutUint64(body[offCurrent:], uint64(s.current))
	binary.LittleEndian.PutUint64(body[offMin:], uint64(s.opts.Min))
	binary.LittleEndian.PutUint64(body[offMax:], uint64(s.opts.Max))
	binary.LittleEndian.PutUint64(body[offStep:], uint64(s.opts.Step))
	binary.LittleEndian.PutUint64(body[offInit:], uint64(s.opts.Init))
	if err := mem.Unfix(true, false); err != nil {
		return err
	}
	s.dirty = false
	return nil
}
