package lock

import (
	"fmt"
)

// Mode is a lock mode. Tuple modes are row-granularity variants of S and X;
// granularity is carried by the resource name, so the conflict matrix below
// applies uniformly.
type Mode int

const (
	ModeS Mode = iota
	ModeX
	ModeTupleS
	ModeTupleX
)

func (m Mode) String() string {
	switch m {
	case ModeS:
		return "S"
	case ModeX:
		return "X"
	case ModeTupleS:
		return "tuple-S"
	case ModeTupleX:
		return "tuple-X"
	default:
		return "unknown"
	}
}

func (m Mode) shared() bool {
	return m == ModeS || m == ModeTupleS
}

// compatible reports whether two modes held by different owners coexist.
func compatible(a, b Mode) bool {
	return a.shared() && b.shared()
}

// Duration controls when a lock is released. Transaction locks are held
// until commit or abort (strict two-phase locking); Pulse locks cover a
// single operation and are released by the caller immediately after it.
type Duration int

const (
	DurationPulse Duration = iota
	DurationTransaction
)

// Timeout bounds a lock wait in milliseconds. Zero means non-blocking;
// negative means wait forever.
type Timeout int

const (
	TimeoutInfinite Timeout = -1
	TimeoutNone     Timeout = 0
)

// Granularity of a lock name.
type Granularity int

const (
	GranularityDatabase Granularity = iota
	GranularityFile
	GranularityPage
	GranularityTuple
)

// Name identifies a lockable resource. Unused components are zero.
type Name struct {
	Granularity Granularity
	Database    uint32
	File        uint32
	Page        uint32
	Tuple       uint32
}

// FileName builds the name of a whole file.
func FileName(db, file uint32) Name {
	return Name{Granularity: GranularityFile, Database: db, File: file}
}

// PageName builds the name of one page.
func PageName(db, file, page uint32) Name {
	return Name{Granularity: GranularityPage, Database: db, File: file, Page: page}
}

// TupleName builds the name of one row.
func TupleName(db, file, tuple uint32) Name {
	return Name{Granularity: GranularityTuple, Database: db, File: file, Tuple: tuple}
}

func (n Name) String() string {
	switch n.Granularity {
	case GranularityDatabase:
		return fmt.Sprintf("db:%d", n.Database)
	case GranularityFile:
		return fmt.Sprintf("db:%d/file:%d", n.Database, n.File)
	case GranularityPage:
		return fmt.Sprintf("db:%d/file:%d/page:%d", n.Database, n.File, n.Page)
	default:
		return fmt.Sprintf("db:%d/file:%d/tuple:%d", n.Database, n.File, n.Tuple)
	}
}
