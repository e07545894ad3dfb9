package fault

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Kind classifies an engine error.
type Kind int

const (
	KindUnknown Kind = iota
	KindMemoryExhaust
	KindNotLocked
	KindStillLocked
	KindDeadLock
	KindLockTimeout
	KindIntegerOverflow
	KindBadArgument
	KindUnavailable
	KindCanceled
	KindNotFound
	KindUnexpected
	KindUserLevel
)

func (k Kind) String() string {
	switch k {
	case KindMemoryExhaust:
		return "memory exhaust"
	case KindNotLocked:
		return "not locked"
	case KindStillLocked:
		return "still locked"
	case KindDeadLock:
		return "deadlock"
	case KindLockTimeout:
		return "lock timeout"
	case KindIntegerOverflow:
		return "integer overflow"
	case KindBadArgument:
		return "bad argument"
	case KindUnavailable:
		return "unavailable"
	case KindCanceled:
		return "canceled"
	case KindNotFound:
		return "not found"
	case KindUnexpected:
		return "unexpected"
	case KindUserLevel:
		return "user level"
	default:
		return "unknown"
	}
}

// Error is a typed engine error. It records the module, source file and line
// where it was raised; that metadata is diagnostic only and is not part of
// the rendered message clients see.
type Error struct {
	Kind   Kind
	Module string
	File   string
	Line   int
	Msg    string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is match any fault of the same kind. A target with a
// non-empty Msg matches only a fault carrying the same message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
	}
	return false
}

// Location renders "module (file:line)" for diagnostics.
func (e *Error) Location() string {
	return fmt.Sprintf("%s (%s:%d)", e.Module, e.File, e.Line)
}

// New creates an error of the given kind, capturing the caller's location.
func New(kind Kind, module, format string, args ...interface{}) *Error {
	e := &Error{Kind: kind, Module: module, Msg: fmt.Sprintf(format, args...)}
	e.File, e.Line = caller(2)
	return e
}

// Wrap creates an error of the given kind with an underlying cause.
func Wrap(kind Kind, module string, cause error, format string, args ...interface{}) *Error {
	e := &Error{Kind: kind, Module: module, Msg: fmt.Sprintf(format, args...), Cause: cause}
	e.File, e.Line = caller(2)
	return e
}

// IsKind reports whether err or any error it wraps is a fault of kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind == kind {
			return true
		}
		if e.Cause == nil {
			break
		}
		err = e.Cause
	}
	return false
}

// IsUserLevel reports whether err should be surfaced to the client rather
// than logged as an engine failure.
func IsUserLevel(err error) bool {
	return IsKind(err, KindUserLevel)
}

func caller(skip int) (string, int) {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown", 0
	}
	return filepath.Base(file), line
}
