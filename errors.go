package mediakit

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a pipeline failure.
type Kind uint8

const (
	KindInternal        Kind = iota // Programming error or unexpected platform state
	KindIO                          // Source fetch or file access failed
	KindFormat                      // Missing or unreadable track, unsupported container
	KindCapability                  // No hardware codec for the requested codec/size
	KindSurface                     // Render surface could not be bound
	KindFrameTimeout                // Compositor waited too long for a decoded frame
	KindMuxerState                  // Muxer used out of order
	KindExportCancelled             // Platform aborted the export
	KindInvalidArgument             // Caller supplied unusable parameters
)

// Code returns the result code reported to callers.
func (k Kind) Code() string {
	switch k {
	case KindIO:
		return "IO_ERROR"
	case KindFormat:
		return "FORMAT_ERROR"
	case KindCapability:
		return "CAPABILITY_ERROR"
	case KindSurface:
		return "SURFACE_ERROR"
	case KindFrameTimeout:
		return "FRAME_TIMEOUT"
	case KindMuxerState:
		return "MUXER_STATE_ERROR"
	case KindExportCancelled:
		return "EXPORT_CANCELLED"
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	default:
		return "INTERNAL_ERROR"
	}
}

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindFormat:
		return "format"
	case KindCapability:
		return "capability"
	case KindSurface:
		return "surface"
	case KindFrameTimeout:
		return "frame timeout"
	case KindMuxerState:
		return "muxer state"
	case KindExportCancelled:
		return "export cancelled"
	case KindInvalidArgument:
		return "invalid argument"
	default:
		return "internal"
	}
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrIO              = &Error{Kind: KindIO}
	ErrFormat          = &Error{Kind: KindFormat}
	ErrCapability      = &Error{Kind: KindCapability}
	ErrSurface         = &Error{Kind: KindSurface}
	ErrFrameTimeout    = &Error{Kind: KindFrameTimeout}
	ErrMuxerState      = &Error{Kind: KindMuxerState}
	ErrExportCancelled = &Error{Kind: KindExportCancelled}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
)

// Error is the error type returned by every pipeline stage.
type Error struct {
	Kind Kind
	Op   string // Operation or stage that failed
	Err  error  // Underlying cause, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels above work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// newError builds a classified error around a formatted cause.
func newError(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.Errorf(format, args...)}
}

// wrapError classifies err unless it is already classified.
func wrapError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
