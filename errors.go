package arcfs

import (
	"errors"

	"github.com/Munger/arcfs/internal/arcerr"
)

// ErrorKind classifies the failure modes the facade can surface, matching
// the taxonomy every operation is specified against: resolution, read, and
// write errors all carry one of these.
type ErrorKind = arcerr.Kind

const (
	NotFound          = arcerr.NotFound
	AlreadyExists     = arcerr.AlreadyExists
	IsADirectory      = arcerr.IsADirectory
	NotADirectory     = arcerr.NotADirectory
	InvalidPath       = arcerr.InvalidPath
	UnsupportedFormat = arcerr.UnsupportedFormat
	FormatError       = arcerr.FormatError
	IOError           = arcerr.IOError
	StateError        = arcerr.StateError
)

// Error is the concrete error type every facade and core operation
// returns. It carries the offending path alongside the kind so callers
// don't have to parse messages, and wraps whatever underlying error
// triggered it.
type Error = arcerr.Error

// Sentinel values for use with errors.Is: errors.Is(err, arcfs.ErrNotFound).
// Path and the wrapped cause are left zero; Is compares only Kind.
var (
	ErrNotFound          = &Error{Kind: NotFound}
	ErrAlreadyExists     = &Error{Kind: AlreadyExists}
	ErrIsADirectory      = &Error{Kind: IsADirectory}
	ErrNotADirectory     = &Error{Kind: NotADirectory}
	ErrInvalidPath       = &Error{Kind: InvalidPath}
	ErrUnsupportedFormat = &Error{Kind: UnsupportedFormat}
	ErrFormatError       = &Error{Kind: FormatError}
	ErrIOError           = &Error{Kind: IOError}
	ErrStateError        = &Error{Kind: StateError}
)

func newError(kind ErrorKind, path string, cause error) *Error {
	return arcerr.New(kind, path, cause)
}

// translateErr normalizes any error surfaced by an internal package into
// an *Error: errors already carrying a Kind pass through untouched
// (attaching path only if the internal package left it blank), everything
// else is wrapped as an IOError, matching the taxonomy's "underlying
// filesystem failure" catch-all.
func translateErr(err error, path string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Path == "" && path != "" {
			return arcerr.New(e.Kind, path, e.Err)
		}
		return e
	}
	return arcerr.New(IOError, path, err)
}
