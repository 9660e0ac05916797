// Package errs classifies failures into the small set of kinds the
// presentation layer knows how to explain. Raw OS errors never leave the
// dispatcher or the gate without passing through Classify.
package errs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Kind is the category of a failure, independent of its Go type.
type Kind int

const (
	Unknown Kind = iota
	ValidationFailure
	PathRejected
	NotFound
	AlreadyExists
	IntegrityFailure
	ConcurrencyRejected
	BackupUnavailable
	Unsupported
	IOFailure
	Cancelled
)

var kindNames = map[Kind]string{
	Unknown:             "unknown",
	ValidationFailure:   "validation_failure",
	PathRejected:        "path_rejected",
	NotFound:            "not_found",
	AlreadyExists:       "already_exists",
	IntegrityFailure:    "integrity_failure",
	ConcurrencyRejected: "concurrency_rejected",
	BackupUnavailable:   "backup_unavailable",
	Unsupported:         "unsupported",
	IOFailure:           "io_failure",
	Cancelled:           "cancelled",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified failure. Msg is short and user-facing; Err keeps the
// underlying cause for logs.
type Error struct {
	Kind        Kind
	Op          string
	Path        string
	Msg         string
	Err         error
	Suggestions []string
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	if e.Path != "" {
		b.WriteString(" (")
		b.WriteString(e.Path)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on kind alone: errors.Is(err, &Error{Kind: NotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Op == ""
}

// New builds a classified error without an underlying cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf is New with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err with an explicit kind.
func Wrap(kind Kind, op string, err error, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// WithPath returns e with Path set.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithSuggestions appends actionable hints shown to the user.
func (e *Error) WithSuggestions(s ...string) *Error {
	e.Suggestions = append(e.Suggestions, s...)
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Classify maps an arbitrary error onto the taxonomy. Already classified
// errors are returned unchanged.
func Classify(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Wrap(Cancelled, op, err, "operation cancelled")
	case errors.Is(err, fs.ErrNotExist):
		return Wrap(NotFound, op, err, "path does not exist")
	case errors.Is(err, fs.ErrExist):
		return Wrap(AlreadyExists, op, err, "path already exists")
	case errors.Is(err, fs.ErrPermission):
		return Wrap(IOFailure, op, err, "permission denied").
			WithSuggestions("check file permissions in the workspace")
	default:
		return Wrap(IOFailure, op, err, "filesystem error")
	}
}

// Suggestions returns the hints attached to err, if any.
func Suggestions(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Suggestions
	}
	return nil
}

// Message returns the short user-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Path != "" {
			return fmt.Sprintf("%s: %s", e.Msg, e.Path)
		}
		return e.Msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
