// Package feederr defines the error kinds surfaced by the ingestion pipeline
// and the persistence layer.
package feederr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	Unknown Kind = iota
	FetchFailed
	FileNotFound
	MalformedXML
	NotFound
	PersistenceFailed
)

func (k Kind) String() string {
	switch k {
	case FetchFailed:
		return "fetch failed"
	case FileNotFound:
		return "file not found"
	case MalformedXML:
		return "malformed xml"
	case NotFound:
		return "not found"
	case PersistenceFailed:
		return "persistence failed"
	default:
		return "unknown error"
	}
}

// Error carries a Kind, the operation that failed and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Sentinels for errors.Is. A sentinel matches any *Error of the same Kind.
var (
	ErrFetchFailed       = &Error{Kind: FetchFailed}
	ErrFileNotFound      = &Error{Kind: FileNotFound}
	ErrMalformedXML      = &Error{Kind: MalformedXML}
	ErrNotFound          = &Error{Kind: NotFound}
	ErrPersistenceFailed = &Error{Kind: PersistenceFailed}
)

// New wraps err with the given kind and operation name.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
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

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
