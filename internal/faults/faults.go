// Package faults defines the error taxonomy of a classification run.
//
// Every error that crosses a package boundary and matters to the run's
// outcome is an *Error carrying a Kind, so the pipeline can decide whether to
// halt, skip a document, or keep going.
package faults

import (
	stderrs "errors"
	"fmt"
)

// Kind classifies a failure by its effect on the run
type Kind uint8

const (
	// KindUnknown is for errors that were never classified
	KindUnknown Kind = iota

	// ExtractionFailure is a malformed or unreadable document, the document is skipped
	ExtractionFailure

	// LookupUnavailable is a ledger or supplier master query that could not complete
	LookupUnavailable

	// RelocationFailure is a move that failed even after the copy fallback
	RelocationFailure

	// RenameCollisionExhausted is a folder rename that ran out of free suffixes
	RenameCollisionExhausted

	// NoInputFound is an input directory without any archive or document
	NoInputFound
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	ExtractionFailure:        "extraction_failure",
	LookupUnavailable:        "lookup_unavailable",
	RelocationFailure:        "relocation_failure",
	RenameCollisionExhausted: "rename_collision_exhausted",
	NoInputFound:             "no_input_found",
}

// String returns the snake_case name of the kind
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Fatal reports whether a failure of this kind halts the whole run
func (k Kind) Fatal() bool {
	return k == LookupUnavailable || k == NoInputFound
}

// Error is the structured error type of the classifier.
// op names the operation, path the file or folder involved (optional).
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the wrapped cause
func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error with a formatted cause
func New(kind Kind, op, path, format string, a ...any) error {
	return &Error{Kind: kind, Op: op, Path: path, Err: fmt.Errorf(format, a...)}
}

// Wrap returns an *Error wrapping err. A nil err stays nil
func Wrap(err error, kind Kind, op, path string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// As unwraps err and returns (*Error, true) if it is one of ours
func As(err error) (*Error, bool) {
	var e *Error
	if stderrs.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindUnknown for foreign errors
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }
