// Package errs defines the typed error kinds and the exit code each maps
// to at the CLI boundary.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the error categories.
type Kind int

const (
	// Config covers bad config or bad CLI args. Exit 1.
	Config Kind = iota
	// Index covers index transaction/schema failures. Exit 2.
	Index
	// Store covers object-store failures; transient ones are retried by the
	// caller before being wrapped here. Exit 2 for archive, per-file for restore.
	Store
	// Crypto covers envelope construction and authentication failures.
	Crypto
	// Integrity is the Crypto sub-kind for AEAD authentication failure.
	Integrity
	// Scan covers per-file scan warnings; callers treat these as non-fatal.
	Scan
	// NotFound covers a blob referenced by the index but missing from the store.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "ConfigError"
	case Index:
		return "IndexError"
	case Store:
		return "StoreError"
	case Crypto:
		return "CryptoError"
	case Integrity:
		return "IntegrityError"
	case Scan:
		return "ScanError"
	case NotFound:
		return "NotFoundError"
	default:
		return "UnknownError"
	}
}

// ExitCode returns the process exit code for the kind.
func (k Kind) ExitCode() int {
	switch k {
	case Config:
		return 1
	default:
		return 2
	}
}

// Error wraps an underlying cause with a Kind so the CLI layer can pick the
// right exit code and message prefix without string-sniffing.
type Error struct {
	Kind Kind
	Op   string // component/operation that raised it, e.g. "index.Open"
	Path string // offending path or hash, if any; empty when not applicable
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Kind, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err in an Error of the given kind, recording op for diagnostics.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: errors.WithStack(err)}
}

// NewPath is like New but also records the path or hash at fault, so
// NotFoundError can report the offending hash and path.
func NewPath(kind Kind, op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: errors.WithStack(err)}
}

// Is reports whether err (or any wrapped cause) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			if e.Kind == k {
				return true
			}
			err = e.Err
			continue
		}
		cause := errors.Unwrap(err)
		if cause == nil {
			return false
		}
		err = cause
	}
	return false
}
