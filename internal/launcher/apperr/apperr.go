// Package apperr implements the structured error protocol shared by the
// launcher core. An Error carries a domain, an integer code and a formatted
// message. Core packages return errors; only Die, Forward with a nil
// recipient, and the cmd mains terminate the process, so the fatal-by-default
// policy stays testable.
package apperr

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// DomainSystem is the domain used for errors originating from failed system
// calls. When an error in this domain is printed by Die, the text of the
// wrapped errno is appended to the message.
const DomainSystem = "system"

// CodeNone means the error carries no programmatically significant code and
// the message alone is authoritative.
const CodeNone = 0

// osExit is swapped out by tests that exercise the Die path.
var osExit = os.Exit

// Error is a structured error value. The zero value is not meaningful; use
// New or FromSystem. A non-nil Error always has a non-empty message.
type Error struct {
	domain  string
	code    int
	message string
	cause   error
}

// New creates an error in the given domain with a printf-style message.
func New(domain string, code int, format string, args ...any) *Error {
	return &Error{
		domain:  domain,
		code:    code,
		message: fmt.Sprintf(format, args...),
	}
}

// FromSystem creates an error in the system domain from a failed system
// call. The underlying error is retained so errors.Is/As keep working and
// Die can print its text.
func FromSystem(cause error, format string, args ...any) *Error {
	return &Error{
		domain:  DomainSystem,
		code:    errnoOf(cause),
		message: fmt.Sprintf(format, args...),
		cause:   cause,
	}
}

// Domain returns the error's domain. Calling it on a nil error is a
// programmer-contract violation and panics.
func (e *Error) Domain() string {
	if e == nil {
		panic("apperr: Domain called on nil error")
	}
	return e.domain
}

// Code returns the error's code. Calling it on a nil error is a
// programmer-contract violation and panics.
func (e *Error) Code() int {
	if e == nil {
		panic("apperr: Code called on nil error")
	}
	return e.code
}

// Error implements the error interface. Calling it on a nil error is a
// programmer-contract violation and panics.
func (e *Error) Error() string {
	if e == nil {
		panic("apperr: Error called on nil error")
	}
	return e.message
}

// Unwrap exposes the wrapped system-call error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Match reports whether err is a structured error in the given domain with
// the given code. A nil or unstructured err never matches. An empty domain
// is a programmer-contract violation and panics.
func Match(err error, domain string, code int) bool {
	if domain == "" {
		panic("apperr: Match called with empty domain")
	}
	var structured *Error
	if !errors.As(err, &structured) {
		return false
	}
	return structured.domain == domain && structured.code == code
}

// Forward hands err to the caller-supplied recipient slot, transferring
// responsibility for it. A nil err is a no-op. When the caller supplied no
// slot the error is unrecoverable by contract and the process terminates.
func Forward(recipient *error, err error) {
	if err == nil {
		return
	}
	if recipient == nil {
		Die(err)
		return
	}
	*recipient = err
}

// Die prints the error to stderr and exits non-zero. Structured errors in
// the system domain have the errno text appended. A nil err is itself a
// programmer-contract violation.
func Die(err error) {
	if err == nil {
		panic("apperr: Die called on nil error")
	}
	var structured *Error
	if errors.As(err, &structured) && structured.domain == DomainSystem && structured.cause != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", structured.message, structured.cause)
	} else {
		fmt.Fprintf(os.Stderr, "%s\n", err.Error())
	}
	osExit(1)
}

// errnoOf extracts the numeric errno from a system-call error, or CodeNone
// when there is none to extract. os.PathError and friends unwrap to a
// syscall.Errno, so stat/open failures keep their code across wrapping.
func errnoOf(cause error) int {
	var errno syscall.Errno
	if errors.As(cause, &errno) {
		return int(errno)
	}
	return CodeNone
}
