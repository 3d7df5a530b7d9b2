// ABOUTME: Error taxonomy for store requests: transient, permanent, terminal
// ABOUTME: Classifies SQLite failures and carries retryability to callers

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by QueryOne and QueryScalar when no row matches.
var ErrNotFound = errors.New("no matching row")

// ErrShutdown is the cause carried by terminal errors after the actor has
// been closed or has lost its connection.
var ErrShutdown = errors.New("store is shut down")

// ErrCanceled is the cause carried by requests failed during a forced
// shutdown before they started executing.
var ErrCanceled = errors.New("request canceled by shutdown")

// Class partitions request failures by what the caller may do about them.
type Class int

const (
	// ClassTransient errors (lock contention, timeouts) may succeed if the
	// caller retries. The store never retries on its own.
	ClassTransient Class = iota
	// ClassPermanent errors (malformed statements, constraint violations)
	// will fail the same way on every retry.
	ClassPermanent
	// ClassTerminal errors mean the actor is unavailable; every call on the
	// handle fails until a new actor is established.
	ClassTerminal
)

// String returns the lowercase class name.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Error is a classified request failure. It wraps the underlying cause so
// errors.Is and errors.As keep working through it.
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a retry of the same call could succeed.
func (e *Error) Retryable() bool { return e.Class == ClassTransient }

// IsTerminal reports whether err carries a terminal classification.
func IsTerminal(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Class == ClassTerminal
}

// transientPatterns and terminalPatterns match SQLite error text. The driver
// does not expose stable error codes through database/sql, so classification
// goes by message.
var transientPatterns = []string{
	"database is locked",
	"database table is locked",
	"busy",
	"timeout",
	"interrupted",
}

var terminalPatterns = []string{
	"disk i/o error",
	"database disk image is malformed",
	"file is not a database",
	"unable to open database file",
	"sql: database is closed",
}

// classify wraps a raw store error with its class. Context errors are
// transient: the statement may well succeed when retried with more time.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Class: ClassTransient, Op: op, Err: err}
	}
	msg := strings.ToLower(err.Error())
	for _, p := range terminalPatterns {
		if strings.Contains(msg, p) {
			return &Error{Class: ClassTerminal, Op: op, Err: err}
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return &Error{Class: ClassTransient, Op: op, Err: err}
		}
	}
	return &Error{Class: ClassPermanent, Op: op, Err: err}
}

// terminalError wraps cause as a terminal failure for op.
func terminalError(op string, cause error) error {
	return &Error{Class: ClassTerminal, Op: op, Err: cause}
}

// IsConstraintViolation reports whether the error is a SQLite constraint
// failure, useful for callers that treat duplicates specially.
func IsConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
