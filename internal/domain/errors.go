package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks a delivery failure worth retrying within the task budget.
	ErrTransient = errors.New("transient delivery error")
	// ErrTerminal marks a delivery failure that must not be retried.
	ErrTerminal = errors.New("terminal delivery error")
	// ErrSkipped marks a recipient the channel cannot reach at all (nothing was sent).
	ErrSkipped = errors.New("recipient skipped")
	// ErrUnavailable marks an unreachable collaborator (blacklist, discovery, reporting).
	ErrUnavailable = errors.New("collaborator unavailable")
)

type classified struct {
	kind error
	err  error
}

func (e classified) Error() string {
	if e.err == nil {
		return e.kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.kind, e.err)
}

func (e classified) Unwrap() []error { return []error{e.kind, e.err} }

func wrap(kind, err error) error {
	if err == nil {
		return nil
	}
	return classified{kind: kind, err: err}
}

func Transient(err error) error   { return wrap(ErrTransient, err) }
func Terminal(err error) error    { return wrap(ErrTerminal, err) }
func Unavailable(err error) error { return wrap(ErrUnavailable, err) }

// Skipped builds an ErrSkipped error with a reason.
func Skipped(reason string) error { return classified{kind: ErrSkipped, err: errors.New(reason)} }

func IsTerminal(err error) bool    { return errors.Is(err, ErrTerminal) }
func IsSkipped(err error) bool     { return errors.Is(err, ErrSkipped) }
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

// PersistenceError is a failed durable write of history or rate-gate state.
// It is fatal to the running cycle.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return "persistence: " + e.Op + ": " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }

func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
