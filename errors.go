package memtier

import (
	"errors"
	"fmt"
)

var (
	ErrNoRemote = errors.New("memtier: Client or Dial is required")
	ErrNoDialer = errors.New("memtier: remote handle was released and no Dial is configured")
)

// QuitError reports a Quit whose remote part succeeded (the handle is
// released) but whose local clear failed, or a Close where either part failed.
type QuitError struct {
	QuitErr  error
	LocalErr error
}

func (e *QuitError) Error() string {
	switch {
	case e.QuitErr != nil && e.LocalErr != nil:
		return fmt.Sprintf("memtier: quit failed: remote=%v; local=%v", e.QuitErr, e.LocalErr)
	case e.QuitErr != nil:
		return fmt.Sprintf("memtier: quit remote: %v", e.QuitErr)
	case e.LocalErr != nil:
		return fmt.Sprintf("memtier: quit: local store: %v", e.LocalErr)
	default:
		return "memtier: quit: unknown error"
	}
}

func (e *QuitError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.QuitErr != nil {
		errs = append(errs, e.QuitErr)
	}
	if e.LocalErr != nil {
		errs = append(errs, e.LocalErr)
	}
	return errs
}

// ErrFlagMismatch is returned by Typed when a stored item carries flags of a
// different codec than the one reading it.
var ErrFlagMismatch = errors.New("memtier: item flags do not match codec")
