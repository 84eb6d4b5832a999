package capsync

import (
	"errors"

	"github.com/ZutrixPog/capsync/store"
)

var (
	ErrAccountNotFound    = store.ErrAccountNotFound
	ErrAccountExists      = store.ErrAccountExists
	ErrInvalidAccountType = store.ErrInvalidAccountType
	ErrInvalidSubsystem   = store.ErrInvalidSubsystem
	ErrInvalidState       = store.ErrInvalidState
	ErrVersionMismatch    = errors.New("work item version does not match account state")
	ErrKindNotRegistered  = errors.New("task kind is not registered")
	ErrKindRegistered     = errors.New("task kind already registered")
	ErrDispatcherRunning  = errors.New("dispatcher is already running")
)

// PermanentError marks a failure that retrying cannot resolve. The runner
// abandons work items whose input preparation fails with one.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
