package conditional

import (
	"errors"
	"fmt"
)

// ValidationError is a user-correctable problem with a submitted form or with
// the saved state of a rule.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps a failure of the relational store
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }

// UnexpectedError covers everything else: daemon failures, file system
// errors and recovered panics.
type UnexpectedError struct {
	Err error
}

func (e *UnexpectedError) Error() string { return e.Err.Error() }
func (e *UnexpectedError) Unwrap() error { return e.Err }

// classify maps an error returned from a transaction onto the taxonomy.
// Errors that are already classified pass through.
func classify(err error) error {
	var (
		ve *ValidationError
		pe *PersistenceError
		ue *UnexpectedError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &pe), errors.As(err, &ue):
		return err
	default:
		return &PersistenceError{Err: err}
	}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
