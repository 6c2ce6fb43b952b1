package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies calculation failures.
type ErrorKind string

// Calculation failure kinds.
const (
	KindInvalidInput        ErrorKind = "InvalidInput"
	KindStoreUnavailable    ErrorKind = "StoreUnavailable"
	KindPersistenceConflict ErrorKind = "PersistenceConflict"
)

// Sentinels matched by CalcError.Is for each kind.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrPersistenceConflict = errors.New("persistence conflict")
)

// CalcError is returned when a calculation reaches the Failed stage.
type CalcError struct {
	Kind   ErrorKind
	Stage  string
	UserID string
	Date   Date
	Err    error
}

func (e *CalcError) Error() string {
	msg := fmt.Sprintf("%s during %s", e.Kind, e.Stage)
	if e.UserID != "" {
		msg += " for user " + e.UserID
	}
	if !e.Date.IsZero() {
		msg += " on " + e.Date.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CalcError) Unwrap() error { return e.Err }

// Is matches the kind sentinel so callers can write errors.Is(err, ErrStoreUnavailable).
func (e *CalcError) Is(target error) bool {
	switch target {
	case ErrInvalidInput:
		return e.Kind == KindInvalidInput
	case ErrStoreUnavailable:
		return e.Kind == KindStoreUnavailable
	case ErrPersistenceConflict:
		return e.Kind == KindPersistenceConflict
	}
	return false
}

// KindOf extracts the ErrorKind of err, or "" when err is not a CalcError.
func KindOf(err error) ErrorKind {
	var ce *CalcError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
