package model

import (
	"database/sql/driver"
	"fmt"
)

// MomentumState is the discrete engagement tier assigned to a user for a day.
type MomentumState string

// The three momentum states. There is no unknown state.
const (
	StateRising    MomentumState = "Rising"
	StateSteady    MomentumState = "Steady"
	StateNeedsCare MomentumState = "NeedsCare"
)

// States lists every momentum state, highest tier first.
var States = []MomentumState{StateRising, StateSteady, StateNeedsCare}

// ParseState converts a stored or wire value into a MomentumState.
func ParseState(s string) (MomentumState, error) {
	switch MomentumState(s) {
	case StateRising, StateSteady, StateNeedsCare:
		return MomentumState(s), nil
	}
	return "", fmt.Errorf("unknown momentum state %q", s)
}

// NullState is an optional MomentumState, shaped like sql.NullString.
// Valid is false when the user has never been classified.
type NullState struct {
	State MomentumState
	Valid bool
}

// SomeState wraps a known state.
func SomeState(s MomentumState) NullState { return NullState{State: s, Valid: true} }

// Scan implements sql.Scanner.
func (n *NullState) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*n = NullState{}
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("scan momentum state: unsupported type %T", src)
	}
	s, err := ParseState(raw)
	if err != nil {
		return err
	}
	*n = SomeState(s)
	return nil
}

// Value implements driver.Valuer.
func (n NullState) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return string(n.State), nil
}
