package service

import "errors"

var (
	// ErrNilStore is returned when an orchestrator is built without a record store.
	ErrNilStore = errors.New("record store is required")
	// ErrNilEngine is returned when an orchestrator is built without a scoring engine.
	ErrNilEngine = errors.New("scoring engine is required")
	// ErrInvalidUserID wraps user identifiers that are not UUIDs.
	ErrInvalidUserID = errors.New("user id is not a valid UUID")
	// ErrInvalidDays is returned by Backfill for a non-positive day count.
	ErrInvalidDays = errors.New("backfill days must be positive")
	// ErrNotStarted is returned by Service methods called before Start.
	ErrNotStarted = errors.New("service not started")
)
