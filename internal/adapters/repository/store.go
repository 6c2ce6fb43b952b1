// Package repository implements the record store the momentum engine reads
// events and score history from and writes daily scores to.
package repository

import (
	"context"
	"time"

	"github.com/okian/momentum/internal/domain/model"
	"github.com/okian/momentum/pkg/metrics"
)

// EventReader reads engagement events.
type EventReader interface {
	// EventsForDay returns every event of userID on day. A record that
	// cannot be decoded yields ErrCorruptRecord.
	EventsForDay(ctx context.Context, userID string, day model.Date) ([]model.EngagementEvent, error)
	// ActiveUsers returns distinct users with any event in [from, to], sorted.
	ActiveUsers(ctx context.Context, from, to model.Date) ([]string, error)
}

// EventWriter appends engagement events. Ingestion proper lives elsewhere;
// this is used by seeding and tests.
type EventWriter interface {
	AppendEvents(ctx context.Context, events ...model.EngagementEvent) error
}

// ScoreReader reads persisted daily scores.
type ScoreReader interface {
	// History returns scores with before-lookbackDays <= score_date < before,
	// most recent first. lookbackDays <= 0 means no lower bound.
	History(ctx context.Context, userID string, before model.Date, lookbackDays int) ([]model.DailyEngagementScore, error)
	// PreviousState returns the most recent state strictly before before,
	// however old it is.
	PreviousState(ctx context.Context, userID string, before model.Date) (model.NullState, error)
	// GetScore returns ErrNotFound when no row exists.
	GetScore(ctx context.Context, userID string, day model.Date) (model.DailyEngagementScore, error)
	// KnownUsers returns distinct users present in events or scores, sorted.
	KnownUsers(ctx context.Context) ([]string, error)
}

// ScoreWriter persists daily scores.
type ScoreWriter interface {
	// UpsertScore inserts or replaces the row for (user, day). Write
	// contention surfaces as ErrConflict.
	UpsertScore(ctx context.Context, score model.DailyEngagementScore) error
	// InsertDefaultScore writes score only if no row exists for its
	// (user, day). It reports whether a row was written.
	InsertDefaultScore(ctx context.Context, score model.DailyEngagementScore) (bool, error)
}

// Store is the full record store.
type Store interface {
	EventReader
	EventWriter
	ScoreReader
	ScoreWriter

	Ping(ctx context.Context) error
	Close() error
}

// Store operation names used as metric labels.
const (
	opEventsForDay  = "events_for_day"
	opActiveUsers   = "active_users"
	opAppendEvents  = "append_events"
	opHistory       = "history"
	opPreviousState = "previous_state"
	opGetScore      = "get_score"
	opKnownUsers    = "known_users"
	opUpsertScore   = "upsert_score"
	opInsertDefault = "insert_default_score"
	opPing          = "ping"
)

// observe records the latency of one store call. Use as defer observe(op)().
func observe(op string) func() {
	start := time.Now()
	return func() {
		metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000)
	}
}
