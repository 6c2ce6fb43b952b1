package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/okian/momentum/internal/adapters/repository"
	"github.com/okian/momentum/internal/domain/model"
)

const (
	userA = "0b6e4f1c-9c1a-4d7e-8f61-1a2b3c4d5e01"
	userB = "0b6e4f1c-9c1a-4d7e-8f61-1a2b3c4d5e02"
	userC = "0b6e4f1c-9c1a-4d7e-8f61-1a2b3c4d5e03"
)

var (
	targetDay = model.NewDate(2025, time.March, 10)
	fixedNow  = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
)

func fixedClock() time.Time { return fixedNow }

// events builds n events of type t for userID on day.
func events(userID string, day model.Date, t model.EventType, n int) []model.EngagementEvent {
	out := make([]model.EngagementEvent, 0, n)
	for i := range n {
		out = append(out, model.EngagementEvent{
			ID:         uuid.NewString(),
			UserID:     userID,
			Type:       t,
			OccurredOn: day,
			OccurredAt: day.Time().Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func priorScore(userID string, day model.Date, final float64, state model.MomentumState) model.DailyEngagementScore {
	score := model.DefaultScore(userID, day, "v1.0", fixedNow)
	score.RawScore = final
	score.FinalScore = final
	score.MomentumState = state
	return score
}

// corruptStore fails to decode one user's events.
type corruptStore struct {
	*repository.MemoryStore
	corruptUser string
}

func (s *corruptStore) EventsForDay(ctx context.Context, userID string, day model.Date) ([]model.EngagementEvent, error) {
	if userID == s.corruptUser {
		return nil, fmt.Errorf("decode payload: %w", repository.ErrCorruptRecord)
	}
	return s.MemoryStore.EventsForDay(ctx, userID, day)
}

// conflictStore loses the first n upsert races.
type conflictStore struct {
	*repository.MemoryStore
	conflicts atomic.Int32
	upserts   atomic.Int32
}

func (s *conflictStore) UpsertScore(ctx context.Context, score model.DailyEngagementScore) error {
	s.upserts.Add(1)
	if s.conflicts.Add(-1) >= 0 {
		return fmt.Errorf("upsert: %w", repository.ErrConflict)
	}
	return s.MemoryStore.UpsertScore(ctx, score)
}

var errDown = errors.New("connection refused")

// downStore cannot list users.
type downStore struct {
	*repository.MemoryStore
}

func (s *downStore) ActiveUsers(context.Context, model.Date, model.Date) ([]string, error) {
	return nil, errDown
}

func (s *downStore) KnownUsers(context.Context) ([]string, error) {
	return nil, errDown
}

// gatedStore blocks event reads until release is closed.
type gatedStore struct {
	*repository.MemoryStore
	entered chan string
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		MemoryStore: repository.NewMemoryStore(),
		entered:     make(chan string, 16),
		release:     make(chan struct{}),
	}
}

func (s *gatedStore) EventsForDay(ctx context.Context, userID string, day model.Date) ([]model.EngagementEvent, error) {
	select {
	case s.entered <- userID:
	default:
	}
	<-s.release
	return s.MemoryStore.EventsForDay(ctx, userID, day)
}

// eventually polls cond until it holds or timeout passes.
func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
