package repository_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/momentum/internal/adapters/repository"
	"github.com/okian/momentum/internal/domain/model"
)

const (
	userA = "8f14e45f-ceea-467f-a9f4-5a1b2c3d4e5f"
	userB = "c9f0f895-fb98-4b91-9f1e-8d7c6b5a4f3e"
)

var today = model.NewDate(2025, time.March, 10)

func event(id, userID string, t model.EventType, day model.Date, minute int) model.EngagementEvent {
	return model.EngagementEvent{
		ID:         id,
		UserID:     userID,
		Type:       t,
		OccurredOn: day,
		OccurredAt: day.Time().Add(time.Duration(minute) * time.Minute),
		Payload:    map[string]string{"source": "test"},
	}
}

func score(userID string, day model.Date, final float64, state model.MomentumState) model.DailyEngagementScore {
	s := model.DefaultScore(userID, day, "v1.0", day.Time().Add(time.Hour))
	s.RawScore = final
	s.FinalScore = final
	s.MomentumState = state
	s.Breakdown.PointsByType[model.EventJournalEntry] = int(final)
	return s
}

// runStoreContract exercises behavior every Store implementation shares.
func runStoreContract(t *testing.T, open func(t *testing.T) repository.Store) {
	ctx := context.Background()

	t.Run("events for day", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.AppendEvents(ctx,
			event("e2", userA, model.EventJournalEntry, today, 5),
			event("e1", userA, model.EventAppSession, today, 1),
			event("e3", userA, model.EventAppSession, today.AddDays(-1), 1),
			event("e4", userB, model.EventAppSession, today, 1),
		))

		evs, err := s.EventsForDay(ctx, userA, today)
		require.NoError(t, err)
		require.Len(t, evs, 2)
		ids := []string{evs[0].ID, evs[1].ID}
		assert.ElementsMatch(t, []string{"e1", "e2"}, ids)
		for _, ev := range evs {
			assert.True(t, ev.OccurredOn.Equal(today))
			assert.Equal(t, "test", ev.Payload["source"])
		}

		none, err := s.EventsForDay(ctx, userA, today.AddDays(1))
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("active and known users", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.AppendEvents(ctx,
			event("e1", userB, model.EventAppSession, today, 1),
			event("e2", userA, model.EventAppSession, today.AddDays(-40), 1),
		))
		require.NoError(t, s.UpsertScore(ctx, score(userA, today.AddDays(-40), 10, model.StateNeedsCare)))

		active, err := s.ActiveUsers(ctx, today.AddDays(-30), today)
		require.NoError(t, err)
		assert.Equal(t, []string{userB}, active)

		known, err := s.KnownUsers(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{userA, userB}, known)
	})

	t.Run("history window and order", func(t *testing.T) {
		s := open(t)
		for i, final := range []float64{50, 60, 70} {
			require.NoError(t, s.UpsertScore(ctx, score(userA, today.AddDays(-(i+1)), final, model.StateSteady)))
		}
		require.NoError(t, s.UpsertScore(ctx, score(userA, today, 99, model.StateRising)))
		require.NoError(t, s.UpsertScore(ctx, score(userA, today.AddDays(-45), 5, model.StateNeedsCare)))

		hist, err := s.History(ctx, userA, today, 30)
		require.NoError(t, err)
		require.Len(t, hist, 3)
		assert.True(t, hist[0].ScoreDate.Equal(today.AddDays(-1)))
		assert.Equal(t, 50.0, hist[0].FinalScore)
		assert.Equal(t, 70.0, hist[2].FinalScore)

		limited, err := s.History(ctx, userA, today, 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		unbounded, err := s.History(ctx, userA, today, 0)
		require.NoError(t, err)
		assert.Len(t, unbounded, 4)
	})

	t.Run("previous state ignores gaps", func(t *testing.T) {
		s := open(t)
		prev, err := s.PreviousState(ctx, userA, today)
		require.NoError(t, err)
		assert.False(t, prev.Valid)

		require.NoError(t, s.UpsertScore(ctx, score(userA, today.AddDays(-90), 80, model.StateRising)))
		require.NoError(t, s.UpsertScore(ctx, score(userA, today, 20, model.StateNeedsCare)))

		prev, err = s.PreviousState(ctx, userA, today)
		require.NoError(t, err)
		assert.Equal(t, model.SomeState(model.StateRising), prev)
	})

	t.Run("upsert is idempotent per user and day", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.UpsertScore(ctx, score(userA, today, 40, model.StateNeedsCare)))
		require.NoError(t, s.UpsertScore(ctx, score(userA, today, 75, model.StateRising)))

		got, err := s.GetScore(ctx, userA, today)
		require.NoError(t, err)
		assert.Equal(t, 75.0, got.FinalScore)
		assert.Equal(t, model.StateRising, got.MomentumState)
		assert.Equal(t, 75, got.Breakdown.PointsByType[model.EventJournalEntry])
		assert.Equal(t, "v1.0", got.AlgorithmVersion)
		assert.True(t, got.ScoreDate.Equal(today))

		hist, err := s.History(ctx, userA, today.AddDays(1), 30)
		require.NoError(t, err)
		assert.Len(t, hist, 1)
	})

	t.Run("get missing score", func(t *testing.T) {
		s := open(t)
		_, err := s.GetScore(ctx, userB, today)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("insert default only when missing", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.UpsertScore(ctx, score(userA, today, 88, model.StateRising)))

		wrote, err := s.InsertDefaultScore(ctx, model.DefaultScore(userA, today, "v1.0", time.Now()))
		require.NoError(t, err)
		assert.False(t, wrote)

		wrote, err = s.InsertDefaultScore(ctx, model.DefaultScore(userB, today, "v1.0", time.Now()))
		require.NoError(t, err)
		assert.True(t, wrote)

		kept, err := s.GetScore(ctx, userA, today)
		require.NoError(t, err)
		assert.Equal(t, 88.0, kept.FinalScore)

		def, err := s.GetScore(ctx, userB, today)
		require.NoError(t, err)
		assert.Equal(t, model.StateNeedsCare, def.MomentumState)
		assert.Zero(t, def.FinalScore)
	})

	t.Run("user ids are stored in canonical form", func(t *testing.T) {
		s := open(t)
		upper := strings.ToUpper(userA)
		require.NoError(t, s.AppendEvents(ctx,
			event("e1", upper, model.EventCoachInteraction, today, 1),
			event("e2", upper, model.EventCoachInteraction, today, 2),
		))

		active, err := s.ActiveUsers(ctx, today, today)
		require.NoError(t, err)
		assert.Equal(t, []string{userA}, active)

		evs, err := s.EventsForDay(ctx, userA, today)
		require.NoError(t, err)
		require.Len(t, evs, 2)
		assert.Equal(t, userA, evs[0].UserID)

		byUpper, err := s.EventsForDay(ctx, upper, today)
		require.NoError(t, err)
		assert.Len(t, byUpper, 2)

		require.NoError(t, s.UpsertScore(ctx, score(upper, today, 40, model.StateNeedsCare)))
		got, err := s.GetScore(ctx, userA, today)
		require.NoError(t, err)
		assert.Equal(t, userA, got.UserID)

		wrote, err := s.InsertDefaultScore(ctx, model.DefaultScore(userA, today, "v1.0", time.Now()))
		require.NoError(t, err)
		assert.False(t, wrote)

		known, err := s.KnownUsers(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{userA}, known)
	})

	t.Run("ping", func(t *testing.T) {
		s := open(t)
		assert.NoError(t, s.Ping(ctx))
	})
}
