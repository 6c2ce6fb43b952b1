// Package seed generates deterministic synthetic engagement events for local
// runs, demos and load checks.
package seed

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/okian/momentum/internal/adapters/repository"
	"github.com/okian/momentum/internal/domain/model"
	"github.com/okian/momentum/pkg/logger"
)

// Defaults.
const (
	DefaultUsers = 50
	DefaultDays  = 14
	DefaultSeed  = 42
)

// ErrInvalidConfig is returned for non-positive user or day counts.
var ErrInvalidConfig = errors.New("invalid seed config")

// namespace scopes the deterministic user and event IDs.
var namespace = uuid.MustParse("3f1d2c4e-8a7b-4c6d-9e0f-1a2b3c4d5e6f")

// eventTypes is the pool events are drawn from. The last entry is not a
// known type and exercises the ignore path.
var eventTypes = []model.EventType{
	model.EventLessonCompletion,
	model.EventLessonStart,
	model.EventJournalEntry,
	model.EventCoachInteraction,
	model.EventGoalSetting,
	model.EventGoalCompletion,
	model.EventAppSession,
	model.EventStreakMilestone,
	model.EventAssessmentCompletion,
	model.EventResourceAccess,
	model.EventPeerInteraction,
	model.EventReminderResponse,
	"profile_update",
}

// profile bounds how many events a user emits on an active day and how
// often a day is active at all.
type profile struct {
	name       string
	activeProb float64
	minEvents  int
	maxEvents  int
}

var profiles = []profile{
	{name: "dormant", activeProb: 0.15, minEvents: 1, maxEvents: 2},
	{name: "casual", activeProb: 0.5, minEvents: 1, maxEvents: 4},
	{name: "engaged", activeProb: 0.8, minEvents: 3, maxEvents: 8},
	{name: "power", activeProb: 0.95, minEvents: 6, maxEvents: 14},
}

// Config describes one seeding run.
type Config struct {
	Users int
	Days  int
	Seed  uint64
	// End is the last day that receives events. Zero means today (UTC).
	End model.Date
}

func (c Config) validate() error {
	if c.Users <= 0 {
		return fmt.Errorf("%w: users must be positive, got %d", ErrInvalidConfig, c.Users)
	}
	if c.Days <= 0 {
		return fmt.Errorf("%w: days must be positive, got %d", ErrInvalidConfig, c.Days)
	}
	return nil
}

// Result summarizes a seeding run.
type Result struct {
	Users  []string   `json:"users"`
	Events int        `json:"events"`
	From   model.Date `json:"from"`
	To     model.Date `json:"to"`
}

// UserID returns the deterministic ID of the i-th seeded user.
func UserID(i int) string {
	return uuid.NewSHA1(namespace, fmt.Appendf(nil, "user-%d", i)).String()
}

// Generate builds the events for cfg. The same config always yields the
// same events in the same order.
func Generate(cfg Config) ([]model.EngagementEvent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	end := cfg.End
	if end.IsZero() {
		end = model.DateOf(time.Now())
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	var events []model.EngagementEvent
	for u := 0; u < cfg.Users; u++ {
		userID := UserID(u)
		p := profiles[rng.IntN(len(profiles))]
		for d := cfg.Days - 1; d >= 0; d-- {
			if rng.Float64() >= p.activeProb {
				continue
			}
			day := end.AddDays(-d)
			n := p.minEvents + rng.IntN(p.maxEvents-p.minEvents+1)
			for k := 0; k < n; k++ {
				at := day.Time().Add(time.Duration(rng.IntN(24*60)) * time.Minute)
				events = append(events, model.EngagementEvent{
					ID:         uuid.NewSHA1(namespace, fmt.Appendf(nil, "%s/%s/%d", userID, day, k)).String(),
					UserID:     userID,
					Type:       eventTypes[rng.IntN(len(eventTypes))],
					OccurredOn: day,
					OccurredAt: at,
					Payload:    map[string]string{"source": "seed", "profile": p.name},
				})
			}
		}
	}
	return events, nil
}

// Run generates events for cfg and appends them to w in batches.
func Run(ctx context.Context, w repository.EventWriter, cfg Config, log logger.Logger) (Result, error) {
	if log == nil {
		log = logger.NewNop()
	}
	events, err := Generate(cfg)
	if err != nil {
		return Result{}, err
	}
	end := cfg.End
	if end.IsZero() {
		end = model.DateOf(time.Now())
	}
	res := Result{From: end.AddDays(-(cfg.Days - 1)), To: end}
	for u := 0; u < cfg.Users; u++ {
		res.Users = append(res.Users, UserID(u))
	}

	log.Info(ctx, "seeding events",
		logger.Int("users", cfg.Users),
		logger.Int("days", cfg.Days),
		logger.Int("events", len(events)),
		logger.String("from", res.From.String()),
		logger.String("to", res.To.String()))

	const batchSize = 500
	for start := 0; start < len(events); start += batchSize {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("seed cancelled after %d events: %w", res.Events, err)
		}
		end := min(start+batchSize, len(events))
		if err := w.AppendEvents(ctx, events[start:end]...); err != nil {
			return res, fmt.Errorf("append events: %w", err)
		}
		res.Events = end
		log.Debug(ctx, "seed batch written", logger.Int("written", res.Events))
	}

	log.Info(ctx, "seeding complete", logger.Int("events", res.Events))
	return res, nil
}
