package scoring

import (
	"cmp"
	"math"
	"slices"

	"github.com/okian/momentum/internal/domain/model"
)

const topActivitiesLimit = 3

// RawScore is the per-day point total before history is blended in.
// PointsByType holds only counted (post-cap) contributions, so the values
// always sum to Total.
type RawScore struct {
	UserID           string
	Date             model.Date
	PointsByType     map[model.EventType]int
	EventsByType     map[model.EventType]int
	Total            float64
	EventsConsidered int
	EventsIgnored    int
}

// Aggregate applies the weight table and both anti-gaming caps to one
// user's events for one day. It never fails: unknown event types and
// events scoped to another user or day are counted as ignored.
//
// Events are applied in (OccurredAt, ID) order so the result does not
// depend on the order the store returned them in.
func (e *Engine) Aggregate(userID string, day model.Date, events []model.EngagementEvent) RawScore {
	raw := RawScore{
		UserID:       userID,
		Date:         day,
		PointsByType: make(map[model.EventType]int),
		EventsByType: make(map[model.EventType]int),
	}
	if len(events) == 0 {
		return raw
	}

	budget := int(math.Floor(e.cfg.DailyCeiling))
	total := 0
	for _, ev := range orderedEvents(events) {
		weight, known := e.cfg.Weights[ev.Type]
		if !known || !inScope(ev, userID, day) {
			raw.EventsIgnored++
			continue
		}
		raw.EventsConsidered++

		// Per-type cap: extra occurrences are considered but earn nothing.
		if raw.EventsByType[ev.Type] >= e.cfg.PerTypeCap {
			continue
		}
		raw.EventsByType[ev.Type]++

		// Daily ceiling: only the remaining budget is credited.
		pts := min(weight, budget-total)
		raw.PointsByType[ev.Type] += pts
		total += pts
	}
	raw.Total = float64(total)
	return raw
}

// TopActivities returns up to three event types ranked by counted points,
// ties broken by type name.
func TopActivities(raw RawScore) []model.Activity {
	out := make([]model.Activity, 0, len(raw.PointsByType))
	for t, pts := range raw.PointsByType {
		if pts <= 0 {
			continue
		}
		out = append(out, model.Activity{Type: t, Points: pts, Count: raw.EventsByType[t]})
	}
	slices.SortFunc(out, func(a, b model.Activity) int {
		if c := cmp.Compare(b.Points, a.Points); c != 0 {
			return c
		}
		return cmp.Compare(a.Type, b.Type)
	})
	if len(out) > topActivitiesLimit {
		out = out[:topActivitiesLimit]
	}
	return out
}

func inScope(ev model.EngagementEvent, userID string, day model.Date) bool {
	if ev.UserID != "" && ev.UserID != userID {
		return false
	}
	if !ev.OccurredOn.IsZero() && !ev.OccurredOn.Equal(day) {
		return false
	}
	return true
}

func orderedEvents(events []model.EngagementEvent) []model.EngagementEvent {
	ordered := slices.Clone(events)
	slices.SortStableFunc(ordered, func(a, b model.EngagementEvent) int {
		if c := a.OccurredAt.Compare(b.OccurredAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return ordered
}
