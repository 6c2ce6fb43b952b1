package scoring

import (
	"math"

	"github.com/okian/momentum/internal/domain/model"
)

// BlendedScore is the day's raw total blended with decayed history.
type BlendedScore struct {
	Raw             float64
	Final           float64
	DecayScore      float64 // meaningful only when HasHistory
	HasHistory      bool
	DecayAdjustment float64 // Final - Raw
	HistoricalDays  int
}

// Blend combines raw with the user's prior final scores. history is
// most-recent-first and is supplied by the caller; Blend does no I/O.
// Rows for other users, on or after day, or beyond the lookback window
// are not used.
func (e *Engine) Blend(userID string, day model.Date, raw RawScore, history []model.DailyEngagementScore) BlendedScore {
	usable := e.priorHistory(userID, day, history)
	if len(usable) == 0 {
		return e.blendWithoutHistory(raw)
	}
	return e.blendWithHistory(day, raw, usable)
}

// blendWithoutHistory is the first-day branch: the raw total stands alone.
func (e *Engine) blendWithoutHistory(raw RawScore) BlendedScore {
	final := round2(clamp(raw.Total))
	return BlendedScore{
		Raw:             raw.Total,
		Final:           final,
		DecayAdjustment: round2(final - raw.Total),
	}
}

func (e *Engine) blendWithHistory(day model.Date, raw RawScore, history []model.DailyEngagementScore) BlendedScore {
	lambda := math.Ln2 / e.cfg.HalfLifeDays

	var weighted, weights float64
	for i, h := range history {
		age := float64(i + 1)
		if !h.ScoreDate.IsZero() {
			age = float64(day.DaysSince(h.ScoreDate))
		}
		w := math.Exp(-lambda * age)
		weighted += w * h.FinalScore
		weights += w
	}
	decay := weighted / weights

	alpha := e.cfg.BlendAlpha
	final := round2(clamp(raw.Total*alpha + decay*(1-alpha)))
	return BlendedScore{
		Raw:             raw.Total,
		Final:           final,
		DecayScore:      decay,
		HasHistory:      true,
		DecayAdjustment: round2(final - raw.Total),
		HistoricalDays:  len(history),
	}
}

func (e *Engine) priorHistory(userID string, day model.Date, history []model.DailyEngagementScore) []model.DailyEngagementScore {
	out := make([]model.DailyEngagementScore, 0, len(history))
	for _, h := range history {
		if h.UserID != "" && h.UserID != userID {
			continue
		}
		if !h.ScoreDate.IsZero() {
			if !h.ScoreDate.Before(day) {
				continue
			}
			if e.cfg.LookbackDays > 0 && day.DaysSince(h.ScoreDate) > e.cfg.LookbackDays {
				continue
			}
		}
		out = append(out, h)
	}
	if e.cfg.LookbackDays > 0 && len(out) > e.cfg.LookbackDays {
		out = out[:e.cfg.LookbackDays]
	}
	return out
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return minScoreValue
	}
	return math.Max(minScoreValue, math.Min(maxScoreValue, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
