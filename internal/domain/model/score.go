package model

import "time"

// Activity is one entry of the breakdown's top-activities list.
type Activity struct {
	Type   EventType `json:"type"`
	Points int       `json:"points"`
	Count  int       `json:"count"`
}

// AlgorithmConfig records the tuning a score was computed with.
type AlgorithmConfig struct {
	HalfLifeDays       float64 `json:"half_life_days"`
	BlendAlpha         float64 `json:"blend_alpha"`
	RisingThreshold    float64 `json:"rising_threshold"`
	NeedsCareThreshold float64 `json:"needs_care_threshold"`
	HysteresisBuffer   float64 `json:"hysteresis_buffer"`
	PerTypeCap         int     `json:"per_type_cap"`
	DailyCeiling       float64 `json:"daily_ceiling"`
}

// Breakdown explains how a DailyEngagementScore was derived.
// Sum(PointsByType) always equals the score's RawScore.
type Breakdown struct {
	PointsByType           map[EventType]int `json:"points_by_type"`
	EventsByType           map[EventType]int `json:"events_by_type"`
	EventsConsidered       int               `json:"events_considered"`
	EventsIgnored          int               `json:"events_ignored"`
	DecayAdjustment        float64           `json:"decay_adjustment"`
	HistoricalDaysAnalyzed int               `json:"historical_days_analyzed"`
	TopActivities          []Activity        `json:"top_activities"`
	PreviousState          *MomentumState    `json:"previous_state,omitempty"`
	HysteresisApplied      bool              `json:"hysteresis_applied"`
	AlgorithmConfig        AlgorithmConfig   `json:"algorithm_config"`
}

// DailyEngagementScore is the durable one-row-per-user-per-day output.
type DailyEngagementScore struct {
	UserID           string        `json:"user_id"`
	ScoreDate        Date          `json:"score_date"`
	RawScore         float64       `json:"raw_score"`
	FinalScore       float64       `json:"final_score"`
	MomentumState    MomentumState `json:"momentum_state"`
	Breakdown        Breakdown     `json:"breakdown"`
	AlgorithmVersion string        `json:"algorithm_version"`
	CalculatedAt     time.Time     `json:"calculated_at"`
}

// DefaultScore is the placeholder row written for a user with no record on a day.
func DefaultScore(userID string, day Date, version string, at time.Time) DailyEngagementScore {
	return DailyEngagementScore{
		UserID:        userID,
		ScoreDate:     day,
		MomentumState: StateNeedsCare,
		Breakdown: Breakdown{
			PointsByType:  map[EventType]int{},
			EventsByType:  map[EventType]int{},
			TopActivities: []Activity{},
		},
		AlgorithmVersion: version,
		CalculatedAt:     at,
	}
}
