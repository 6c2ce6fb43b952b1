// Package scoring turns a user's daily events and score history into a
// momentum score and state. Everything here is pure: no I/O, no clocks.
package scoring

import (
	"errors"
	"fmt"
	"maps"

	"github.com/okian/momentum/internal/domain/model"
)

// Default engine tuning.
const (
	DefaultPerTypeCap         = 5
	DefaultDailyCeiling       = 100.0
	DefaultHalfLifeDays       = 10.0
	DefaultBlendAlpha         = 0.7
	DefaultRisingThreshold    = 70.0
	DefaultNeedsCareThreshold = 45.0
	DefaultHysteresisBuffer   = 2.0
	DefaultLookbackDays       = 30
	DefaultAlgorithmVersion   = "v1.0"

	maxScoreValue = 100.0
	minScoreValue = 0.0
)

// ErrInvalidConfig is returned by Validate for impossible tuning.
var ErrInvalidConfig = errors.New("invalid scoring config")

// DefaultWeights returns a fresh copy of the default event weight table.
func DefaultWeights() map[model.EventType]int {
	return map[model.EventType]int{
		model.EventLessonCompletion:     15,
		model.EventLessonStart:          5,
		model.EventJournalEntry:         10,
		model.EventCoachInteraction:     20,
		model.EventGoalSetting:          12,
		model.EventGoalCompletion:       18,
		model.EventAppSession:           3,
		model.EventStreakMilestone:      25,
		model.EventAssessmentCompletion: 15,
		model.EventResourceAccess:       5,
		model.EventPeerInteraction:      8,
		model.EventReminderResponse:     7,
	}
}

// Config holds every tunable of the engine. It is injected, never global.
type Config struct {
	Weights            map[model.EventType]int
	PerTypeCap         int
	DailyCeiling       float64
	HalfLifeDays       float64
	BlendAlpha         float64
	RisingThreshold    float64
	NeedsCareThreshold float64
	HysteresisBuffer   float64
	LookbackDays       int
	Version            string
}

// DefaultConfig returns the product defaults.
func DefaultConfig() Config {
	return Config{
		Weights:            DefaultWeights(),
		PerTypeCap:         DefaultPerTypeCap,
		DailyCeiling:       DefaultDailyCeiling,
		HalfLifeDays:       DefaultHalfLifeDays,
		BlendAlpha:         DefaultBlendAlpha,
		RisingThreshold:    DefaultRisingThreshold,
		NeedsCareThreshold: DefaultNeedsCareThreshold,
		HysteresisBuffer:   DefaultHysteresisBuffer,
		LookbackDays:       DefaultLookbackDays,
		Version:            DefaultAlgorithmVersion,
	}
}

// Validate rejects configurations the pipeline cannot honor.
func (c Config) Validate() error {
	switch {
	case len(c.Weights) == 0:
		return fmt.Errorf("%w: weights must not be empty", ErrInvalidConfig)
	case c.PerTypeCap < 1:
		return fmt.Errorf("%w: per_type_cap must be >= 1, got %d", ErrInvalidConfig, c.PerTypeCap)
	case c.DailyCeiling <= 0:
		return fmt.Errorf("%w: daily_ceiling must be > 0, got %v", ErrInvalidConfig, c.DailyCeiling)
	case c.HalfLifeDays <= 0:
		return fmt.Errorf("%w: half_life_days must be > 0, got %v", ErrInvalidConfig, c.HalfLifeDays)
	case c.BlendAlpha < 0 || c.BlendAlpha > 1:
		return fmt.Errorf("%w: blend_alpha must be within [0,1], got %v", ErrInvalidConfig, c.BlendAlpha)
	case c.NeedsCareThreshold >= c.RisingThreshold:
		return fmt.Errorf("%w: needs_care_threshold (%v) must be below rising_threshold (%v)",
			ErrInvalidConfig, c.NeedsCareThreshold, c.RisingThreshold)
	case c.HysteresisBuffer < 0:
		return fmt.Errorf("%w: hysteresis_buffer must be >= 0, got %v", ErrInvalidConfig, c.HysteresisBuffer)
	case c.LookbackDays < 0:
		return fmt.Errorf("%w: lookback_days must be >= 0, got %d", ErrInvalidConfig, c.LookbackDays)
	case c.Version == "":
		return fmt.Errorf("%w: algorithm version must not be empty", ErrInvalidConfig)
	}
	for t, w := range c.Weights {
		if w < 0 {
			return fmt.Errorf("%w: weight for %q must be >= 0, got %d", ErrInvalidConfig, t, w)
		}
	}
	return nil
}

// Algorithm summarizes the tuning for the score breakdown.
func (c Config) Algorithm() model.AlgorithmConfig {
	return model.AlgorithmConfig{
		HalfLifeDays:       c.HalfLifeDays,
		BlendAlpha:         c.BlendAlpha,
		RisingThreshold:    c.RisingThreshold,
		NeedsCareThreshold: c.NeedsCareThreshold,
		HysteresisBuffer:   c.HysteresisBuffer,
		PerTypeCap:         c.PerTypeCap,
		DailyCeiling:       c.DailyCeiling,
	}
}

// Option applies a configuration option to the engine Config.
type Option func(*Config)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// WithWeights sets the event weight table.
func WithWeights(weights map[model.EventType]int) Option {
	return func(c *Config) {
		if len(weights) > 0 {
			c.Weights = weights
		}
	}
}

// WithPerTypeCap sets how many occurrences of one event type count per day.
func WithPerTypeCap(limit int) Option {
	return func(c *Config) {
		c.PerTypeCap = limit
	}
}

// WithHalfLife sets the decay half-life in days.
func WithHalfLife(days float64) Option {
	return func(c *Config) {
		c.HalfLifeDays = days
	}
}

// WithThresholds sets the rising and needs-care thresholds.
func WithThresholds(rising, needsCare float64) Option {
	return func(c *Config) {
		c.RisingThreshold = rising
		c.NeedsCareThreshold = needsCare
	}
}

// WithHysteresisBuffer sets the anti-flapping tolerance band.
func WithHysteresisBuffer(buffer float64) Option {
	return func(c *Config) {
		c.HysteresisBuffer = buffer
	}
}

// Engine runs the aggregate, blend and classify steps with a fixed Config.
// It is safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine builds an Engine from the defaults plus opts.
func NewEngine(opts ...Option) (*Engine, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// Copy the weights map to avoid external modifications
	cfg.Weights = maps.Clone(cfg.Weights)
	return &Engine{cfg: cfg}, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.Weights = maps.Clone(e.cfg.Weights)
	return cfg
}
