// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Load layers a YAML file and environment variables on top of New.
// - Validate before use; failures wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"time"

	"github.com/okian/momentum/internal/domain/model"
	"github.com/okian/momentum/internal/domain/scoring"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`
	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the record store: memory, sqlite or postgres.
	StoreDriver string `koanf:"store_driver"`
	SQLitePath  string `koanf:"sqlite_path"`
	PostgresURL string `koanf:"postgres_url"`
	// ShardCount configures the in-memory store.
	ShardCount int `koanf:"shard_count"`

	// WorkerCount bounds batch fan-out and the async recalculation pool.
	WorkerCount int `koanf:"worker_count"`
	// QueueSize bounds pending recalculation jobs.
	QueueSize int `koanf:"queue_size"`
	// DedupeSize bounds the in-flight recalculation key set.
	DedupeSize int `koanf:"dedupe_size"`

	UserTimeoutMS     int `koanf:"user_timeout_ms"`
	ShutdownTimeoutMS int `koanf:"shutdown_timeout_ms"`

	// OTLPEndpoint enables tracing when set, e.g. "localhost:4317".
	OTLPEndpoint string `koanf:"otlp_endpoint"`

	Engine Engine `koanf:"engine"`
}

// Engine holds scoring tunables.
type Engine struct {
	EventWeights       map[string]int `koanf:"event_weights"`
	PerTypeCap         int            `koanf:"per_type_cap"`
	DailyCeiling       float64        `koanf:"daily_ceiling"`
	HalfLifeDays       float64        `koanf:"half_life_days"`
	BlendAlpha         float64        `koanf:"blend_alpha"`
	RisingThreshold    float64        `koanf:"rising_threshold"`
	NeedsCareThreshold float64        `koanf:"needs_care_threshold"`
	HysteresisBuffer   float64        `koanf:"hysteresis_buffer"`
	LookbackDays       int            `koanf:"lookback_days"`
	AlgorithmVersion   string         `koanf:"algorithm_version"`
}

// New creates a Config populated with defaults.
func New(_ context.Context) *Config {
	def := scoring.DefaultConfig()
	weights := make(map[string]int, len(def.Weights))
	for t, w := range def.Weights {
		weights[string(t)] = w
	}

	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Addr:              ":9080",
		StoreDriver:       DriverMemory,
		SQLitePath:        "momentum.db",
		ShardCount:        8,
		WorkerCount:       runtime.NumCPU() * 2,
		QueueSize:         10_000,
		DedupeSize:        50_000,
		UserTimeoutMS:     5_000,
		ShutdownTimeoutMS: 10_000,
		Engine: Engine{
			EventWeights:       weights,
			PerTypeCap:         def.PerTypeCap,
			DailyCeiling:       def.DailyCeiling,
			HalfLifeDays:       def.HalfLifeDays,
			BlendAlpha:         def.BlendAlpha,
			RisingThreshold:    def.RisingThreshold,
			NeedsCareThreshold: def.NeedsCareThreshold,
			HysteresisBuffer:   def.HysteresisBuffer,
			LookbackDays:       def.LookbackDays,
			AlgorithmVersion:   def.Version,
		},
	}
}

// UserTimeout is the per-user calculation deadline.
func (c *Config) UserTimeout() time.Duration {
	return time.Duration(c.UserTimeoutMS) * time.Millisecond
}

// ShutdownTimeout bounds graceful shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}

// Scoring converts the engine section into the scoring package's Config.
func (c *Config) Scoring() scoring.Config {
	weights := make(map[model.EventType]int, len(c.Engine.EventWeights))
	for t, w := range c.Engine.EventWeights {
		weights[model.EventType(strings.ToLower(t))] = w
	}
	return scoring.Config{
		Weights:            weights,
		PerTypeCap:         c.Engine.PerTypeCap,
		DailyCeiling:       c.Engine.DailyCeiling,
		HalfLifeDays:       c.Engine.HalfLifeDays,
		BlendAlpha:         c.Engine.BlendAlpha,
		RisingThreshold:    c.Engine.RisingThreshold,
		NeedsCareThreshold: c.Engine.NeedsCareThreshold,
		HysteresisBuffer:   c.Engine.HysteresisBuffer,
		LookbackDays:       c.Engine.LookbackDays,
		Version:            c.Engine.AlgorithmVersion,
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite_path must be set for the sqlite driver", ErrInvalidConfig)
		}
	case DriverPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("%w: postgres_url must be set for the postgres driver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}
	if c.WorkerCount < 1 || c.QueueSize < 1 || c.DedupeSize < 1 {
		return fmt.Errorf("%w: worker_count, queue_size and dedupe_size must be positive", ErrInvalidConfig)
	}
	if c.UserTimeoutMS < 0 {
		return fmt.Errorf("%w: user_timeout_ms must be >= 0", ErrInvalidConfig)
	}
	if err := c.Scoring().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Engine.EventWeights = maps.Clone(c.Engine.EventWeights)
	return &out
}
