package config_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/okian/momentum/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 10_000)
				convey.So(cfg.UserTimeout(), convey.ShouldEqual, 5*time.Second)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("MOMENTUM_ADDR", ":8080")
			_ = os.Setenv("MOMENTUM_WORKER_COUNT", "16")
			_ = os.Setenv("MOMENTUM_STORE_DRIVER", "sqlite")
			_ = os.Setenv("MOMENTUM_SQLITE_PATH", "/tmp/momentum.db")
			_ = os.Setenv("MOMENTUM_ENGINE__HALF_LIFE_DAYS", "7")
			_ = os.Setenv("MOMENTUM_ENGINE__HYSTERESIS_BUFFER", "3")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 16)
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverSQLite)
				convey.So(cfg.SQLitePath, convey.ShouldEqual, "/tmp/momentum.db")
				convey.So(cfg.Engine.HalfLifeDays, convey.ShouldEqual, 7)
				convey.So(cfg.Engine.HysteresisBuffer, convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9090"
queue_size: 300
worker_count: 24
engine:
  rising_threshold: 75
  event_weights:
    journal_entry: 12
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("MOMENTUM_CONFIG", tmpFile)
			_ = os.Setenv("MOMENTUM_WORKER_COUNT", "32")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")  // From file
				convey.So(cfg.QueueSize, convey.ShouldEqual, 300) // From file
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 32)
				convey.So(cfg.Engine.RisingThreshold, convey.ShouldEqual, 75)
				convey.So(cfg.Engine.EventWeights["journal_entry"], convey.ShouldEqual, 12)
				convey.So(cfg.Engine.NeedsCareThreshold, convey.ShouldEqual, 45) // From defaults
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("MOMENTUM_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(err, convey.ShouldWrap, config.ErrLoadConfig)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("MOMENTUM_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(err, convey.ShouldWrap, config.ErrInvalidConfig)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("MOMENTUM_WORKER_COUNT", "not_a_number")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the engine tuning is impossible", func() {
			_ = os.Setenv("MOMENTUM_ENGINE__NEEDS_CARE_THRESHOLD", "90")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)

			convey.Convey("Then it should be rejected", func() {
				convey.So(err, convey.ShouldWrap, config.ErrInvalidConfig)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"MOMENTUM_CONFIG",
		"MOMENTUM_ADDR",
		"MOMENTUM_WORKER_COUNT",
		"MOMENTUM_STORE_DRIVER",
		"MOMENTUM_SQLITE_PATH",
		"MOMENTUM_ENGINE__HALF_LIFE_DAYS",
		"MOMENTUM_ENGINE__HYSTERESIS_BUFFER",
		"MOMENTUM_ENGINE__NEEDS_CARE_THRESHOLD",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "momentum-config-*.yaml")
	if err != nil {
		panic(err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	if err := tmpFile.Close(); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}
