package config_test

import (
	"context"
	"runtime"
	"testing"

	"github.com/okian/momentum/internal/config"
	"github.com/okian/momentum/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverMemory)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*2)
			convey.So(cfg.QueueSize, convey.ShouldEqual, 10_000)
			convey.So(cfg.Engine.LookbackDays, convey.ShouldEqual, 30)
			convey.So(cfg.Engine.EventWeights["streak_milestone"], convey.ShouldEqual, 25)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then it converts to a valid scoring config", func() {
			sc := cfg.Scoring()
			convey.So(sc.Validate(), convey.ShouldBeNil)
			convey.So(sc.Weights[model.EventCoachInteraction], convey.ShouldEqual, 20)
			convey.So(sc.RisingThreshold, convey.ShouldEqual, 70)
			convey.So(sc.NeedsCareThreshold, convey.ShouldEqual, 45)
		})

		convey.Convey("Then Clone does not share the weight map", func() {
			c := cfg.Clone()
			c.Engine.EventWeights["app_session"] = 50
			convey.So(cfg.Engine.EventWeights["app_session"], convey.ShouldEqual, 3)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("When the store driver is unknown", func() {
			cfg.StoreDriver = "mongo"
			convey.So(cfg.Validate(), convey.ShouldWrap, config.ErrInvalidConfig)
		})

		convey.Convey("When postgres is selected without a url", func() {
			cfg.StoreDriver = config.DriverPostgres
			convey.So(cfg.Validate(), convey.ShouldWrap, config.ErrInvalidConfig)
		})

		convey.Convey("When thresholds overlap", func() {
			cfg.Engine.NeedsCareThreshold = 80
			convey.So(cfg.Validate(), convey.ShouldWrap, config.ErrInvalidConfig)
		})

		convey.Convey("When blend alpha is out of range", func() {
			cfg.Engine.BlendAlpha = 1.5
			convey.So(cfg.Validate(), convey.ShouldWrap, config.ErrInvalidConfig)
		})

		convey.Convey("When the worker count is zero", func() {
			cfg.WorkerCount = 0
			convey.So(cfg.Validate(), convey.ShouldWrap, config.ErrInvalidConfig)
		})
	})
}
