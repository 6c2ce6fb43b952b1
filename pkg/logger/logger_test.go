package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		So(Init(WithWriter(&bytes.Buffer{})), ShouldBeNil)
		defer func() { So(Sync(), ShouldBeNil) }()

		Convey("Then Get and Named return usable loggers", func() {
			So(Get(), ShouldNotBeNil)
			So(Named("test"), ShouldNotBeNil)
		})

		Convey("When an unknown level is set", func() {
			So(SetLevelString("loud"), ShouldNotBeNil)
			So(SetLevelString("WARN"), ShouldBeNil)
			So(SetLevelString("info"), ShouldBeNil)
		})
	})
}

func TestLoggerJSON(t *testing.T) {
	Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		log := New(WithFormat(FormatJSON), WithWriter(&buf))

		Convey("When logging with fields", func() {
			log.Named("orchestrator").With(String("user_id", "u1")).Info(context.Background(), "calculated",
				Float64("final_score", 74.5), Bool("hysteresis", true), Duration("took", time.Second), Error(errors.New("boom")))

			var entry map[string]any
			So(json.Unmarshal(buf.Bytes(), &entry), ShouldBeNil)

			Convey("Then every field is present", func() {
				So(entry["msg"], ShouldEqual, "calculated")
				So(entry["component"], ShouldEqual, "orchestrator")
				So(entry["user_id"], ShouldEqual, "u1")
				So(entry["final_score"], ShouldEqual, 74.5)
				So(entry["hysteresis"], ShouldEqual, true)
				So(entry["error"], ShouldEqual, "boom")
				So(entry["source"], ShouldContainSubstring, "logger_test.go:")
			})
		})

		Convey("When debug is below the level", func() {
			log.Debug(context.Background(), "hidden")
			So(buf.Len(), ShouldEqual, 0)
		})
	})
}

func TestLoggerFatal(t *testing.T) {
	Convey("Given a logger with a stubbed exit", t, func() {
		var buf bytes.Buffer
		code := -1
		log := New(WithWriter(&buf), WithExit(func(c int) { code = c }))

		log.Fatal(context.Background(), "dead")
		So(code, ShouldEqual, 1)
		So(strings.Contains(buf.String(), "dead"), ShouldBeTrue)
	})
}

func TestNop(t *testing.T) {
	Convey("A nop logger accepts everything", t, func() {
		log := NewNop()
		So(func() { log.Warn(context.Background(), "ignored", Int("n", 1)) }, ShouldNotPanic)
	})
}
