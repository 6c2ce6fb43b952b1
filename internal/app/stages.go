package service

import (
	"context"
	"time"

	"github.com/okian/momentum/internal/domain/model"
	"github.com/okian/momentum/pkg/logger"
	"github.com/okian/momentum/pkg/metrics"
	"github.com/okian/momentum/pkg/tracing"
	"go.opentelemetry.io/otel/trace"
)

// Stage is a step of one user's calculation.
type Stage string

// Calculation stages, in order. Completed and Failed are terminal.
const (
	StagePending     Stage = "pending"
	StageFetching    Stage = "fetching"
	StageAggregating Stage = "aggregating"
	StageBlending    Stage = "blending"
	StageClassifying Stage = "classifying"
	StagePersisting  Stage = "persisting"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

// Terminal reports whether no further transition can happen from s.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// StageHook observes stage transitions. It must not block.
type StageHook func(userID string, day model.Date, stage Stage)

// run tracks one calculation through its stages, timing each one.
type run struct {
	userID string
	day    model.Date
	stage  Stage

	started time.Time
	span    trace.Span
	log     logger.Logger
	hook    StageHook
}

func newRun(userID string, day model.Date, span trace.Span, log logger.Logger, hook StageHook) *run {
	r := &run{
		userID:  userID,
		day:     day,
		stage:   StagePending,
		started: time.Now(),
		span:    span,
		log:     log,
		hook:    hook,
	}
	r.notify()
	return r
}

// enter moves to the next stage and records how long the previous one took.
func (r *run) enter(ctx context.Context, next Stage) {
	if r.stage.Terminal() {
		return
	}
	now := time.Now()
	metrics.RecordStageLatency(string(r.stage), float64(now.Sub(r.started).Microseconds())/1000)
	r.log.Debug(ctx, "stage transition",
		logger.String("user_id", r.userID),
		logger.String("score_date", r.day.String()),
		logger.String("from", string(r.stage)),
		logger.String("to", string(next)),
	)
	r.stage = next
	r.started = now
	r.span.AddEvent(string(next))
	r.notify()
}

// rewind sends a calculation that lost a write race back to Fetching so
// the retry starts from a fresh read.
func (r *run) rewind(ctx context.Context) {
	if r.stage != StagePersisting {
		return
	}
	r.enter(ctx, StageFetching)
}

// fail moves to Failed and wraps err as a CalcError of the given kind,
// attributed to the stage the run was in.
func (r *run) fail(ctx context.Context, kind model.ErrorKind, err error) error {
	failedAt := r.stage
	calcErr := &model.CalcError{
		Kind:   kind,
		Stage:  string(failedAt),
		UserID: r.userID,
		Date:   r.day,
		Err:    err,
	}
	metrics.RecordCalculationError(string(kind), string(failedAt))
	r.log.Warn(ctx, "calculation failed",
		logger.String("user_id", r.userID),
		logger.String("score_date", r.day.String()),
		logger.String("stage", string(failedAt)),
		logger.String("kind", string(kind)),
		logger.Error(err),
	)
	r.enter(ctx, StageFailed)
	tracing.Fail(r.span, calcErr)
	return calcErr
}

func (r *run) notify() {
	if r.hook != nil {
		r.hook(r.userID, r.day, r.stage)
	}
}
