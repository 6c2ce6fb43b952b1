package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/okian/momentum/internal/adapters/repository"
	"github.com/okian/momentum/internal/domain/model"
	"github.com/okian/momentum/internal/domain/scoring"
	"github.com/okian/momentum/pkg/logger"
	"github.com/okian/momentum/pkg/metrics"
	"github.com/okian/momentum/pkg/tracing"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchWorkers = 8
	defaultUserTimeout  = 5 * time.Second
	// A write conflict is retried this many times with a fresh read.
	maxConflictRetries = 1
)

// Orchestrator runs the fetch, aggregate, blend, classify and persist
// pipeline for one user, for every active user, and backfills default rows.
type Orchestrator struct {
	store  repository.Store
	engine *scoring.Engine
	cfg    scoring.Config

	log         logger.Logger
	now         func() time.Time
	workers     int
	userTimeout time.Duration
	hook        StageHook
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(l logger.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithClock overrides time.Now, which decides "today" and calculated_at.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithBatchWorkers bounds how many users a batch or backfill processes at once.
func WithBatchWorkers(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithUserTimeout bounds one user's calculation. Zero disables the bound.
func WithUserTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.userTimeout = d
		}
	}
}

// WithStageHook observes every stage transition.
func WithStageHook(h StageHook) OrchestratorOption {
	return func(o *Orchestrator) {
		o.hook = h
	}
}

// NewOrchestrator wires a record store to a scoring engine.
func NewOrchestrator(store repository.Store, engine *scoring.Engine, opts ...OrchestratorOption) (*Orchestrator, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if engine == nil {
		return nil, ErrNilEngine
	}
	o := &Orchestrator{
		store:       store,
		engine:      engine,
		cfg:         engine.Config(),
		log:         logger.NewNop(),
		now:         time.Now,
		workers:     defaultBatchWorkers,
		userTimeout: defaultUserTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.Named("orchestrator")
	return o, nil
}

// Today returns the current UTC calendar day according to the clock.
func (o *Orchestrator) Today() model.Date {
	return model.DateOf(o.now())
}

// CalculateForUser computes, persists and returns userID's score for day.
// A zero day means today. Failures are *model.CalcError values.
func (o *Orchestrator) CalculateForUser(ctx context.Context, userID string, day model.Date) (model.DailyEngagementScore, error) {
	if day.IsZero() {
		day = o.Today()
	}
	ctx, span := tracing.StartSpan(ctx, "momentum.calculate_user",
		tracing.UserID(userID),
		tracing.TargetDate(day.String()),
	)
	defer span.End()

	start := time.Now()
	r := newRun(userID, day, span, o.log, o.hook)
	score, err := o.calculate(ctx, r)

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
	}
	metrics.RecordCalculation(outcome, float64(time.Since(start).Microseconds())/1000)
	return score, err
}

func (o *Orchestrator) calculate(ctx context.Context, r *run) (model.DailyEngagementScore, error) {
	id, err := uuid.Parse(r.userID)
	if err != nil {
		return model.DailyEngagementScore{}, r.fail(ctx, model.KindInvalidInput, fmt.Errorf("%w: %q", ErrInvalidUserID, r.userID))
	}
	r.userID = id.String()

	if o.userTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.userTimeout)
		defer cancel()
	}

	for attempt := 0; ; attempt++ {
		score, err := o.pipeline(ctx, r)
		if err == nil {
			r.enter(ctx, StageCompleted)
			o.completed(ctx, r, score)
			return score, nil
		}
		conflict := r.stage == StagePersisting && errors.Is(err, repository.ErrConflict)
		if conflict && attempt < maxConflictRetries {
			metrics.RecordConflictRetry()
			o.log.Info(ctx, "write conflict, retrying with fresh read",
				logger.String("user_id", r.userID),
				logger.String("score_date", r.day.String()),
				logger.Int("attempt", attempt+1),
			)
			r.rewind(ctx)
			continue
		}
		kind := model.KindStoreUnavailable
		if conflict {
			kind = model.KindPersistenceConflict
		}
		return model.DailyEngagementScore{}, r.fail(ctx, kind, err)
	}
}

// pipeline is one read-modify-write cycle. Steps are strictly sequential.
func (o *Orchestrator) pipeline(ctx context.Context, r *run) (model.DailyEngagementScore, error) {
	// A rewound run is already in Fetching.
	if r.stage != StageFetching {
		r.enter(ctx, StageFetching)
	}
	events, err := o.store.EventsForDay(ctx, r.userID, r.day)
	if err != nil {
		return model.DailyEngagementScore{}, fmt.Errorf("fetch events: %w", err)
	}
	history, err := o.store.History(ctx, r.userID, r.day, o.cfg.LookbackDays)
	if err != nil {
		return model.DailyEngagementScore{}, fmt.Errorf("fetch history: %w", err)
	}
	previous, err := o.store.PreviousState(ctx, r.userID, r.day)
	if err != nil {
		return model.DailyEngagementScore{}, fmt.Errorf("fetch previous state: %w", err)
	}

	r.enter(ctx, StageAggregating)
	raw := o.engine.Aggregate(r.userID, r.day, events)

	r.enter(ctx, StageBlending)
	blended := o.engine.Blend(r.userID, r.day, raw, history)

	r.enter(ctx, StageClassifying)
	class := o.engine.ClassifyDetailed(blended.Final, previous)

	score := o.buildScore(r, raw, blended, class, previous)

	r.enter(ctx, StagePersisting)
	if err := o.store.UpsertScore(ctx, score); err != nil {
		return model.DailyEngagementScore{}, fmt.Errorf("upsert score: %w", err)
	}
	return score, nil
}

func (o *Orchestrator) buildScore(r *run, raw scoring.RawScore, blended scoring.BlendedScore, class scoring.Classification, previous model.NullState) model.DailyEngagementScore {
	var prev *model.MomentumState
	if previous.Valid {
		state := previous.State
		prev = &state
	}
	return model.DailyEngagementScore{
		UserID:        r.userID,
		ScoreDate:     r.day,
		RawScore:      raw.Total,
		FinalScore:    blended.Final,
		MomentumState: class.State,
		Breakdown: model.Breakdown{
			PointsByType:           raw.PointsByType,
			EventsByType:           raw.EventsByType,
			EventsConsidered:       raw.EventsConsidered,
			EventsIgnored:          raw.EventsIgnored,
			DecayAdjustment:        blended.DecayAdjustment,
			HistoricalDaysAnalyzed: blended.HistoricalDays,
			TopActivities:          scoring.TopActivities(raw),
			PreviousState:          prev,
			HysteresisApplied:      class.HysteresisApplied,
			AlgorithmConfig:        o.cfg.Algorithm(),
		},
		AlgorithmVersion: o.cfg.Version,
		CalculatedAt:     o.now().UTC(),
	}
}

func (o *Orchestrator) completed(ctx context.Context, r *run, score model.DailyEngagementScore) {
	state := string(score.MomentumState)
	metrics.RecordMomentumState(state)
	if score.Breakdown.HysteresisApplied {
		metrics.RecordHysteresisHold(state)
	}
	if score.Breakdown.EventsIgnored > 0 {
		metrics.RecordEventsIgnored(score.Breakdown.EventsIgnored)
	}
	r.span.SetAttributes(tracing.State(state), tracing.FinalScore(score.FinalScore))
	o.log.Debug(ctx, "score calculated",
		logger.String("user_id", score.UserID),
		logger.String("score_date", score.ScoreDate.String()),
		logger.Float64("raw_score", score.RawScore),
		logger.Float64("final_score", score.FinalScore),
		logger.String("momentum_state", state),
	)
}

// CalculateForAllUsers scores every user with event activity in the
// lookback window ending on day. A zero day means today.
//
// Per-user failures are recorded in the result and never abort the run.
// The returned error is non-nil only when the users cannot be enumerated.
// Cancelling ctx stops new users from starting; calculations already
// running finish, and the users never started are counted as skipped.
func (o *Orchestrator) CalculateForAllUsers(ctx context.Context, day model.Date) (model.BatchResult, error) {
	if day.IsZero() {
		day = o.Today()
	}
	ctx, span := tracing.StartSpan(ctx, "momentum.calculate_all_users", tracing.TargetDate(day.String()))
	defer span.End()
	start := time.Now()

	users, err := o.store.ActiveUsers(ctx, day.AddDays(-o.cfg.LookbackDays), day)
	if err != nil {
		calcErr := &model.CalcError{
			Kind:  model.KindStoreUnavailable,
			Stage: string(StageFetching),
			Date:  day,
			Err:   fmt.Errorf("enumerate active users: %w", err),
		}
		tracing.Fail(span, calcErr)
		o.log.Error(ctx, "batch calculation aborted", logger.String("score_date", day.String()), logger.Error(err))
		return model.Summarize(day, nil, 0), calcErr
	}

	details := make([]model.PerUserResult, len(users))
	ran := make([]bool, len(users))
	inflight := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, userID := range users {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			details[i] = o.calculateOne(inflight, userID, day)
			ran[i] = true
			return nil
		})
	}
	_ = g.Wait()

	finished := make([]model.PerUserResult, 0, len(users))
	for i := range details {
		if ran[i] {
			finished = append(finished, details[i])
		}
	}
	res := model.Summarize(day, finished, len(users)-len(finished))

	elapsed := time.Since(start)
	metrics.RecordBatch(res.Successful, res.Failed, res.Skipped, elapsed.Seconds())
	o.log.Info(ctx, "batch calculation finished",
		logger.String("score_date", day.String()),
		logger.Int("users", len(users)),
		logger.Int("successful", res.Successful),
		logger.Int("failed", res.Failed),
		logger.Int("skipped", res.Skipped),
		logger.Duration("elapsed", elapsed),
	)
	return res, nil
}

func (o *Orchestrator) calculateOne(ctx context.Context, userID string, day model.Date) model.PerUserResult {
	userID = model.CanonicalUserID(userID)
	score, err := o.CalculateForUser(ctx, userID, day)
	if err != nil {
		return model.PerUserResult{
			UserID:    userID,
			Error:     err.Error(),
			ErrorKind: model.KindOf(err),
		}
	}
	return model.PerUserResult{UserID: userID, Success: true, Score: &score}
}

// BackfillDay is the outcome of one backfilled day.
type BackfillDay struct {
	Date     model.Date `json:"date"`
	Inserted int        `json:"inserted"`
}

// BackfillResult summarises a backfill run. In dry-run mode Inserted
// counts rows that would have been written.
type BackfillResult struct {
	Users    int           `json:"users"`
	Inserted int           `json:"inserted"`
	DryRun   bool          `json:"dry_run"`
	PerDay   []BackfillDay `json:"per_day"`
}

// Backfill walks back days days from yesterday and writes a default
// (0, NeedsCare) row for every known user without a row on that day.
// Existing rows are never touched.
func (o *Orchestrator) Backfill(ctx context.Context, days int, dryRun bool) (BackfillResult, error) {
	if days <= 0 {
		return BackfillResult{}, fmt.Errorf("%w: got %d", ErrInvalidDays, days)
	}
	ctx, span := tracing.StartSpan(ctx, "momentum.backfill")
	defer span.End()

	users, err := o.store.KnownUsers(ctx)
	if err != nil {
		tracing.Fail(span, err)
		return BackfillResult{}, fmt.Errorf("enumerate known users: %w", err)
	}

	res := BackfillResult{Users: len(users), DryRun: dryRun, PerDay: make([]BackfillDay, 0, days)}
	today := o.Today()
	for i := 1; i <= days; i++ {
		day := today.AddDays(-i)
		n, err := o.backfillDay(ctx, users, day, dryRun)
		if err != nil {
			tracing.Fail(span, err)
			return res, fmt.Errorf("backfill %s: %w", day, err)
		}
		res.PerDay = append(res.PerDay, BackfillDay{Date: day, Inserted: n})
		res.Inserted += n
		if !dryRun {
			metrics.RecordBackfillInserted(n)
		}
		o.log.Info(ctx, "backfilled day",
			logger.String("score_date", day.String()),
			logger.Int("rows", n),
			logger.Bool("dry_run", dryRun),
		)
	}
	return res, nil
}

func (o *Orchestrator) backfillDay(ctx context.Context, users []string, day model.Date, dryRun bool) (int, error) {
	var count atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, userID := range users {
		g.Go(func() error {
			if dryRun {
				_, err := o.store.GetScore(gctx, userID, day)
				switch {
				case errors.Is(err, repository.ErrNotFound):
					count.Add(1)
				case err != nil:
					return err
				}
				return nil
			}
			inserted, err := o.store.InsertDefaultScore(gctx, model.DefaultScore(userID, day, o.cfg.Version, o.now().UTC()))
			if err != nil {
				return err
			}
			if inserted {
				count.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	return int(count.Load()), err
}
