// Package service provides the momentum engine's application layer: the
// calculation orchestrator and the Service that wires it to a record
// store, the recalculation queue and the worker pool.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/momentum/internal/adapters/mq/queue"
	"github.com/okian/momentum/internal/adapters/mq/worker"
	"github.com/okian/momentum/internal/adapters/repository"
	"github.com/okian/momentum/internal/config"
	"github.com/okian/momentum/internal/domain/dedupe"
	"github.com/okian/momentum/internal/domain/model"
	"github.com/okian/momentum/internal/domain/scoring"
	"github.com/okian/momentum/pkg/logger"
	"github.com/okian/momentum/pkg/metrics"
)

// Service implements the API dependencies for the momentum engine.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Core components
	store      repository.Store
	ownsStore  bool
	orch       *Orchestrator
	deduper    dedupe.Deduper
	queue      *queue.InMemoryQueue
	workerPool *worker.Pool

	now  func() time.Time
	hook StageHook

	// State
	started bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration. It is cloned.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg.Clone()
		}
	}
}

// WithStore uses an existing store instead of opening one from config.
// The caller keeps ownership: Stop does not close it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithWorkerCount sets the number of worker goroutines and the batch bound.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.cfg.WorkerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of pending recalculations.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.cfg.QueueSize = size
		}
	}
}

// WithDedupeSize sets the size of the in-flight recalculation key set.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.cfg.DedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithServiceClock overrides the clock used for "today".
func WithServiceClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithServiceStageHook forwards stage transitions of every calculation.
func WithServiceStageHook(h StageHook) Option {
	return func(s *Service) {
		s.hook = h
	}
}

// New constructs a Service. Nothing is opened until Start.
func New(opts ...Option) *Service {
	s := &Service{
		cfg:    config.New(context.Background()),
		now:    time.Now,
		logger: logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenStore opens the record store selected by cfg.StoreDriver and
// applies pending migrations.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return repository.NewMemoryStore(repository.WithShardCount(cfg.ShardCount)), nil
	case config.DriverSQLite:
		return repository.OpenSQLite(ctx, cfg.SQLitePath)
	case config.DriverPostgres:
		pg, err := repository.OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", config.ErrInvalidConfig, cfg.StoreDriver)
	}
}

// Start opens the store and starts the recalculation workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	s.logger.Info(ctx, "starting momentum service...")

	engine, err := scoring.NewEngine(scoring.WithConfig(s.cfg.Scoring()))
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	if s.store == nil {
		store, err := OpenStore(ctx, s.cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		s.store = store
		s.ownsStore = true
		s.logger.Info(ctx, "record store opened", logger.String("driver", s.cfg.StoreDriver))
	}

	orch, err := NewOrchestrator(s.store, engine,
		WithOrchestratorLogger(s.logger),
		WithClock(s.now),
		WithBatchWorkers(s.cfg.WorkerCount),
		WithUserTimeout(s.cfg.UserTimeout()),
		WithStageHook(s.hook),
	)
	if err != nil {
		s.closeOwnedStore(ctx)
		return err
	}
	s.orch = orch

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.cfg.DedupeSize))
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.cfg.QueueSize))
	s.workerPool = worker.NewPool(s.cfg.WorkerCount, s.queue, s.orch,
		worker.WithLogger(s.logger),
		worker.WithOnDone(s.jobDone),
	)

	// Workers outlive the caller's start context and stop on Stop.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.workerPool.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "momentum service started",
		logger.Int("workers", s.cfg.WorkerCount),
		logger.Int("queueSize", s.cfg.QueueSize),
		logger.Int("dedupeSize", s.cfg.DedupeSize),
	)
	return nil
}

// Stop drains the recalculation queue, stops the workers and closes the
// store if the service opened it.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping momentum service...")

	var err error
	if s.workerPool != nil {
		err = s.workerPool.Shutdown(ctx)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.closeOwnedStore(ctx)

	s.started = false
	s.logger.Info(ctx, "momentum service stopped")
	return err
}

func (s *Service) closeOwnedStore(ctx context.Context) {
	if !s.ownsStore || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "error closing store", logger.Error(err))
	}
	s.store = nil
	s.ownsStore = false
}

func (s *Service) jobDone(ctx context.Context, job queue.Job, _ error) {
	s.deduper.Unrecord(ctx, dedupe.Key(job.UserID, job.Date))
}

func (s *Service) orchestrator() (*Orchestrator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.orch, nil
}

// CalculateForUser runs one calculation synchronously.
func (s *Service) CalculateForUser(ctx context.Context, userID string, day model.Date) (model.DailyEngagementScore, error) {
	orch, err := s.orchestrator()
	if err != nil {
		return model.DailyEngagementScore{}, err
	}
	return orch.CalculateForUser(ctx, userID, day)
}

// CalculateForAllUsers runs a batch synchronously.
func (s *Service) CalculateForAllUsers(ctx context.Context, day model.Date) (model.BatchResult, error) {
	orch, err := s.orchestrator()
	if err != nil {
		return model.BatchResult{}, err
	}
	return orch.CalculateForAllUsers(ctx, day)
}

// Backfill writes default rows for the days before today.
func (s *Service) Backfill(ctx context.Context, days int, dryRun bool) (BackfillResult, error) {
	orch, err := s.orchestrator()
	if err != nil {
		return BackfillResult{}, err
	}
	return orch.Backfill(ctx, days, dryRun)
}

// RequestRecalculation queues an asynchronous recalculation. A request for
// a (user, day) already pending is reported as a duplicate. A full queue
// yields RecalcRejected and model.ErrBackpressure.
func (s *Service) RequestRecalculation(ctx context.Context, userID string, day model.Date) (model.RecalcStatus, model.Date, error) {
	orch, err := s.orchestrator()
	if err != nil {
		return model.RecalcRejected, day, err
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return model.RecalcRejected, day, &model.CalcError{
			Kind:   model.KindInvalidInput,
			Stage:  string(StagePending),
			UserID: userID,
			Err:    fmt.Errorf("%w: %q", ErrInvalidUserID, userID),
		}
	}
	userID = id.String()
	if day.IsZero() {
		day = orch.Today()
	}

	key := dedupe.Key(userID, day)
	if s.deduper.SeenAndRecord(ctx, key) {
		metrics.RecordRecalculationDuplicate()
		s.logger.Debug(ctx, "recalculation already pending",
			logger.String("user_id", userID),
			logger.String("score_date", day.String()),
		)
		return model.RecalcDuplicate, day, nil
	}

	job := queue.Job{
		ID:          uuid.NewString(),
		UserID:      userID,
		Date:        day,
		RequestedAt: s.now().UTC(),
	}
	if !s.queue.Enqueue(ctx, job) {
		s.deduper.Unrecord(ctx, key)
		s.logger.Warn(ctx, "recalculation queue full",
			logger.String("user_id", userID),
			logger.Int("capacity", s.queue.Cap()),
		)
		return model.RecalcRejected, day, fmt.Errorf("%w: capacity %d", model.ErrBackpressure, s.queue.Cap())
	}
	return model.RecalcAccepted, day, nil
}

// GetScore returns the persisted score of userID on day.
func (s *Service) GetScore(ctx context.Context, userID string, day model.Date) (model.DailyEngagementScore, error) {
	if _, err := s.orchestrator(); err != nil {
		return model.DailyEngagementScore{}, err
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return model.DailyEngagementScore{}, &model.CalcError{
			Kind:   model.KindInvalidInput,
			Stage:  string(StagePending),
			UserID: userID,
			Date:   day,
			Err:    fmt.Errorf("%w: %q", ErrInvalidUserID, userID),
		}
	}
	return s.store.GetScore(ctx, id.String(), day)
}

// Ping checks the record store.
func (s *Service) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return s.store.Ping(ctx)
}

// Store returns the record store, or nil before Start.
func (s *Service) Store() repository.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]any{
		"started":     s.started,
		"storeDriver": s.cfg.StoreDriver,
		"workerCount": s.cfg.WorkerCount,
		"queueSize":   s.cfg.QueueSize,
		"dedupeSize":  s.cfg.DedupeSize,
	}

	if s.started {
		queueLen := s.queue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["pendingRecalculations"] = s.deduper.Size()
		stats["algorithmVersion"] = s.cfg.Engine.AlgorithmVersion

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateWorkerCount(s.workerPool.Size())
	}

	return stats
}
