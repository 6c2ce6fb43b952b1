// Package worker runs queued recalculation jobs against the calculator.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/momentum/internal/adapters/mq/queue"
	"github.com/okian/momentum/internal/domain/model"
	"github.com/okian/momentum/pkg/logger"
	"github.com/okian/momentum/pkg/metrics"
)

// ErrStopped is passed to the done callback for jobs abandoned at shutdown.
var ErrStopped = errors.New("worker stopped")

// Calculator computes and persists one user's score for one day.
type Calculator interface {
	CalculateForUser(ctx context.Context, userID string, day model.Date) (model.DailyEngagementScore, error)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// DoneFunc is called once per job after it finished or was abandoned.
type DoneFunc func(ctx context.Context, job queue.Job, err error)

// Worker processes jobs until its queue is closed.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)

	// Shutdown stops the worker after its current job.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue Queue
	calc  Calculator
	name  string

	onDone DoneFunc

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, calc Calculator, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		calc:     calc,
		name:     "worker",
		onDone:   func(context.Context, queue.Job, error) {},
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			w.process(ctx, job)
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when Run has returned.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

func (w *InMemoryWorker) process(ctx context.Context, job queue.Job) {
	idle := metrics.WorkerBusy()
	defer idle()

	start := time.Now()
	score, err := w.calc.CalculateForUser(ctx, job.UserID, job.Date)
	metrics.RecordWorkerJobLatency(float64(time.Since(start).Microseconds()) / 1000)

	if err != nil {
		w.logger.Error(ctx, "recalculation failed",
			logger.String("job_id", job.ID),
			logger.String("user_id", job.UserID),
			logger.String("date", job.Date.String()),
			logger.Error(err),
		)
	} else {
		w.logger.Debug(ctx, "recalculated",
			logger.String("job_id", job.ID),
			logger.String("user_id", job.UserID),
			logger.Float64("final_score", score.FinalScore),
			logger.String("state", string(score.MomentumState)),
		)
	}
	w.onDone(ctx, job, err)
}

// Pool manages multiple workers reading one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	onDone  DoneFunc
	logger  logger.Logger
}

// NewPool creates workerCount workers. opts apply to every worker.
func NewPool(workerCount int, q Queue, calc Calculator, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.NewNop(),
	}
	for i := range workerCount {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(q, calc, wopts...)
	}
	if len(pool.workers) > 0 {
		pool.logger = pool.workers[0].logger
		pool.onDone = pool.workers[0].onDone
	}

	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue and lets workers drain it. Workers still busy
// when ctx expires are told to stop after their current job, and jobs left
// in the queue are handed to the done callback with ErrStopped.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	var timedOut int
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			w.shutdownOnce.Do(func() { close(w.shutdown) })
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			timedOut++
		}
	}
	if timedOut > 0 {
		p.abandon(ctx)
		return fmt.Errorf("%d workers did not drain: %w", timedOut, ctx.Err())
	}
	return nil
}

// abandon empties the queue without running the jobs.
func (p *Pool) abandon(ctx context.Context) {
	jobs := p.queue.Dequeue(ctx)
	var n int
	for {
		select {
		case job, ok := <-jobs:
			if !ok {
				p.logAbandoned(ctx, n)
				return
			}
			if p.onDone != nil {
				p.onDone(ctx, job, ErrStopped)
			}
			n++
		default:
			p.logAbandoned(ctx, n)
			return
		}
	}
}

func (p *Pool) logAbandoned(ctx context.Context, n int) {
	if n > 0 {
		p.logger.Warn(ctx, "abandoned queued jobs at shutdown", logger.Int("jobs", n))
	}
}
