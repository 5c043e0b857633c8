package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SessionCloseJob asks the coordinator to close one session.  RequestedAt
// is the moment the exit was granted and becomes the session exit time.
type SessionCloseJob struct {
	JobID       string    `json:"job_id"`
	SessionID   string    `json:"session_id"`
	RoomID      uint64    `json:"room_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewSessionCloseJob stamps a fresh job id.
func NewSessionCloseJob(sessionID string, roomID uint64, at time.Time) SessionCloseJob {
	return SessionCloseJob{JobID: uuid.NewString(), SessionID: sessionID, RoomID: roomID, RequestedAt: at.UTC()}
}

// Dispatcher hands a job to background execution without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, job SessionCloseJob) error
}

// JobHandler processes one job.  A returned error schedules a retry.
type JobHandler func(ctx context.Context, job SessionCloseJob) error

var (
	ErrQueueFull   = errors.New("dispatch queue full")
	ErrPoolStopped = errors.New("worker pool stopped")
)

// PoolConfig sizes a WorkerPool.
type PoolConfig struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration
}

// WorkerPool runs jobs fed by a bounded queue, at most Workers at a time.
// Failed jobs are retried with exponential backoff; a job that exhausts its
// attempts is logged and counted, and left for the sweeper.
type WorkerPool struct {
	handle  JobHandler
	cfg     PoolConfig
	jobs    chan SessionCloseJob
	quit    chan struct{}
	stop    sync.Once
	loop    sync.WaitGroup
	group   errgroup.Group
	logger  *zap.Logger
	metrics *Metrics
}

// NewWorkerPool builds a pool; call Start to begin draining the queue.
func NewWorkerPool(handle JobHandler, cfg PoolConfig, logger *zap.Logger, metrics *Metrics) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &WorkerPool{
		handle:  handle,
		cfg:     cfg,
		jobs:    make(chan SessionCloseJob, cfg.QueueSize),
		quit:    make(chan struct{}),
		logger:  logger,
		metrics: metrics,
	}
	p.group.SetLimit(cfg.Workers)
	return p
}

// Start drains the queue until ctx is done or Stop is called.  Handlers
// run with ctx; Stop only cuts retry waits short.
func (p *WorkerPool) Start(ctx context.Context) {
	retryCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		select {
		case <-p.quit:
		case <-retryCtx.Done():
		}
	}()
	p.loop.Add(1)
	go p.drain(ctx, retryCtx)
}

// Stop signals the pool and waits for in-flight jobs to finish.  Jobs
// still queued are dropped.
func (p *WorkerPool) Stop() {
	p.stop.Do(func() { close(p.quit) })
	p.loop.Wait()
	_ = p.group.Wait()
}

// Dispatch enqueues job without blocking.
func (p *WorkerPool) Dispatch(_ context.Context, job SessionCloseJob) error {
	select {
	case <-p.quit:
		return ErrPoolStopped
	default:
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		p.metrics.DispatchFailed("queue_full")
		return ErrQueueFull
	}
}

// drain hands queued jobs to the group.  Go blocks while Workers jobs are
// in flight, so the queue absorbs bursts.
func (p *WorkerPool) drain(ctx, retryCtx context.Context) {
	defer p.loop.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case job := <-p.jobs:
			p.group.Go(func() error {
				p.run(ctx, retryCtx, job)
				return nil
			})
		}
	}
}

func (p *WorkerPool) retryPolicy(retryCtx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.Backoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.cfg.MaxAttempts-1)), retryCtx)
}

func (p *WorkerPool) run(ctx, retryCtx context.Context, job SessionCloseJob) {
	attempt := 0
	op := func() error {
		attempt++
		return p.handle(ctx, job)
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Warn("session close failed; retrying",
			zap.String("job_id", job.JobID),
			zap.String("session_id", job.SessionID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}
	err := backoff.RetryNotify(op, p.retryPolicy(retryCtx), notify)
	if err == nil || retryCtx.Err() != nil {
		return
	}
	p.logger.Error("session close gave up",
		zap.String("job_id", job.JobID),
		zap.String("session_id", job.SessionID),
		zap.Uint64("room_id", job.RoomID),
		zap.Int("attempts", attempt),
		zap.Error(err),
	)
	p.metrics.DispatchFailed("exhausted")
}
