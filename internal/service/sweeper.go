package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/fitting-room-service/internal/repository"
)

// Sweeper re-dispatches session closes that were lost: active sessions whose
// room has no pending items and already left occupied.  The close is
// idempotent, so re-dispatching one that is still in flight is harmless.
type Sweeper struct {
	store      repository.Store
	dispatcher Dispatcher
	interval   time.Duration
	logger     *zap.Logger
	metrics    *Metrics
	now        func() time.Time
}

// NewSweeper constructs a Sweeper.
func NewSweeper(store repository.Store, dispatcher Dispatcher, interval time.Duration, logger *zap.Logger, metrics *Metrics) *Sweeper {
	if store == nil || dispatcher == nil {
		panic("nil dependency passed to NewSweeper")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, dispatcher: dispatcher, interval: interval, logger: logger, metrics: metrics, now: utcNow}
}

// Sweep dispatches one close per settling session and returns how many
// were handed off.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	var jobs []SessionCloseJob
	err := s.store.Read(ctx, func(tx repository.Tx) error {
		sessions, err := tx.SettlingSessions(ctx)
		if err != nil {
			return err
		}
		for _, sess := range sessions {
			jobs = append(jobs, NewSessionCloseJob(sess.ID, sess.RoomID, s.now()))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range jobs {
		if err := s.dispatcher.Dispatch(ctx, job); err != nil {
			s.logger.Warn("sweeper dispatch failed", zap.String("session_id", job.SessionID), zap.Error(err))
			s.metrics.DispatchFailed("sweep")
			continue
		}
		n++
	}
	if n > 0 {
		s.logger.Info("sweeper re-dispatched session closes", zap.Int("count", n))
	}
	return n, nil
}

// Run sweeps immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
