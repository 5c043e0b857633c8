package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/fitting-room-service/internal/inference"
	"github.com/iliyamo/fitting-room-service/internal/model"
	"github.com/iliyamo/fitting-room-service/internal/repository"
)

// Gateway is the part of the inference client the services depend on.
type Gateway interface {
	Predict(ctx context.Context, itemIDs []string, entryTime time.Time) (float64, error)
	DetectAnomaly(ctx context.Context, req inference.AnomalyRequest) (inference.AnomalyResult, error)
	AssignRoom(ctx context.Context, itemIDs []string) (inference.Assignment, error)
}

// CoordinatorConfig holds the fallback policy of the session close.
type CoordinatorConfig struct {
	// FallbackPredictedMinutes is used when no prediction is stored and
	// predict fails.
	FallbackPredictedMinutes float64
	// FailOpen treats a failed anomaly check as "no anomaly".  When false
	// the room is locked with an anomaly alert instead.
	FailOpen bool
}

const (
	riskUnknown = "unknown"

	// coordinatorActorID is recorded as resolver of requests the
	// coordinator rejects.
	coordinatorActorID = "coordinator"
)

// Coordinator runs the session close sequence out of band from the request
// that granted the exit.  Network calls happen outside any store scope; the
// session is re-read under the room lock before anything is written, so a
// repeated run for the same session is a no-op.
type Coordinator struct {
	store   repository.Store
	gateway Gateway
	alerts  *AlertManager
	cfg     CoordinatorConfig
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(store repository.Store, gateway Gateway, alerts *AlertManager, cfg CoordinatorConfig, logger *zap.Logger, metrics *Metrics) *Coordinator {
	if store == nil || gateway == nil || alerts == nil {
		panic("nil dependency passed to NewCoordinator")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{store: store, gateway: gateway, alerts: alerts, cfg: cfg, logger: logger, metrics: metrics, now: utcNow}
}

// closeSnapshot is what the close needs to know before calling out.
type closeSnapshot struct {
	session    model.Session
	roomNumber int
	entrySKUs  []string
	exitSKUs   []string
}

// Handle adapts CloseSession to a JobHandler.
func (c *Coordinator) Handle(ctx context.Context, job SessionCloseJob) error {
	_, err := c.CloseSession(ctx, job)
	return err
}

// CloseSession closes job.SessionID and returns the outcome.
func (c *Coordinator) CloseSession(ctx context.Context, job SessionCloseJob) (string, error) {
	start := time.Now()
	outcome, err := c.closeSession(ctx, job)
	if err != nil {
		outcome = OutcomeFailed
	}
	c.metrics.sessionClosed(outcome, time.Since(start).Seconds())
	log := c.logger.With(
		zap.String("session_id", job.SessionID),
		zap.Uint64("room_id", job.RoomID),
		zap.String("outcome", outcome),
	)
	if err != nil {
		log.Error("session close failed", zap.Error(err))
		return outcome, err
	}
	log.Info("session close finished")
	return outcome, nil
}

func (c *Coordinator) closeSession(ctx context.Context, job SessionCloseJob) (string, error) {
	exitAt := job.RequestedAt
	if exitAt.IsZero() {
		exitAt = c.now()
	}

	snap, ok, err := c.snapshot(ctx, job)
	if err != nil || !ok {
		return OutcomeNoop, err
	}

	predicted := c.predictedMinutes(ctx, snap)
	actual := exitAt.Sub(snap.session.EntryTime).Minutes()
	if actual < 0 {
		actual = 0
	}
	verdict, checked := c.detect(ctx, snap, actual, predicted)

	outcome := OutcomeNoop
	err = c.store.WithRoom(ctx, job.RoomID, func(tx repository.Tx) error {
		s, err := tx.Session(ctx, job.SessionID)
		if err != nil {
			return err
		}
		if s.Completed() {
			return nil
		}
		room, err := tx.Room(ctx, job.RoomID)
		if err != nil {
			return err
		}
		gate, err := EvaluateExit(ctx, tx, room.ID)
		if err != nil {
			return err
		}
		if !gate.CanExit() {
			// Items came back in while the check ran; the session stays
			// active and the room waits for the next close.
			room.Lock(c.now())
			if err := tx.SaveRoom(ctx, room); err != nil {
				return err
			}
			if err := MarkMissing(ctx, tx, room.ID); err != nil {
				return err
			}
			if _, err := c.alerts.RaiseMissingItems(ctx, tx, room, gate.Missing); err != nil {
				return err
			}
			outcome = OutcomeMissingItem
			return nil
		}

		s.PredictedDurationMinutes = &predicted
		s.Close(exitAt)
		s.IsAnomaly = verdict.IsAnomaly
		s.RiskLevel = verdict.RiskLevel
		if checked {
			score := verdict.AnomalyScore
			s.AnomalyScore = &score
		}
		if err := tx.SaveSession(ctx, s); err != nil {
			return err
		}

		now := c.now()
		if verdict.IsAnomaly || (!checked && !c.cfg.FailOpen) {
			room.Lock(now)
			if err := tx.SaveRoom(ctx, room); err != nil {
				return err
			}
			severity := model.SeverityMedium
			if checked {
				severity = anomalySeverity(verdict.RiskLevel)
			}
			if _, err := c.alerts.Raise(ctx, tx, room.ID, model.AlertAnomaly,
				severity, anomalyMessage(room.Number, verdict, checked)); err != nil {
				return err
			}
			outcome = OutcomeAnomaly
			return nil
		}
		room.Release(now)
		if err := tx.SaveRoom(ctx, room); err != nil {
			return err
		}
		if err := tx.DeleteScanRecords(ctx, room.ID); err != nil {
			return err
		}
		rejected, err := rejectPendingUnlocks(ctx, tx, room.ID, coordinatorActorID, now)
		if err != nil {
			return err
		}
		if len(rejected) > 0 {
			c.logger.Info("pending unlock requests rejected on release",
				zap.Uint64("room_id", room.ID), zap.Int("count", len(rejected)))
		}
		outcome = OutcomeReleased
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		c.logger.Warn("session close target vanished", zap.String("session_id", job.SessionID), zap.Uint64("room_id", job.RoomID))
		return OutcomeNoop, nil
	}
	return outcome, err
}

func (c *Coordinator) snapshot(ctx context.Context, job SessionCloseJob) (closeSnapshot, bool, error) {
	var (
		snap closeSnapshot
		ok   bool
	)
	err := c.store.WithRoom(ctx, job.RoomID, func(tx repository.Tx) error {
		s, err := tx.Session(ctx, job.SessionID)
		if err != nil {
			return err
		}
		if s.Completed() || s.RoomID != job.RoomID {
			return nil
		}
		room, err := tx.Room(ctx, job.RoomID)
		if err != nil {
			return err
		}
		recs, err := tx.ScanRecords(ctx, job.RoomID)
		if err != nil {
			return err
		}
		snap = closeSnapshot{session: s, roomNumber: room.Number, entrySKUs: []string{}, exitSKUs: []string{}}
		for _, r := range recs {
			if r.SessionID != s.ID {
				continue
			}
			if r.ScannedInAt != nil {
				snap.entrySKUs = append(snap.entrySKUs, r.SKU)
			}
			if r.ScannedOutAt != nil {
				snap.exitSKUs = append(snap.exitSKUs, r.SKU)
			}
		}
		ok = true
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		c.logger.Warn("session close for unknown session", zap.String("session_id", job.SessionID), zap.Uint64("room_id", job.RoomID))
		return closeSnapshot{}, false, nil
	}
	return snap, ok, err
}

func (c *Coordinator) predictedMinutes(ctx context.Context, snap closeSnapshot) float64 {
	if p := snap.session.PredictedDurationMinutes; p != nil {
		return *p
	}
	p, err := c.gateway.Predict(ctx, snap.entrySKUs, snap.session.EntryTime)
	if err != nil {
		c.metrics.inferenceFailed("predict")
		c.logger.Warn("predict failed; using fallback",
			zap.String("session_id", snap.session.ID),
			zap.Float64("fallback_minutes", c.cfg.FallbackPredictedMinutes),
			zap.Error(err),
		)
		return c.cfg.FallbackPredictedMinutes
	}
	return p
}

// detect returns the verdict and whether the check actually ran.
func (c *Coordinator) detect(ctx context.Context, snap closeSnapshot, actual, predicted float64) (inference.AnomalyResult, bool) {
	res, err := c.gateway.DetectAnomaly(ctx, inference.AnomalyRequest{
		SessionID:         snap.session.ID,
		RoomID:            inference.RoomID(snap.roomNumber),
		ActualDuration:    actual,
		PredictedDuration: predicted,
		EntryScans:        snap.entrySKUs,
		ExitScans:         snap.exitSKUs,
		EntryTime:         snap.session.EntryTime,
	})
	if err != nil {
		c.metrics.inferenceFailed("detect_anomaly")
		c.logger.Warn("anomaly detection failed",
			zap.String("session_id", snap.session.ID),
			zap.Bool("fail_open", c.cfg.FailOpen),
			zap.Error(err),
		)
		return inference.AnomalyResult{SessionID: snap.session.ID, RiskLevel: riskUnknown}, false
	}
	return res, true
}

func anomalyMessage(number int, v inference.AnomalyResult, checked bool) string {
	if !checked {
		return fmt.Sprintf("Room %d locked: anomaly check could not run. Review the session before unlocking.", number)
	}
	return fmt.Sprintf("AI detected anomaly (score=%.2f) in room %d. Review session for suspicious behavior.", v.AnomalyScore, number)
}
