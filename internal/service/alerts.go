package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/fitting-room-service/internal/model"
	"github.com/iliyamo/fitting-room-service/internal/repository"
)

const defaultListLimit = 100

// AlertManager owns alert creation, superseding and resolution.
type AlertManager struct {
	store  repository.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewAlertManager constructs an AlertManager.
func NewAlertManager(store repository.Store, logger *zap.Logger) *AlertManager {
	if store == nil {
		panic("nil store passed to NewAlertManager")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertManager{store: store, logger: logger, now: utcNow}
}

// Raise finds the unresolved alert of (room, type) and rewrites its
// message and severity, or creates one when none exists.  It runs inside
// the caller's room scope.
func (m *AlertManager) Raise(ctx context.Context, tx repository.Tx, roomID uint64, t model.AlertType, severity, message string) (model.Alert, error) {
	now := m.now()
	a, err := tx.UnresolvedAlert(ctx, roomID, t)
	switch {
	case err == nil:
		a.Severity = severity
		a.Message = message
		a.UpdatedAt = now
		if err := tx.SaveAlert(ctx, a); err != nil {
			return model.Alert{}, err
		}
		m.logger.Info("alert updated", zap.Uint64("room_id", roomID), zap.Uint64("alert_id", a.ID), zap.String("type", string(t)))
		return a, nil
	case errors.Is(err, repository.ErrNotFound):
		a = model.Alert{
			RoomID:    roomID,
			Type:      t,
			Severity:  severity,
			Message:   message,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertAlert(ctx, &a); err != nil {
			return model.Alert{}, err
		}
		m.logger.Info("alert raised", zap.Uint64("room_id", roomID), zap.Uint64("alert_id", a.ID), zap.String("type", string(t)))
		return a, nil
	default:
		return model.Alert{}, err
	}
}

// AlertInput is a manually filed alert.
type AlertInput struct {
	RoomID   uint64
	Type     model.AlertType
	Severity string
	Message  string
}

// Create files an alert from the staff desk.  It goes through Raise, so an
// unresolved alert of the same type on the room is rewritten rather than
// duplicated.  Severity defaults to medium.
func (m *AlertManager) Create(ctx context.Context, actor Actor, in AlertInput) (model.Alert, error) {
	in.Message = strings.TrimSpace(in.Message)
	in.Severity = strings.ToLower(strings.TrimSpace(in.Severity))
	if in.RoomID == 0 {
		return model.Alert{}, validationError(CodeRoomRequired, "room id is required")
	}
	switch in.Type {
	case model.AlertMissingItem, model.AlertAnomaly:
	default:
		return model.Alert{}, validationError(CodeInvalidInput, "unknown alert type %q", in.Type)
	}
	switch in.Severity {
	case "":
		in.Severity = model.SeverityMedium
	case model.SeverityHigh, model.SeverityMedium, model.SeverityLow:
	default:
		return model.Alert{}, validationError(CodeInvalidInput, "unknown severity %q", in.Severity)
	}
	if in.Message == "" {
		return model.Alert{}, validationError(CodeInvalidInput, "message is required")
	}
	var out model.Alert
	err := m.store.WithRoom(ctx, in.RoomID, func(tx repository.Tx) error {
		var err error
		out, err = m.Raise(ctx, tx, in.RoomID, in.Type, in.Severity, in.Message)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return model.Alert{}, notFoundError(CodeRoomNotFound, "room %d not found", in.RoomID)
	}
	if err != nil {
		return model.Alert{}, err
	}
	m.logger.Info("alert filed", zap.Uint64("alert_id", out.ID), zap.Uint64("room_id", in.RoomID), zap.String("actor", actor.ID))
	return out, nil
}

// RaiseMissingItems records a locked exit naming every missing item.
func (m *AlertManager) RaiseMissingItems(ctx context.Context, tx repository.Tx, room model.Room, missing []model.PendingItem) (model.Alert, error) {
	return m.Raise(ctx, tx, room.ID, model.AlertMissingItem, model.SeverityHigh, missingItemMessage(room.Number, missing))
}

func missingItemMessage(number int, missing []model.PendingItem) string {
	names := make([]string, 0, len(missing))
	for _, it := range missing {
		names = append(names, it.SKU+" - "+it.Name)
	}
	return fmt.Sprintf("Room %d locked: customer cannot exit - %d item(s) not scanned out (%s). Staff intervention required.",
		number, len(missing), strings.Join(names, ", "))
}

func anomalySeverity(riskLevel string) string {
	level := strings.ToLower(strings.TrimSpace(riskLevel))
	if level == "" {
		return model.SeverityMedium
	}
	return level
}

// Resolve closes an alert.  It is rejected while the alert's room is still
// in alert or still has items scanned in but not out.
func (m *AlertManager) Resolve(ctx context.Context, actor Actor, alertID uint64) (model.Alert, error) {
	if alertID == 0 {
		return model.Alert{}, validationError(CodeInvalidInput, "alert id is required")
	}
	var roomID uint64
	err := m.store.Read(ctx, func(tx repository.Tx) error {
		a, err := tx.Alert(ctx, alertID)
		if err != nil {
			return err
		}
		roomID = a.RoomID
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return model.Alert{}, notFoundError(CodeAlertNotFound, "alert %d not found", alertID)
	}
	if err != nil {
		return model.Alert{}, err
	}

	var out model.Alert
	err = m.store.WithRoom(ctx, roomID, func(tx repository.Tx) error {
		a, err := tx.Alert(ctx, alertID)
		if err != nil {
			return err
		}
		if a.Resolved {
			return conflictError(CodeAlertAlreadyResolved, "alert %d is already resolved", alertID)
		}
		room, err := tx.Room(ctx, roomID)
		if err != nil {
			return err
		}
		gate, err := EvaluateExit(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if !gate.CanExit() {
			e := conflictError(CodeAlertConditionPersists, "room %d still has %d unscanned item(s): %s",
				room.Number, len(gate.Missing), strings.Join(gate.SKUs(), ", "))
			e.MissingItems = gate.Missing
			e.Status = room.Status
			return e
		}
		if room.Status == model.RoomAlert {
			e := conflictError(CodeAlertConditionPersists, "room %d is still in alert status", room.Number)
			e.MissingItems = gate.Missing
			e.Status = room.Status
			return e
		}
		now := m.now()
		a.Resolved = true
		a.ResolvedAt = &now
		a.UpdatedAt = now
		if err := tx.SaveAlert(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return model.Alert{}, notFoundError(CodeAlertNotFound, "alert %d not found", alertID)
	}
	if err != nil {
		return model.Alert{}, err
	}
	m.logger.Info("alert resolved", zap.Uint64("alert_id", alertID), zap.Uint64("room_id", roomID), zap.String("actor", actor.ID))
	return out, nil
}

// List returns alerts newest first.
func (m *AlertManager) List(ctx context.Context, unresolvedOnly bool, limit int) ([]model.Alert, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	var out []model.Alert
	err := m.store.Read(ctx, func(tx repository.Tx) error {
		var err error
		out, err = tx.Alerts(ctx, unresolvedOnly, limit)
		return err
	})
	return out, err
}

func utcNow() time.Time { return time.Now().UTC() }
