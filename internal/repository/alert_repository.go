package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/fitting-room-service/internal/model"
)

const alertColumns = `id, room_id, alert_type, severity, message, resolved, created_at, updated_at, resolved_at`

// AlertRepo provides data access to the alerts table.
type AlertRepo struct {
	db *sql.DB
}

// NewAlertRepo returns a new AlertRepo bound to the provided database.
func NewAlertRepo(db *sql.DB) *AlertRepo { return &AlertRepo{db: db} }

func scanAlert(s rowScanner) (model.Alert, error) {
	var (
		a        model.Alert
		resolved sql.NullTime
	)
	if err := s.Scan(&a.ID, &a.RoomID, &a.Type, &a.Severity, &a.Message, &a.Resolved,
		&a.CreatedAt, &a.UpdatedAt, &resolved); err != nil {
		return model.Alert{}, err
	}
	a.ResolvedAt = timePtr(resolved)
	return a, nil
}

// GetByIDTx fetches an alert by ID.
func (r *AlertRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Alert, error) {
	a, err := scanAlert(tx.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Alert{}, ErrNotFound
	}
	return a, err
}

// UnresolvedByRoomAndTypeTx returns the open alert of the given type for a
// room.  Callers hold the room lock so at most one such row exists.
func (r *AlertRepo) UnresolvedByRoomAndTypeTx(ctx context.Context, tx *sql.Tx, roomID uint64, t model.AlertType) (model.Alert, error) {
	a, err := scanAlert(tx.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts
		 WHERE room_id = ? AND alert_type = ? AND resolved = FALSE
		 ORDER BY id DESC LIMIT 1`, roomID, t))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Alert{}, ErrNotFound
	}
	return a, err
}

// CreateTx inserts an alert and sets its generated ID.
func (r *AlertRepo) CreateTx(ctx context.Context, tx *sql.Tx, a *model.Alert) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO alerts (room_id, alert_type, severity, message, resolved, created_at, updated_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RoomID, a.Type, a.Severity, a.Message, a.Resolved,
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(), nullTime(a.ResolvedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = uint64(id)
	return nil
}

// UpdateTx rewrites the mutable columns of an alert.
func (r *AlertRepo) UpdateTx(ctx context.Context, tx *sql.Tx, a model.Alert) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE alerts SET severity = ?, message = ?, resolved = ?, updated_at = ?, resolved_at = ? WHERE id = ?`,
		a.Severity, a.Message, a.Resolved, a.UpdatedAt.UTC(), nullTime(a.ResolvedAt), a.ID)
	return err
}

// ListTx returns the newest alerts first, optionally only unresolved ones.
func (r *AlertRepo) ListTx(ctx context.Context, tx *sql.Tx, unresolvedOnly bool, limit int) ([]model.Alert, error) {
	q := `SELECT ` + alertColumns + ` FROM alerts`
	if unresolvedOnly {
		q += ` WHERE resolved = FALSE`
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := tx.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
