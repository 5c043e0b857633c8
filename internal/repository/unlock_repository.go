package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/fitting-room-service/internal/model"
)

const unlockColumns = `id, room_id, requested_by, reason, status, resolved_by, requested_at, resolved_at`

// UnlockRepo provides data access to the unlock_requests table.
type UnlockRepo struct {
	db *sql.DB
}

// NewUnlockRepo returns a new UnlockRepo bound to the provided database.
func NewUnlockRepo(db *sql.DB) *UnlockRepo { return &UnlockRepo{db: db} }

func scanUnlock(s rowScanner) (model.UnlockRequest, error) {
	var (
		u        model.UnlockRequest
		by       sql.NullString
		resolved sql.NullTime
	)
	if err := s.Scan(&u.ID, &u.RoomID, &u.RequestedBy, &u.Reason, &u.Status, &by, &u.RequestedAt, &resolved); err != nil {
		return model.UnlockRequest{}, err
	}
	u.ResolvedBy = stringPtr(by)
	u.ResolvedAt = timePtr(resolved)
	return u, nil
}

func scanUnlockRows(rows *sql.Rows) ([]model.UnlockRequest, error) {
	defer rows.Close()
	var out []model.UnlockRequest
	for rows.Next() {
		u, err := scanUnlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetByIDTx fetches an unlock request by ID.
func (r *UnlockRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (model.UnlockRequest, error) {
	u, err := scanUnlock(tx.QueryRowContext(ctx,
		`SELECT `+unlockColumns+` FROM unlock_requests WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.UnlockRequest{}, ErrNotFound
	}
	return u, err
}

// PendingByRoomTx returns the pending requests of a room, oldest first.
func (r *UnlockRepo) PendingByRoomTx(ctx context.Context, tx *sql.Tx, roomID uint64) ([]model.UnlockRequest, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+unlockColumns+` FROM unlock_requests WHERE room_id = ? AND status = ? ORDER BY requested_at, id`,
		roomID, model.UnlockPending)
	if err != nil {
		return nil, err
	}
	return scanUnlockRows(rows)
}

// CreateTx inserts an unlock request and sets its generated ID.
func (r *UnlockRepo) CreateTx(ctx context.Context, tx *sql.Tx, u *model.UnlockRequest) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO unlock_requests (room_id, requested_by, reason, status, resolved_by, requested_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.RoomID, u.RequestedBy, u.Reason, u.Status, nullString(u.ResolvedBy),
		u.RequestedAt.UTC(), nullTime(u.ResolvedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint64(id)
	return nil
}

// UpdateTx writes the resolution of an unlock request.
func (r *UnlockRepo) UpdateTx(ctx context.Context, tx *sql.Tx, u model.UnlockRequest) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE unlock_requests SET status = ?, resolved_by = ?, resolved_at = ? WHERE id = ?`,
		u.Status, nullString(u.ResolvedBy), nullTime(u.ResolvedAt), u.ID)
	return err
}

// ListTx returns requests newest first.  An empty status lists all.
func (r *UnlockRepo) ListTx(ctx context.Context, tx *sql.Tx, status model.UnlockStatus, limit int) ([]model.UnlockRequest, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = tx.QueryContext(ctx,
			`SELECT `+unlockColumns+` FROM unlock_requests ORDER BY requested_at DESC, id DESC LIMIT ?`, limit)
	} else {
		rows, err = tx.QueryContext(ctx,
			`SELECT `+unlockColumns+` FROM unlock_requests WHERE status = ? ORDER BY requested_at DESC, id DESC LIMIT ?`,
			status, limit)
	}
	if err != nil {
		return nil, err
	}
	return scanUnlockRows(rows)
}
