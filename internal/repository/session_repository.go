package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/fitting-room-service/internal/model"
)

const sessionColumns = `session_id, room_id, customer_rfid, entry_time, exit_time,
	predicted_duration_minutes, duration_minutes, is_anomaly, anomaly_score, risk_level, status`

// errDuplicateEntry is the MySQL error number for a unique key violation.
const errDuplicateEntry = 1062

// SessionRepo provides data access to occupancy sessions.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo returns a new SessionRepo bound to the provided database.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

func scanSession(s rowScanner) (model.Session, error) {
	var (
		ss                    model.Session
		exit                  sql.NullTime
		predicted, dur, score sql.NullFloat64
	)
	if err := s.Scan(&ss.ID, &ss.RoomID, &ss.CustomerCard, &ss.EntryTime, &exit,
		&predicted, &dur, &ss.IsAnomaly, &score, &ss.RiskLevel, &ss.Status); err != nil {
		return model.Session{}, err
	}
	ss.EntryTime = ss.EntryTime.UTC()
	ss.ExitTime = timePtr(exit)
	ss.PredictedDurationMinutes = floatPtr(predicted)
	ss.DurationMinutes = floatPtr(dur)
	ss.AnomalyScore = floatPtr(score)
	return ss, nil
}

// CreateTx inserts a new session row.
func (r *SessionRepo) CreateTx(ctx context.Context, tx *sql.Tx, s model.Session) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.RoomID, s.CustomerCard, s.EntryTime.UTC(), nullTime(s.ExitTime),
		nullFloat(s.PredictedDurationMinutes), nullFloat(s.DurationMinutes), s.IsAnomaly,
		nullFloat(s.AnomalyScore), s.RiskLevel, s.Status)
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == errDuplicateEntry {
		return ErrConflict
	}
	return err
}

// GetByIDTx fetches a session by its identifier.
func (r *SessionRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id string) (model.Session, error) {
	s, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, ErrNotFound
	}
	return s, err
}

// ActiveByRoomTx returns the active session of a room, if any.
func (r *SessionRepo) ActiveByRoomTx(ctx context.Context, tx *sql.Tx, roomID uint64) (model.Session, error) {
	s, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE room_id = ? AND status = ?
		 ORDER BY entry_time DESC LIMIT 1`, roomID, model.SessionActive))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, ErrNotFound
	}
	return s, err
}

// UpdateTx writes the closing fields of a session.
func (r *SessionRepo) UpdateTx(ctx context.Context, tx *sql.Tx, s model.Session) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE sessions
		 SET exit_time = ?, predicted_duration_minutes = ?, duration_minutes = ?,
		     is_anomaly = ?, anomaly_score = ?, risk_level = ?, status = ?
		 WHERE session_id = ?`,
		nullTime(s.ExitTime), nullFloat(s.PredictedDurationMinutes), nullFloat(s.DurationMinutes),
		s.IsAnomaly, nullFloat(s.AnomalyScore), s.RiskLevel, s.Status, s.ID)
	return err
}

// ListSettlingTx returns active sessions whose room has emptied its scan
// ledger of pending items and is no longer occupied.  These are closes
// that were dispatched but may not have been processed.
func (r *SessionRepo) ListSettlingTx(ctx context.Context, tx *sql.Tx) ([]model.Session, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT s.session_id, s.room_id, s.customer_rfid, s.entry_time, s.exit_time,
		        s.predicted_duration_minutes, s.duration_minutes, s.is_anomaly, s.anomaly_score, s.risk_level, s.status
		 FROM sessions s
		 JOIN rooms r ON r.id = s.room_id
		 WHERE s.status = ?
		   AND r.status IN (?, ?)
		   AND NOT EXISTS (
		       SELECT 1 FROM room_products rp
		       WHERE rp.room_id = s.room_id
		         AND rp.scanned_in_at IS NOT NULL
		         AND rp.scanned_out_at IS NULL)
		 ORDER BY s.entry_time`,
		model.SessionActive, model.RoomAvailable, model.RoomAlert)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
