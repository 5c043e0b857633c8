package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/fitting-room-service/internal/model"
)

const roomColumns = `id, room_number, status, customer_rfid, entry_time, updated_at`

// RoomRepo provides data access to the rooms table.  Rooms are provisioned
// by schema setup; this repository only reads and updates them.
type RoomRepo struct {
	db *sql.DB
}

// NewRoomRepo returns a new RoomRepo bound to the provided database.
func NewRoomRepo(db *sql.DB) *RoomRepo { return &RoomRepo{db: db} }

func scanRoom(s rowScanner) (model.Room, error) {
	var (
		r     model.Room
		card  sql.NullString
		entry sql.NullTime
	)
	if err := s.Scan(&r.ID, &r.Number, &r.Status, &card, &entry, &r.UpdatedAt); err != nil {
		return model.Room{}, err
	}
	r.CustomerCard = stringPtr(card)
	r.EntryTime = timePtr(entry)
	return r, nil
}

// LockTx reads a room and takes its row lock until the transaction ends.
func (r *RoomRepo) LockTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Room, error) {
	room, err := scanRoom(tx.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE id = ? FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Room{}, ErrNotFound
	}
	return room, err
}

// GetByIDTx reads a room without locking it.
func (r *RoomRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Room, error) {
	room, err := scanRoom(tx.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Room{}, ErrNotFound
	}
	return room, err
}

// GetByNumberTx reads a room by its door number.
func (r *RoomRepo) GetByNumberTx(ctx context.Context, tx *sql.Tx, number int) (model.Room, error) {
	room, err := scanRoom(tx.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE room_number = ?`, number))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Room{}, ErrNotFound
	}
	return room, err
}

// ListAvailableTx returns available rooms ordered by room number.
func (r *RoomRepo) ListAvailableTx(ctx context.Context, tx *sql.Tx) ([]model.Room, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE status = ? ORDER BY room_number`, model.RoomAvailable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rooms []model.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// ListByCustomerTx returns the rooms currently assigned to card, ordered by
// room number.
func (r *RoomRepo) ListByCustomerTx(ctx context.Context, tx *sql.Tx, card string) ([]model.Room, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE customer_rfid = ? ORDER BY room_number`, card)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	rooms := []model.Room{}
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// UpdateTx writes status, occupancy fields and updated_at of a room.
func (r *RoomRepo) UpdateTx(ctx context.Context, tx *sql.Tx, room model.Room) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE rooms SET status = ?, customer_rfid = ?, entry_time = ?, updated_at = ? WHERE id = ?`,
		room.Status, nullString(room.CustomerCard), nullTime(room.EntryTime), room.UpdatedAt.UTC(), room.ID)
	return err
}
