package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/fitting-room-service/internal/model"
)

var roomCols = []string{"id", "room_number", "status", "customer_rfid", "entry_time", "updated_at"}

func setupMockStore(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *MySQLStore) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewMySQLStore(db)
}

func TestWithRoom_LocksRoomAndCommits(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM rooms WHERE id = \? FOR UPDATE`).
		WithArgs(uint64(3)).
		WillReturnRows(sqlmock.NewRows(roomCols).AddRow(3, 103, "occupied", "CARD-1", now, now))
	mock.ExpectQuery(`SELECT p.sku, p.name`).
		WithArgs(uint64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"sku", "name"}).
			AddRow("SKU-1", "Shirt").
			AddRow("SKU-2", "Jeans"))
	mock.ExpectCommit()

	var items []model.PendingItem
	err := store.WithRoom(context.Background(), 3, func(tx Tx) error {
		var err error
		items, err = tx.PendingItems(context.Background(), 3)
		return err
	})

	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "SKU-1", items[0].SKU)
	assert.Equal(t, "Jeans", items[1].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRoom_UnknownRoom(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(uint64(99)).
		WillReturnRows(sqlmock.NewRows(roomCols))
	mock.ExpectRollback()

	called := false
	err := store.WithRoom(context.Background(), 99, func(tx Tx) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRoom_RollsBackOnError(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	now := time.Now().UTC()
	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows(roomCols).AddRow(1, 101, "available", nil, nil, now))
	mock.ExpectQuery(`FROM rooms WHERE id = \?`).
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows(roomCols).AddRow(1, 101, "available", nil, nil, now))
	mock.ExpectExec(`UPDATE rooms SET status = \?`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := store.WithRoom(context.Background(), 1, func(tx Tx) error {
		room, err := tx.Room(context.Background(), 1)
		if err != nil {
			return err
		}
		room.Occupy("CARD-9", now)
		if err := tx.SaveRoom(context.Background(), room); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRead_ActiveSessionNotFound(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM sessions WHERE room_id = \? AND status = \?`).
		WithArgs(uint64(2), model.SessionActive).
		WillReturnRows(sqlmock.NewRows([]string{"session_id"}))
	mock.ExpectRollback()

	err := store.Read(context.Background(), func(tx Tx) error {
		_, err := tx.ActiveSession(context.Background(), 2)
		return err
	})

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAlert_SetsID(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO alerts`).
		WithArgs(uint64(4), model.AlertMissingItem, model.SeverityHigh, "locked", false, now, now, nil).
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectCommit()

	a := model.Alert{RoomID: 4, Type: model.AlertMissingItem, Severity: model.SeverityHigh,
		Message: "locked", CreatedAt: now, UpdatedAt: now}
	err := store.Read(context.Background(), func(tx Tx) error {
		return tx.InsertAlert(context.Background(), &a)
	})

	require.NoError(t, err)
	assert.Equal(t, uint64(42), a.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlingSessions(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	entry := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	cols := []string{"session_id", "room_id", "customer_rfid", "entry_time", "exit_time",
		"predicted_duration_minutes", "duration_minutes", "is_anomaly", "anomaly_score", "risk_level", "status"}
	mock.ExpectBegin()
	mock.ExpectQuery(`NOT EXISTS`).
		WithArgs(model.SessionActive, model.RoomAvailable, model.RoomAlert).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("sess-1", 5, "CARD-5", entry, nil, 12.5, nil, false, nil, "", "active"))
	mock.ExpectCommit()

	var got []model.Session
	err := store.Read(context.Background(), func(tx Tx) error {
		var err error
		got, err = tx.SettlingSessions(context.Background())
		return err
	})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sess-1", got[0].ID)
	assert.Equal(t, uint64(5), got[0].RoomID)
	require.NotNil(t, got[0].PredictedDurationMinutes)
	assert.Equal(t, 12.5, *got[0].PredictedDurationMinutes)
	assert.Nil(t, got[0].ExitTime)
	assert.False(t, got[0].Completed())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSession_DuplicateIsConflict(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM rooms WHERE id = \? FOR UPDATE`).
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows(roomCols).AddRow(1, 1, "available", nil, nil, now))
	mock.ExpectExec(`INSERT INTO sessions`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()

	err := store.WithRoom(context.Background(), 1, func(tx Tx) error {
		return tx.InsertSession(context.Background(), model.Session{
			ID: "s-1", RoomID: 1, CustomerCard: "CARD-1", EntryTime: now, Status: model.SessionActive,
		})
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoomsByCustomer(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM rooms WHERE customer_rfid = \? ORDER BY room_number`).
		WithArgs("CARD-1").
		WillReturnRows(sqlmock.NewRows(roomCols).
			AddRow(2, 102, "alert", "CARD-1", now, now).
			AddRow(4, 104, "occupied", "CARD-1", now, now))
	mock.ExpectCommit()

	var got []model.Room
	err := store.Read(context.Background(), func(tx Tx) error {
		var err error
		got, err = tx.RoomsByCustomer(context.Background(), "CARD-1")
		return err
	})

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 102, got[0].Number)
	assert.Equal(t, model.RoomAlert, got[0].Status)
	assert.Equal(t, "CARD-1", got[1].Card())
	assert.NoError(t, mock.ExpectationsWereMet())
}
