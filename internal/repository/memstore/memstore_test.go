package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/fitting-room-service/internal/model"
	"github.com/iliyamo/fitting-room-service/internal/repository"
)

func TestWithRoom_UnknownRoom(t *testing.T) {
	s := New()
	err := s.WithRoom(context.Background(), 42, func(tx repository.Tx) error { return nil })
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestWithRoom_RollbackRestoresEveryWrite(t *testing.T) {
	s := New()
	room := s.AddRoom(1)
	shirt := s.AddProduct(model.Product{SKU: "SKU-1", Name: "Shirt"})
	ctx := context.Background()
	now := time.Now().UTC()

	boom := errors.New("boom")
	err := s.WithRoom(ctx, room.ID, func(tx repository.Tx) error {
		r, err := tx.Room(ctx, room.ID)
		require.NoError(t, err)
		r.Occupy("CARD-1", now)
		require.NoError(t, tx.SaveRoom(ctx, r))
		require.NoError(t, tx.InsertSession(ctx, model.Session{ID: "s1", RoomID: room.ID, CustomerCard: "CARD-1", EntryTime: now, Status: model.SessionActive}))
		require.NoError(t, tx.InsertScanRecord(ctx, &model.ScanRecord{RoomID: room.ID, ProductID: shirt.ID, SessionID: "s1", ScannedInAt: &now}))
		require.NoError(t, tx.InsertAlert(ctx, &model.Alert{RoomID: room.ID, Type: model.AlertMissingItem}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.Read(ctx, func(tx repository.Tx) error {
		r, err := tx.Room(ctx, room.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RoomAvailable, r.Status)
		assert.Nil(t, r.CustomerCard)

		_, err = tx.Session(ctx, "s1")
		assert.ErrorIs(t, err, repository.ErrNotFound)

		items, err := tx.PendingItems(ctx, room.ID)
		require.NoError(t, err)
		assert.Empty(t, items)

		alerts, err := tx.Alerts(ctx, false, 10)
		require.NoError(t, err)
		assert.Empty(t, alerts)
		return nil
	})
	require.NoError(t, err)
}

func TestPendingItemsJoinsProducts(t *testing.T) {
	s := New()
	room := s.AddRoom(1)
	jeans := s.AddProduct(model.Product{SKU: "SKU-2", Name: "Jeans"})
	shirt := s.AddProduct(model.Product{SKU: "SKU-1", Name: "Shirt"})
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.WithRoom(ctx, room.ID, func(tx repository.Tx) error {
		for _, p := range []model.Product{jeans, shirt} {
			if err := tx.InsertScanRecord(ctx, &model.ScanRecord{RoomID: room.ID, ProductID: p.ID, ScannedInAt: &now}); err != nil {
				return err
			}
		}
		out := now.Add(time.Minute)
		return tx.InsertScanRecord(ctx, &model.ScanRecord{RoomID: room.ID, ProductID: shirt.ID, ScannedInAt: &now, ScannedOutAt: &out})
	})
	require.NoError(t, err)

	_ = s.Read(ctx, func(tx repository.Tx) error {
		items, err := tx.PendingItems(ctx, room.ID)
		require.NoError(t, err)
		assert.Equal(t, []model.PendingItem{{SKU: "SKU-1", Name: "Shirt"}, {SKU: "SKU-2", Name: "Jeans"}}, items)
		return nil
	})
}

func TestWithRoom_SerializesSameRoom(t *testing.T) {
	s := New()
	room := s.AddRoom(1)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithRoom(ctx, room.ID, func(tx repository.Tx) error {
				r, err := tx.Room(ctx, room.ID)
				if err != nil {
					return err
				}
				r.Number++
				return tx.SaveRoom(ctx, r)
			})
		}()
	}
	wg.Wait()

	_ = s.Read(ctx, func(tx repository.Tx) error {
		r, err := tx.Room(ctx, room.ID)
		require.NoError(t, err)
		assert.Equal(t, 51, r.Number)
		return nil
	})
}
