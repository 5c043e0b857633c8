package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/fitting-room-service/internal/model"
)

func TestSweeper_RecoversLostClose(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	assigned := f.occupy(t, "SKU-A")
	f.disp.err = errors.New("broker down")
	_, err := f.rooms.ScanOut(ctx, f.room.ID, "SKU-A", "")
	require.NoError(t, err)
	f.disp.err = nil
	require.Empty(t, f.disp.take())

	sweeper := NewSweeper(f.store, f.disp, 0, zap.NewNop(), nil)
	n, err := sweeper.Sweep(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	jobs := f.disp.jobs
	require.Len(t, jobs, 1)
	assert.Equal(t, assigned.Session.ID, jobs[0].SessionID)

	assert.Equal(t, []string{OutcomeReleased}, f.settle(t))
	n, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeper_IgnoresOccupiedRooms(t *testing.T) {
	f := newFixture(t, true)
	f.occupy(t, "SKU-A", "SKU-B")
	_, err := f.rooms.SetStatus(context.Background(), f.room.ID, model.RoomAlert)
	require.NoError(t, err)

	n, err := NewSweeper(f.store, f.disp, 0, zap.NewNop(), nil).Sweep(context.Background())

	require.NoError(t, err)
	assert.Zero(t, n)
}
