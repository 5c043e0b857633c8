package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/fitting-room-service/internal/inference"
	"github.com/iliyamo/fitting-room-service/internal/model"
	"github.com/iliyamo/fitting-room-service/internal/repository"
)

func sessionByID(t *testing.T, f *fixture, id string) model.Session {
	t.Helper()
	var s model.Session
	require.NoError(t, f.store.Read(context.Background(), func(tx repository.Tx) error {
		var err error
		s, err = tx.Session(context.Background(), id)
		return err
	}))
	return s
}

func TestClose_AnomalyLocksRoom(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	assigned := f.occupy(t, "SKU-A", "SKU-B")
	f.gw.anomaly = inference.AnomalyResult{IsAnomaly: true, AnomalyScore: 0.87, RiskLevel: "High"}

	res, err := f.rooms.ScanOut(ctx, f.room.ID, "SKU-A", "")
	require.NoError(t, err)
	assert.Equal(t, model.RoomOccupied, res.Room.Status)
	assert.Equal(t, 1, res.ItemsRemaining)
	assert.False(t, res.CanExit)

	res, err = f.rooms.ScanOut(ctx, f.room.ID, "SKU-B", "")
	require.NoError(t, err)
	assert.True(t, res.CanExit)

	assert.Equal(t, []string{OutcomeAnomaly}, f.settle(t))

	d := f.details(t)
	assert.Equal(t, model.RoomAlert, d.Room.Status)
	assert.Equal(t, "CARD-1", d.Room.Card())
	assert.NotNil(t, d.Room.EntryTime)
	assert.Len(t, d.Items, 2)

	alerts := f.alertsOf(t, model.AlertAnomaly)
	require.Len(t, alerts, 1)
	assert.Equal(t, model.SeverityHigh, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "score=0.87")
	assert.Empty(t, f.alertsOf(t, model.AlertMissingItem))

	s := sessionByID(t, f, assigned.Session.ID)
	assert.True(t, s.IsAnomaly)
	assert.Equal(t, model.SessionCompleted, s.Status)
	require.NotNil(t, s.AnomalyScore)
	assert.InDelta(t, 0.87, *s.AnomalyScore, 1e-9)
	assert.NotNil(t, s.ExitTime)
	assert.NotNil(t, s.DurationMinutes)

	require.Len(t, f.gw.anomalyReqs, 1)
	req := f.gw.anomalyReqs[0]
	assert.Equal(t, "room_3", req.RoomID)
	assert.ElementsMatch(t, []string{"SKU-A", "SKU-B"}, req.EntryScans)
	assert.ElementsMatch(t, []string{"SKU-A", "SKU-B"}, req.ExitScans)
	assert.Equal(t, 20.0, req.PredictedDuration)
	assert.Equal(t, 1, f.gw.predictCalls, "stored prediction must be reused")
}

func TestClose_NoAnomalyReleasesRoom(t *testing.T) {
	f := newFixture(t, true)
	assigned := f.occupy(t, "SKU-A")
	_, err := f.rooms.ScanOut(context.Background(), f.room.ID, "SKU-A", "")
	require.NoError(t, err)

	assert.Equal(t, []string{OutcomeReleased}, f.settle(t))

	d := f.details(t)
	assert.Equal(t, model.RoomAvailable, d.Room.Status)
	assert.Nil(t, d.Room.CustomerCard)
	assert.Nil(t, d.Room.EntryTime)
	assert.Empty(t, d.Items)
	assert.Nil(t, d.Session)
	assert.Empty(t, f.alertsOf(t, model.AlertAnomaly))

	s := sessionByID(t, f, assigned.Session.ID)
	assert.False(t, s.IsAnomaly)
	assert.Equal(t, "low", s.RiskLevel)
	assert.True(t, s.Completed())
}

func TestClose_IsIdempotent(t *testing.T) {
	f := newFixture(t, true)
	f.occupy(t, "SKU-A")
	f.gw.anomaly = inference.AnomalyResult{IsAnomaly: true, AnomalyScore: 0.9, RiskLevel: "medium"}
	_, err := f.rooms.ScanOut(context.Background(), f.room.ID, "SKU-A", "")
	require.NoError(t, err)
	jobs := f.disp.take()
	require.Len(t, jobs, 1)

	first, err := f.coord.CloseSession(context.Background(), jobs[0])
	require.NoError(t, err)
	before := f.details(t)
	second, err := f.coord.CloseSession(context.Background(), jobs[0])
	require.NoError(t, err)

	assert.Equal(t, OutcomeAnomaly, first)
	assert.Equal(t, OutcomeNoop, second)
	assert.Equal(t, before, f.details(t))
	assert.Len(t, f.alertsOf(t, model.AlertAnomaly), 1)
	assert.Len(t, f.gw.anomalyReqs, 1)
}

func TestClose_FailOpenReleasesRoom(t *testing.T) {
	f := newFixture(t, true)
	assigned := f.occupy(t, "SKU-A")
	f.gw.anomalyErr = inference.ErrUpstream
	_, err := f.rooms.ScanOut(context.Background(), f.room.ID, "SKU-A", "")
	require.NoError(t, err)

	assert.Equal(t, []string{OutcomeReleased}, f.settle(t))

	assert.Equal(t, model.RoomAvailable, f.details(t).Room.Status)
	assert.Empty(t, f.alertsOf(t, model.AlertAnomaly))
	s := sessionByID(t, f, assigned.Session.ID)
	assert.True(t, s.Completed())
	assert.False(t, s.IsAnomaly)
	assert.Nil(t, s.AnomalyScore)
	assert.Equal(t, riskUnknown, s.RiskLevel)
	f.requireGateSound(t)
}

func TestClose_FailClosedLocksRoom(t *testing.T) {
	f := newFixture(t, false)
	f.occupy(t, "SKU-A")
	f.gw.anomalyErr = inference.ErrUpstream
	_, err := f.rooms.ScanOut(context.Background(), f.room.ID, "SKU-A", "")
	require.NoError(t, err)

	assert.Equal(t, []string{OutcomeAnomaly}, f.settle(t))

	assert.Equal(t, model.RoomAlert, f.details(t).Room.Status)
	alerts := f.alertsOf(t, model.AlertAnomaly)
	require.Len(t, alerts, 1)
	assert.Equal(t, model.SeverityMedium, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "could not run")
}

func TestClose_FallbackPrediction(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	entry := time.Now().UTC().Add(-30 * time.Minute)
	require.NoError(t, f.store.WithRoom(ctx, f.room.ID, func(tx repository.Tx) error {
		room, err := tx.Room(ctx, f.room.ID)
		if err != nil {
			return err
		}
		room.Occupy("CARD-7", entry)
		room.Settle(entry)
		if err := tx.SaveRoom(ctx, room); err != nil {
			return err
		}
		return tx.InsertSession(ctx, model.Session{ID: "legacy", RoomID: room.ID, CustomerCard: "CARD-7", EntryTime: entry, Status: model.SessionActive})
	}))
	f.gw.predictErr = inference.ErrUpstream

	out, err := f.coord.CloseSession(ctx, NewSessionCloseJob("legacy", f.room.ID, time.Now()))

	require.NoError(t, err)
	assert.Equal(t, OutcomeReleased, out)
	require.Len(t, f.gw.anomalyReqs, 1)
	assert.Equal(t, 15.0, f.gw.anomalyReqs[0].PredictedDuration)
	assert.InDelta(t, 30.0, f.gw.anomalyReqs[0].ActualDuration, 0.5)
	s := sessionByID(t, f, "legacy")
	require.NotNil(t, s.PredictedDurationMinutes)
	assert.Equal(t, 15.0, *s.PredictedDurationMinutes)
}

func TestClose_ItemsReturnedDuringCheck(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	assigned := f.occupy(t, "SKU-A")
	_, err := f.rooms.SetStatus(ctx, f.room.ID, model.RoomAlert)
	require.NoError(t, err)
	_, err = f.rooms.ScanOut(ctx, f.room.ID, "SKU-A", "")
	require.NoError(t, err)
	jobs := f.disp.take()
	require.Len(t, jobs, 1)
	_, err = f.rooms.ScanIn(ctx, f.room.ID, "SKU-B")
	require.NoError(t, err)

	out, err := f.coord.CloseSession(ctx, jobs[0])

	require.NoError(t, err)
	assert.Equal(t, OutcomeMissingItem, out)
	d := f.details(t)
	assert.Equal(t, model.RoomAlert, d.Room.Status)
	for _, rec := range d.Items {
		assert.Equal(t, rec.SKU == "SKU-B", rec.IsMissing, rec.SKU)
	}
	require.Len(t, f.alertsOf(t, model.AlertMissingItem), 1)
	assert.False(t, sessionByID(t, f, assigned.Session.ID).Completed())
}

func TestClose_UnknownSessionIsNoop(t *testing.T) {
	f := newFixture(t, true)

	out, err := f.coord.CloseSession(context.Background(), NewSessionCloseJob("ghost", f.room.ID, time.Now()))

	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, out)
	assert.Empty(t, f.gw.anomalyReqs)
}
