package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/fitting-room-service/internal/inference"
	"github.com/iliyamo/fitting-room-service/internal/model"
	"github.com/iliyamo/fitting-room-service/internal/repository/memstore"
)

var (
	staff   = Actor{ID: "staff-1", Role: RoleStaff}
	manager = Actor{ID: "manager-1", Role: RoleManager}
)

type fakeGateway struct {
	mu sync.Mutex

	predicted    float64
	predictErr   error
	predictCalls int

	anomaly     inference.AnomalyResult
	anomalyErr  error
	anomalyReqs []inference.AnomalyRequest

	assignment inference.Assignment
	assignErr  error
}

func (g *fakeGateway) Predict(_ context.Context, _ []string, _ time.Time) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.predictCalls++
	return g.predicted, g.predictErr
}

func (g *fakeGateway) DetectAnomaly(_ context.Context, req inference.AnomalyRequest) (inference.AnomalyResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.anomalyReqs = append(g.anomalyReqs, req)
	return g.anomaly, g.anomalyErr
}

func (g *fakeGateway) AssignRoom(_ context.Context, _ []string) (inference.Assignment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.assignment, g.assignErr
}

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []SessionCloseJob
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, job SessionCloseJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

func (d *recordingDispatcher) take() []SessionCloseJob {
	d.mu.Lock()
	defer d.mu.Unlock()
	jobs := d.jobs
	d.jobs = nil
	return jobs
}

type fixture struct {
	store  *memstore.Store
	gw     *fakeGateway
	disp   *recordingDispatcher
	alerts *AlertManager
	rooms  *RoomService
	coord  *Coordinator
	unlock *UnlockService
	room   model.Room
}

func newFixture(t *testing.T, failOpen bool) *fixture {
	t.Helper()
	store := memstore.New()
	store.Seed(3, []model.Product{
		{SKU: "SKU-A", Name: "Shirt", Size: "M", Color: "White"},
		{SKU: "SKU-B", Name: "Jeans", Size: "32", Color: "Blue"},
		{SKU: "SKU-C", Name: "Jacket", Size: "L", Color: "Black"},
	})
	gw := &fakeGateway{predicted: 20, anomaly: inference.AnomalyResult{RiskLevel: "low", AnomalyScore: 0.1}}
	disp := &recordingDispatcher{}
	logger := zap.NewNop()
	metrics := NewMetrics(prometheus.NewRegistry())
	alerts := NewAlertManager(store, logger)
	f := &fixture{
		store:  store,
		gw:     gw,
		disp:   disp,
		alerts: alerts,
		rooms: NewRoomService(store, gw, alerts, disp,
			RoomConfig{FallbackPredictedMinutes: 15, AssignFallback: true}, logger, metrics),
		coord: NewCoordinator(store, gw, alerts,
			CoordinatorConfig{FallbackPredictedMinutes: 15, FailOpen: failOpen}, logger, metrics),
		unlock: NewUnlockService(store, logger),
	}
	d, err := f.rooms.GetRoom(context.Background(), 3)
	require.NoError(t, err)
	f.room = d.Room
	return f
}

// occupy assigns room 3 to CARD-1 with the given items.
func (f *fixture) occupy(t *testing.T, skus ...string) AssignResult {
	t.Helper()
	n := 3
	res, err := f.rooms.AssignRoom(context.Background(), AssignInput{CustomerCard: "CARD-1", SKUs: skus, RoomNumber: &n})
	require.NoError(t, err)
	return res
}

func (f *fixture) details(t *testing.T) RoomDetails {
	t.Helper()
	d, err := f.rooms.GetRoom(context.Background(), f.room.ID)
	require.NoError(t, err)
	return d
}

func (f *fixture) alertsOf(t *testing.T, typ model.AlertType) []model.Alert {
	t.Helper()
	all, err := f.alerts.List(context.Background(), false, 0)
	require.NoError(t, err)
	var out []model.Alert
	for _, a := range all {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

// settle runs every dispatched close through the coordinator.
func (f *fixture) settle(t *testing.T) []string {
	t.Helper()
	var outcomes []string
	for _, job := range f.disp.take() {
		out, err := f.coord.CloseSession(context.Background(), job)
		require.NoError(t, err)
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// requireGateSound checks that an available room never has pending items.
func (f *fixture) requireGateSound(t *testing.T) {
	t.Helper()
	d := f.details(t)
	if d.Room.Status == model.RoomAvailable {
		require.Empty(t, d.Pending, "available room with pending items")
	}
}
