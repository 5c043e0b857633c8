package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session close outcomes.
const (
	OutcomeReleased    = "released"
	OutcomeAnomaly     = "anomaly"
	OutcomeMissingItem = "missing_item"
	OutcomeNoop        = "noop"
	OutcomeFailed      = "failed"
)

// Metrics holds the prometheus collectors of the service layer.  A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	sessionCloses       *prometheus.CounterVec
	inferenceFailures   *prometheus.CounterVec
	exitBlocks          prometheus.Counter
	dispatchFailures    *prometheus.CounterVec
	coordinatorDuration prometheus.Histogram
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessionCloses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitting_room",
			Name:      "session_closes_total",
			Help:      "Session close runs by outcome.",
		}, []string{"outcome"}),
		inferenceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitting_room",
			Name:      "inference_failures_total",
			Help:      "Failed inference calls that fell back to a default.",
		}, []string{"operation"}),
		exitBlocks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "fitting_room",
			Name:      "exit_blocks_total",
			Help:      "Exit requests rejected because items were not scanned out.",
		}),
		dispatchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitting_room",
			Name:      "dispatch_failures_total",
			Help:      "Session close jobs that could not be dispatched or exhausted retries.",
		}, []string{"reason"}),
		coordinatorDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fitting_room",
			Name:      "session_close_duration_seconds",
			Help:      "Wall time of one session close run.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) sessionClosed(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.sessionCloses.WithLabelValues(outcome).Inc()
	m.coordinatorDuration.Observe(seconds)
}

func (m *Metrics) inferenceFailed(op string) {
	if m == nil {
		return
	}
	m.inferenceFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) exitBlocked() {
	if m == nil {
		return
	}
	m.exitBlocks.Inc()
}

// DispatchFailed counts a job that was lost or gave up.
func (m *Metrics) DispatchFailed(reason string) {
	if m == nil {
		return
	}
	m.dispatchFailures.WithLabelValues(reason).Inc()
}
