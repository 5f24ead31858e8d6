package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Tick outcomes used as the "outcome" label of TicksTotal.
const (
	OutcomeMoved       = "moved"
	OutcomePaused      = "paused"
	OutcomeDefective   = "defective"
	OutcomeUnreachable = "unreachable"
	OutcomeSkipped     = "skipped"
	OutcomeFailed      = "failed"
)

var (
	// TicksTotal counts per-vehicle ticks by outcome.
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetsim_ticks_total",
			Help: "Per-vehicle simulation ticks by outcome.",
		},
		[]string{"outcome"},
	)

	// CollaboratorFailures counts failed calls to the directory, sinks and state store.
	CollaboratorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetsim_collaborator_failures_total",
			Help: "Failed calls to external collaborators by operation.",
		},
		[]string{"operation"},
	)

	// NotificationsTotal counts operator notifications emitted, by kind.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetsim_notifications_total",
			Help: "Operator notifications emitted by kind (defect, returned).",
		},
		[]string{"kind"},
	)

	// ModeTransitions counts operating mode transitions by event.
	ModeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetsim_mode_transitions_total",
			Help: "Operating mode transitions by event.",
		},
		[]string{"event"},
	)

	// PassDuration observes how long one simulation pass across the fleet takes.
	PassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetsim_pass_duration_seconds",
			Help:    "Duration of one simulation pass over the fleet.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Vehicles is the number of vehicles seen in the last pass.
	Vehicles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetsim_vehicles",
			Help: "Vehicles listed by the directory in the last pass.",
		},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal)
	prometheus.MustRegister(CollaboratorFailures)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(ModeTransitions)
	prometheus.MustRegister(PassDuration)
	prometheus.MustRegister(Vehicles)
}

// CountFailure records a failed collaborator call.
func CountFailure(operation string) {
	CollaboratorFailures.WithLabelValues(operation).Inc()
}
