package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	phaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "manga_pipeline_phase_duration_seconds",
			Help:    "Duration of phase generation attempts, including retries.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"phase", "status"},
	)
	feedbackWaitOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manga_pipeline_feedback_wait_outcomes_total",
			Help: "Feedback wait resolutions by outcome.",
		},
		[]string{"outcome"},
	)
	sessionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manga_pipeline_sessions_finished_total",
			Help: "Sessions that reached a terminal status, by status.",
		},
		[]string{"status"},
	)
	emergencyStops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "manga_pipeline_emergency_stops_total",
			Help: "Forced session failures triggered by the emergency stop guard.",
		},
	)
	reconciledSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manga_pipeline_reconciled_sessions_total",
			Help: "Sessions cleaned up by the stale-session reconciler, by reason.",
		},
		[]string{"reason"},
	)
)
