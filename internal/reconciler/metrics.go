package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_runs_total",
		Help: "Total number of reconciliation passes",
	})

	sessionsScanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_sessions_scanned_total",
		Help: "Total number of active sessions examined",
	})

	sessionsStopped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_sessions_stopped_total",
		Help: "Total number of sessions auto-terminated, by reason",
	}, []string{"reason"})

	expiringPushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_expiring_pushes_total",
		Help: "Total number of expiring-soon pushes claimed",
	})

	recordErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_record_errors_total",
		Help: "Total number of per-session processing errors",
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "reconciler_run_duration_seconds",
		Help: "Duration of one reconciliation pass",
	})
)
