package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Snapshot pipeline metrics
	SnapshotRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapguard_snapshot_runs_total",
			Help: "Total number of snapshot runs by type and final status",
		},
		[]string{"run_type", "status"},
	)

	SnapshotRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapguard_snapshot_records_total",
			Help: "Total number of snapshot records by action",
		},
		[]string{"action"},
	)

	SnapshotRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snapguard_snapshot_run_duration_seconds",
			Help:    "Duration of full snapshot pipeline runs in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	TriggerClaimsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snapguard_trigger_claims_total",
			Help: "Total number of on-demand triggers claimed by this worker",
		},
	)

	// Session provider metrics
	SessionGrantAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snapguard_session_grant_attempts_total",
			Help: "Total number of admin role grant attempts performed by the session provider",
		},
	)

	SessionFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snapguard_session_fallbacks_total",
			Help: "Total number of times a project session was unavailable and the admin session was used",
		},
	)

	// Restore engine metrics
	RestoreJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapguard_restore_jobs_total",
			Help: "Total number of restore jobs reaching a terminal status",
		},
		[]string{"mode", "status"},
	)

	RestoreStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapguard_restore_step_duration_seconds",
			Help:    "Duration of restore steps in seconds by kind",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"kind"},
	)

	// Cloud client metrics
	CloudRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapguard_cloud_requests_total",
			Help: "Total number of cloud API operations by operation and outcome kind",
		},
		[]string{"operation", "kind"},
	)
)

func init() {
	prometheus.MustRegister(
		SnapshotRunsTotal,
		SnapshotRecordsTotal,
		SnapshotRunDuration,
		TriggerClaimsTotal,
		SessionGrantAttempts,
		SessionFallbacks,
		RestoreJobsTotal,
		RestoreStepDuration,
		CloudRequestsTotal,
	)
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
