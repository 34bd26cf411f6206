// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APIRequestAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formsync_api_request_attempts_total",
			Help: "Total number of upstream form API request attempts",
		},
		[]string{"endpoint", "outcome"},
	)

	SyncCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formsync_sync_cycles_total",
			Help: "Total number of reconciliation cycles",
		},
		[]string{"outcome"},
	)

	SyncRecordsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formsync_records_upserted_total",
			Help: "Total number of applicant records written per upsert path",
		},
		[]string{"path"},
	)

	FilesMigrated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formsync_files_migrated_total",
			Help: "Total number of file migrations attempted",
		},
		[]string{"outcome"},
	)

	MatchLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formsync_match_lookups_total",
			Help: "Total number of auxiliary-form match lookups",
		},
		[]string{"outcome"},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "formsync_sync_duration_seconds",
			Help: "Duration of a full reconciliation cycle in seconds",
		},
	)
)
