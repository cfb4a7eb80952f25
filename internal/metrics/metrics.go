// package metrics defines the Prometheus collectors for the sync pipeline
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Job coordinator
	SyncJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "libsync_sync_jobs_total",
			Help: "Total number of sync job outcomes",
		},
		[]string{"provider", "outcome"}, // "completed", "failed", "retried"
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "libsync_sync_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"provider"},
	)

	SyncJobsQueued = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "libsync_sync_jobs",
			Help: "Current number of sync jobs by state",
		},
		[]string{"state"},
	)

	// Entity store
	EntitiesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "libsync_entities_written_total",
			Help: "Total number of entities written to the library cache",
		},
		[]string{"kind"}, // "user", "playlist", "track", "artist"
	)

	// Provider client
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "libsync_provider_requests_total",
			Help: "Total number of provider API requests by outcome",
		},
		[]string{"provider", "outcome"}, // "success", "auth", "not_found", "unavailable", "error", "rejected"
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "libsync_provider_request_duration_seconds",
			Help:    "Duration of provider API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "libsync_token_refreshes_total",
			Help: "Total number of access token refresh attempts",
		},
		[]string{"provider", "outcome"}, // "success", "failure"
	)

	ArtistBatchesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "libsync_artist_batches_skipped_total",
			Help: "Total number of artist batches skipped after a failed fetch",
		},
		[]string{"provider"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "libsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordSyncJob records the outcome of a sync attempt.
func RecordSyncJob(provider, outcome string, duration time.Duration) {
	SyncJobsTotal.WithLabelValues(provider, outcome).Inc()
	if duration > 0 {
		SyncDuration.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

// RecordProviderRequest records a provider API request.
func RecordProviderRequest(provider, outcome string, duration time.Duration) {
	ProviderRequests.WithLabelValues(provider, outcome).Inc()
	ProviderRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordTokenRefresh records a token refresh attempt.
func RecordTokenRefresh(provider string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	TokenRefreshes.WithLabelValues(provider, outcome).Inc()
}

// RecordEntities adds n written entities of kind.
func RecordEntities(kind string, n int) {
	if n > 0 {
		EntitiesWritten.WithLabelValues(kind).Add(float64(n))
	}
}

// UpdateJobGauges replaces the per-state job counts.
func UpdateJobGauges(counts map[string]int) {
	for _, state := range []string{"waiting", "active", "completed", "failed"} {
		SyncJobsQueued.WithLabelValues(state).Set(float64(counts[state]))
	}
}
