package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// File engine metrics
	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artstore_uploads_total",
			Help: "Total number of uploads by outcome",
		},
		[]string{"outcome"},
	)

	DownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artstore_downloads_total",
			Help: "Total number of downloads by outcome",
		},
		[]string{"outcome"},
	)

	DeletesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artstore_deletes_total",
			Help: "Total number of deletes by outcome",
		},
		[]string{"outcome"},
	)

	UploadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "artstore_upload_bytes_total",
			Help: "Total bytes accepted by committed uploads",
		},
	)

	// Capacity metrics
	CapacityTotalBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "artstore_capacity_total_bytes",
			Help: "Total backend capacity in bytes",
		},
	)

	CapacityFreeBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "artstore_capacity_free_bytes",
			Help: "Free backend capacity in bytes",
		},
	)

	CapacityStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "artstore_capacity_status",
			Help: "Capacity status flag (1 for the active status)",
		},
		[]string{"status"},
	)

	// WAL metrics
	WALEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artstore_wal_entries_total",
			Help: "Total WAL entries by operation and final status",
		},
		[]string{"operation", "status"},
	)

	// Cache metrics
	CacheRebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artstore_cache_rebuilds_total",
			Help: "Total cache rebuild operations by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	CacheLazyRebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artstore_cache_lazy_rebuilds_total",
			Help: "Total lazy cache rebuilds by outcome",
		},
		[]string{"outcome"},
	)

	RebuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "artstore_cache_rebuild_duration_seconds",
			Help:    "Cache rebuild duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800},
		},
	)

	// Registry metrics
	RegistryPublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artstore_registry_publishes_total",
			Help: "Total registry publishes by outcome",
		},
		[]string{"outcome"},
	)

	// Admin metrics
	TokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artstore_tokens_issued_total",
			Help: "Total tokens issued by principal type",
		},
		[]string{"type"},
	)

	KeyRotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artstore_key_rotations_total",
			Help: "Total signing key rotations by outcome",
		},
		[]string{"outcome"},
	)

	ElementSyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artstore_element_syncs_total",
			Help: "Total element sync polls by outcome",
		},
		[]string{"outcome"},
	)

	GCActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artstore_gc_actions_total",
			Help: "Total garbage collection actions by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artstore_api_requests_total",
			Help: "Total API requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "artstore_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		UploadsTotal,
		DownloadsTotal,
		DeletesTotal,
		UploadBytesTotal,
		CapacityTotalBytes,
		CapacityFreeBytes,
		CapacityStatusGauge,
		WALEntriesTotal,
		CacheRebuildsTotal,
		CacheLazyRebuildsTotal,
		RebuildDuration,
		RegistryPublishesTotal,
		TokensIssuedTotal,
		KeyRotationsTotal,
		ElementSyncsTotal,
		GCActionsTotal,
		APIRequestsTotal,
		APIRequestDuration,
	)
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
