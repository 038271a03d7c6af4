package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_indexer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asset_indexer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asset_indexer_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_indexer_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asset_indexer_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asset_indexer_db_transaction_duration_seconds",
			Help:    "Duration of database transactions by outcome",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	DBRowsAffected = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asset_indexer_db_rows_affected",
			Help:    "Rows affected by write operations",
			Buckets: []float64{1, 10, 100, 1000, 10000, 100000},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asset_indexer_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Scan and reconciliation metrics
var (
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_indexer_scans_total",
			Help: "Total number of storage scans by outcome",
		},
		[]string{"realm", "storage", "status"},
	)

	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asset_indexer_scan_duration_seconds",
			Help:    "Duration of a full scan, reconcile and dispatch cycle",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"realm", "storage"},
	)

	ScanEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asset_indexer_scan_entries",
			Help: "Number of entries returned by the last raw scan",
		},
		[]string{"realm", "storage"},
	)

	ScanLastTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asset_indexer_scan_last_timestamp",
			Help: "Unix timestamp of the last completed scan",
		},
		[]string{"realm", "storage"},
	)

	ScansRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asset_indexer_scans_running",
			Help: "Number of scans currently running",
		},
	)

	ReconcileEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_indexer_reconcile_events_total",
			Help: "Categorized reconciliation events",
		},
		[]string{"realm", "storage", "category"}, // "new", "changed", "lost"
	)

	CatalogueFiles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asset_indexer_catalogue_files",
			Help: "Number of catalogued entries per storage",
		},
		[]string{"realm", "storage"},
	)

	WatcherEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_indexer_watcher_events_total",
			Help: "Filesystem notifications received on storage roots",
		},
		[]string{"event_type"},
	)

	WatcherErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "asset_indexer_watcher_errors_total",
			Help: "Total number of filesystem watcher errors",
		},
	)
)

// Search index metrics
var (
	IndexWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_indexer_index_writes_total",
			Help: "Documents written to the search index by operation",
		},
		[]string{"realm", "operation"}, // "add", "update", "delete"
	)

	IndexCommitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asset_indexer_index_commit_duration_seconds",
			Help:    "Duration of search index batch commits",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"realm"},
	)

	IndexErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_indexer_index_errors_total",
			Help: "Search index write failures",
		},
		[]string{"realm"},
	)

	IndexDocuments = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asset_indexer_index_documents",
			Help: "Number of documents in each realm index",
		},
		[]string{"realm"},
	)

	SearchQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_indexer_search_queries_total",
			Help: "Search queries by outcome",
		},
		[]string{"realm", "status"},
	)

	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asset_indexer_search_duration_seconds",
			Help:    "Search query latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"realm"},
	)
)

// Activity metrics
var (
	ActivityClaimsDeclared = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_indexer_activity_claims_declared_total",
			Help: "Claims persisted before handler execution",
		},
		[]string{"handler", "event"},
	)

	ActivityClaimsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_indexer_activity_claims_skipped_total",
			Help: "Dispatches skipped because the claim already existed",
		},
		[]string{"handler"},
	)

	ActivityClaimsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_indexer_activity_claims_recovered_total",
			Help: "Orphaned claims resubmitted at startup",
		},
		[]string{"handler"},
	)

	ActivityHandlerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_indexer_activity_handler_runs_total",
			Help: "Handler executions by outcome",
		},
		[]string{"handler", "outcome"}, // "success", "error", "panic"
	)

	ActivityHandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asset_indexer_activity_handler_duration_seconds",
			Help:    "Handler execution duration",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 1800},
		},
		[]string{"handler"},
	)

	ActivityPendingClaims = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asset_indexer_activity_pending_claims",
			Help: "Claims currently persisted",
		},
	)
)

// Worker spool metrics
var (
	SpoolQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asset_indexer_spool_queue_depth",
			Help: "Tasks waiting in each spool",
		},
		[]string{"spool"},
	)

	SpoolTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_indexer_spool_tasks_total",
			Help: "Tasks executed by each spool by outcome",
		},
		[]string{"spool", "status"},
	)

	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_indexer_audit_events_total",
			Help: "Audit trail writes by outcome",
		},
		[]string{"status"},
	)
)

// Filesystem retry metrics
var (
	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_indexer_filesystem_retry_attempts_total",
			Help: "Retries issued after a stale file handle",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_indexer_filesystem_retry_success_total",
			Help: "Operations that succeeded after a retry",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_indexer_filesystem_retry_failures_total",
			Help: "Operations that failed after exhausting retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_indexer_filesystem_stale_errors_total",
			Help: "Stale file handle errors observed",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asset_indexer_filesystem_retry_duration_seconds",
			Help:    "Duration of filesystem operations including retries",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"operation", "volume"},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asset_indexer_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "asset_indexer_memory_paused",
			Help: "Whether scans are held back by memory pressure (1 = paused)",
		},
	)

	MemoryPausesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "asset_indexer_memory_pauses_total",
			Help: "Times scans were paused by memory pressure",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asset_indexer_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version", "instance"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion, instance string) {
	AppInfo.WithLabelValues(version, commit, goVersion, instance).Set(1)
}
