// Package metrics provides Prometheus instrumentation for the asset indexer.
//
// All metrics are prefixed with "asset_indexer_" and registered at package
// init through promauto, so importing the package is enough to export them.
//
// # Metric Categories
//
//   - HTTP: request counts, latency and in-flight gauge
//   - Database: query counts and latency, transaction outcome, rows affected
//   - Scans: per-storage scan outcome, duration, raw entry count and the
//     categorized reconciliation events (new, changed, lost)
//   - Search index: document writes, commit latency, query latency
//   - Activities: claims declared, skipped and recovered, handler runs by
//     outcome and the number of persisted claims
//   - Spools: queue depth and executed tasks per named spool
//   - Filesystem: stale handle retries on network mounts
//
// [InitializeMetrics] seeds label combinations for the configured storages
// and handlers so dashboards see zero values before the first scan.
// [Collector] refreshes catalogue size gauges from a [StatsProvider].
package metrics
