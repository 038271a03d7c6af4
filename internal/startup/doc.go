// Package startup handles application initialization, configuration loading,
// and startup/shutdown logging.
//
// # Configuration
//
// Process settings are loaded from environment variables via [LoadConfig]:
//
//   - CONFIG_FILE: Path to the realm topology file (default: /config/asset-indexer.toml)
//   - DATABASE_DIR: Path to database directory (default: /database)
//   - PORT: HTTP server port (default: 8080)
//   - METRICS_PORT: Prometheus metrics server port (default: 9090)
//   - METRICS_ENABLED: Enable or disable metrics server (default: true)
//   - INSTANCE_NAME: Suffix of this instance's identity for activity claims
//   - INDEX_WORKERS: Scanner worker count
//   - HANDLER_WORKERS: Per-spool handler worker override
//   - LOG_LEVEL: Logging level - trace, debug, info, warn, error (default: info)
//   - LOG_HEALTH_CHECKS: Log health check requests (default: true)
//   - MEMORY_LIMIT, MEMORY_RATIO: Derive GOMEMLIMIT when it is not set (see package memory)
//
// # Topology
//
// The topology file is TOML. Realms contain storages; every storage is a
// directory tree scanned on its own schedule:
//
//	time_between_scans = "1h"
//	pending_activity_grace = "24h"
//	lost_policy = "stable-only"
//
//	[realms.lib]
//	work_dir = "/var/lib/asset-indexer/lib"
//
//	[realms.lib.storages.main]
//	root = "/srv/media"
//	min_stable_time = "5m"
//	max_depth = 10
//
//	[[handlers]]
//	name = "proxy"
//	kind = "exec"
//	command = "/usr/local/bin/make-proxy"
//	extensions = ["mov"]
//
// Realm and storage names are identity fields and must match
// [A-Za-z0-9_-]{1,64}. A realm or storage that fails validation is logged
// and skipped; the rest of the file still loads.
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo].
package startup
