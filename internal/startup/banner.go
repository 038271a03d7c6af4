package startup

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"asset-indexer/internal/logging"

	"github.com/gorilla/mux"
)

const rule = "------------------------------------------------------------"

// section starts a titled block of the startup log.
func section(title string) {
	logging.Info("")
	logging.Info(rule)
	logging.Info("%s", title)
	logging.Info(rule)
}

func printBanner() {
	banner := `
` + rule + `
    ___                   __     ____          __
   /   |  _____________  / /_   /  _/___  ____/ /__  _  _____  _____
  / /| | / ___/ ___/ _ \/ __/   / // __ \/ __  / _ \| |/_/ _ \/ ___/
 / ___ |(__  |__  )  __/ /_   _/ // / / / /_/ /  __/>  </  __/ /
/_/  |_/____/____/\___/\__/  /___/_/ /_/\__,_/\___/_/|_|\___/_/

` + rule
	fmt.Println(banner)
	logging.Info("  Version:    %s (%s)", Version, Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
}

func logSystemInfo() {
	section("SYSTEM INFORMATION")
	logging.Info("  Go version:      %s (%s/%s)", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs:            %d available, GOMAXPROCS %d", runtime.NumCPU(), runtime.GOMAXPROCS(0))
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < 1<<62 {
		logging.Info("  GOMEMLIMIT:      %d MiB", limit>>20)
	}
	if hostname, err := os.Hostname(); err == nil {
		logging.Info("  Hostname:        %s", hostname)
	}
	logging.Debug("  PID:             %d", os.Getpid())
}

// LogDatabaseInit logs database initialization
func LogDatabaseInit(duration time.Duration) {
	section("CATALOGUE")
	logging.Info("  [OK] Catalogue opened and migrated in %v", duration)
}

// LogSearchInit logs the opened search indexes
func LogSearchInit(realms []string, duration time.Duration) {
	section("SEARCH")
	logging.Info("  [OK] %d realm indexes opened in %v: %s", len(realms), duration, strings.Join(realms, ", "))
}

// LogRecovery logs the outcome of pending activity recovery
func LogRecovery(resumed, skipped, failed int) {
	section("ACTIVITY RECOVERY")
	logging.Info("  Resumed: %d", resumed)
	if skipped > 0 {
		logging.Warn("  Skipped: %d (handlers no longer configured)", skipped)
	}
	if failed > 0 {
		logging.Warn("  Failed:  %d", failed)
	}
}

// LogIndexerInit logs indexer initialization
func LogIndexerInit(storages int) {
	section("INDEXER")
	logging.Info("  Scheduling %d storages", storages)
}

// LogIndexerStarted logs successful indexer start
func LogIndexerStarted() {
	logging.Info("  [OK] Indexer started, first scans running")
}

// routeGroup names the block a route is listed under: the resource after
// the API version for API routes, the first segment otherwise.
func routeGroup(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) >= 3 && segments[0] == "api" {
		return strings.Join(segments[:3], "/")
	}
	return segments[0]
}

// routeTable lists the registered routes as "METHOD path" grouped by
// routeGroup. Routes without a method restriction are listed as ANY.
func routeTable(router *mux.Router) (map[string][]string, error) {
	groups := make(map[string][]string)
	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := route.GetPathTemplate()
		if err != nil {
			// Subrouter prefixes carry no handler.
			return nil
		}
		if route.GetHandler() == nil {
			return nil
		}
		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"ANY"}
		}
		g := routeGroup(path)
		for _, m := range methods {
			groups[g] = append(groups[g], fmt.Sprintf("%-6s %s", m, path))
		}
		return nil
	})
	for _, entries := range groups {
		sort.Strings(entries)
	}
	return groups, err
}

// LogHTTPRoutes logs the route table at debug level and the request
// logging settings at info level.
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	section("HTTP SERVER SETUP")

	if logging.IsDebugEnabled() {
		groups, err := routeTable(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}
		names := make([]string, 0, len(groups))
		for name := range groups {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			logging.Debug("  [%s]", name)
			for _, entry := range groups[name] {
				logging.Debug("    %s", entry)
			}
		}
	}

	if logHealthChecks {
		logging.Info("  Request logging on, health checks included")
	} else {
		logging.Info("  Request logging on, health checks excluded (LOG_HEALTH_CHECKS=true to include)")
	}
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs the listening endpoints.
func LogServerStarted(config ServerConfig) {
	section("SERVER STARTED")
	logging.Info("  Startup time:  %v", config.StartupDuration)
	logging.Info("  API:           http://0.0.0.0:%s/api/v1", config.Port)
	logging.Info("  Health:        http://0.0.0.0:%s/healthz", config.Port)
	if config.MetricsEnabled {
		logging.Info("  Metrics:       http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("  Metrics:       DISABLED")
	}
	logging.Info("  Admin CLI:     assetctl --server http://localhost:%s", config.Port)
	logging.Info(rule)
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	section(fmt.Sprintf("SHUTDOWN INITIATED (received %s)", signal))
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}
