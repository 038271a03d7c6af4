package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"asset-indexer/internal/logging"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Config holds the process settings. The realm layout lives in Topology.
type Config struct {
	ConfigFile      string
	DatabaseDir     string
	Port            string
	MetricsPort     string
	InstanceName    string
	LogHealthChecks bool
	MetricsEnabled  bool

	DatabasePath string
	Topology     *Topology
}

// envSetting is one environment variable read by LoadConfig.
type envSetting struct {
	key      string
	fallback string
	dst      *string
}

// LoadConfig reads the environment, then the topology file it names, and
// prepares the directories the service writes to. Storage roots that are
// missing only produce a warning since they may be mounted later.
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()
	section("CONFIGURATION")

	cfg := &Config{}
	settings := []envSetting{
		{"CONFIG_FILE", "/config/asset-indexer.toml", &cfg.ConfigFile},
		{"DATABASE_DIR", "/database", &cfg.DatabaseDir},
		{"PORT", "8080", &cfg.Port},
		{"METRICS_PORT", "9090", &cfg.MetricsPort},
		{"INSTANCE_NAME", "", &cfg.InstanceName},
	}
	for _, s := range settings {
		*s.dst = getEnv(s.key, s.fallback)
		logging.Info("  %-20s %s", s.key+":", *s.dst)
	}
	cfg.LogHealthChecks = getEnvBool("LOG_HEALTH_CHECKS", true)
	cfg.MetricsEnabled = getEnvBool("METRICS_ENABLED", true)
	logging.Info("  %-20s %v", "LOG_HEALTH_CHECKS:", cfg.LogHealthChecks)
	logging.Info("  %-20s %v", "METRICS_ENABLED:", cfg.MetricsEnabled)
	logging.Info("  %-20s %s", "LOG_LEVEL:", logging.GetLevel())

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("PORT must be numeric, got %q", cfg.Port)
	}
	if _, err := strconv.Atoi(cfg.MetricsPort); err != nil && cfg.MetricsEnabled {
		return nil, fmt.Errorf("METRICS_PORT must be numeric, got %q", cfg.MetricsPort)
	}

	topology, err := ReadTopologyFile(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}
	cfg.Topology = topology

	section("DIRECTORY SETUP")

	if cfg.DatabaseDir, err = filepath.Abs(cfg.DatabaseDir); err != nil {
		return nil, fmt.Errorf("failed to resolve database directory path: %w", err)
	}
	if err := prepareDir(cfg.DatabaseDir, "database", true); err != nil {
		return nil, fmt.Errorf("database directory error: %w", err)
	}
	cfg.DatabasePath = filepath.Join(cfg.DatabaseDir, "asset-indexer.db")

	for _, realm := range topology.RealmNames() {
		workDir := topology.Realms[realm].WorkDir
		if workDir == "" {
			continue
		}
		if err := prepareDir(workDir, "realm "+realm, true); err != nil {
			topology.Disable(realm, fmt.Errorf("work directory: %w", err))
		}
	}
	for _, target := range topology.Targets() {
		if err := checkStorageRoot(target); err != nil {
			logging.Warn("  Storage %s/%s: %v", target.Realm, target.Storage, err)
		}
	}

	LogTopology(topology)
	return cfg, nil
}

func checkStorageRoot(target StorageTarget) error {
	info, err := os.Stat(target.Root)
	if err != nil {
		return fmt.Errorf("root unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root %s is not a directory", target.Root)
	}
	logging.Debug("  [OK] %s/%s root %s", target.Realm, target.Storage, target.Root)
	return nil
}

// prepareDir creates path if needed and, with writable set, proves that a
// file can be created in it.
func prepareDir(path, name string, writable bool) error {
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", name, err)
		}
		logging.Info("  [OK] Created %s directory %s", name, path)
	case err != nil:
		return fmt.Errorf("failed to stat %s directory: %w", name, err)
	case !info.IsDir():
		return fmt.Errorf("%s path %s exists but is not a directory", name, path)
	default:
		logging.Debug("  [OK] %s directory %s exists", name, path)
	}

	if !writable {
		return nil
	}
	probe, err := os.CreateTemp(path, ".write-test-*")
	if err != nil {
		return fmt.Errorf("%s directory is not writable: %w", name, err)
	}
	probeName := probe.Name()
	_ = probe.Close()
	if err := os.Remove(probeName); err != nil {
		logging.Warn("failed to remove write test file %s: %v", probeName, err)
	}
	logging.Info("  [OK] %s directory %s is writable", name, path)
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
