package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"asset-indexer/internal/activity"
	"asset-indexer/internal/audit"
	"asset-indexer/internal/database"
	"asset-indexer/internal/filesystem"
	"asset-indexer/internal/handlers"
	"asset-indexer/internal/indexer"
	"asset-indexer/internal/logging"
	"asset-indexer/internal/memory"
	"asset-indexer/internal/metrics"
	"asset-indexer/internal/middleware"
	"asset-indexer/internal/search"
	"asset-indexer/internal/startup"
	"asset-indexer/internal/workers"

	"github.com/gorilla/mux"
)

// spoolQueueSize bounds the tasks waiting on each spool.
const spoolQueueSize = 256

func main() {
	startTime := time.Now()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}
	topo := config.Topology

	memory.ConfigureFromEnv()
	memMonitor := memory.NewMonitor(memory.DefaultConfig())
	memMonitor.Start()

	identity := activity.LocalIdentity(config.InstanceName)
	metrics.SetAppInfo(startup.Version, startup.Commit, startup.GoVersion, identity.Host)
	filesystem.SetObserver(metrics.NewFilesystemObserver())

	// Initialize database
	dbStart := time.Now()
	db, err := database.New(context.Background(), config.DatabasePath)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	startup.LogDatabaseInit(time.Since(dbStart))

	// Open one search index per realm
	searchStart := time.Now()
	registry := search.NewRegistry(search.Options{
		Explain:        topo.ExplainSearchResults,
		ResetBatchSize: topo.ResetBatchSize,
	})
	for _, realm := range topo.RealmNames() {
		if err := registry.Open(realm, topo.Realms[realm].WorkDir); err != nil {
			topo.Disable(realm, fmt.Errorf("search index: %w", err))
		}
	}
	startup.LogSearchInit(registry.Realms(), time.Since(searchStart))

	// Handler spools, one per distinct spool name
	pool := workers.NewPool()
	for _, realm := range topo.RealmNames() {
		rc := topo.Realms[realm]
		pool.AddSpool(rc.SpoolProcessAsset, rc.SpoolWorkers, spoolQueueSize)
	}

	var recorder *audit.Writer
	if topo.AuditTrail {
		recorder = audit.NewWriter(db, identity.Host)
	}

	builtins, err := activity.BuildHandlers(topo.HandlerSpecs(), recorder)
	if err != nil {
		startup.LogFatal("Invalid handler configuration: %v", err)
	}
	handlerRegistry, err := activity.NewRegistry(builtins...)
	if err != nil {
		startup.LogFatal("Invalid handler configuration: %v", err)
	}

	dispatcher := activity.NewDispatcher(handlerRegistry, db, pool, activity.Options{
		Identity: identity,
		Grace:    topo.PendingActivityGrace.Duration,
		SpoolFor: func(realm string) string {
			return topo.Realms[realm].SpoolProcessAsset
		},
		Resolve: indexer.NewResolver(topo),
	})

	targets := topo.Targets()
	seeded := make([]metrics.Storage, 0, len(targets))
	for _, t := range targets {
		seeded = append(seeded, metrics.Storage{Realm: t.Realm, Storage: t.Storage})
	}
	metrics.InitializeMetrics(seeded, handlerRegistry.Names(), pool.Spools())

	// Initialize indexer
	startup.LogIndexerInit(len(targets))
	idx := indexer.New(indexer.Options{
		DB:         db,
		Search:     registry,
		Dispatcher: dispatcher,
		Audit:      recorder,
		Topology:   topo,
		Memory:     memMonitor,
	})
	if err := idx.Start(); err != nil {
		startup.LogFatal("Failed to start indexer: %v", err)
	}
	report := idx.Recovery()
	startup.LogRecovery(report.Resumed, report.Skipped, report.Failed)
	startup.LogIndexerStarted()

	collector := metrics.NewCollector(db, time.Minute)
	collector.Start()

	// Initialize handlers
	h := handlers.New(db, registry, idx, handlers.LimitsFromTopology(topo))

	router := setupRouter(h)
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler := middleware.Compression(middleware.DefaultCompressionConfig())(
		middleware.Logger(loggingConfig)(router),
	)

	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsSrv = startMetricsServer(config.MetricsPort, h)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		handleShutdown(srv, metricsSrv, idx, memMonitor, collector, pool, recorder, registry, db)
	}()

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}
	<-done
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))

	// Health check and version routes
	r.HandleFunc("/healthz", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/livez", h.LivenessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods(http.MethodGet)
	r.HandleFunc("/version", h.GetVersion).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	// Catalogue browsing
	api.HandleFunc("/realms", h.ListRealms).Methods(http.MethodGet)
	api.HandleFunc("/realms/{realm}/storages", h.ListStorages).Methods(http.MethodGet)
	api.HandleFunc("/realms/{realm}/storages/{storage}/list", h.ListDirectory).Methods(http.MethodGet)
	api.HandleFunc("/realms/{realm}/storages/{storage}/list/{hashPath:[0-9a-fA-F]{64}}", h.ListDirectory).Methods(http.MethodGet)
	api.HandleFunc("/realms/{realm}/audit", h.ListAuditEvents).Methods(http.MethodGet)

	// Search
	api.HandleFunc("/search/{realm}", h.Search).Methods(http.MethodGet, http.MethodPost, http.MethodPut)

	// Operations
	api.HandleFunc("/realms/{realm}/storages/{storage}/rescan", h.TriggerRescan).Methods(http.MethodPost)
	api.HandleFunc("/realms/{realm}/storages/{storage}/reset", h.ResetStorage).Methods(http.MethodPost)
	api.HandleFunc("/index/reset", h.TriggerIndexReset).Methods(http.MethodPost)
	api.HandleFunc("/claims", h.ListClaims).Methods(http.MethodGet)

	return r
}

func startMetricsServer(port string, h *handlers.Handlers) *http.Server {
	mr := http.NewServeMux()
	mr.Handle("/metrics", h.MetricsHandler())
	mr.HandleFunc("/healthz", h.LivenessCheck)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mr,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Metrics server error: %v", err)
		}
	}()
	return srv
}

func handleShutdown(srv, metricsSrv *http.Server, idx *indexer.Indexer, memMonitor *memory.Monitor, collector *metrics.Collector,
	pool *workers.Pool, recorder *audit.Writer, registry *search.Registry, db *database.Database) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownStep("Stopping metrics collector")
	collector.Stop()
	startup.LogShutdownStepComplete("Metrics collector stopped")

	// Spools close first so a scan waiting for queue room returns. Running
	// handlers see a cancelled context and keep their claims for the next
	// start.
	startup.LogShutdownStep("Stopping handler spools")
	pool.Close()
	startup.LogShutdownStepComplete("Handler spools stopped")

	startup.LogShutdownStep("Stopping indexer")
	memMonitor.Stop()
	idx.Stop()
	startup.LogShutdownStepComplete("Indexer stopped")

	if recorder != nil {
		startup.LogShutdownStep("Flushing audit trail")
		recorder.Close()
		startup.LogShutdownStepComplete("Audit trail flushed")
	}

	if metricsSrv != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	startup.LogShutdownStep("Closing search indexes")
	if err := registry.Close(); err != nil {
		logging.Warn("Search index close error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Search indexes closed")
	}

	startup.LogShutdownStep("Closing database")
	if err := db.Close(); err != nil {
		logging.Warn("Database close error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Database closed")
	}

	startup.LogShutdownComplete()
}
