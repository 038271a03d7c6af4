package handlers

import (
	"net/http"
	"runtime"

	"asset-indexer/internal/activity"
	"asset-indexer/internal/indexer"
	"asset-indexer/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status    string                  `json:"status"`
	Ready     bool                    `json:"ready"`
	Version   string                  `json:"version"`
	Uptime    string                  `json:"uptime"`
	Resetting bool                    `json:"resetting"`
	Recovery  activity.RecoveryReport `json:"recovery"`
	Storages  []indexer.StorageStatus `json:"storages"`
	// ScansPaused is set while memory pressure holds scans back.
	ScansPaused bool `json:"scansPaused"`

	// Catalogue summary
	TotalFiles       int `json:"totalFiles"`
	TotalDirectories int `json:"totalDirectories"`
	PendingClaims    int `json:"pendingClaims"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// HealthCheck returns the health status of the service. A storage whose
// last scan failed, or scans held back by memory pressure, make the service
// degraded, not unavailable.
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	status := h.indexer.GetHealthStatus()
	stats := h.db.GetStats()

	response := HealthResponse{
		Status:        statusHealthy,
		Ready:         status.Ready,
		Version:       startup.Version,
		Uptime:        status.Uptime,
		Resetting:     status.Resetting,
		ScansPaused:   status.ScansPaused,
		Recovery:      status.Recovery,
		Storages:      status.Storages,
		PendingClaims: stats.PendingClaims,
		GoVersion:     runtime.Version(),
		NumCPU:        runtime.NumCPU(),
		NumGoroutine:  runtime.NumGoroutine(),
	}
	if response.Storages == nil {
		response.Storages = []indexer.StorageStatus{}
	}
	for _, s := range stats.Storages {
		response.TotalFiles += s.Files
		response.TotalDirectories += s.Directories
	}

	if status.ScansPaused {
		response.Status = statusDegraded
	}
	for _, s := range status.Storages {
		if s.LastError != "" {
			response.Status = statusDegraded
			break
		}
	}

	code := http.StatusOK
	if !status.Ready {
		response.Status = statusStarting
		code = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, response, code)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{"status": "alive"})
	}
}

// ReadinessCheck returns 200 once every storage was scanned at least once.
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	if h.indexer.IsReady() {
		writeJSONStatus(w, "ready", http.StatusOK)
		return
	}
	writeJSONStatus(w, "not_ready", http.StatusServiceUnavailable)
}
