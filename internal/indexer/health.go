package indexer

import (
	"time"

	"asset-indexer/internal/activity"
)

// StorageStatus is the scan state of one storage.
type StorageStatus struct {
	Realm         string    `json:"realm"`
	Storage       string    `json:"storage"`
	Root          string    `json:"root"`
	Scanning      bool      `json:"scanning"`
	Scans         int64     `json:"scans"`
	LastScan      time.Time `json:"lastScan,omitempty"`
	LastDuration  string    `json:"lastDuration,omitempty"`
	LastError     string    `json:"lastError,omitempty"`
	Catalogued    int       `json:"catalogued"`
	StableNew     int       `json:"stableNew"`
	StableChanged int       `json:"stableChanged"`
	Lost          int       `json:"lost"`
	Watched       int       `json:"watchedDirectories,omitempty"`
}

// HealthStatus contains health check information.
type HealthStatus struct {
	Ready     bool                    `json:"ready"`
	Resetting bool                    `json:"resetting"`
	StartTime time.Time               `json:"startTime"`
	Uptime    string                  `json:"uptime"`
	Recovery  activity.RecoveryReport `json:"recovery"`
	Storages  []StorageStatus         `json:"storages"`
	// ScansPaused is set while memory pressure holds scans back.
	ScansPaused bool `json:"scansPaused"`
}

func (st *storageState) status() StorageStatus {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s := StorageStatus{
		Realm:         st.target.Realm,
		Storage:       st.target.Storage,
		Root:          st.target.Root,
		Scanning:      st.scanning,
		Scans:         st.scans,
		LastScan:      st.lastScan,
		Catalogued:    st.last.TotalCatalogued,
		StableNew:     len(st.last.StableNew),
		StableChanged: len(st.last.StableChanged),
		Lost:          len(st.last.Lost),
		Watched:       st.watched,
	}
	if st.scans > 0 {
		s.LastDuration = st.lastDuration.Round(time.Millisecond).String()
	}
	if st.lastErr != nil {
		s.LastError = st.lastErr.Error()
	}
	return s
}

// IsReady reports whether every storage finished its first scan attempt.
func (idx *Indexer) IsReady() bool {
	if !idx.started.Load() {
		return false
	}
	for _, st := range idx.order {
		st.mu.RLock()
		scans := st.scans
		st.mu.RUnlock()
		if scans == 0 {
			return false
		}
	}
	return true
}

// GetHealthStatus returns detailed health information.
func (idx *Indexer) GetHealthStatus() HealthStatus {
	status := HealthStatus{
		Ready:     idx.IsReady(),
		Resetting: idx.resetting.Load(),
		StartTime: idx.startTime,
		Uptime:    time.Since(idx.startTime).Round(time.Second).String(),
		Recovery:  idx.Recovery(),
		Storages:  make([]StorageStatus, 0, len(idx.order)),
	}
	if idx.opts.Memory != nil {
		status.ScansPaused = idx.opts.Memory.Paused()
	}
	for _, st := range idx.order {
		status.Storages = append(status.Storages, st.status())
	}
	return status
}
