package metrics

import (
	"time"

	"asset-indexer/internal/logging"
)

// StatsProvider interface for collecting stats
type StatsProvider interface {
	GetStats() Stats
}

// StorageStats is the catalogue size of one storage.
type StorageStats struct {
	Realm       string
	Storage     string
	Files       int
	Directories int
}

// Stats holds the current statistics
type Stats struct {
	Storages        []StorageStats
	PendingClaims   int
	OpenConnections int
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.GetStats()

	total := 0
	for _, s := range stats.Storages {
		count := s.Files + s.Directories
		CatalogueFiles.WithLabelValues(s.Realm, s.Storage).Set(float64(count))
		total += count
	}
	ActivityPendingClaims.Set(float64(stats.PendingClaims))
	DBConnectionsOpen.Set(float64(stats.OpenConnections))

	logging.Debug("Metrics collected: storages=%d, entries=%d, pending claims=%d",
		len(stats.Storages), total, stats.PendingClaims)
}
