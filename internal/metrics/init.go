package metrics

// Storage identifies one watched (realm, storage) pair for label seeding.
type Storage struct {
	Realm   string
	Storage string
}

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after configuration is loaded.
func InitializeMetrics(storages []Storage, handlers, spools []string) {
	realms := make(map[string]bool)
	for _, s := range storages {
		realms[s.Realm] = true

		for _, status := range []string{"success", "error"} {
			ScansTotal.WithLabelValues(s.Realm, s.Storage, status)
		}
		for _, category := range []string{"new", "changed", "lost"} {
			ReconcileEventsTotal.WithLabelValues(s.Realm, s.Storage, category)
		}
		ScanDuration.WithLabelValues(s.Realm, s.Storage)
		ScanEntries.WithLabelValues(s.Realm, s.Storage)
		ScanLastTimestamp.WithLabelValues(s.Realm, s.Storage)
		CatalogueFiles.WithLabelValues(s.Realm, s.Storage)
	}

	for realm := range realms {
		for _, op := range []string{"add", "update", "delete"} {
			IndexWritesTotal.WithLabelValues(realm, op)
		}
		IndexCommitDuration.WithLabelValues(realm)
		IndexErrors.WithLabelValues(realm)
		IndexDocuments.WithLabelValues(realm)
		SearchQueriesTotal.WithLabelValues(realm, "success")
		SearchQueriesTotal.WithLabelValues(realm, "error")
		SearchDuration.WithLabelValues(realm)
	}

	for _, h := range handlers {
		for _, event := range []string{"new-file", "updated-file"} {
			ActivityClaimsDeclared.WithLabelValues(h, event)
		}
		for _, outcome := range []string{"success", "error", "panic"} {
			ActivityHandlerRuns.WithLabelValues(h, outcome)
		}
		ActivityClaimsSkipped.WithLabelValues(h)
		ActivityClaimsRecovered.WithLabelValues(h)
		ActivityHandlerDuration.WithLabelValues(h)
	}

	for _, spool := range spools {
		SpoolQueueDepth.WithLabelValues(spool)
		SpoolTasksTotal.WithLabelValues(spool, "success")
		SpoolTasksTotal.WithLabelValues(spool, "error")
	}

	for _, status := range []string{"success", "error"} {
		AuditEventsTotal.WithLabelValues(status)
	}

	for _, outcome := range []string{"commit", "rollback"} {
		DBTransactionDuration.WithLabelValues(outcome)
	}
}
