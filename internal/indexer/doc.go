// Package indexer drives the scan pipeline of every configured storage.
//
// Each storage is scanned on its own cron schedule. A scan walks the
// storage root, reconciles the snapshot with the catalogue, applies the
// resulting delta to the realm's search index, hands stable files to the
// activity dispatcher and lost files to purging handlers, and records the
// delta in the audit trail.
//
// Before the first scan the indexer removes catalogue rows of storages that
// are no longer configured and resumes interrupted activities.
//
// The indexer also runs in these modes:
//   - Manual trigger: Rescan queues an immediate scan of one storage
//   - File watching: fsnotify events on a watched storage queue an early scan
//   - Index reset: ResetIndex rebuilds a realm's search index from the catalogue
//
// Overlapping scans of one storage are skipped, never queued.
package indexer
