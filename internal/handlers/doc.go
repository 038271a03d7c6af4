// Package handlers provides the HTTP API of the asset indexer.
//
// It includes handlers for:
//   - Realm and storage discovery
//   - Directory listings by parent hash path, paginated and sorted
//   - Relevance search with structural constraints
//   - Rescans, storage resets and index rebuilds
//   - Pending activities and the audit trail
//   - Health checks, version and Prometheus metrics
package handlers
