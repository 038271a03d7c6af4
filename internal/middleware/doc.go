// Package middleware provides the HTTP middleware of the indexer API.
//
// Logger writes W3C extended format access lines through the logging
// package, Metrics records Prometheus request metrics per mux route
// template and Compression gzips JSON responses.
package middleware
