/*
Package filesystem wraps the filesystem calls used by the storage scanner
with retry logic for stale file handles.

Storages are frequently network mounts. A scan that hits ESTALE on one entry
should not report that entry as lost, so Stat, Lstat and ReadDir are retried
with exponential backoff before the error reaches the scanner:

	info, err := filesystem.LstatWithRetry(path, filesystem.DefaultRetryConfig())

Only ESTALE triggers retries; every other error is returned immediately.

Metrics are labelled with the storage that owns the path, resolved by
longest-prefix match through a [VolumeResolver] registered at startup.
*/
package filesystem
