/*
Package scanner produces raw directory snapshots of a storage.

A Walker traverses the storage root with filepath.WalkDir and hands every
entry to a small pool of workers that lstat it with stale-handle retries.
The result is a flat list of catalogue.RawAttrs whose paths are relative to
the storage root and always start with "/":

	w := scanner.NewWalker("/srv/lib", scanner.DefaultConfig())
	snapshot, err := w.Scan(ctx)

The root itself is not part of the snapshot, so an empty storage yields an
empty snapshot. An unreadable root returns ErrRootUnavailable and no
snapshot at all; callers must not treat that as an empty directory.

Symbolic links are reported, not followed. Hidden entries (names starting
with ".") are skipped unless Config.SkipHidden is false. The worker count
defaults to 3 and can be overridden with INDEX_WORKERS.
*/
package scanner
