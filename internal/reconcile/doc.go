// Package reconcile compares raw storage snapshots with the catalogue and
// reports which files became stable, changed after being stable, or
// disappeared.
//
// A file is reported stable only after two consecutive scans saw the same
// size and modification time and at least one debounce window elapsed since
// it last changed. Directories settle on their second sighting. An empty
// snapshot is a real observation: every catalogued entry of the storage is
// gone. Callers must not pass an empty snapshot for a storage that could not
// be read.
package reconcile
