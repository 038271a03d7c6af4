// Package catalogue defines the identity and watch state of catalogued files.
//
// Every file is keyed by the hex sha256 of "realm:storage:path". The realm,
// storage and path may not contain ':' and are never sanitised; HashPath
// rejects them instead.
//
// FileRecord carries the debounce state machine used by the reconciliation
// engine:
//
//	first seen ──► unchanged for one window ──► stable
//	                                              │ changed
//	                                              ▼
//	                          stable-but-changed ──► reported once re-settled
//
// Directories are always considered settled.
package catalogue
