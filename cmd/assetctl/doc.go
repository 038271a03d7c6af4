// Command assetctl controls a running asset indexer over its JSON API.
//
// Usage:
//
//	assetctl [--server URL] <command>
//
// Commands:
//
//	realms                          List the configured realms.
//	storages <realm>                List the storages of a realm.
//	ls <realm> <storage> [hash]     List a catalogued directory.
//	search <realm> <query>...       Search the index of a realm.
//	rescan <realm> <storage>        Queue an immediate scan.
//	reset-storage <realm> <storage> Forget the catalogue of a storage.
//	reindex                         Rebuild every search index.
//	claims                          List pending handler activities.
//	audit <realm>                   Show the latest audit events.
//	health                          Show scan state per storage.
//	version                         Show client and server versions.
//	config check <file>             Validate a topology file locally.
//
// The server holds the catalogue and the search indexes open, so every
// command except config check goes through the HTTP API.
package main
