// Package memory keeps the indexer inside its container memory budget.
//
// [ConfigureFromEnv] derives GOMEMLIMIT from the container limit so the
// garbage collector works harder before the kernel steps in. The remainder
// is left to SQLite, the bleve segment merger and handler subprocesses.
//
// # Environment Variables
//
//   - GOMEMLIMIT: Standard Go variable. Takes precedence when set.
//   - MEMORY_LIMIT: Container memory limit in bytes, usually from the
//     Kubernetes Downward API.
//   - MEMORY_RATIO: Fraction of MEMORY_LIMIT given to the Go heap, between
//     0 and 1. Defaults to 0.85.
//
// A [Monitor] samples the heap and pauses new scans while usage is above
// the critical mark. A paused scan waits until usage drops below the high
// water mark. Snapshots of large storages are held in memory for the whole
// reconciliation, so scans are the operation worth holding back.
//
// Example Kubernetes wiring:
//
//	env:
//	  - name: MEMORY_LIMIT
//	    valueFrom:
//	      resourceFieldRef:
//	        resource: limits.memory
package memory
