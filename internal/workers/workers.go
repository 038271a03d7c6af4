package workers

import (
	"os"
	"runtime"
	"strconv"
)

// EnvOverride is the environment variable that fixes the worker count of
// every spool.
const EnvOverride = "HANDLER_WORKERS"

// Count returns the number of workers for a spool. It respects container
// CPU limits via GOMAXPROCS.
//
// The multiplier adjusts for task characteristics (1.0 CPU-bound, 2.0
// I/O-bound). The limit caps the result; use 0 for no limit. HANDLER_WORKERS
// overrides the calculation but not the limit.
func Count(multiplier float64, limit int) int {
	if override := os.Getenv(EnvOverride); override != "" {
		if count, err := strconv.Atoi(override); err == nil && count > 0 {
			if limit > 0 && count > limit {
				return limit
			}
			return count
		}
	}

	workers := int(float64(runtime.GOMAXPROCS(0)) * multiplier)

	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}

	return workers
}

// ForIO returns worker count for I/O-bound tasks (2 per CPU).
// The limit parameter caps the maximum number of workers.
func ForIO(limit int) int {
	return Count(2.0, limit)
}
