/*
Package workers runs fire-and-forget tasks on named spools.

A spool is a bounded queue drained by a fixed number of goroutines. Every
task gets a completion callback receiving its error, or nil:

	pool := workers.NewPool()
	pool.AddSpool("process-asset", workers.ForIO(8), 1000)

	err := pool.Submit("process-asset", "proxy /a/b.mov",
		func(ctx context.Context) error { return run(ctx) },
		func(err error) { finish(err) })

Panics inside a task are recovered and reported to the callback as errors.

Submit waits while the spool queue is full. Callbacks run on the spool's
workers, so they submit follow-up tasks with SubmitFollowUp, which never
waits and may grow the queue past its capacity.

Close cancels the pool context and releases any Submit waiting for room
with ErrPoolClosed. Tasks still queued at that point are not run; their
callbacks receive context.Canceled so callers can tell an interrupted task
from a failed one.

# Sizing

Worker counts respect container CPU limits through GOMAXPROCS. Count and
ForIO compute a per-spool count, and HANDLER_WORKERS overrides it:

	env:
	- name: HANDLER_WORKERS
	  value: "4"
*/
package workers
