/*
Package activity runs handlers for stable files and recovers interrupted runs.

A scan's stable-new and stable-changed files start an activity wave per file:
every registered Handler whose CanHandle accepts the file is selected, and
each (file, handler) pair is claimed in the store before it is submitted to
a worker spool. A pair that is already claimed is not submitted again.

When a handler succeeds its claim is ended and CanHandle is asked again for
the handlers not yet in the wave, so a handler may depend on the output of
another one (see Asset.Completed). A failed or panicking handler ends its
claim and stops that branch of the wave. A run interrupted by shutdown keeps
its claim.

# Recovery

At startup Dispatcher.Recover loads the claims owned by this instance and
those of other instances not touched within the grace period. Claims of one
file and event are resumed together: their stored handler sets are merged
into a single wave, each claim is restamped with this instance's identity
and submitted once. Claims naming an unknown handler are left in the store.
*/
package activity
