package activity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"asset-indexer/internal/catalogue"
	"asset-indexer/internal/logging"
	"asset-indexer/internal/metrics"
	"asset-indexer/internal/workers"
)

// DefaultSpool is the spool handlers run on when none is configured.
const DefaultSpool = "process-asset"

// DefaultGrace is the age after which another instance's claim is
// considered abandoned.
const DefaultGrace = 24 * time.Hour

// ClaimStore persists in-flight claims.
type ClaimStore interface {
	DeclareClaim(ctx context.Context, claim catalogue.PendingActivity) (bool, error)
	EndClaim(ctx context.Context, hashPath, handler string) error
	LoadRecoverable(ctx context.Context, realms []string, host string, staleBefore time.Time) ([]catalogue.PendingActivity, error)
	RestampClaim(ctx context.Context, id int64, host string, pid int, now time.Time) error
}

// Runner executes tasks asynchronously. *workers.Pool implements it.
type Runner interface {
	Submit(spool, name string, fn workers.Task, onDone func(error)) error
	// SubmitFollowUp must not block. It is used from completion callbacks.
	SubmitFollowUp(spool, name string, fn workers.Task, onDone func(error)) error
}

// Resolver turns a catalogue record into an asset.
type Resolver func(rec catalogue.FileRecord) (Asset, error)

// Identity names the process that owns a claim.
type Identity struct {
	Host string
	PID  int
}

// LocalIdentity returns the hostname, suffixed with "#name" when name is
// set, and the current pid.
func LocalIdentity(name string) Identity {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	if name != "" {
		host += "#" + name
	}
	return Identity{Host: host, PID: os.Getpid()}
}

// Options configures a Dispatcher.
type Options struct {
	Identity Identity
	// Grace is the age after which claims of other instances are taken over.
	Grace time.Duration
	// SpoolFor picks the spool of a realm. Nil uses DefaultSpool.
	SpoolFor func(realm string) string
	// Resolve maps records to assets. Nil yields assets without AbsPath.
	Resolve Resolver
	Clock   catalogue.Clock
}

// Dispatcher turns scan deltas into handler runs guarded by persisted
// claims.
type Dispatcher struct {
	registry *Registry
	claims   ClaimStore
	runner   Runner
	opts     Options
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(registry *Registry, claims ClaimStore, runner Runner, opts Options) *Dispatcher {
	if opts.Clock == nil {
		opts.Clock = catalogue.RealClock{}
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.SpoolFor == nil {
		opts.SpoolFor = func(string) string { return DefaultSpool }
	}
	if opts.Resolve == nil {
		opts.Resolve = func(rec catalogue.FileRecord) (Asset, error) { return Asset{Record: rec}, nil }
	}
	if opts.Identity.Host == "" {
		opts.Identity = LocalIdentity("")
	}
	return &Dispatcher{registry: registry, claims: claims, runner: runner, opts: opts}
}

// Registry returns the handler registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// wave is one activity chain for one asset and event. Its handler set grows
// as continuations discover newly eligible handlers.
type wave struct {
	asset Asset
	event catalogue.EventType
	spool string

	mu        sync.Mutex
	set       HandlerSet
	completed HandlerSet
}

func (w *wave) snapshot() HandlerSet {
	w.mu.Lock()
	defer w.mu.Unlock()
	return NewHandlerSet(w.set.names...)
}

// current returns the asset with the handlers completed so far. The caller
// holds w.mu.
func (w *wave) current() Asset {
	a := w.asset
	a.Completed = NewHandlerSet(w.completed.names...)
	return a
}

// Dispatch schedules handlers for the stable-new and stable-changed files
// of a scan. It returns the number of handler runs submitted. A pair that
// is already claimed is skipped, so replaying a delta does not run a
// handler twice.
func (d *Dispatcher) Dispatch(ctx context.Context, w catalogue.WatchResult) int {
	submitted := 0
	submitted += d.dispatchSet(ctx, w.Realm, w.StableNew, catalogue.EventNewFile)
	submitted += d.dispatchSet(ctx, w.Realm, w.StableChanged, catalogue.EventUpdatedFile)
	return submitted
}

func (d *Dispatcher) dispatchSet(ctx context.Context, realm string, records []catalogue.FileRecord, event catalogue.EventType) int {
	submitted := 0
	for _, rec := range records {
		if rec.Directory {
			continue
		}
		asset, err := d.opts.Resolve(rec)
		if err != nil {
			logging.Warn("Cannot resolve asset %s/%s%s: %v", rec.Realm, rec.Storage, rec.Path, err)
			continue
		}

		var selected []Handler
		for _, h := range d.registry.ordered {
			if h.CanHandle(ctx, asset, event) {
				selected = append(selected, h)
			}
		}
		if len(selected) == 0 {
			continue
		}

		wv := &wave{asset: asset, event: event, spool: d.opts.SpoolFor(realm)}
		for _, h := range selected {
			wv.set.Add(h.Name())
		}
		set := wv.snapshot()
		for _, h := range selected {
			if d.claimAndSubmit(ctx, wv, h, set, false) {
				submitted++
			}
		}
	}
	return submitted
}

// claimAndSubmit persists the claim of (asset, h) and submits the run.
// followUp is set when called from a completion callback.
func (d *Dispatcher) claimAndSubmit(ctx context.Context, wv *wave, h Handler, set HandlerSet, followUp bool) bool {
	now := d.opts.Clock.Now()
	claim := catalogue.PendingActivity{
		File:             wv.asset.Record,
		HandlerName:      h.Name(),
		EventType:        wv.event,
		PreviousHandlers: set.String(),
		CreatedAt:        now,
		UpdatedAt:        now,
		WorkerHost:       d.opts.Identity.Host,
		WorkerPID:        d.opts.Identity.PID,
	}

	created, err := d.claims.DeclareClaim(ctx, claim)
	if err != nil {
		logging.Error("Failed to claim %s for %s: %v", h.Name(), wv.asset.Record.Path, err)
		return false
	}
	if !created {
		metrics.ActivityClaimsSkipped.WithLabelValues(h.Name()).Inc()
		logging.Debug("Claim %s for %s already exists, skipping", h.Name(), wv.asset.Record.Path)
		return false
	}
	metrics.ActivityClaimsDeclared.WithLabelValues(h.Name(), string(wv.event)).Inc()

	if err := d.submit(wv, h, followUp); err != nil {
		logging.Error("Failed to submit %s for %s: %v", h.Name(), wv.asset.Record.Path, err)
		return false
	}
	return true
}

func (d *Dispatcher) submit(wv *wave, h Handler, followUp bool) error {
	name := h.Name() + " " + wv.asset.Record.Path
	fn := func(ctx context.Context) error { return d.run(ctx, wv, h) }
	onDone := func(err error) { d.complete(wv, h, err) }
	if followUp {
		return d.runner.SubmitFollowUp(wv.spool, name, fn, onDone)
	}
	return d.runner.Submit(wv.spool, name, fn, onDone)
}

func (d *Dispatcher) run(ctx context.Context, wv *wave, h Handler) (err error) {
	start := time.Now()
	outcome := "success"
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", h.Name(), r)
			outcome = "panic"
		} else if err != nil {
			outcome = "error"
		}
		metrics.ActivityHandlerRuns.WithLabelValues(h.Name(), outcome).Inc()
		metrics.ActivityHandlerDuration.WithLabelValues(h.Name()).Observe(time.Since(start).Seconds())
	}()
	wv.mu.Lock()
	a := wv.current()
	wv.mu.Unlock()
	return h.Handle(ctx, a, wv.event)
}

// complete ends the claim of a finished run and, on success, submits
// handlers that became eligible. An interrupted run keeps its claim for
// recovery.
func (d *Dispatcher) complete(wv *wave, h Handler, err error) {
	path := wv.asset.Record.Path
	if errors.Is(err, context.Canceled) {
		logging.Info("Handler %s for %s interrupted, claim kept for recovery", h.Name(), path)
		return
	}

	ctx := context.Background()
	if endErr := d.claims.EndClaim(ctx, wv.asset.Record.HashPath, h.Name()); endErr != nil {
		logging.Error("Failed to end claim %s for %s: %v", h.Name(), path, endErr)
	}

	if err != nil {
		logging.Error("Handler %s failed for %s/%s%s (%s): %v",
			h.Name(), wv.asset.Record.Realm, wv.asset.Record.Storage, path, wv.asset.Record.HashPath, err)
		return
	}
	logging.Debug("Handler %s done for %s", h.Name(), path)

	d.continueWave(ctx, wv, h.Name())
}

// continueWave submits handlers not yet part of the wave that can now
// handle the asset.
func (d *Dispatcher) continueWave(ctx context.Context, wv *wave, done string) {
	var next []Handler

	wv.mu.Lock()
	wv.completed.Add(done)
	asset := wv.current()
	for _, cand := range d.registry.ordered {
		if wv.set.Contains(cand.Name()) {
			continue
		}
		if cand.CanHandle(ctx, asset, wv.event) {
			wv.set.Add(cand.Name())
			next = append(next, cand)
		}
	}
	set := NewHandlerSet(wv.set.names...)
	wv.mu.Unlock()

	for _, h := range next {
		logging.Debug("Continuing wave of %s with %s", wv.asset.Record.Path, h.Name())
		d.claimAndSubmit(ctx, wv, h, set, true)
	}
}

// RecoveryReport summarizes a Recover pass.
type RecoveryReport struct {
	Resumed int
	Skipped int
	Failed  int
}

type groupKey struct {
	hash  string
	event catalogue.EventType
}

// Recover resumes claims of the given realms that this instance owned
// before a restart or that another instance abandoned longer than the
// grace period ago. Each resumed claim is restamped and submitted once,
// with the union of its group's handler sets as the wave. Claims for
// handlers no longer registered are left in place.
func (d *Dispatcher) Recover(ctx context.Context, realms []string) (RecoveryReport, error) {
	var report RecoveryReport
	now := d.opts.Clock.Now()
	staleBefore := now.Add(-d.opts.Grace)

	claims, err := d.claims.LoadRecoverable(ctx, realms, d.opts.Identity.Host, staleBefore)
	if err != nil {
		return report, fmt.Errorf("load recoverable claims: %w", err)
	}
	if len(claims) == 0 {
		return report, nil
	}
	logging.Info("Recovering %d pending activities", len(claims))

	var order []groupKey
	groups := make(map[groupKey][]catalogue.PendingActivity)
	for _, c := range claims {
		k := groupKey{hash: c.File.HashPath, event: c.EventType}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], c)
	}

	for _, k := range order {
		group := groups[k]
		rec := group[0].File

		var set HandlerSet
		var decodeErr error
		for _, c := range group {
			prev, err := ParseHandlerSet(c.PreviousHandlers)
			if err != nil {
				decodeErr = err
				break
			}
			set.Union(prev)
			set.Add(c.HandlerName)
		}
		if decodeErr != nil {
			logging.Error("Cannot recover activity of %s: %v", rec.Path, decodeErr)
			report.Failed += len(group)
			continue
		}

		asset, err := d.opts.Resolve(rec)
		if err != nil {
			logging.Error("Cannot resolve recovered asset %s: %v", rec.Path, err)
			report.Failed += len(group)
			continue
		}
		// handlers of the set without a claim of their own already ran
		var completed HandlerSet
		for _, name := range set.names {
			pending := false
			for _, c := range group {
				if c.HandlerName == name {
					pending = true
					break
				}
			}
			if !pending {
				completed.Add(name)
			}
		}
		asset.Completed = completed
		wv := &wave{asset: asset, event: k.event, spool: d.opts.SpoolFor(rec.Realm), set: set, completed: completed}

		for _, c := range group {
			h, err := d.registry.Lookup(c.HandlerName)
			if err != nil {
				logging.Warn("Pending activity %s for %s left in place: %v", c.HandlerName, rec.Path, err)
				report.Skipped++
				continue
			}
			if err := d.claims.RestampClaim(ctx, c.ID, d.opts.Identity.Host, d.opts.Identity.PID, now); err != nil {
				logging.Error("Failed to take over claim %d (%s for %s): %v", c.ID, c.HandlerName, rec.Path, err)
				report.Failed++
				continue
			}
			if err := d.submit(wv, h, false); err != nil {
				logging.Error("Failed to resubmit %s for %s: %v", c.HandlerName, rec.Path, err)
				report.Failed++
				continue
			}
			metrics.ActivityClaimsRecovered.WithLabelValues(c.HandlerName).Inc()
			report.Resumed++
		}
	}

	logging.Info("Activity recovery: %d resumed, %d skipped, %d failed", report.Resumed, report.Skipped, report.Failed)
	return report, nil
}

// Purge hands lost files to every handler implementing Purger. Runs are
// fire-and-forget and not claimed.
func (d *Dispatcher) Purge(w catalogue.WatchResult) int {
	var purgers []Handler
	for _, h := range d.registry.ordered {
		if _, ok := h.(Purger); ok {
			purgers = append(purgers, h)
		}
	}
	if len(purgers) == 0 {
		return 0
	}

	submitted := 0
	spool := d.opts.SpoolFor(w.Realm)
	for _, rec := range w.Lost {
		if rec.Directory {
			continue
		}
		asset, err := d.opts.Resolve(rec)
		if err != nil {
			logging.Warn("Cannot resolve lost asset %s: %v", rec.Path, err)
			continue
		}
		for _, h := range purgers {
			p := h.(Purger)
			name := h.Name()
			err := d.runner.Submit(spool, "purge "+name+" "+rec.Path,
				func(ctx context.Context) error { return p.Purge(ctx, asset) },
				func(err error) {
					if err != nil && !errors.Is(err, context.Canceled) {
						logging.Warn("Purge by %s failed for %s: %v", name, asset.Record.Path, err)
					}
				})
			if err != nil {
				logging.Error("Failed to submit purge by %s for %s: %v", name, rec.Path, err)
				continue
			}
			submitted++
		}
	}
	return submitted
}
