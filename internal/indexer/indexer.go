package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"asset-indexer/internal/activity"
	"asset-indexer/internal/audit"
	"asset-indexer/internal/catalogue"
	"asset-indexer/internal/database"
	"asset-indexer/internal/logging"
	"asset-indexer/internal/memory"
	"asset-indexer/internal/metrics"
	"asset-indexer/internal/reconcile"
	"asset-indexer/internal/scanner"
	"asset-indexer/internal/search"
	"asset-indexer/internal/startup"

	"github.com/robfig/cron/v3"
)

var (
	// ErrUnknownStorage is returned for a realm/storage pair not configured.
	ErrUnknownStorage = errors.New("unknown storage")
	// ErrScanInProgress is returned when a storage is already being scanned.
	ErrScanInProgress = errors.New("scan already in progress")
	// ErrResetInProgress is returned when an index reset is already running.
	ErrResetInProgress = errors.New("index reset already in progress")
)

// Default delay between the last filesystem event and the scan it triggers.
const defaultWatchSettle = 5 * time.Second

// maintenanceSchedule runs the catalogue vacuum.
const maintenanceSchedule = "@daily"

// Options wires the indexer to its collaborators.
type Options struct {
	DB         *database.Database
	Search     *search.Registry
	Dispatcher *activity.Dispatcher
	// Audit is optional.
	Audit    *audit.Writer
	Topology *startup.Topology
	Clock    catalogue.Clock
	// Scanner holds the worker settings shared by every storage walk.
	Scanner     scanner.Config
	WatchSettle time.Duration
	// Memory, if set, holds scheduled and triggered scans back under
	// memory pressure.
	Memory *memory.Monitor
}

type storageState struct {
	target  startup.StorageTarget
	trigger chan time.Duration

	// scan is held for the duration of a scan.
	scan sync.Mutex

	mu           sync.RWMutex
	scanning     bool
	scans        int64
	lastScan     time.Time
	lastDuration time.Duration
	lastErr      error
	last         catalogue.WatchResult
	watched      int
}

// Indexer schedules and runs storage scans.
type Indexer struct {
	opts       Options
	reconciler *reconcile.Reconciler
	storages   map[string]*storageState
	order      []*storageState

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	started   atomic.Bool
	resetting atomic.Bool

	recoveryMu sync.Mutex
	recovery   activity.RecoveryReport
}

func storageKey(realm, storage string) string {
	return realm + "/" + storage
}

// New creates an indexer for every storage of the topology.
func New(opts Options) *Indexer {
	if opts.Clock == nil {
		opts.Clock = catalogue.RealClock{}
	}
	if opts.WatchSettle <= 0 {
		opts.WatchSettle = defaultWatchSettle
	}
	if opts.Scanner.NumWorkers <= 0 {
		opts.Scanner = scanner.DefaultConfig()
	}

	idx := &Indexer{
		opts:       opts,
		reconciler: reconcile.New(opts.DB, opts.Clock, opts.Topology.LostPolicyValue()),
		storages:   make(map[string]*storageState),
		startTime:  time.Now(),
	}
	idx.ctx, idx.cancel = context.WithCancel(context.Background())

	for _, target := range opts.Topology.Targets() {
		st := &storageState{target: target, trigger: make(chan time.Duration, 1)}
		idx.storages[storageKey(target.Realm, target.Storage)] = st
		idx.order = append(idx.order, st)
	}
	return idx
}

// NewResolver maps catalogue records to assets on this host.
func NewResolver(topology *startup.Topology) activity.Resolver {
	return func(rec catalogue.FileRecord) (activity.Asset, error) {
		a := activity.Asset{Record: rec}
		if target, ok := topology.Target(rec.Realm, rec.Storage); ok {
			a.AbsPath = filepath.Join(target.Root, filepath.FromSlash(rec.Path))
		}
		return a, nil
	}
}

// Start prepares the catalogue, resumes interrupted activities and starts
// the scan schedule. An initial scan of every storage starts immediately.
func (idx *Indexer) Start() error {
	if !idx.started.CompareAndSwap(false, true) {
		return errors.New("indexer already started")
	}

	if err := idx.purgeRemovedStorages(idx.ctx); err != nil {
		logging.Error("Failed to purge removed storages: %v", err)
	}

	report, err := idx.opts.Dispatcher.Recover(idx.ctx, idx.opts.Topology.RealmNames())
	if err != nil {
		logging.Error("Activity recovery failed: %v", err)
	}
	idx.recoveryMu.Lock()
	idx.recovery = report
	idx.recoveryMu.Unlock()

	l := logging.CronLogger()
	idx.cron = cron.New(
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		cron.WithLogger(l),
	)

	for _, st := range idx.order {
		st := st
		idx.cron.Schedule(cron.Every(st.target.TimeBetweenScans), cron.FuncJob(func() {
			idx.runScan(st, "scheduled")
		}))

		idx.wg.Add(1)
		go idx.triggerLoop(st)

		if st.target.Watch {
			idx.startWatcher(st)
		}
		idx.nudge(st, 0)
	}

	if _, err := idx.cron.AddFunc(maintenanceSchedule, idx.maintain); err != nil {
		logging.Warn("Failed to schedule catalogue maintenance: %v", err)
	}

	idx.cron.Start()
	logging.Info("Indexer scheduled %d storages", len(idx.order))
	return nil
}

// Stop stops the schedule and waits for running scans to finish.
func (idx *Indexer) Stop() {
	idx.cancel()
	if idx.cron != nil {
		<-idx.cron.Stop().Done()
	}
	idx.wg.Wait()
}

// Rescan queues an immediate scan of one storage. Requests made while a
// scan is queued are merged.
func (idx *Indexer) Rescan(realm, storage string) error {
	st, ok := idx.storages[storageKey(realm, storage)]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownStorage, realm, storage)
	}
	idx.nudge(st, 0)
	return nil
}

func (idx *Indexer) nudge(st *storageState, delay time.Duration) {
	select {
	case st.trigger <- delay:
	default:
	}
}

// triggerLoop runs the scans requested through st.trigger.
func (idx *Indexer) triggerLoop(st *storageState) {
	defer idx.wg.Done()
	for {
		select {
		case <-idx.ctx.Done():
			return
		case delay := <-st.trigger:
			if delay > 0 {
				select {
				case <-idx.ctx.Done():
					return
				case <-time.After(delay):
				}
			}
			idx.runScan(st, "triggered")
		}
	}
}

func (idx *Indexer) runScan(st *storageState, reason string) {
	if idx.ctx.Err() != nil {
		return
	}
	if m := idx.opts.Memory; m != nil && m.Paused() {
		logging.Info("Scan of %s/%s waiting for memory pressure to ease", st.target.Realm, st.target.Storage)
		if !m.Wait(idx.ctx) {
			return
		}
	}
	logging.Debug("Starting %s scan of %s/%s", reason, st.target.Realm, st.target.Storage)
	if _, err := idx.scanStorage(idx.ctx, st); err != nil {
		switch {
		case errors.Is(err, ErrScanInProgress):
			logging.Debug("Scan of %s/%s already running, skipping", st.target.Realm, st.target.Storage)
		case errors.Is(err, context.Canceled):
			logging.Info("Scan of %s/%s interrupted", st.target.Realm, st.target.Storage)
		default:
			logging.Error("Scan of %s/%s failed: %v", st.target.Realm, st.target.Storage, err)
		}
	}
}

// ScanStorage scans one storage synchronously.
func (idx *Indexer) ScanStorage(ctx context.Context, realm, storage string) (catalogue.WatchResult, error) {
	st, ok := idx.storages[storageKey(realm, storage)]
	if !ok {
		return catalogue.WatchResult{}, fmt.Errorf("%w: %s/%s", ErrUnknownStorage, realm, storage)
	}
	return idx.scanStorage(ctx, st)
}

func (idx *Indexer) scanStorage(ctx context.Context, st *storageState) (catalogue.WatchResult, error) {
	if !st.scan.TryLock() {
		return catalogue.WatchResult{}, ErrScanInProgress
	}
	defer st.scan.Unlock()

	target := st.target
	start := time.Now()
	st.setScanning(true)

	cfg := idx.opts.Scanner
	cfg.SkipHidden = !target.IncludeHidden
	cfg.MaxDepth = target.MaxDepth
	walker := scanner.NewWalker(target.Root, cfg)

	snapshot, err := walker.Scan(ctx)
	if err != nil {
		err = fmt.Errorf("scan %s/%s: %w", target.Realm, target.Storage, err)
		st.finish(start, catalogue.WatchResult{}, err)
		return catalogue.WatchResult{}, err
	}
	metrics.ScanEntries.WithLabelValues(target.Realm, target.Storage).Set(float64(len(snapshot)))

	result, err := idx.reconciler.Reconcile(ctx, target.Realm, target.Storage, snapshot, target.MinStableTime)
	if err != nil {
		st.finish(start, catalogue.WatchResult{}, err)
		return catalogue.WatchResult{}, err
	}

	// The catalogue is already updated; an index failure is repaired by a
	// reset, so the delta still reaches handlers.
	var indexErr error
	if !result.Empty() {
		if indexErr = idx.opts.Search.Update(result); indexErr != nil {
			logging.Error("Failed to update search index of %s: %v", target.Realm, indexErr)
		}
	}

	dispatched := idx.opts.Dispatcher.Dispatch(ctx, result)
	purged := idx.opts.Dispatcher.Purge(result)
	idx.recordAudit(result)

	logging.Info("Scanned %s/%s in %v: %d entries, %d new, %d changed, %d lost, %d handler runs, %d purges",
		target.Realm, target.Storage, time.Since(start).Round(time.Millisecond), len(snapshot),
		len(result.StableNew), len(result.StableChanged), len(result.Lost), dispatched, purged)

	st.finish(start, result, indexErr)
	return result, indexErr
}

func (st *storageState) setScanning(v bool) {
	st.mu.Lock()
	st.scanning = v
	st.mu.Unlock()
}

func (st *storageState) finish(start time.Time, result catalogue.WatchResult, err error) {
	duration := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
		if errors.Is(err, context.Canceled) {
			status = "cancelled"
		}
	}
	realm, storage := st.target.Realm, st.target.Storage
	metrics.ScansTotal.WithLabelValues(realm, storage, status).Inc()
	metrics.ScanDuration.WithLabelValues(realm, storage).Observe(duration.Seconds())
	if err == nil {
		metrics.ScanLastTimestamp.WithLabelValues(realm, storage).Set(float64(time.Now().Unix()))
		metrics.CatalogueFiles.WithLabelValues(realm, storage).Set(float64(result.TotalCatalogued))
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.scanning = false
	st.scans++
	st.lastScan = start
	st.lastDuration = duration
	st.lastErr = err
	if err == nil {
		st.last = result
	}
}

func (idx *Indexer) recordAudit(result catalogue.WatchResult) {
	if idx.opts.Audit == nil || result.Empty() {
		return
	}
	scanID := audit.NewScanID()
	emit := func(event string, records []catalogue.FileRecord) {
		for _, rec := range records {
			payload, err := json.Marshal(map[string]interface{}{
				"storage":   rec.Storage,
				"path":      rec.Path,
				"directory": rec.Directory,
				"length":    rec.Length,
			})
			if err != nil {
				continue
			}
			idx.opts.Audit.Record(audit.Event{
				Event:           event,
				Realm:           rec.Realm,
				ObjectReference: rec.HashPath,
				ObjectPayload:   string(payload),
				ScanID:          scanID,
			})
		}
	}
	emit(audit.EventFound, result.StableNew)
	emit(audit.EventUpdated, result.StableChanged)
	emit(audit.EventLost, result.Lost)
}

// purgeRemovedStorages deletes catalogue rows of storages and realms that
// are no longer configured, and rebuilds the affected indexes.
func (idx *Indexer) purgeRemovedStorages(ctx context.Context) error {
	known, err := idx.opts.DB.Realms(ctx)
	if err != nil {
		return err
	}

	topo := idx.opts.Topology
	for _, realm := range known {
		if topo.Disabled(realm) {
			logging.Warn("Realm %s is disabled, keeping its catalogue entries", realm)
			continue
		}
		keep := topo.StorageNames(realm)
		n, err := idx.opts.DB.DeleteStoragesNotIn(ctx, realm, keep)
		if err != nil {
			return fmt.Errorf("purge realm %s: %w", realm, err)
		}
		if n == 0 {
			continue
		}
		logging.Warn("Removed %d catalogue entries of storages no longer configured in realm %s", n, realm)
		if _, configured := topo.Realms[realm]; configured {
			if _, err := idx.ResetIndex(ctx, realm); err != nil {
				logging.Error("Failed to rebuild index of %s: %v", realm, err)
			}
		}
	}
	return nil
}

// ResetIndex rebuilds the search index of a realm from the catalogue. Only
// stable entries are indexed.
func (idx *Indexer) ResetIndex(ctx context.Context, realm string) (int, error) {
	session, err := idx.opts.Search.Reset(realm)
	if err != nil {
		return 0, err
	}
	streamErr := idx.opts.DB.StreamRealm(ctx, realm, func(rec catalogue.FileRecord) error {
		if !rec.MarkedStable {
			return nil
		}
		return session.Accept(rec)
	})
	closeErr := session.Close()
	if err := errors.Join(streamErr, closeErr); err != nil {
		return session.Accepted(), fmt.Errorf("reset index %s: %w", realm, err)
	}
	return session.Accepted(), nil
}

// ResetAll rebuilds the index of every realm.
func (idx *Indexer) ResetAll(ctx context.Context) error {
	if !idx.resetting.CompareAndSwap(false, true) {
		return ErrResetInProgress
	}
	defer idx.resetting.Store(false)

	var errs []error
	for _, realm := range idx.opts.Search.Realms() {
		n, err := idx.ResetIndex(ctx, realm)
		if err != nil {
			logging.Error("Index reset of %s failed: %v", realm, err)
			errs = append(errs, err)
			continue
		}
		logging.Info("Index of %s rebuilt with %d documents", realm, n)
	}
	return errors.Join(errs...)
}

// StartResetAll runs ResetAll in the background.
func (idx *Indexer) StartResetAll() error {
	if idx.resetting.Load() {
		return ErrResetInProgress
	}
	idx.wg.Add(1)
	go func() {
		defer idx.wg.Done()
		if err := idx.ResetAll(idx.ctx); err != nil && !errors.Is(err, ErrResetInProgress) {
			logging.Error("Index reset failed: %v", err)
		}
	}()
	return nil
}

// ResetStorage wipes the catalogue of one storage and rebuilds its realm's
// index. The next scan catalogues the storage again from scratch.
func (idx *Indexer) ResetStorage(ctx context.Context, realm, storage string) (int64, error) {
	st, ok := idx.storages[storageKey(realm, storage)]
	if ok {
		st.scan.Lock()
		defer st.scan.Unlock()
	}
	n, err := idx.opts.DB.ResetStorage(ctx, realm, storage)
	if err != nil {
		return 0, err
	}
	if _, err := idx.ResetIndex(ctx, realm); err != nil && !errors.Is(err, search.ErrUnknownRealm) {
		return n, err
	}
	logging.Info("Storage %s/%s reset, %d catalogue entries removed", realm, storage, n)
	return n, nil
}

// maintain compacts the catalogue database.
func (idx *Indexer) maintain() {
	start := time.Now()
	if err := idx.opts.DB.Vacuum(idx.ctx); err != nil {
		logging.Error("Catalogue vacuum failed: %v", err)
		return
	}
	logging.Info("Catalogue vacuumed in %v", time.Since(start).Round(time.Millisecond))
}

// Recovery returns the outcome of the startup activity recovery.
func (idx *Indexer) Recovery() activity.RecoveryReport {
	idx.recoveryMu.Lock()
	defer idx.recoveryMu.Unlock()
	return idx.recovery
}
