package reconcile

import (
	"context"
	"fmt"
	"time"

	"asset-indexer/internal/catalogue"
	"asset-indexer/internal/logging"
	"asset-indexer/internal/metrics"
)

// LostPolicy selects which vanished records are reported as lost. Every
// vanished record is removed from the catalogue regardless of the policy.
type LostPolicy string

// Lost policies.
const (
	// LostStableOnly reports only records that had been marked stable.
	LostStableOnly LostPolicy = "stable-only"
	// LostAll reports every vanished record.
	LostAll LostPolicy = "all"
)

// ParseLostPolicy validates a configured policy. Empty means LostStableOnly.
func ParseLostPolicy(s string) (LostPolicy, error) {
	switch LostPolicy(s) {
	case "", LostStableOnly:
		return LostStableOnly, nil
	case LostAll:
		return LostAll, nil
	default:
		return "", fmt.Errorf("unknown lost policy %q", s)
	}
}

// Reconciler turns raw scan snapshots into categorized deltas and keeps the
// catalogue in step with them.
type Reconciler struct {
	store  catalogue.Store
	clock  catalogue.Clock
	policy LostPolicy
}

// New creates a Reconciler. A nil clock uses the wall clock.
func New(store catalogue.Store, clock catalogue.Clock, policy LostPolicy) *Reconciler {
	if clock == nil {
		clock = catalogue.RealClock{}
	}
	if policy == "" {
		policy = LostStableOnly
	}
	return &Reconciler{store: store, clock: clock, policy: policy}
}

// Reconcile compares snapshot with the catalogue of (realm, storage) and
// returns the files that became stable, changed after being stable, or
// vanished. window is the debounce: a file must be seen unchanged on two
// consecutive scans at least window apart before it is reported stable.
//
// The catalogue changes of one call are applied atomically. On error the
// catalogue is left as it was and the result is empty.
func (r *Reconciler) Reconcile(ctx context.Context, realm, storage string, snapshot []catalogue.RawAttrs, window time.Duration) (catalogue.WatchResult, error) {
	result := catalogue.WatchResult{Realm: realm, Storage: storage}
	if err := catalogue.ValidateName("realm", realm); err != nil {
		return result, err
	}
	if err := catalogue.ValidateName("storage", storage); err != nil {
		return result, err
	}

	now := r.clock.Now()

	// index the snapshot by identity, keeping scan order
	seen := make(map[string]catalogue.RawAttrs, len(snapshot))
	order := make([]string, 0, len(snapshot))
	for _, raw := range snapshot {
		hash, err := catalogue.HashPath(realm, storage, raw.Path)
		if err != nil {
			logging.Warn("Skipping %s/%s entry %q: %v", realm, storage, raw.Path, err)
			continue
		}
		if _, dup := seen[hash]; dup {
			continue
		}
		seen[hash] = raw
		order = append(order, hash)
	}

	previous, err := r.store.AllHashes(ctx, realm, storage)
	if err != nil {
		return result, fmt.Errorf("load catalogue of %s/%s: %w", realm, storage, err)
	}
	catalogued := make(map[string]bool, len(previous))
	var vanished []string
	for _, h := range previous {
		catalogued[h] = true
		if _, ok := seen[h]; !ok {
			vanished = append(vanished, h)
		}
	}

	var known []string
	for _, h := range order {
		if catalogued[h] {
			known = append(known, h)
		}
	}
	existing, err := r.store.FindByHash(ctx, known)
	if err != nil {
		return result, fmt.Errorf("load known entries of %s/%s: %w", realm, storage, err)
	}
	byHash := make(map[string]catalogue.FileRecord, len(existing))
	for _, rec := range existing {
		byHash[rec.HashPath] = rec
	}

	changes := catalogue.ScanChanges{Realm: realm, Storage: storage}
	added := 0

	for _, h := range order {
		raw := seen[h]
		prev, ok := byHash[h]
		if !ok {
			if catalogued[h] {
				// deleted between the two queries; picked up as new next scan
				continue
			}
			rec, err := catalogue.NewFileRecord(realm, storage, raw, now)
			if err != nil {
				logging.Warn("Skipping %s/%s entry %q: %v", realm, storage, raw.Path, err)
				continue
			}
			logging.Trace("reconcile %s/%s: first seen %s", realm, storage, raw.Path)
			changes.Upserts = append(changes.Upserts, rec)
			added++
			continue
		}

		rec := prev.Observe(raw, now)
		qualified := rec.IsTimeQualified(window, now)

		switch {
		case rec.MarkedStable && qualified && rec.StableButChanged:
			rec = rec.ClearChanged()
			result.StableChanged = append(result.StableChanged, rec)
			logging.Trace("reconcile %s/%s: changed %s", realm, storage, rec.Path)
		case !rec.MarkedStable && qualified:
			rec = rec.MarkStable()
			if rec.IsTimeQualified(window, now) {
				result.StableNew = append(result.StableNew, rec)
				logging.Trace("reconcile %s/%s: stable %s", realm, storage, rec.Path)
			}
		}

		if modified(prev, rec) {
			changes.Upserts = append(changes.Upserts, rec)
		}
	}

	if len(vanished) > 0 {
		if len(seen) == 0 {
			logging.Debug("reconcile %s/%s: storage yields no entries, %d catalogued entries vanished",
				realm, storage, len(vanished))
		}
		gone, err := r.store.FindByHash(ctx, vanished)
		if err != nil {
			return catalogue.WatchResult{Realm: realm, Storage: storage},
				fmt.Errorf("load vanished entries of %s/%s: %w", realm, storage, err)
		}
		for _, rec := range gone {
			if r.policy == LostAll || rec.MarkedStable {
				result.Lost = append(result.Lost, rec)
				logging.Trace("reconcile %s/%s: lost %s", realm, storage, rec.Path)
			}
		}
		changes.Deletes = vanished
	}

	if err := r.store.ApplyScan(ctx, changes); err != nil {
		return catalogue.WatchResult{Realm: realm, Storage: storage},
			fmt.Errorf("apply scan of %s/%s: %w", realm, storage, err)
	}

	total, err := r.store.CountFor(ctx, realm, storage)
	if err != nil {
		logging.Warn("Failed to count catalogue of %s/%s: %v", realm, storage, err)
		total = len(previous) - len(vanished) + added
	}
	result.TotalCatalogued = total

	metrics.ReconcileEventsTotal.WithLabelValues(realm, storage, "new").Add(float64(len(result.StableNew)))
	metrics.ReconcileEventsTotal.WithLabelValues(realm, storage, "changed").Add(float64(len(result.StableChanged)))
	metrics.ReconcileEventsTotal.WithLabelValues(realm, storage, "lost").Add(float64(len(result.Lost)))

	logging.Debug("reconcile %s/%s: %d entries scanned, %d stable, %d changed, %d lost, %d catalogued",
		realm, storage, len(seen), len(result.StableNew), len(result.StableChanged), len(result.Lost), total)

	return result, nil
}

// modified reports whether Observe or a state transition changed anything
// worth persisting.
func modified(a, b catalogue.FileRecord) bool {
	return a.Hidden != b.Hidden ||
		a.Link != b.Link ||
		a.Special != b.Special ||
		a.Length != b.Length ||
		!a.ModifiedAt.Equal(b.ModifiedAt) ||
		!a.LastSeenAt.Equal(b.LastSeenAt) ||
		a.MarkedStable != b.MarkedStable ||
		a.LastScanUnchanged != b.LastScanUnchanged ||
		a.StableButChanged != b.StableButChanged
}
