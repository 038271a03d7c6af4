package search

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"

	"asset-indexer/internal/catalogue"
	"asset-indexer/internal/logging"
	"asset-indexer/internal/metrics"
)

// ErrUnknownRealm is returned for a realm without an open index.
var ErrUnknownRealm = errors.New("unknown realm")

// indexDirName is the bleve directory inside a realm working directory.
const indexDirName = "index.bleve"

// Options configures a Registry.
type Options struct {
	// Explain computes a scoring breakdown for every hit.
	Explain bool
	// ResetBatchSize bounds the documents buffered by a reset session.
	ResetBatchSize int
}

// DefaultResetBatchSize is used when Options.ResetBatchSize is not set.
const DefaultResetBatchSize = 10000

type realmIndex struct {
	realm string
	index bleve.Index
	// write serializes mutations; searches do not take it.
	write sync.Mutex
}

// Registry owns one bleve index per realm for the lifetime of the service.
type Registry struct {
	opts Options

	mu      sync.RWMutex
	indexes map[string]*realmIndex
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.ResetBatchSize <= 0 {
		opts.ResetBatchSize = DefaultResetBatchSize
	}
	return &Registry{opts: opts, indexes: make(map[string]*realmIndex)}
}

// Open opens or creates the index of realm under workDir. An empty workDir
// keeps the index in memory.
func (r *Registry) Open(realm, workDir string) error {
	if err := catalogue.ValidateName("realm", realm); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.indexes[realm]; ok {
		return fmt.Errorf("index for realm %s already open", realm)
	}

	idx, err := openIndex(workDir)
	if err != nil {
		return fmt.Errorf("open index for realm %s: %w", realm, err)
	}
	r.indexes[realm] = &realmIndex{realm: realm, index: idx}

	if n, err := idx.DocCount(); err == nil {
		metrics.IndexDocuments.WithLabelValues(realm).Set(float64(n))
		logging.Info("Search index for realm %s ready (%d documents)", realm, n)
	}
	return nil
}

func openIndex(workDir string) (bleve.Index, error) {
	if workDir == "" {
		return bleve.NewMemOnly(NewIndexMapping())
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(workDir, indexDirName)
	if _, err := os.Stat(path); err == nil {
		return bleve.Open(path)
	}
	return bleve.New(path, NewIndexMapping())
}

// Close closes every index.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for realm, ri := range r.indexes {
		ri.write.Lock()
		if err := ri.index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close index %s: %w", realm, err))
		}
		ri.write.Unlock()
		delete(r.indexes, realm)
	}
	return errors.Join(errs...)
}

// Realms returns the realms with an open index, sorted.
func (r *Registry) Realms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.indexes))
	for realm := range r.indexes {
		out = append(out, realm)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) get(realm string) (*realmIndex, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ri, ok := r.indexes[realm]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRealm, realm)
	}
	return ri, nil
}

// DocCount returns the number of documents in a realm index.
func (r *Registry) DocCount(realm string) (uint64, error) {
	ri, err := r.get(realm)
	if err != nil {
		return 0, err
	}
	return ri.index.DocCount()
}

// Update applies one scan delta to its realm index in a single batch:
// stable-new entries are added, stable-changed entries replaced and lost
// entries deleted, all keyed by hash path. Replaying a delta is harmless.
func (r *Registry) Update(w catalogue.WatchResult) error {
	if w.Empty() {
		return nil
	}
	ri, err := r.get(w.Realm)
	if err != nil {
		return err
	}

	ri.write.Lock()
	defer ri.write.Unlock()

	batch := ri.index.NewBatch()
	for _, rec := range w.StableNew {
		if err := batch.Index(rec.HashPath, NewDocument(rec)); err != nil {
			return r.fail(w.Realm, fmt.Errorf("index %s: %w", rec.Path, err))
		}
	}
	for _, rec := range w.StableChanged {
		if err := batch.Index(rec.HashPath, NewDocument(rec)); err != nil {
			return r.fail(w.Realm, fmt.Errorf("reindex %s: %w", rec.Path, err))
		}
	}
	for _, rec := range w.Lost {
		batch.Delete(rec.HashPath)
	}

	if err := r.commit(ri, batch); err != nil {
		return r.fail(w.Realm, fmt.Errorf("commit %s/%s: %w", w.Realm, w.Storage, err))
	}

	metrics.IndexWritesTotal.WithLabelValues(w.Realm, "add").Add(float64(len(w.StableNew)))
	metrics.IndexWritesTotal.WithLabelValues(w.Realm, "update").Add(float64(len(w.StableChanged)))
	metrics.IndexWritesTotal.WithLabelValues(w.Realm, "delete").Add(float64(len(w.Lost)))
	logging.Debug("index %s/%s: %d added, %d updated, %d deleted",
		w.Realm, w.Storage, len(w.StableNew), len(w.StableChanged), len(w.Lost))
	return nil
}

// commit writes a batch; callers hold ri.write.
func (r *Registry) commit(ri *realmIndex, batch *bleve.Batch) error {
	if batch.Size() == 0 {
		return nil
	}
	start := time.Now()
	if err := ri.index.Batch(batch); err != nil {
		return err
	}
	metrics.IndexCommitDuration.WithLabelValues(ri.realm).Observe(time.Since(start).Seconds())
	if n, err := ri.index.DocCount(); err == nil {
		metrics.IndexDocuments.WithLabelValues(ri.realm).Set(float64(n))
	}
	return nil
}

func (r *Registry) fail(realm string, err error) error {
	metrics.IndexErrors.WithLabelValues(realm).Inc()
	return err
}
