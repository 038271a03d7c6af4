package search

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"asset-indexer/internal/catalogue"
	"asset-indexer/internal/logging"
	"asset-indexer/internal/metrics"
)

// deletePageSize bounds the ids fetched per page while clearing a realm.
const deletePageSize = 10000

// ResetSession rebuilds a realm index from a stream of catalogue records.
// It holds the realm's write lock until Close.
type ResetSession struct {
	registry  *Registry
	ri        *realmIndex
	batch     *bleve.Batch
	batchSize int
	accepted  int
	closeOnce sync.Once
	closeErr  error
}

// Reset opens a reset session for realm. Every document of type file is
// deleted before the session is returned.
func (r *Registry) Reset(realm string) (*ResetSession, error) {
	ri, err := r.get(realm)
	if err != nil {
		return nil, err
	}

	ri.write.Lock()
	deleted, err := deleteAllFiles(ri.index)
	if err != nil {
		ri.write.Unlock()
		return nil, r.fail(realm, fmt.Errorf("clear index %s: %w", realm, err))
	}
	logging.Info("Reset of index %s started, %d documents removed", realm, deleted)

	return &ResetSession{
		registry:  r,
		ri:        ri,
		batch:     ri.index.NewBatch(),
		batchSize: r.opts.ResetBatchSize,
	}, nil
}

func deleteAllFiles(idx bleve.Index) (int, error) {
	q := bleve.NewTermQuery(DocType)
	q.SetField(FieldType)

	total := 0
	for {
		req := bleve.NewSearchRequestOptions(q, deletePageSize, 0, false)
		res, err := idx.Search(req)
		if err != nil {
			return total, err
		}
		if len(res.Hits) == 0 {
			return total, nil
		}
		batch := idx.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := idx.Batch(batch); err != nil {
			return total, err
		}
		total += len(res.Hits)
	}
}

// Accept buffers the document of rec, flushing when the buffer is full.
func (s *ResetSession) Accept(rec catalogue.FileRecord) error {
	if err := s.batch.Index(rec.HashPath, NewDocument(rec)); err != nil {
		return fmt.Errorf("index %s: %w", rec.Path, err)
	}
	s.accepted++
	if s.batch.Size() >= s.batchSize {
		return s.flush()
	}
	return nil
}

func (s *ResetSession) flush() error {
	if err := s.registry.commit(s.ri, s.batch); err != nil {
		return s.registry.fail(s.ri.realm, err)
	}
	s.batch.Reset()
	return nil
}

// Accepted returns the number of records accepted so far.
func (s *ResetSession) Accepted() int {
	return s.accepted
}

// Close flushes the final partial batch and releases the realm.
func (s *ResetSession) Close() error {
	s.closeOnce.Do(func() {
		defer s.ri.write.Unlock()
		s.closeErr = s.flush()
		metrics.IndexWritesTotal.WithLabelValues(s.ri.realm, "reset").Add(float64(s.accepted))
		logging.Info("Reset of index %s finished, %d documents indexed", s.ri.realm, s.accepted)
	})
	return s.closeErr
}
