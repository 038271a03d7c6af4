package handlers

import (
	"context"

	"asset-indexer/internal/audit"
	"asset-indexer/internal/catalogue"
	"asset-indexer/internal/indexer"
	"asset-indexer/internal/metrics"
	"asset-indexer/internal/search"
	"asset-indexer/internal/startup"
)

// Catalogue is the read side of the catalogue database.
type Catalogue interface {
	Realms(ctx context.Context) ([]string, error)
	Storages(ctx context.Context, realm string) ([]string, error)
	ListByParent(ctx context.Context, parentHash string, opts catalogue.ListOptions) ([]catalogue.FileRecord, int, error)
	GetByHash(ctx context.Context, hash string) (catalogue.FileRecord, error)
	FindByHash(ctx context.Context, hashes []string) ([]catalogue.FileRecord, error)
	ListClaims(ctx context.Context, realm string) ([]catalogue.PendingActivity, error)
	AuditEvents(ctx context.Context, realm string, limit int) ([]audit.Event, error)
	GetStats() metrics.Stats
}

// Searcher queries the per-realm indexes.
type Searcher interface {
	Search(realm, queryText string, c *search.Constraints, limit int) (search.Results, error)
}

// Indexer controls and reports scans.
type Indexer interface {
	IsReady() bool
	GetHealthStatus() indexer.HealthStatus
	Rescan(realm, storage string) error
	StartResetAll() error
	ResetStorage(ctx context.Context, realm, storage string) (int64, error)
}

// Limits caps the size of list and search responses.
type Limits struct {
	DirListMaxSize      int
	SearchResultMaxSize int
}

// LimitsFromTopology reads the response caps of a topology.
func LimitsFromTopology(t *startup.Topology) Limits {
	return Limits{
		DirListMaxSize:      t.DirListMaxSize,
		SearchResultMaxSize: t.SearchResultMaxSize,
	}
}

type Handlers struct {
	db      Catalogue
	search  Searcher
	indexer Indexer
	limits  Limits
}

func New(db Catalogue, s Searcher, idx Indexer, limits Limits) *Handlers {
	if limits.DirListMaxSize <= 0 {
		limits.DirListMaxSize = startup.DefaultDirListMaxSize
	}
	if limits.SearchResultMaxSize <= 0 {
		limits.SearchResultMaxSize = startup.DefaultSearchResultMaxSize
	}
	return &Handlers{
		db:      db,
		search:  s,
		indexer: idx,
		limits:  limits,
	}
}
