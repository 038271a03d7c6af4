package catalogue

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Clock abstracts time retrieval so debounce and grace periods are
// deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time { return time.Now() }

// ScanChanges is the catalogue diff produced by one reconciliation pass. It
// is applied in a single transaction.
type ScanChanges struct {
	Realm   string
	Storage string
	Upserts []FileRecord
	Deletes []string
}

// WatchResult is the categorized delta of one scan.
type WatchResult struct {
	Realm           string
	Storage         string
	StableNew       []FileRecord
	StableChanged   []FileRecord
	Lost            []FileRecord
	TotalCatalogued int
}

// Empty reports whether the scan produced no event at all.
func (w WatchResult) Empty() bool {
	return len(w.StableNew) == 0 && len(w.StableChanged) == 0 && len(w.Lost) == 0
}

// Store is the persistence contract the reconciliation engine relies on.
type Store interface {
	FindByHash(ctx context.Context, hashes []string) ([]FileRecord, error)
	AllHashes(ctx context.Context, realm, storage string) ([]string, error)
	SaveAll(ctx context.Context, records []FileRecord) error
	DeleteByHash(ctx context.Context, hashes []string) error
	ApplyScan(ctx context.Context, changes ScanChanges) error
	CountFor(ctx context.Context, realm, storage string) (int, error)
}

// SortField selects the ordering column of a directory listing.
type SortField string

// Sort fields accepted by listings.
const (
	SortName SortField = "name"
	SortType SortField = "type"
	SortDate SortField = "date"
	SortSize SortField = "size"
)

// SortOrder is the direction of a listing sort.
type SortOrder string

// Sort orders accepted by listings. SortNone keeps the catalogue order.
const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
	SortNone SortOrder = "none"
)

// ListOptions paginates and sorts a listing by parent hash.
type ListOptions struct {
	Skip  int
	Limit int
	Sort  SortField
	Order SortOrder
}

// ParseSort validates sort and order query values. Empty values default to
// name ascending.
func ParseSort(field, order string) (SortField, SortOrder, error) {
	f := SortField(strings.ToLower(field))
	switch f {
	case "":
		f = SortName
	case SortName, SortType, SortDate, SortSize:
	default:
		return "", "", fmt.Errorf("unknown sort field %q", field)
	}

	o := SortOrder(strings.ToLower(order))
	switch o {
	case "":
		o = SortAsc
	case SortAsc, SortDesc, SortNone:
	default:
		return "", "", fmt.Errorf("unknown sort order %q", order)
	}
	return f, o, nil
}
