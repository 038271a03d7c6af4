package catalogue

import (
	"fmt"
	"time"
)

// RawAttrs is one entry of a raw directory scan. Path is storage-relative
// and always starts with "/". ModifiedAt is compared at millisecond
// precision.
type RawAttrs struct {
	Path       string
	ParentPath string
	Name       string
	Directory  bool
	Hidden     bool
	Link       bool
	Special    bool
	Length     int64
	ModifiedAt time.Time
}

// FileRecord is the catalogued state of one (realm, storage, path).
//
// Records are values: Observe, MarkStable and ClearChanged return a new
// record and leave the receiver untouched. Persisting the difference is the
// store's job.
type FileRecord struct {
	ID             int64
	HashPath       string
	ParentHashPath string
	Realm          string
	Storage        string
	Path           string

	Directory  bool
	Hidden     bool
	Link       bool
	Special    bool
	Length     int64
	ModifiedAt time.Time

	FirstSeenAt       time.Time
	LastSeenAt        time.Time
	MarkedStable      bool
	LastScanUnchanged bool
	StableButChanged  bool
}

// NewFileRecord builds the record for a path seen for the first time.
func NewFileRecord(realm, storage string, raw RawAttrs, now time.Time) (FileRecord, error) {
	hash, err := HashPath(realm, storage, raw.Path)
	if err != nil {
		return FileRecord{}, err
	}

	parent := raw.ParentPath
	if parent == "" {
		parent = ParentPath(raw.Path)
	}
	parentHash, err := HashPath(realm, storage, parent)
	if err != nil {
		return FileRecord{}, fmt.Errorf("parent of %q: %w", raw.Path, err)
	}

	return FileRecord{
		HashPath:       hash,
		ParentHashPath: parentHash,
		Realm:          realm,
		Storage:        storage,
		Path:           raw.Path,
		Directory:      raw.Directory,
		Hidden:         raw.Hidden,
		Link:           raw.Link,
		Special:        raw.Special,
		Length:         raw.Length,
		ModifiedAt:     raw.ModifiedAt,
		FirstSeenAt:    now,
		LastSeenAt:     now,
	}, nil
}

// Observe folds a fresh scan of the same path into the record.
//
// A directory only refreshes its attributes until it is marked stable. A
// file compares (modifiedAt, length) with the previous scan; any difference
// restarts the debounce window and, on a stable file, raises
// StableButChanged.
func (r FileRecord) Observe(raw RawAttrs, now time.Time) FileRecord {
	next := r
	next.Hidden = raw.Hidden
	next.Link = raw.Link
	next.Special = raw.Special

	if r.Directory {
		if !r.MarkedStable {
			next.Length = raw.Length
			next.ModifiedAt = raw.ModifiedAt
		}
		return next
	}

	next.LastScanUnchanged = r.ModifiedAt.UnixMilli() == raw.ModifiedAt.UnixMilli() && r.Length == raw.Length
	if !next.LastScanUnchanged {
		next.LastSeenAt = now
		if r.MarkedStable {
			next.StableButChanged = true
		}
	}
	next.Length = raw.Length
	next.ModifiedAt = raw.ModifiedAt
	return next
}

// IsTimeQualified reports whether the record satisfied the debounce window.
// Directories always qualify.
func (r FileRecord) IsTimeQualified(window time.Duration, now time.Time) bool {
	if r.Directory {
		return true
	}
	return r.LastScanUnchanged && now.Sub(r.LastSeenAt) >= window
}

// MarkStable returns the record flagged as stable.
func (r FileRecord) MarkStable() FileRecord {
	r.MarkedStable = true
	return r
}

// ClearChanged returns the record with StableButChanged consumed.
func (r FileRecord) ClearChanged() FileRecord {
	r.StableButChanged = false
	return r
}

// Name is the last element of the record's path.
func (r FileRecord) Name() string {
	return BaseName(r.Path)
}

// ParentPath is the containing directory of the record's path.
func (r FileRecord) ParentPath() string {
	return ParentPath(r.Path)
}

// Attrs rebuilds the raw attribute view of the record.
func (r FileRecord) Attrs() RawAttrs {
	return RawAttrs{
		Path:       r.Path,
		ParentPath: r.ParentPath(),
		Name:       r.Name(),
		Directory:  r.Directory,
		Hidden:     r.Hidden,
		Link:       r.Link,
		Special:    r.Special,
		Length:     r.Length,
		ModifiedAt: r.ModifiedAt,
	}
}
