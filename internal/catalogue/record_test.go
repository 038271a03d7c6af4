package catalogue

import (
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func fileAttrs(path string, length int64, mod time.Time) RawAttrs {
	return RawAttrs{
		Path:       path,
		ParentPath: ParentPath(path),
		Name:       BaseName(path),
		Length:     length,
		ModifiedAt: mod,
	}
}

func TestNewFileRecord(t *testing.T) {
	t.Parallel()

	rec, err := NewFileRecord("lib", "main", fileAttrs("/a/b.mov", 10, t0), t0)
	if err != nil {
		t.Fatalf("NewFileRecord failed: %v", err)
	}

	wantParent, _ := HashPath("lib", "main", "/a")
	if rec.ParentHashPath != wantParent {
		t.Errorf("Expected parent hash %s, got %s", wantParent, rec.ParentHashPath)
	}
	if rec.MarkedStable || rec.LastScanUnchanged || rec.StableButChanged {
		t.Error("New record should carry no watch flags")
	}
	if !rec.FirstSeenAt.Equal(t0) || !rec.LastSeenAt.Equal(t0) {
		t.Error("New record should be first and last seen now")
	}
	if rec.Name() != "b.mov" || rec.ParentPath() != "/a" {
		t.Errorf("Unexpected name/parent: %s %s", rec.Name(), rec.ParentPath())
	}
}

func TestNewFileRecordRejectsDelimiter(t *testing.T) {
	t.Parallel()

	if _, err := NewFileRecord("lib", "main", fileAttrs("/a:b", 1, t0), t0); err == nil {
		t.Error("Expected error for path containing ':'")
	}
}

func TestObserveFileUnchanged(t *testing.T) {
	t.Parallel()

	rec, _ := NewFileRecord("lib", "main", fileAttrs("/f", 10, t0), t0)
	later := t0.Add(time.Minute)
	next := rec.Observe(fileAttrs("/f", 10, t0), later)

	if !next.LastScanUnchanged {
		t.Error("Expected LastScanUnchanged after identical scan")
	}
	if !next.LastSeenAt.Equal(t0) {
		t.Error("Unchanged scan should not refresh LastSeenAt")
	}
	if rec.LastScanUnchanged {
		t.Error("Observe must not mutate the receiver")
	}
}

func TestObserveFileChanged(t *testing.T) {
	t.Parallel()

	rec, _ := NewFileRecord("lib", "main", fileAttrs("/f", 10, t0), t0)
	later := t0.Add(time.Minute)
	next := rec.Observe(fileAttrs("/f", 20, t0), later)

	if next.LastScanUnchanged {
		t.Error("Expected LastScanUnchanged=false after size change")
	}
	if !next.LastSeenAt.Equal(later) {
		t.Error("Changed scan should refresh LastSeenAt")
	}
	if next.Length != 20 {
		t.Errorf("Expected length 20, got %d", next.Length)
	}
	if next.StableButChanged {
		t.Error("Unstable record should not be flagged StableButChanged")
	}

	stable := rec.MarkStable()
	changed := stable.Observe(fileAttrs("/f", 10, t0.Add(time.Second)), later)
	if !changed.StableButChanged {
		t.Error("Stable record changing should be flagged StableButChanged")
	}
	if changed.ClearChanged().StableButChanged {
		t.Error("ClearChanged should reset the flag")
	}
}

func TestObserveDirectory(t *testing.T) {
	t.Parallel()

	raw := fileAttrs("/d", 4096, t0)
	raw.Directory = true
	rec, _ := NewFileRecord("lib", "main", raw, t0)

	moved := raw
	moved.ModifiedAt = t0.Add(time.Hour)
	next := rec.Observe(moved, t0.Add(time.Hour))
	if !next.ModifiedAt.Equal(moved.ModifiedAt) {
		t.Error("Unstable directory should refresh its attributes")
	}

	stable := next.MarkStable()
	moved.ModifiedAt = t0.Add(2 * time.Hour)
	inert := stable.Observe(moved, t0.Add(2*time.Hour))
	if inert.ModifiedAt.Equal(moved.ModifiedAt) {
		t.Error("Stable directory should ignore attribute changes")
	}
	if inert.StableButChanged {
		t.Error("Directories are never flagged StableButChanged")
	}
}

func TestIsTimeQualified(t *testing.T) {
	t.Parallel()

	window := 5 * time.Minute
	rec, _ := NewFileRecord("lib", "main", fileAttrs("/f", 10, t0), t0)

	if rec.IsTimeQualified(window, t0.Add(time.Hour)) {
		t.Error("Record never seen unchanged should not qualify")
	}

	seen := rec.Observe(fileAttrs("/f", 10, t0), t0.Add(time.Minute))
	if seen.IsTimeQualified(window, t0.Add(time.Minute)) {
		t.Error("Record inside the window should not qualify")
	}
	if !seen.IsTimeQualified(window, t0.Add(window)) {
		t.Error("Record unchanged for the full window should qualify")
	}

	dir := fileAttrs("/d", 0, t0)
	dir.Directory = true
	d, _ := NewFileRecord("lib", "main", dir, t0)
	if !d.IsTimeQualified(window, t0) {
		t.Error("Directories always qualify")
	}
}

func TestWatchResultEmpty(t *testing.T) {
	t.Parallel()

	if !(WatchResult{}).Empty() {
		t.Error("Zero WatchResult should be empty")
	}
	if (WatchResult{Lost: []FileRecord{{}}}).Empty() {
		t.Error("WatchResult with lost entries should not be empty")
	}
}
