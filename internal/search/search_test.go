package search

import (
	"errors"
	"testing"
	"time"

	"asset-indexer/internal/catalogue"
)

var testNow = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func record(t *testing.T, storage, p string, dir bool, length int64, modified time.Time) catalogue.FileRecord {
	t.Helper()
	r, err := catalogue.NewFileRecord("lib", storage, catalogue.RawAttrs{
		Path:       p,
		Directory:  dir,
		Length:     length,
		ModifiedAt: modified,
	}, testNow)
	if err != nil {
		t.Fatalf("NewFileRecord(%s): %v", p, err)
	}
	return r.MarkStable()
}

func newRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	reg := NewRegistry(opts)
	if err := reg.Open("lib", ""); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func seed(t *testing.T, reg *Registry, records ...catalogue.FileRecord) {
	t.Helper()
	if err := reg.Update(catalogue.WatchResult{Realm: "lib", Storage: "main", StableNew: records}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

func hitPaths(res Results) map[string]bool {
	out := map[string]bool{}
	for _, r := range res.Results {
		out[r.ParentPath+"|"+r.Name] = true
	}
	return out
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"file2024", []string{"file", "2024"}},
		{"Holiday Video.MOV", []string{"holiday", "video", "mov"}},
		{"Été à Paris", []string{"ete", "a", "paris"}},
		{"a--b__c", []string{"a--b__c"}},
		{"x1y2", []string{"x", "1", "y", "2"}},
		{"  ", nil},
		{"report, report", []string{"report"}},
		{"ﬁle", []string{"file"}},
	}
	for _, tt := range tests {
		got := Normalize(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("Normalize(%q) = %v, expected %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Normalize(%q) = %v, expected %v", tt.in, got, tt.want)
				break
			}
		}
	}
}

func TestNewDocument(t *testing.T) {
	t.Parallel()

	r := record(t, "main", "/videos/Clip2024.mov", false, 2048, testNow)
	d := NewDocument(r)
	if d.Type != DocType || d.BleveType() != DocType {
		t.Errorf("Expected type %s, got %s", DocType, d.Type)
	}
	if d.Name != "Clip2024.mov" || d.ParentPath != "/videos" {
		t.Errorf("Unexpected name/parent %s %s", d.Name, d.ParentPath)
	}
	if d.HashPath != r.HashPath || d.ParentHashPath != r.ParentHashPath {
		t.Error("Expected identity fields copied from the record")
	}
	if d.Length != 2048 || d.ModifiedAt != float64(testNow.UnixMilli()) {
		t.Errorf("Unexpected numeric fields %v %v", d.Length, d.ModifiedAt)
	}
	want := []string{"clip", "2024", "mov"}
	if len(d.BaseName) != len(want) {
		t.Fatalf("Expected base name tokens %v, got %v", want, d.BaseName)
	}
}

func TestIndexRoundTrip(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t, Options{})

	r := record(t, "main", "/a/b.mov", false, 10, testNow)
	seed(t, reg, r)

	res, err := reg.Search("lib", "b.mov", nil, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Results) == 0 || res.Results[0].HashPath != r.HashPath {
		t.Fatalf("Expected %s as top hit, got %+v", r.HashPath, res.Results)
	}
	top := res.Results[0]
	if top.Score <= 0 {
		t.Errorf("Expected positive score, got %v", top.Score)
	}
	if top.Storage != "main" || top.Name != "b.mov" || top.ParentPath != "/a" {
		t.Errorf("Unexpected stored fields %+v", top)
	}

	if err := reg.Update(catalogue.WatchResult{Realm: "lib", Storage: "main", Lost: []catalogue.FileRecord{r}}); err != nil {
		t.Fatalf("Update (lost) failed: %v", err)
	}
	res, err = reg.Search("lib", "b.mov", nil, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Results) != 0 {
		t.Errorf("Expected no hits after delete, got %d", len(res.Results))
	}
}

func TestUpdateIsIdempotent(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t, Options{})

	r := record(t, "main", "/a.txt", false, 1, testNow)
	seed(t, reg, r)
	seed(t, reg, r)

	changed := r
	changed.Length = 99
	if err := reg.Update(catalogue.WatchResult{Realm: "lib", Storage: "main", StableChanged: []catalogue.FileRecord{changed}}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	n, err := reg.DocCount("lib")
	if err != nil || n != 1 {
		t.Errorf("Expected 1 document, got %d (%v)", n, err)
	}

	min := int64(50)
	res, _ := reg.Search("lib", "a.txt", &Constraints{MinLength: &min}, 10)
	if len(res.Results) != 1 {
		t.Errorf("Expected updated document to match size filter, got %d", len(res.Results))
	}
}

func TestSearchStrategies(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t, Options{})

	seed(t, reg,
		record(t, "main", "/holiday2024.mov", false, 10, testNow),
		record(t, "main", "/Summer Holiday.jpg", false, 10, testNow),
		record(t, "main", "/report.pdf", false, 10, testNow),
		record(t, "main", "/Café.txt", false, 10, testNow),
	)

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"exact name", "report.pdf", "/|report.pdf"},
		{"wildcard", "holi*", "/|holiday2024.mov"},
		{"token in compound name", "2024", "/|holiday2024.mov"},
		{"case and accent folded token", "CAFE", "/|Café.txt"},
		{"fuzzy token", "holidey", "/|Summer Holiday.jpg"},
		{"multi token", "summer holiday", "/|Summer Holiday.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := reg.Search("lib", tt.query, nil, 10)
			if err != nil {
				t.Fatalf("Search failed: %v", err)
			}
			if !hitPaths(res)[tt.want] {
				t.Errorf("Expected %s among hits for %q, got %+v", tt.want, tt.query, res.Results)
			}
		})
	}

	res, _ := reg.Search("lib", "report.pdf", nil, 10)
	if res.Results[0].Name != "report.pdf" {
		t.Errorf("Expected exact match ranked first, got %s", res.Results[0].Name)
	}
}

func TestSearchConstraints(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t, Options{})

	old := testNow.Add(-48 * time.Hour)
	dir := record(t, "main", "/clips", true, 0, testNow)
	clip := record(t, "main", "/clips/clip.mov", false, 500, testNow)
	oldClip := record(t, "main", "/clips/old/clip.mov", false, 5, old)
	other := record(t, "archive", "/clip.mov", false, 500, old)
	seed(t, reg, dir, clip, oldClip, other)

	since := testNow.Add(-time.Hour)
	max := int64(10)

	tests := []struct {
		name string
		c    *Constraints
		want []string
	}{
		{"files only", &Constraints{Directory: RequireFalse}, []string{clip.HashPath, oldClip.HashPath, other.HashPath}},
		{"directories only", &Constraints{Directory: RequireTrue}, []string{dir.HashPath}},
		{"modified since", &Constraints{Directory: RequireFalse, ModifiedFrom: &since}, []string{clip.HashPath}},
		{"max size", &Constraints{MaxLength: &max}, []string{dir.HashPath, oldClip.HashPath}},
		{"storage allow-list", &Constraints{Storages: []string{"archive"}}, []string{other.HashPath}},
		{"parent prefix", &Constraints{ParentPathPrefix: "/clips"}, []string{clip.HashPath, oldClip.HashPath}},
		{"parent hash", &Constraints{ParentHashPath: clip.ParentHashPath}, []string{clip.HashPath}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := reg.Search("lib", "", tt.c, 50)
			if err != nil {
				t.Fatalf("Search failed: %v", err)
			}
			if int(res.TotalMatched) != len(tt.want) {
				t.Errorf("Expected %d matches, got %d", len(tt.want), res.TotalMatched)
			}
			got := map[string]bool{}
			for _, r := range res.Results {
				got[r.HashPath] = true
			}
			for _, h := range tt.want {
				if !got[h] {
					t.Errorf("Expected %s in results", h)
				}
			}
		})
	}

	res, err := reg.Search("lib", "clip.mov", &Constraints{Storages: []string{"main"}}, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, r := range res.Results {
		if r.Storage != "main" {
			t.Errorf("Expected only main storage hits, got %s", r.Storage)
		}
	}
}

func TestSearchLimitAndExplain(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t, Options{Explain: true})

	for _, p := range []string{"/a1.txt", "/a2.txt", "/a3.txt"} {
		seed(t, reg, record(t, "main", p, false, 1, testNow))
	}

	res, err := reg.Search("lib", "a*", nil, 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Results) != 2 {
		t.Errorf("Expected 2 results, got %d", len(res.Results))
	}
	if res.TotalMatched != 3 {
		t.Errorf("Expected 3 total matches, got %d", res.TotalMatched)
	}
	if res.Results[0].Explain == "" {
		t.Error("Expected explanation when enabled")
	}
}

func TestUnknownRealm(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t, Options{})

	if _, err := reg.Search("nope", "x", nil, 10); !errors.Is(err, ErrUnknownRealm) {
		t.Errorf("Expected ErrUnknownRealm, got %v", err)
	}
	err := reg.Update(catalogue.WatchResult{Realm: "nope", StableNew: []catalogue.FileRecord{{HashPath: "x"}}})
	if !errors.Is(err, ErrUnknownRealm) {
		t.Errorf("Expected ErrUnknownRealm from Update, got %v", err)
	}
	if _, err := reg.Reset("nope"); !errors.Is(err, ErrUnknownRealm) {
		t.Errorf("Expected ErrUnknownRealm from Reset, got %v", err)
	}
	if err := reg.Open("lib", ""); err == nil {
		t.Error("Expected error opening a realm twice")
	}
}

func TestResetSession(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t, Options{ResetBatchSize: 2})

	stale := record(t, "main", "/stale.txt", false, 1, testNow)
	seed(t, reg, stale)

	session, err := reg.Reset("lib")
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	for _, p := range []string{"/a.txt", "/b.txt", "/c.txt"} {
		if err := session.Accept(record(t, "main", p, false, 1, testNow)); err != nil {
			t.Fatalf("Accept failed: %v", err)
		}
	}
	if err := session.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
	if session.Accepted() != 3 {
		t.Errorf("Expected 3 accepted records, got %d", session.Accepted())
	}

	n, err := reg.DocCount("lib")
	if err != nil || n != 3 {
		t.Errorf("Expected 3 documents including the final partial batch, got %d (%v)", n, err)
	}
	res, _ := reg.Search("lib", "stale.txt", nil, 10)
	for _, r := range res.Results {
		if r.HashPath == stale.HashPath {
			t.Error("Expected documents from before the reset to be gone")
		}
	}

	// the realm accepts writes again once the session is closed
	seed(t, reg, stale)
}

func TestOpenOnDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	reg := NewRegistry(Options{})
	if err := reg.Open("lib", dir); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	seed(t, reg, record(t, "main", "/persist.txt", false, 1, testNow))
	if err := reg.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := NewRegistry(Options{})
	if err := reopened.Open("lib", dir); err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	if realms := reopened.Realms(); len(realms) != 1 || realms[0] != "lib" {
		t.Errorf("Expected [lib], got %v", realms)
	}
	n, err := reopened.DocCount("lib")
	if err != nil || n != 1 {
		t.Errorf("Expected persisted document, got %d (%v)", n, err)
	}
}
