package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"asset-indexer/internal/activity"
	"asset-indexer/internal/audit"
	"asset-indexer/internal/catalogue"
	"asset-indexer/internal/database"
	"asset-indexer/internal/memory"
	"asset-indexer/internal/scanner"
	"asset-indexer/internal/search"
	"asset-indexer/internal/startup"
	"asset-indexer/internal/testutil"
	"asset-indexer/internal/workers"
)

type recordingHandler struct {
	mu    sync.Mutex
	paths []string
}

func (h *recordingHandler) Name() string { return "recorder" }

func (h *recordingHandler) CanHandle(_ context.Context, a activity.Asset, _ catalogue.EventType) bool {
	return a.AbsPath != ""
}

func (h *recordingHandler) Handle(_ context.Context, a activity.Asset, _ catalogue.EventType) error {
	if _, err := os.Stat(a.AbsPath); err != nil {
		return err
	}
	h.mu.Lock()
	h.paths = append(h.paths, a.Record.Path)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) handled() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.paths...)
}

type fixture struct {
	root    string
	db      *database.Database
	search  *search.Registry
	pool    *workers.Pool
	audit   *audit.Writer
	clock   *testutil.StubClock
	handler *recordingHandler
	idx     *Indexer
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newFixture(t *testing.T, extra string) *fixture {
	t.Helper()
	return newSpoolFixture(t, extra, 2, 16)
}

// newSpoolFixture sizes the handler spool and registers extra handlers after
// the recording one.
func newSpoolFixture(t *testing.T, extra string, spoolWorkers, queue int, more ...activity.Handler) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	root := filepath.Join(dir, "storage")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}

	topo, err := startup.DecodeTopology(strings.NewReader(`
audit_trail = true
[realms.lib.storages.main]
root = "` + root + `"
` + extra))
	if err != nil {
		t.Fatalf("DecodeTopology failed: %v", err)
	}

	db, err := database.New(ctx, filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	reg := search.NewRegistry(search.Options{ResetBatchSize: 2})
	if err := reg.Open("lib", ""); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	pool := workers.NewPool()
	pool.AddSpool(activity.DefaultSpool, spoolWorkers, queue)

	f := &fixture{
		root:    root,
		db:      db,
		search:  reg,
		pool:    pool,
		audit:   audit.NewWriter(db, "test"),
		clock:   testutil.FixedClock(),
		handler: &recordingHandler{},
	}

	handlers, err := activity.NewRegistry(append([]activity.Handler{f.handler}, more...)...)
	if err != nil {
		t.Fatal(err)
	}
	dispatcher := activity.NewDispatcher(handlers, db, pool, activity.Options{
		Identity: activity.Identity{Host: "test", PID: 1},
		Clock:    f.clock,
		Resolve:  NewResolver(topo),
	})

	f.idx = New(Options{
		DB:          db,
		Search:      reg,
		Dispatcher:  dispatcher,
		Audit:       f.audit,
		Topology:    topo,
		Clock:       f.clock,
		Scanner:     scanner.Config{NumWorkers: 2, ChannelBuffer: 16},
		WatchSettle: 10 * time.Millisecond,
	})

	t.Cleanup(func() {
		f.idx.Stop()
		pool.Close()
		f.audit.Close()
		reg.Close()
		db.Close()
	})
	return f
}

func (f *fixture) scan(t *testing.T) catalogue.WatchResult {
	t.Helper()
	res, err := f.idx.ScanStorage(context.Background(), "lib", "main")
	if err != nil {
		t.Fatalf("ScanStorage failed: %v", err)
	}
	f.pool.Wait()
	return res
}

func paths(records []catalogue.FileRecord) map[string]bool {
	out := make(map[string]bool, len(records))
	for _, r := range records {
		out[r.Path] = true
	}
	return out
}

// followerHandler runs once the recording handler is done with an asset.
type followerHandler struct {
	mu   sync.Mutex
	runs int
}

func (h *followerHandler) Name() string { return "follower" }

func (h *followerHandler) CanHandle(_ context.Context, a activity.Asset, _ catalogue.EventType) bool {
	return a.Completed.Contains("recorder")
}

func (h *followerHandler) Handle(context.Context, activity.Asset, catalogue.EventType) error {
	h.mu.Lock()
	h.runs++
	h.mu.Unlock()
	return nil
}

func (h *followerHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs
}

func TestScanDispatchesMoreFilesThanSpoolQueue(t *testing.T) {
	follower := &followerHandler{}
	f := newSpoolFixture(t, "", 1, 2, follower)

	const files = 12
	for i := 0; i < files; i++ {
		writeFile(t, filepath.Join(f.root, "batch", "clip"+strings.Repeat("x", i)+".mov"), "abc")
	}
	f.scan(t)
	f.clock.Advance(2 * time.Minute)

	type outcome struct {
		res catalogue.WatchResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := f.idx.ScanStorage(context.Background(), "lib", "main")
		f.pool.Wait()
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("ScanStorage failed: %v", out.err)
		}
		if res := out.res; len(res.StableNew) != files+1 {
			t.Errorf("Expected %d stable-new entries, got %d", files+1, len(res.StableNew))
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Expected scan and chained handlers to finish with a small spool queue")
	}

	if got := len(f.handler.handled()); got != files {
		t.Errorf("Expected recorder to run %d times, got %d", files, got)
	}
	if got := follower.count(); got != files {
		t.Errorf("Expected follower to run %d times, got %d", files, got)
	}
	pending, err := f.db.ListClaims(context.Background(), "")
	if err != nil {
		t.Fatalf("ListClaims failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected all claims ended, got %d", len(pending))
	}
}

func TestScanPipeline(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	writeFile(t, filepath.Join(f.root, "clip.mov"), "abc")
	writeFile(t, filepath.Join(f.root, "docs", "notes.txt"), "hello")

	first := f.scan(t)
	if !first.Empty() {
		t.Errorf("Expected no events on first scan, got %d/%d/%d", len(first.StableNew), len(first.StableChanged), len(first.Lost))
	}
	if first.TotalCatalogued != 3 {
		t.Errorf("Expected 3 catalogued entries, got %d", first.TotalCatalogued)
	}

	f.clock.Advance(2 * time.Minute)
	second := f.scan(t)
	got := paths(second.StableNew)
	for _, p := range []string{"/clip.mov", "/docs", "/docs/notes.txt"} {
		if !got[p] {
			t.Errorf("Expected %s to be stable-new, got %v", p, got)
		}
	}

	handled := f.handler.handled()
	if len(handled) != 2 {
		t.Errorf("Expected handler to run for the 2 files, got %v", handled)
	}

	hits, err := f.search.Search("lib", "clip", nil, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits.Results) == 0 || hits.Results[0].Name != "clip.mov" {
		t.Errorf("Expected clip.mov as best hit, got %+v", hits.Results)
	}

	if err := os.Remove(filepath.Join(f.root, "clip.mov")); err != nil {
		t.Fatal(err)
	}
	third := f.scan(t)
	if len(third.Lost) != 1 || third.Lost[0].Path != "/clip.mov" {
		t.Errorf("Expected clip.mov lost, got %v", paths(third.Lost))
	}
	hits, _ = f.search.Search("lib", "clip", nil, 10)
	for _, r := range hits.Results {
		if r.Name == "clip.mov" {
			t.Error("Expected lost file to leave the index")
		}
	}

	f.audit.Close()
	events, err := f.db.AuditEvents(ctx, "lib", 100)
	if err != nil {
		t.Fatalf("AuditEvents failed: %v", err)
	}
	counts := map[string]int{}
	for _, e := range events {
		counts[e.Event]++
	}
	if counts[audit.EventFound] != 3 || counts[audit.EventLost] != 1 {
		t.Errorf("Expected 3 found and 1 lost audit events, got %v", counts)
	}
}

func TestScanMissingRoot(t *testing.T) {
	f := newFixture(t, "")
	writeFile(t, filepath.Join(f.root, "a.txt"), "a")
	f.scan(t)

	if err := os.RemoveAll(f.root); err != nil {
		t.Fatal(err)
	}
	_, err := f.idx.ScanStorage(context.Background(), "lib", "main")
	if !errors.Is(err, scanner.ErrRootUnavailable) {
		t.Errorf("Expected ErrRootUnavailable, got %v", err)
	}

	n, _ := f.db.CountFor(context.Background(), "lib", "main")
	if n != 1 {
		t.Errorf("Expected catalogue untouched after failed scan, got %d entries", n)
	}

	status := f.idx.GetHealthStatus()
	if len(status.Storages) != 1 || status.Storages[0].LastError == "" || status.Storages[0].Scans != 2 {
		t.Errorf("Expected failed scan in health status, got %+v", status.Storages)
	}
}

func TestScansWaitForMemory(t *testing.T) {
	f := newFixture(t, "")
	writeFile(t, filepath.Join(f.root, "a.txt"), "a")

	// Any live heap exceeds a one byte limit.
	monitor := memory.NewMonitor(memory.Config{
		LimitBytes:        1,
		HighWaterMark:     0.5,
		CriticalWaterMark: 0.8,
		CheckInterval:     5 * time.Millisecond,
	})
	monitor.Start()
	defer monitor.Stop()
	f.idx.opts.Memory = monitor
	waitFor(t, "memory pause", monitor.Paused)

	if !f.idx.GetHealthStatus().ScansPaused {
		t.Error("Expected health status to report paused scans")
	}

	done := make(chan struct{})
	go func() {
		f.idx.runScan(f.idx.order[0], "test")
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Expected scan to wait while memory is critical")
	case <-time.After(50 * time.Millisecond):
	}

	f.idx.cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected waiting scan to give up on shutdown")
	}
	if n, _ := f.db.CountFor(context.Background(), "lib", "main"); n != 0 {
		t.Errorf("Expected no scan under memory pressure, got %d entries", n)
	}
}

func TestUnknownStorage(t *testing.T) {
	f := newFixture(t, "")

	if err := f.idx.Rescan("lib", "nope"); !errors.Is(err, ErrUnknownStorage) {
		t.Errorf("Expected ErrUnknownStorage, got %v", err)
	}
	if _, err := f.idx.ScanStorage(context.Background(), "other", "main"); !errors.Is(err, ErrUnknownStorage) {
		t.Errorf("Expected ErrUnknownStorage, got %v", err)
	}
}

func TestResetIndex(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		writeFile(t, filepath.Join(f.root, name), name)
	}
	f.scan(t)
	f.clock.Advance(2 * time.Minute)
	f.scan(t)
	writeFile(t, filepath.Join(f.root, "d.txt"), "not yet stable")
	f.scan(t)

	n, err := f.idx.ResetIndex(ctx, "lib")
	if err != nil {
		t.Fatalf("ResetIndex failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 stable documents, got %d", n)
	}
	count, _ := f.search.DocCount("lib")
	if count != 3 {
		t.Errorf("Expected 3 documents in the index, got %d", count)
	}

	if err := f.idx.ResetAll(ctx); err != nil {
		t.Errorf("ResetAll failed: %v", err)
	}
}

func TestResetStorage(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	writeFile(t, filepath.Join(f.root, "a.txt"), "a")
	f.scan(t)
	f.clock.Advance(2 * time.Minute)
	f.scan(t)

	n, err := f.idx.ResetStorage(ctx, "lib", "main")
	if err != nil {
		t.Fatalf("ResetStorage failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 removed entry, got %d", n)
	}
	if count, _ := f.search.DocCount("lib"); count != 0 {
		t.Errorf("Expected empty index, got %d documents", count)
	}

	res := f.scan(t)
	if res.TotalCatalogued != 1 || !res.Empty() {
		t.Errorf("Expected storage to be catalogued again without events, got %+v", res)
	}
}

func TestPurgeRemovedStorages(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	var records []catalogue.FileRecord
	for _, loc := range []struct{ realm, storage string }{{"lib", "old"}, {"gone", "main"}, {"lib", "main"}} {
		rec, err := catalogue.NewFileRecord(loc.realm, loc.storage, catalogue.RawAttrs{Path: "/x.txt"}, f.clock.Now())
		if err != nil {
			t.Fatal(err)
		}
		records = append(records, rec.MarkStable())
	}
	if err := f.db.SaveAll(ctx, records); err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}

	if err := f.idx.purgeRemovedStorages(ctx); err != nil {
		t.Fatalf("purgeRemovedStorages failed: %v", err)
	}

	tests := []struct {
		realm, storage string
		want           int
	}{
		{"lib", "old", 0},
		{"gone", "main", 0},
		{"lib", "main", 1},
	}
	for _, tt := range tests {
		n, err := f.db.CountFor(ctx, tt.realm, tt.storage)
		if err != nil {
			t.Fatal(err)
		}
		if n != tt.want {
			t.Errorf("%s/%s: expected %d entries, got %d", tt.realm, tt.storage, tt.want, n)
		}
	}
	if count, _ := f.search.DocCount("lib"); count != 1 {
		t.Errorf("Expected realm index rebuilt with 1 document, got %d", count)
	}
}

func TestPurgeKeepsDisabledRealms(t *testing.T) {
	f := newFixture(t, `
[realms.archive.storages.main]
root = "/srv/archive"
`)
	ctx := context.Background()

	rec, err := catalogue.NewFileRecord("archive", "main", catalogue.RawAttrs{Path: "/x.txt"}, f.clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := f.db.SaveAll(ctx, []catalogue.FileRecord{rec.MarkStable()}); err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}

	f.idx.opts.Topology.Disable("archive", errors.New("index unavailable"))
	if err := f.idx.purgeRemovedStorages(ctx); err != nil {
		t.Fatalf("purgeRemovedStorages failed: %v", err)
	}

	n, err := f.db.CountFor(ctx, "archive", "main")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Expected catalogue of disabled realm kept, got %d entries", n)
	}
}

func TestStartScansAndWatches(t *testing.T) {
	f := newFixture(t, "watch = true\n")
	writeFile(t, filepath.Join(f.root, "a.txt"), "a")

	if err := f.idx.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := f.idx.Start(); err == nil {
		t.Error("Expected second Start to fail")
	}

	waitFor(t, "initial scan", f.idx.IsReady)

	before := f.idx.GetHealthStatus().Storages[0].Scans
	writeFile(t, filepath.Join(f.root, "b.txt"), "b")
	waitFor(t, "watcher scan", func() bool {
		return f.idx.GetHealthStatus().Storages[0].Scans > before
	})

	if err := f.idx.Rescan("lib", "main"); err != nil {
		t.Errorf("Rescan failed: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
