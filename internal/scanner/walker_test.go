package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

func createTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func paths(t *testing.T, w *Walker) []string {
	t.Helper()
	snapshot, err := w.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	out := make([]string, 0, len(snapshot))
	for _, a := range snapshot {
		out = append(out, a.Path)
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("INDEX_WORKERS", "")
	cfg := DefaultConfig()
	if cfg.NumWorkers != 3 {
		t.Errorf("Expected 3 workers, got %d", cfg.NumWorkers)
	}
	if !cfg.SkipHidden {
		t.Error("Expected hidden entries to be skipped by default")
	}

	t.Setenv("INDEX_WORKERS", "7")
	if got := DefaultConfig().NumWorkers; got != 7 {
		t.Errorf("Expected INDEX_WORKERS override 7, got %d", got)
	}

	t.Setenv("INDEX_WORKERS", "bogus")
	if got := DefaultConfig().NumWorkers; got != 3 {
		t.Errorf("Expected invalid override to be ignored, got %d", got)
	}
}

func TestScan(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	createTree(t, root, map[string]string{
		"a/b.mov":       "12345",
		"a/c/d.txt":     "x",
		"top.txt":       "",
		".hidden/e.txt": "h",
		"a/.f":          "h",
	})

	tests := []struct {
		name   string
		config Config
		want   []string
	}{
		{
			name:   "skip hidden",
			config: Config{NumWorkers: 2, ChannelBuffer: 4, SkipHidden: true},
			want:   []string{"/a", "/a/b.mov", "/a/c", "/a/c/d.txt", "/top.txt"},
		},
		{
			name:   "include hidden",
			config: Config{NumWorkers: 1, ChannelBuffer: 1},
			want:   []string{"/.hidden", "/.hidden/e.txt", "/a", "/a/.f", "/a/b.mov", "/a/c", "/a/c/d.txt", "/top.txt"},
		},
		{
			name:   "max depth 1",
			config: Config{NumWorkers: 2, ChannelBuffer: 4, SkipHidden: true, MaxDepth: 1},
			want:   []string{"/a", "/top.txt"},
		},
		{
			name:   "max depth 2",
			config: Config{NumWorkers: 2, ChannelBuffer: 4, SkipHidden: true, MaxDepth: 2},
			want:   []string{"/a", "/a/b.mov", "/a/c", "/top.txt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := paths(t, NewWalker(root, tt.config))
			if !equalStrings(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestScanAttributes(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	createTree(t, root, map[string]string{"a/b.mov": "12345"})
	if err := os.Symlink(filepath.Join(root, "a/b.mov"), filepath.Join(root, "link.mov")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	snapshot, err := NewWalker(root, Config{NumWorkers: 2}).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	byPath := map[string]int{}
	for i, a := range snapshot {
		byPath[a.Path] = i
	}

	file := snapshot[byPath["/a/b.mov"]]
	if file.Directory || file.Link || file.Special {
		t.Errorf("Expected plain file, got %+v", file)
	}
	if file.Length != 5 {
		t.Errorf("Expected length 5, got %d", file.Length)
	}
	if file.ParentPath != "/a" || file.Name != "b.mov" {
		t.Errorf("Expected parent /a and name b.mov, got %s and %s", file.ParentPath, file.Name)
	}
	if file.ModifiedAt.Nanosecond()%int(time.Millisecond) != 0 {
		t.Errorf("Expected millisecond precision, got %v", file.ModifiedAt)
	}

	dir := snapshot[byPath["/a"]]
	if !dir.Directory || dir.Length != 0 || dir.ParentPath != "/" {
		t.Errorf("Unexpected directory attrs %+v", dir)
	}

	link := snapshot[byPath["/link.mov"]]
	if !link.Link || link.Special {
		t.Errorf("Expected symlink flag only, got %+v", link)
	}
}

func TestScanEmptyStorage(t *testing.T) {
	t.Parallel()

	snapshot, err := NewWalker(t.TempDir(), DefaultConfig()).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(snapshot) != 0 {
		t.Errorf("Expected empty snapshot, got %d entries", len(snapshot))
	}
}

func TestScanMissingRoot(t *testing.T) {
	t.Parallel()

	_, err := NewWalker(filepath.Join(t.TempDir(), "missing"), DefaultConfig()).Scan(context.Background())
	if !errors.Is(err, ErrRootUnavailable) {
		t.Errorf("Expected ErrRootUnavailable, got %v", err)
	}
}

func TestScanCancelled(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	createTree(t, root, map[string]string{"a.txt": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewWalker(root, DefaultConfig()).Scan(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
