package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"asset-indexer/internal/catalogue"
	"asset-indexer/internal/filesystem"
	"asset-indexer/internal/logging"
)

// Config configures the parallel directory walker
type Config struct {
	// NumWorkers is the number of parallel workers
	NumWorkers int
	// ChannelBuffer is the size of the work channel buffer
	ChannelBuffer int
	// SkipHidden skips files and directories starting with "."
	SkipHidden bool
	// MaxDepth limits recursion below the root (0 = unlimited)
	MaxDepth int
}

// DefaultConfig returns sensible defaults based on available resources
func DefaultConfig() Config {
	// Default to 3 workers - safe for NFS and still performant for local filesystems
	// Users can override with INDEX_WORKERS environment variable if needed
	numWorkers := 3
	if override := os.Getenv("INDEX_WORKERS"); override != "" {
		if count, err := strconv.Atoi(override); err == nil && count > 0 {
			numWorkers = count
		}
	}

	return Config{
		NumWorkers:    numWorkers,
		ChannelBuffer: 1000,
		SkipHidden:    true,
	}
}

// ErrRootUnavailable is returned when the storage root cannot be read.
var ErrRootUnavailable = errors.New("storage root unavailable")

type entryJob struct {
	absPath string
	relPath string
}

type entryResult struct {
	attrs catalogue.RawAttrs
	err   error
}

// Walker produces a snapshot of every entry below one storage root.
type Walker struct {
	config Config
	root   string

	entries atomic.Int64
	folders atomic.Int64
	errors  atomic.Int64
}

// NewWalker creates a walker for the storage rooted at root.
func NewWalker(root string, config Config) *Walker {
	if config.NumWorkers < 1 {
		config.NumWorkers = 1
	}
	if config.ChannelBuffer < 1 {
		config.ChannelBuffer = 1
	}
	return &Walker{config: config, root: root}
}

// Scan walks the storage and returns the raw attributes of every entry
// except the root itself. Unreadable entries are logged and skipped; an
// unreadable root fails the whole scan.
func (w *Walker) Scan(ctx context.Context) ([]catalogue.RawAttrs, error) {
	info, err := filesystem.StatWithRetry(w.root, filesystem.DefaultRetryConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRootUnavailable, w.root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRootUnavailable, w.root)
	}

	w.entries.Store(0)
	w.folders.Store(0)
	w.errors.Store(0)

	logging.Debug("Scanning %s with %d workers", w.root, w.config.NumWorkers)
	startTime := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan entryJob, w.config.ChannelBuffer)
	results := make(chan entryResult, w.config.ChannelBuffer)

	var wg sync.WaitGroup
	for i := 0; i < w.config.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.worker(ctx, jobs, results)
		}()
	}

	var snapshot []catalogue.RawAttrs
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for r := range results {
			if r.err != nil {
				w.errors.Add(1)
				logging.Debug("Error reading entry: %v", r.err)
				continue
			}
			snapshot = append(snapshot, r.attrs)
		}
	}()

	walkErr := w.walkAndEnqueue(ctx, jobs)
	close(jobs)
	wg.Wait()
	close(results)
	<-collected

	logging.Debug("Scan of %s complete: %d entries, %d folders in %v (errors: %d)",
		w.root, w.entries.Load(), w.folders.Load(), time.Since(startTime), w.errors.Load())

	if walkErr != nil {
		return nil, walkErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Stats returns the counters of the last scan.
func (w *Walker) Stats() (entries, folders, errs int64) {
	return w.entries.Load(), w.folders.Load(), w.errors.Load()
}

func (w *Walker) walkAndEnqueue(ctx context.Context, jobs chan<- entryJob) error {
	return filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return fs.SkipAll
		default:
		}

		if err != nil {
			logging.Warn("Error accessing path %s: %v", p, err)
			w.errors.Add(1)
			return nil
		}

		relPath, err := filepath.Rel(w.root, p)
		if err != nil || relPath == "." {
			//nolint:nilerr // skip this entry but keep walking
			return nil
		}

		if w.config.SkipHidden && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		depth := strings.Count(filepath.ToSlash(relPath), "/") + 1
		if w.config.MaxDepth > 0 && depth > w.config.MaxDepth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		select {
		case jobs <- entryJob{absPath: p, relPath: relPath}:
		case <-ctx.Done():
			return fs.SkipAll
		}

		if d.IsDir() && w.config.MaxDepth > 0 && depth == w.config.MaxDepth {
			return filepath.SkipDir
		}
		return nil
	})
}

func (w *Walker) worker(ctx context.Context, jobs <-chan entryJob, results chan<- entryResult) {
	for job := range jobs {
		if ctx.Err() != nil {
			return
		}

		result := w.processEntry(job)
		if result.err == nil {
			w.entries.Add(1)
			if result.attrs.Directory {
				w.folders.Add(1)
			}
		}

		select {
		case results <- result:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Walker) processEntry(job entryJob) entryResult {
	info, err := filesystem.LstatWithRetry(job.absPath, filesystem.DefaultRetryConfig())
	if err != nil {
		return entryResult{err: err}
	}
	return entryResult{attrs: ToRawAttrs(job.relPath, info)}
}

// ToRawAttrs converts a file info found at the OS-relative path relPath into
// a storage-relative entry. Modification times are truncated to milliseconds,
// the precision the catalogue keeps.
func ToRawAttrs(relPath string, info fs.FileInfo) catalogue.RawAttrs {
	p := "/" + strings.TrimPrefix(filepath.ToSlash(relPath), "/")
	mode := info.Mode()
	name := info.Name()

	attrs := catalogue.RawAttrs{
		Path:       p,
		ParentPath: path.Dir(p),
		Name:       name,
		Directory:  mode.IsDir(),
		Hidden:     strings.HasPrefix(name, "."),
		Link:       mode&fs.ModeSymlink != 0,
		ModifiedAt: info.ModTime().Truncate(time.Millisecond),
	}
	attrs.Special = !attrs.Directory && !attrs.Link && !mode.IsRegular()
	if !attrs.Directory {
		attrs.Length = info.Size()
	}
	return attrs
}
