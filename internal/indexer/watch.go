package indexer

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"asset-indexer/internal/logging"
	"asset-indexer/internal/metrics"

	"github.com/fsnotify/fsnotify"
)

// startWatcher subscribes to filesystem events below a storage root. Events
// only bring the next scan forward; the scan itself decides what changed.
func (idx *Indexer) startWatcher(st *storageState) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Error("Failed to create file watcher for %s/%s: %v", st.target.Realm, st.target.Storage, err)
		metrics.WatcherEventsTotal.WithLabelValues("error").Inc()
		return
	}

	count := addDirectoriesToWatcher(watcher, st)
	st.mu.Lock()
	st.watched = count
	st.mu.Unlock()
	logging.Debug("Watching %d directories of %s/%s", count, st.target.Realm, st.target.Storage)

	idx.wg.Add(1)
	go func() {
		defer idx.wg.Done()
		defer func() {
			if err := watcher.Close(); err != nil {
				logging.Error("failed to close file watcher: %v", err)
			}
		}()
		idx.processWatcherEvents(watcher, st)
	}()
}

// addDirectoriesToWatcher adds the directories of a storage to the watcher,
// honouring its depth and hidden-file settings.
func addDirectoriesToWatcher(watcher *fsnotify.Watcher, st *storageState) int {
	root := st.target.Root
	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && !st.target.IncludeHidden && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if depth := relDepth(root, path); st.target.MaxDepth > 0 && depth >= st.target.MaxDepth {
			return filepath.SkipDir
		}
		if addErr := watcher.Add(path); addErr != nil {
			logging.Warn("failed to add path to watcher %s: %v", path, addErr)
			metrics.WatcherEventsTotal.WithLabelValues("error").Inc()
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		logging.Warn("failed to walk %s for watcher: %v", root, err)
	}
	return count
}

func relDepth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(filepath.ToSlash(rel), "/") + 1
}

func (idx *Indexer) processWatcherEvents(watcher *fsnotify.Watcher, st *storageState) {
	for {
		select {
		case <-idx.ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			idx.handleWatcherEvent(watcher, st, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Watcher error on %s/%s: %v", st.target.Realm, st.target.Storage, err)
			metrics.WatcherEventsTotal.WithLabelValues("error").Inc()
		}
	}
}

func (idx *Indexer) handleWatcherEvent(watcher *fsnotify.Watcher, st *storageState, event fsnotify.Event) {
	if !st.target.IncludeHidden && strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}
	metrics.WatcherEventsTotal.WithLabelValues(eventType(event.Op)).Inc()

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if depth := relDepth(st.target.Root, event.Name); st.target.MaxDepth == 0 || depth < st.target.MaxDepth {
				if err := watcher.Add(event.Name); err != nil {
					logging.Warn("failed to add new directory to watcher %s: %v", event.Name, err)
				} else {
					st.mu.Lock()
					st.watched++
					st.mu.Unlock()
				}
			}
		}
	}
	if event.Op&fsnotify.Chmod == event.Op {
		return
	}

	logging.Trace("Filesystem event %s on %s, scan of %s/%s requested", event.Op, event.Name, st.target.Realm, st.target.Storage)
	idx.nudge(st, idx.opts.WatchSettle)
}

func eventType(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "create"
	case op&fsnotify.Write != 0:
		return "write"
	case op&fsnotify.Remove != 0:
		return "remove"
	case op&fsnotify.Rename != 0:
		return "rename"
	case op&fsnotify.Chmod != 0:
		return "chmod"
	default:
		return "unknown"
	}
}
