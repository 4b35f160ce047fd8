package breadcrumb

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 100 * time.Millisecond

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Scan configures the re-scan performed after each batch of changes.
	Scan ScanConfig
	// DebounceDelay is the quiet period after the last change before a re-scan.
	DebounceDelay time.Duration
	Logger        *slog.Logger
}

// Watcher keeps a Graph current by re-scanning the repository whenever selected files
// change. Each re-scan replaces the graph wholesale.
type Watcher struct {
	config  WatcherConfig
	scanner *Scanner
	fsw     *fsnotify.Watcher
	logger  *slog.Logger

	current atomic.Pointer[Graph]
	updates chan *Graph
}

// NewWatcher creates a watcher. Nothing is scanned until Start.
func NewWatcher(config WatcherConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.DebounceDelay <= 0 {
		config.DebounceDelay = defaultDebounce
	}
	if config.Scan.Logger == nil {
		config.Scan.Logger = config.Logger
	}

	w := &Watcher{
		config:  config,
		scanner: NewScanner(config.Scan),
		fsw:     fsw,
		logger:  config.Logger,
		updates: make(chan *Graph, 1),
	}
	w.current.Store(NewGraph())
	return w, nil
}

// Current returns the most recently scanned graph.
func (w *Watcher) Current() *Graph {
	return w.current.Load()
}

// Updates delivers each new graph. Only the latest unread graph is kept.
func (w *Watcher) Updates() <-chan *Graph {
	return w.updates
}

// Start scans once, then re-scans in the background until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.rescan(ctx); err != nil {
		return err
	}
	if err := w.watchTree(w.config.Scan.Root); err != nil {
		return err
	}
	go w.loop(ctx)

	w.logger.Info("Watching breadcrumbs", "root", w.config.Scan.Root, "debounce", w.config.DebounceDelay)
	return nil
}

// Stop closes the underlying file watcher, which ends the background loop.
func (w *Watcher) Stop() error {
	return w.fsw.Close()
}

func (w *Watcher) rescan(ctx context.Context) error {
	g, err := w.scanner.Scan(ctx)
	if err != nil {
		return err
	}
	w.current.Store(g)

	select {
	case <-w.updates:
	default:
	}
	select {
	case w.updates <- g:
	default:
	}
	return nil
}

// watchTree registers dir and every non-excluded directory below it.
func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.prune(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("Cannot watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// prune reports whether a directory below the root is hidden or excluded.
func (w *Watcher) prune(path string) bool {
	rel, err := filepath.Rel(w.config.Scan.Root, path)
	if err != nil || rel == "." {
		return false
	}
	return strings.HasPrefix(filepath.Base(path), ".") || w.scanner.excludedDir(filepath.ToSlash(rel))
}

// loop collects relevant changes and re-scans once they have been quiet for the debounce
// delay.
func (w *Watcher) loop(ctx context.Context) {
	timer := time.NewTimer(w.config.DebounceDelay)
	timer.Stop()
	defer timer.Stop()
	changed := 0

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.relevant(ev) {
				changed++
				timer.Reset(w.config.DebounceDelay)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", "error", err)
		case <-timer.C:
			if err := w.rescan(ctx); err != nil {
				if ctx.Err() == nil {
					w.logger.Error("Breadcrumb re-scan failed", "error", err)
				}
				continue
			}
			w.logger.Info("Breadcrumb graph refreshed", "changes", changed, "breadcrumbs", w.Current().Len())
			changed = 0
		}
	}
}

// relevant reports whether ev touches a selected file or adds a directory. New
// directories are watched, and count as a change since files may land in them before the
// watch is in place.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if w.prune(ev.Name) {
				return false
			}
			if err := w.watchTree(ev.Name); err != nil {
				w.logger.Warn("Cannot watch new directory", "path", ev.Name, "error", err)
			}
			return true
		}
	}
	rel, err := filepath.Rel(w.config.Scan.Root, ev.Name)
	if err != nil || !w.scanner.Matches(filepath.ToSlash(rel)) {
		return false
	}
	w.logger.Debug("Breadcrumb file changed", "path", rel, "op", ev.Op.String())
	return true
}
