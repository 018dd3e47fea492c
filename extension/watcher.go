package extension

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
)

// ErrWatcherRunning is returned when Start is called twice.
var ErrWatcherRunning = errors.New("manifest watcher already running")

// Logger is the structured logger the watcher reports through.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the watcher's logger.
func WithLogger(l Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithRescanSchedule re-syncs the whole directory on a cron schedule
// (for example "@every 30s") in addition to reacting to file events.
func WithRescanSchedule(spec string) WatcherOption {
	return func(w *Watcher) { w.schedule = spec }
}

// Watcher keeps the extensions declared by the manifests in one directory in
// sync with a Registry.
type Watcher struct {
	dir      string
	registry *Registry
	logger   Logger
	schedule string

	// opMu serializes manifest loads between the fs loop and rescans.
	opMu   sync.Mutex
	mu     sync.Mutex
	loaded map[string]*loadedManifest

	runMu   sync.Mutex
	fsw     *fsnotify.Watcher
	cron    *cron.Cron
	cancel  context.CancelFunc
	stopped chan struct{}
}

type loadedManifest struct {
	modTime    time.Time
	size       int64
	extensions []*Extension
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, registry *Registry, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:      dir,
		registry: registry,
		logger:   nopLogger{},
		loaded:   make(map[string]*loadedManifest),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Sync loads new or changed manifests and withdraws the extensions of
// manifests that disappeared. Errors from individual manifests are joined.
func (w *Watcher) Sync() error {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read extension dir: %w", err)
	}

	seen := make(map[string]bool)
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !IsManifestFile(entry.Name()) {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		seen[path] = true
		if err := w.load(path); err != nil {
			errs = append(errs, err)
		}
	}

	w.mu.Lock()
	var gone []string
	for path := range w.loaded {
		if !seen[path] {
			gone = append(gone, path)
		}
	}
	w.mu.Unlock()
	sort.Strings(gone)
	for _, path := range gone {
		w.unload(path)
	}
	return errors.Join(errs...)
}

// Loaded returns the manifest paths currently contributing extensions.
func (w *Watcher) Loaded() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.loaded))
	for p := range w.loaded {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) load(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat manifest: %w", err)
	}

	w.mu.Lock()
	prev, ok := w.loaded[path]
	w.mu.Unlock()
	if ok && prev.modTime.Equal(info.ModTime()) && prev.size == info.Size() {
		return nil
	}

	m, err := LoadManifest(path)
	if err != nil {
		return err
	}
	exts, err := m.Build()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	w.unload(path)

	var added []*Extension
	var errs []error
	for _, ext := range exts {
		if err := w.registry.AddExtension(ext); err != nil {
			errs = append(errs, err)
			continue
		}
		added = append(added, ext)
	}

	w.mu.Lock()
	w.loaded[path] = &loadedManifest{modTime: info.ModTime(), size: info.Size(), extensions: added}
	w.mu.Unlock()

	w.logger.Info("Loaded plugin manifest", "path", path, "plugin", m.Plugin, "extensions", len(added))
	return errors.Join(errs...)
}

func (w *Watcher) unload(path string) {
	w.mu.Lock()
	prev, ok := w.loaded[path]
	delete(w.loaded, path)
	w.mu.Unlock()
	if !ok {
		return
	}
	for _, ext := range prev.extensions {
		w.registry.RemoveExtension(ext.PointID, ext.UniqueID)
	}
	w.logger.Info("Unloaded plugin manifest", "path", path, "extensions", len(prev.extensions))
}

// Start performs an initial Sync and then follows the directory until ctx is
// done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	if w.fsw != nil {
		return ErrWatcherRunning
	}

	if err := w.Sync(); err != nil {
		w.logger.Warn("Initial manifest sync reported errors", "dir", w.dir, "error", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	if w.schedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(w.schedule, w.rescan); err != nil {
			_ = fsw.Close()
			return fmt.Errorf("rescan schedule %q: %w", w.schedule, err)
		}
		c.Start()
		w.cron = c
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.fsw = fsw
	w.cancel = cancel
	w.stopped = make(chan struct{})
	go w.loop(runCtx, fsw, w.stopped)
	return nil
}

// Stop ends watching. Extensions already loaded stay registered.
func (w *Watcher) Stop() error {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	if w.fsw == nil {
		return nil
	}
	if w.cron != nil {
		<-w.cron.Stop().Done()
		w.cron = nil
	}
	w.cancel()
	err := w.fsw.Close()
	<-w.stopped
	w.fsw = nil
	return err
}

func (w *Watcher) rescan() {
	if err := w.Sync(); err != nil {
		w.logger.Warn("Scheduled manifest rescan reported errors", "dir", w.dir, "error", err)
	}
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, stopped chan struct{}) {
	defer close(stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("Manifest watcher error", "dir", w.dir, "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !IsManifestFile(ev.Name) {
		return
	}
	w.opMu.Lock()
	defer w.opMu.Unlock()
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.unload(ev.Name)
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if err := w.load(ev.Name); err != nil {
			w.logger.Warn("Failed to load plugin manifest", "path", ev.Name, "error", err)
		}
	}
}
