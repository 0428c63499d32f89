package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type WatchConfig struct {
	Roots       []string      // directories to watch, recursively
	InitialScan bool          // emit files already present before watching
	SkipHidden  bool          // ignore dot files and dot directories
	Debounce    time.Duration // coalesce create/write bursts per path, default 500ms
}

// Watcher emits paths of supported documents that appear under its roots.
// Each path is emitted once per quiet period so a file still being written
// is not picked up half way.
type Watcher struct {
	cfg    WatchConfig
	fsw    *fsnotify.Watcher
	logger *slog.Logger

	paths  chan string
	errs   chan error
	mu     sync.Mutex
	timers map[string]*time.Timer
	done   chan struct{}
}

// StartWatcher adds every directory under cfg.Roots and begins emitting on
// Paths until ctx is cancelled. Both channels are closed on exit.
func StartWatcher(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Roots) == 0 {
		return nil, errors.New("no roots provided")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		cfg:    cfg,
		fsw:    fsw,
		logger: logger,
		paths:  make(chan string, 256),
		errs:   make(chan error, 8),
		timers: map[string]*time.Timer{},
		done:   make(chan struct{}),
	}

	var initial []string
	for _, root := range cfg.Roots {
		found, err := w.addTree(root, cfg.InitialScan)
		if err != nil {
			_ = fsw.Close()
			return nil, err
		}
		initial = append(initial, found...)
	}
	logger.Info("ingest.watch.start", "roots", cfg.Roots, "existing", len(initial))

	go w.loop(ctx, initial)
	return w, nil
}

// Paths delivers discovered document paths.
func (w *Watcher) Paths() <-chan string { return w.paths }

// Errors delivers non-fatal watcher errors. It drops errors nobody reads.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Done is closed after the watcher has stopped and both channels are closed.
func (w *Watcher) Done() <-chan struct{} { return w.done }

// addTree registers root and its subdirectories. With collect set it also
// returns the supported files already present.
func (w *Watcher) addTree(root string, collect bool) ([]string, error) {
	var existing []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if w.cfg.SkipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		if collect && AllowedExt(filepath.Ext(path)) {
			existing = append(existing, path)
		}
		return nil
	})
	return existing, err
}

func (w *Watcher) loop(ctx context.Context, initial []string) {
	defer close(w.done)
	defer close(w.errs)
	defer close(w.paths)
	defer func() {
		w.mu.Lock()
		for p, t := range w.timers {
			t.Stop()
			delete(w.timers, p)
		}
		w.mu.Unlock()
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("ingest.watch.close_failed", "error", err)
		}
	}()

	for _, p := range initial {
		select {
		case w.paths <- p:
		case <-ctx.Done():
			return
		}
	}

	ready := make(chan string, 64)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("ingest.watch.stop")
			return
		case p := <-ready:
			select {
			case w.paths <- p:
			case <-ctx.Done():
				return
			}
		case e, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, e, ready)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("ingest.watch.error", "error", err)
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

func (w *Watcher) handle(ctx context.Context, e fsnotify.Event, ready chan<- string) {
	if w.cfg.SkipHidden && IsHidden(e.Name) {
		return
	}
	if !e.Has(fsnotify.Create) && !e.Has(fsnotify.Write) {
		return
	}

	if e.Has(fsnotify.Create) {
		if info, err := os.Stat(e.Name); err == nil && info.IsDir() {
			// files can land in a new directory before it is watched
			found, err := w.addTree(e.Name, true)
			if err != nil {
				w.logger.Warn("ingest.watch.add_dir_failed", "path", e.Name, "error", err)
			}
			for _, p := range found {
				w.schedule(ctx, p, ready)
			}
			return
		}
	}
	if AllowedExt(filepath.Ext(e.Name)) {
		w.schedule(ctx, e.Name, ready)
	}
}

// schedule (re)arms the quiet-period timer for path.
func (w *Watcher) schedule(ctx context.Context, path string, ready chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Reset(w.cfg.Debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.deliver(ctx, path, ready)
	})
}

// deliver hands path to the loop. It gives up once the loop has stopped,
// whether through ctx or closed fsnotify channels.
func (w *Watcher) deliver(ctx context.Context, path string, ready chan<- string) bool {
	select {
	case ready <- path:
		return true
	case <-ctx.Done():
	case <-w.done:
	}
	return false
}
