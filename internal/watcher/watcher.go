// Package watcher reloads configuration files when they change on disk.
package watcher

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const debounceInterval = 500 * time.Millisecond

// ReloadFunc is called with the file path after the file settled.
type ReloadFunc func(path string) error

// Watcher monitors individual files for changes.
type Watcher struct {
	mu       sync.Mutex
	watchers map[string]*fileWatcher // absolute path → watcher
	debounce time.Duration
	logger   zerolog.Logger
}

type fileWatcher struct {
	path      string
	fsWatcher *fsnotify.Watcher
	reload    ReloadFunc
	cancel    chan struct{}
	stopped   chan struct{}
}

// New creates a new file watcher.
func New(logger zerolog.Logger) *Watcher {
	return &Watcher{
		watchers: make(map[string]*fileWatcher),
		debounce: debounceInterval,
		logger:   logger.With().Str("component", "watcher").Logger(),
	}
}

// Watch calls reload whenever the file at path is written, created or
// replaced. The parent directory is watched so editors that save by rename
// are noticed too. Watching a path again replaces the previous callback.
func (w *Watcher) Watch(path string, reload ReloadFunc) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsW.Add(filepath.Dir(abs)); err != nil {
		fsW.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	fw := &fileWatcher{
		path:      abs,
		fsWatcher: fsW,
		reload:    reload,
		cancel:    make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	w.Unwatch(abs)
	w.mu.Lock()
	w.watchers[abs] = fw
	w.mu.Unlock()

	go w.watchLoop(fw)
	w.logger.Info().Str("path", abs).Msg("watching file")
	return nil
}

// Unwatch stops watching a file. Unknown paths are ignored.
func (w *Watcher) Unwatch(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	fw, ok := w.watchers[abs]
	if ok {
		delete(w.watchers, abs)
	}
	w.mu.Unlock()

	if ok {
		close(fw.cancel)
		fw.fsWatcher.Close()
		<-fw.stopped
	}
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop(fw *fileWatcher) {
	defer close(fw.stopped)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-fw.cancel:
			return

		case event, ok := <-fw.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				w.fire(fw)
			})

		case err, ok := <-fw.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Str("path", fw.path).Msg("watcher error")
		}
	}
}

func (w *Watcher) fire(fw *fileWatcher) {
	select {
	case <-fw.cancel:
		return
	default:
	}
	if err := fw.reload(fw.path); err != nil {
		w.logger.Error().Err(err).Str("path", fw.path).Msg("reload failed, keeping previous contents")
		return
	}
	w.logger.Info().Str("path", fw.path).Msg("file reloaded")
}

// Shutdown stops all watchers.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.watchers))
	for p := range w.watchers {
		paths = append(paths, p)
	}
	w.mu.Unlock()

	for _, p := range paths {
		w.Unwatch(p)
	}
}
