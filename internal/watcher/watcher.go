// Package watcher provides file system watching with debouncing for
// hot-reloadable configuration: pattern rule sets and hook definitions.
package watcher

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tallr-dev/tallrd/internal/log"
)

// Watcher monitors a set of file paths and emits a debounced
// notification whenever any of them is created or written.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	paths     map[string]bool
	dirs      map[string]bool
	debounce  time.Duration
	onChange  chan struct{}
	done      chan struct{}
}

// Config holds watcher configuration options.
type Config struct {
	// Paths is the set of files to watch for changes. Each path's
	// parent directory is watched; events on other files in the
	// same directory are ignored.
	Paths       []string
	DebounceDur time.Duration
}

// DefaultConfig returns sensible defaults for watching the given paths.
func DefaultConfig(paths ...string) Config {
	return Config{
		Paths:       paths,
		DebounceDur: 250 * time.Millisecond,
	}
}

// New creates a new file watcher over cfg.Paths.
func New(cfg Config) (*Watcher, error) {
	log.Debug(log.CatPattern, "creating watcher", "paths", cfg.Paths, "debounce", cfg.DebounceDur)
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.ErrorErr(log.CatPattern, "failed to create fsnotify watcher", err)
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	paths := make(map[string]bool, len(cfg.Paths))
	dirs := make(map[string]bool)
	for _, p := range cfg.Paths {
		paths[filepath.Clean(p)] = true
		dirs[filepath.Dir(p)] = true
	}

	return &Watcher{
		fsWatcher: fsw,
		paths:     paths,
		dirs:      dirs,
		debounce:  cfg.DebounceDur,
		onChange:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching the configured directories.
// Returns a channel that receives a signal when a watched file changes.
func (w *Watcher) Start() (<-chan struct{}, error) {
	for dir := range w.dirs {
		if err := w.fsWatcher.Add(dir); err != nil {
			log.ErrorErr(log.CatPattern, "failed to watch directory", err, "dir", dir)
			return nil, fmt.Errorf("watching directory %s: %w", dir, err)
		}
	}

	log.Info(log.CatPattern, "started watching", "dirs", len(w.dirs))
	go w.loop()

	return w.onChange, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	log.Debug(log.CatPattern, "stopping watcher")
	close(w.done)
	return w.fsWatcher.Close()
}

// loop processes file system events with debouncing.
func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending bool
	)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			if !w.isRelevantEvent(event) {
				continue
			}

			log.Debug(log.CatPattern, "file event received", "file", event.Name, "op", event.Op.String())

			if timer == nil {
				timer = time.NewTimer(w.debounce)
				pending = true
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
				pending = true
			}

		case <-func() <-chan time.Time {
			if timer != nil {
				return timer.C
			}
			return nil
		}():
			if pending {
				log.Debug(log.CatPattern, "debounce complete, triggering reload")
				select {
				case w.onChange <- struct{}{}:
				default:
				}
				pending = false
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatPattern, "file watcher error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// isRelevantEvent checks if the event should trigger a reload.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return false
	}
	return w.paths[filepath.Clean(event.Name)]
}
