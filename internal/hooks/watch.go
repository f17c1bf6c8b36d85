package hooks

import (
	"github.com/tallr-dev/tallrd/internal/log"
	"github.com/tallr-dev/tallrd/internal/watcher"
)

// WatchAndReinstall watches path (Claude's settings.json) and re-runs
// Install whenever it changes externally, so an edit made by Claude itself
// (or the user, via `claude config`) never silently drops Tallr's entries.
// It returns the underlying Watcher so the caller can Stop it at shutdown.
func WatchAndReinstall(path, gateway, token string) (*watcher.Watcher, error) {
	w, err := watcher.New(watcher.DefaultConfig(path))
	if err != nil {
		return nil, err
	}

	changes, err := w.Start()
	if err != nil {
		return nil, err
	}

	go func() {
		for range changes {
			if err := Install(path, gateway, token); err != nil {
				log.Warn(log.CatHook, "failed to reassert hooks after external edit", "error", err)
			}
		}
	}()

	return w, nil
}
