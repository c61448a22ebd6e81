package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lotas/tabgruppen/internal/applog"
)

// settleDelay coalesces the burst of events editors emit for one save.
const settleDelay = 200 * time.Millisecond

// WatchSettings reloads the settings file whenever it changes and sends
// each successfully parsed version on the returned channel. The directory
// is watched rather than the file so atomic rename-on-save is seen. The
// channel is closed when ctx is done.
func WatchSettings(ctx context.Context, path string) (<-chan Settings, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	out := make(chan Settings, 1)
	go func() {
		defer close(out)
		defer w.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(settleDelay)
				} else {
					timer.Reset(settleDelay)
				}
				fire = timer.C
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				applog.Warn("settings.watch", err)
			case <-fire:
				fire = nil
				s, err := LoadSettings(path)
				if err != nil {
					applog.Error("settings.reload", err, "path", path)
					continue
				}
				applog.Info("settings.reload", "path", path, "rules", len(s.Rules))
				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
