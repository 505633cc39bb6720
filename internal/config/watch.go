package config

import (
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/model"
)

// ReloadFunc receives the freshly loaded config and the delta from the
// previously loaded one.
type ReloadFunc func(cfg *model.Config, delta model.ConfigDelta)

// WatchFile watches path for changes and invokes onReload once activity
// settles, debounced by debounce. Returns a stop function.
func WatchFile(path string, loader *Loader, current *model.Config, debounce time.Duration, log logging.Logger, onReload ReloadFunc) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	prev := current
	var timer *time.Timer
	done := make(chan struct{})

	reload := func() {
		next, err := loader.Load(path)
		if err != nil {
			log.Warn("config reload failed, keeping previous config", logging.WithField("error", err))
			return
		}
		delta, err := Diff(prev, next)
		if err != nil {
			log.Warn("config diff failed", logging.WithField("error", err))
			return
		}
		prev = next
		if !delta.Empty() {
			onReload(next, delta)
		}
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, reload)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("config watch error", logging.WithField("error", err))
			case <-done:
				return
			}
		}
	}()

	stop := func() {
		close(done)
		w.Close()
	}
	return stop, nil
}
