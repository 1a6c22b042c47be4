package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads configuration when the local config.yaml changes.
// Reloads that fail validation are logged and discarded; the previous
// configuration stays in effect.
type Watcher struct {
	logger   *zap.Logger
	onReload func(*Config)
	watcher  *fsnotify.Watcher
}

// NewWatcher watches the local config file. onReload receives every
// successfully loaded and validated configuration.
func NewWatcher(logger *zap.Logger, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{logger: logger, onReload: onReload, watcher: fw}

	for _, dir := range []string{"./config", "."} {
		if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err == nil {
			if err := fw.Add(dir); err != nil {
				fw.Close()
				return nil, err
			}
			break
		}
	}
	return w, nil
}

// Run processes filesystem events until ctx is cancelled. Editors often
// emit bursts of writes, so events are debounced before reloading.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != "config.yaml" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(250*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		case <-reload:
			cfg, err := Load()
			if err != nil {
				w.logger.Warn("config reload rejected, keeping previous", zap.Error(err))
				continue
			}
			w.logger.Info("config reloaded")
			w.onReload(cfg)
		}
	}
}
