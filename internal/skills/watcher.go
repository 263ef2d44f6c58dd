package skills

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 150 * time.Millisecond

// Watch reloads the catalog whenever a definition file under its directory
// changes. Events are debounced so an editor save burst triggers one reload.
// Blocks until ctx is cancelled.
func (c *Catalog) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	if err := fsw.Add(c.dir); err != nil {
		return fmt.Errorf("watch %s: %w", c.dir, err)
	}

	c.logger.Info("watching skill definitions", "dir", c.dir)

	var pending bool
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			ext := filepath.Ext(ev.Name)
			if ext != ".yaml" && ext != ".yml" {
				continue
			}

			pending = true
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(reloadDebounce)
				timerC = timer.C
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("skills watcher error", "error", err)

		case <-timerC:
			timerC = nil
			if !pending {
				continue
			}
			pending = false
			if err := c.Load(); err != nil {
				c.logger.Error("skill catalog reload failed", "error", err)
			}
		}
	}
}
