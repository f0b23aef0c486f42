package dirlock

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WaitForRelease blocks until the lock file under dataDir is removed or ctx
// is canceled. It lets a caller avoid pure polling when it expects a long
// wait (e.g. a CLI front-end showing "waiting for lock held by pid 1234");
// AcquireWithOptions itself still polls on the documented 100ms cadence,
// this is purely an optional wake-up hint layered on top.
func WaitForRelease(ctx context.Context, dataDir string) error {
	lockDir := filepath.Join(dataDir, lockSubdir)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(lockDir); err != nil {
		return err
	}

	lockPath := filepath.Join(lockDir, lockFileName)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name == lockPath && (ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
}
