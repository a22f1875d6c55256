// Package watch provides a filesystem watcher that's used to pick up changes to the
// linter defaults file without restarting the server.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/op/go-logging.v1"
)

var log = logging.MustGetLogger("watch")

const debounceInterval = 50 * time.Millisecond

// Watch starts watching the given file and calls onChange whenever it changes.
// It watches the file's directory rather than the file itself, so it keeps working when
// editors replace the file by renaming over it, and the file needn't exist yet.
// Events are debounced so a burst of writes results in one call.
// The watcher runs until ctx is done.
func Watch(ctx context.Context, filename string, onChange func()) error {
	filename, err := filepath.Abs(filename)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error setting up watcher: %w", err)
	}
	dir := filepath.Dir(filename)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to add watch on %s: %w", dir, err)
	}
	log.Notice("Watching %s for changes", filename)
	go watch(ctx, watcher, filename, onChange)
	return nil
}

func watch(ctx context.Context, watcher *fsnotify.Watcher, filename string, onChange func()) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filename {
				continue
			}
			log.Info("Event: %s", event)
			// Quick debounce; poll and discard all events for the next brief period.
		outer:
			for {
				select {
				case <-watcher.Events:
				case <-time.After(debounceInterval):
					break outer
				}
			}
			onChange()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Error("Error watching files: %s", err)
		}
	}
}
