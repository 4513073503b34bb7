package store

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/luminet/dimmerd/core/logger"
)

// Kicker requests an immediate poll, implemented by store.Poller.
type Kicker interface {
	Kick()
}

// debounce holds change bursts together; SQLite touches the file several
// times per transaction.
const debounce = 500 * time.Millisecond

// Watch kicks the poller whenever the database file changes, so edits land
// faster than the poll interval. It blocks until ctx is canceled. The watch
// is best effort: the periodic poll still catches anything missed.
func Watch(ctx context.Context, path string, k Kicker, log logger.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory, not the file: SQLite's journal swaps replace the
	// inode and a file watch would go stale.
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return err
	}
	base := filepath.Base(path)

	var timer *time.Timer
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), base) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			log.Debugf("database changed, polling")
			k.Kick()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warnf("database watch error: %v", err)
		}
	}
}
