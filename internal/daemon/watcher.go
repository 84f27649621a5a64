package daemon

import (
	"context"
	"errors"
	"fmt"

	"buildd/internal/logging"
	"buildd/internal/watcher"
)

// WatcherFunc runs a file watcher until ctx ends.
type WatcherFunc func(ctx context.Context) error

var errWatcherPanic = errors.New("watcher panicked")

// superviseWatcher runs the watcher apart from the command loop. A watcher
// that exits or panics is not restarted; the daemon keeps serving without
// live change detection.
func (d *Daemon) superviseWatcher(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if d.watcher == nil {
		d.setWatcher(false, "disabled")
		close(done)
		return done
	}
	d.setWatcher(true, "watching")

	go func() {
		defer close(done)
		err := runContained(ctx, d.watcher)
		if ctx.Err() != nil {
			d.setWatcher(false, "stopped")
			return
		}
		reason := watcherExitReason(err)
		detail := reason
		if err != nil {
			detail = err.Error()
		}
		d.setWatcher(false, detail)
		d.metrics.IncWatcherExit(reason)
		logging.WarnWithContext(d.logger, "file watcher stopped; continuing without change detection", "watcher_exited",
			logging.String("reason", reason),
			logging.Error(err),
			logging.String(logging.FieldImpact, "dispatches rebuild only on argument changes until the daemon restarts"),
			logging.String(logging.FieldErrorHint, "stop the daemon and start it again to restore change detection"))
	}()
	return done
}

func runContained(ctx context.Context, fn WatcherFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errWatcherPanic, r)
		}
	}()
	return fn(ctx)
}

func watcherExitReason(err error) string {
	switch {
	case err == nil:
		return "exited"
	case errors.Is(err, errWatcherPanic):
		return "panic"
	case errors.Is(err, watcher.ErrGaveUp):
		return "gave_up"
	case errors.Is(err, watcher.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func (d *Daemon) setWatcher(active bool, detail string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.watcherActive = active
	d.watcherDetail = detail
}
