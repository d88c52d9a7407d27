// Package watch turns fsnotify directory events into debounced reloads.
package watch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultQuietPeriod coalesces the burst of events a single edit produces.
const DefaultQuietPeriod = 5 * time.Second

type fileWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsWatcher struct{ *fsnotify.Watcher }

func (w fsWatcher) Events() <-chan fsnotify.Event { return w.Watcher.Events }
func (w fsWatcher) Errors() <-chan error          { return w.Watcher.Errors }

var newWatcher = func() (fileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return fsWatcher{w}, nil
}

// Debouncer schedules at most one reload at a time. The first event arms a
// timer for the quiet period; events arriving while it is armed are dropped.
// When the timer fires the flag is cleared and reload runs once.
type Debouncer struct {
	quiet   time.Duration
	reload  func()
	pending atomic.Bool
}

// NewDebouncer returns a Debouncer running reload after quiet.
func NewDebouncer(quiet time.Duration, reload func()) *Debouncer {
	return &Debouncer{quiet: quiet, reload: reload}
}

// Trigger notes a change. It reports whether a new reload was scheduled.
func (d *Debouncer) Trigger() bool {
	if !d.pending.CompareAndSwap(false, true) {
		return false
	}
	time.AfterFunc(d.quiet, func() {
		d.pending.Store(false)
		d.reload()
	})
	return true
}

// Pending reports whether a reload is scheduled.
func (d *Debouncer) Pending() bool { return d.pending.Load() }

// Dir watches dir until ctx is done, calling reload once per quiet period in
// which any change was seen. Reloads falling due after ctx is done are
// dropped. It returns once the watch is established so callers know events
// from now on are observed; the watch itself runs in a goroutine.
func Dir(ctx context.Context, dir string, quiet time.Duration, logger *slog.Logger, reload func()) error {
	w, err := newWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}
	d := NewDebouncer(quiet, func() {
		if ctx.Err() == nil {
			reload()
		}
	})
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events():
				if !ok {
					return
				}
				if d.Trigger() {
					logger.Debug("entering quiet period for file updates", "dir", dir, "event", ev.Op.String(), "file", ev.Name)
				}
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				logger.Error("watch error", "dir", dir, "error", err)
			}
		}
	}()
	return nil
}
