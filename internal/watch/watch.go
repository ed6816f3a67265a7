// Package watch re-runs an action when a source file changes on disk.
//
// The parent directory is watched rather than the file itself so editors that
// save by writing a temp file and renaming it over the original are seen.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is applied when Options.Debounce is zero.
const DefaultDebounce = 250 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period after the last event before the action
	// runs. Negative disables debouncing.
	Debounce time.Duration
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.Debounce == 0 {
		o.Debounce = DefaultDebounce
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher watches a single file.
type Watcher struct {
	path string
	opts Options

	events atomic.Int64
	runs   atomic.Int64
	errors atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Events int64 `json:"events"`
	Runs   int64 `json:"runs"`
	Errors int64 `json:"errors"`
}

// New creates a Watcher for path. Call Run to start the loop.
func New(path string, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	opts.defaults()
	return &Watcher{path: abs, opts: opts}, nil
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	return Stats{Events: w.events.Load(), Runs: w.runs.Load(), Errors: w.errors.Load()}
}

// Run blocks until ctx is cancelled. Each write, create or rename of the
// watched file, once the debounce window passes without further events,
// calls action. Action errors are logged and counted; the loop continues.
func (w *Watcher) Run(ctx context.Context, action func(context.Context) error) error {
	log := w.opts.Logger
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	log.Info("watch: started", "path", w.path, "debounce", w.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			log.Info("watch: stopped", "path", w.path)
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.events.Add(1)
			if w.opts.Debounce < 0 {
				w.fire(ctx, action)
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(w.opts.Debounce)
			debounceCh = debounceTimer.C
			log.Debug("watch: change detected, debouncing", "op", event.Op.String())

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.errors.Add(1)
			log.Warn("watch: watcher error", "error", err)

		case <-debounceCh:
			debounceCh = nil
			w.fire(ctx, action)
		}
	}
}

func (w *Watcher) fire(ctx context.Context, action func(context.Context) error) {
	start := time.Now()
	if err := action(ctx); err != nil {
		w.errors.Add(1)
		w.opts.Logger.Error("watch: action failed", "path", w.path, "error", err)
		return
	}
	w.runs.Add(1)
	w.opts.Logger.Info("watch: action complete", "path", w.path, "duration", time.Since(start))
}

// Run watches path until ctx is cancelled, calling action after each
// debounced change.
func Run(ctx context.Context, path string, debounce time.Duration, action func(context.Context) error) error {
	w, err := New(path, Options{Debounce: debounce})
	if err != nil {
		return err
	}
	return w.Run(ctx, action)
}
