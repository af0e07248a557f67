// Package procwatch detects a game process exiting so a sync can run right
// after the player quits, when the save files are final and unlocked.
package procwatch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const defaultPollInterval = 15 * time.Second

// Watcher polls for a process by executable name and emits one event per
// running-to-gone transition.
type Watcher struct {
	name     string
	interval time.Duration
	events   chan struct{}

	// probe is swappable for tests
	probe func(ctx context.Context) bool
}

type Option func(*Watcher)

func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

func New(processName string, opts ...Option) *Watcher {
	w := &Watcher{
		name:     processName,
		interval: defaultPollInterval,
		events:   make(chan struct{}, 1),
	}
	w.probe = w.processRunning
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Events emits one value each time the watched process disappears.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Run polls until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	slog.Debug("watching game process", "name", w.name, "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	running := w.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := w.probe(ctx)
		if running && !now {
			slog.Info("game process exited", "name", w.name)
			select {
			case w.events <- struct{}{}:
			default:
			}
		}
		running = now
	}
}

func (w *Watcher) processRunning(ctx context.Context) bool {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		slog.Warn("failed to list processes", "error", err)
		return false
	}
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if strings.EqualFold(name, w.name) {
			return true
		}
	}
	return false
}
