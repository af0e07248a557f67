package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rjeczalik/notify"
)

// watchDebounce holds back events while the game is still flushing a save
// to disk. Saves are written as bursts of small files; syncing mid-burst
// would snapshot a half-written save.
const watchDebounce = 2 * time.Second

// SaveWatcher converts filesystem events under the save directory into
// debounced sync triggers.
type SaveWatcher struct {
	dir      string
	debounce time.Duration
	events   chan struct{}
}

func NewSaveWatcher(dir string) *SaveWatcher {
	return &SaveWatcher{
		dir:      dir,
		debounce: watchDebounce,
		events:   make(chan struct{}, 1),
	}
}

// Events emits one value per settled burst of filesystem activity.
func (w *SaveWatcher) Events() <-chan struct{} {
	return w.events
}

// Run watches recursively until the context is cancelled.
func (w *SaveWatcher) Run(ctx context.Context) error {
	raw := make(chan notify.EventInfo, 16)
	if err := notify.Watch(w.dir+"/...", raw, notify.Create, notify.Write, notify.Remove, notify.Rename); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	defer notify.Stop(raw)

	slog.Debug("watching save directory", "dir", w.dir)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	pending := false
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-raw:
			slog.Debug("save directory changed", "path", ev.Path(), "event", ev.Event())
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
			pending = true

		case <-timer.C:
			pending = false
			select {
			case w.events <- struct{}{}:
			default:
			}
		}
	}
}
