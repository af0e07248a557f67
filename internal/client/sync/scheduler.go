package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// cycleRunner is the slice of the engine the scheduler drives.
type cycleRunner interface {
	RunCycle(ctx context.Context) (*CycleResult, error)
}

// Scheduler serializes trigger sources (startup, interval timer, filesystem
// watcher, process exit) into single sync cycles. Triggers that arrive while
// a cycle is running coalesce into at most one pending cycle.
type Scheduler struct {
	runner   cycleRunner
	interval time.Duration
	profile  string

	// cap 1: a pending trigger absorbs all later ones
	triggers chan string
}

func NewScheduler(runner cycleRunner, profile string, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		profile:  profile,
		triggers: make(chan string, 1),
	}
}

// Trigger requests a cycle. Never blocks; a trigger arriving while one is
// already pending is dropped, which is exactly the coalescing we want.
func (s *Scheduler) Trigger(reason string) {
	select {
	case s.triggers <- reason:
	default:
		slog.Debug("sync trigger coalesced", "profile", s.profile, "reason", reason)
	}
}

// Run drives cycles until the context is cancelled. It fires one startup
// cycle immediately, then one per trigger, with the interval timer as a
// fallback when no external trigger arrives.
func (s *Scheduler) Run(ctx context.Context) {
	s.Trigger("startup")

	// a timer, not a ticker: the countdown restarts after every cycle so
	// an externally triggered cycle pushes the periodic one out
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case reason := <-s.triggers:
			s.runOnce(ctx, reason)

		case <-timer.C:
			s.runOnce(ctx, "interval")
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.interval)
	}
}

// Forward pumps an event channel (watcher, process watcher) into triggers
// until the context is cancelled.
func (s *Scheduler) Forward(ctx context.Context, events <-chan struct{}, reason string) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			s.Trigger(reason)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, reason string) {
	slog.Debug("running sync cycle", "profile", s.profile, "reason", reason)

	if _, err := s.runner.RunCycle(ctx); err != nil {
		if errors.Is(err, ErrCycleRunning) {
			// re-queue after a pause: the in-flight cycle may not have
			// seen the state this trigger is reporting, and the holder
			// may be another process so spinning would get us nowhere
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
				s.Trigger(reason)
			}
			return
		}
		// RunCycle already logged the failure; the next trigger retries
	}
}
