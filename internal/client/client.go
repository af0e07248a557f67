// Package client runs the background sync daemon: one engine, scheduler and
// set of trigger sources per configured profile, plus the local status API.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/opensaves/savesync/internal/backend"
	"github.com/opensaves/savesync/internal/client/config"
	"github.com/opensaves/savesync/internal/client/procwatch"
	"github.com/opensaves/savesync/internal/client/sync"
	"github.com/opensaves/savesync/internal/statusd"
	"github.com/opensaves/savesync/internal/utils"
)

var ErrAlreadyRunning = errors.New("another savesync daemon is already running")

// profileRuntime bundles everything that runs for one profile.
type profileRuntime struct {
	profile *config.Profile
	engine  *sync.Engine
	sched   *sync.Scheduler
	watcher *sync.SaveWatcher
	proc    *procwatch.Watcher
}

type Daemon struct {
	cfg      *config.Config
	lock     *flock.Flock
	journal  *sync.CycleJournal
	statusd  *statusd.Server
	runtimes []*profileRuntime
}

// NewDaemon wires engines for every configured profile. Conflicts in daemon
// mode are never auto-resolved: the decider declines, logs, and leaves the
// divergence for an interactive `savesync sync` run.
func NewDaemon(ctx context.Context, cfg *config.Config, apiAddr string) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Profiles) == 0 {
		return nil, errors.New("no profiles configured, run `savesync profile add` first")
	}
	if err := utils.EnsureDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}

	journal := sync.NewCycleJournal(cfg.JournalPath())

	d := &Daemon{
		cfg:     cfg,
		lock:    flock.New(cfg.LockPath()),
		journal: journal,
	}
	d.statusd = statusd.NewServer(apiAddr, d)

	for _, p := range cfg.Profiles {
		engine, err := NewProfileEngine(ctx, cfg, p, deferToInteractive(p.Name), journal)
		if err != nil {
			return nil, err
		}

		localRoot, err := utils.ResolvePath(p.LocalRoot)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", p.Name, err)
		}

		rt := &profileRuntime{
			profile: p,
			engine:  engine,
			sched:   sync.NewScheduler(engine, p.Name, cfg.Interval()),
			watcher: sync.NewSaveWatcher(localRoot),
		}
		if p.GameProcess != "" {
			rt.proc = procwatch.New(p.GameProcess)
		}
		d.runtimes = append(d.runtimes, rt)
	}

	return d, nil
}

// NewProfileEngine builds an engine for one profile with the configured
// transfer backend. Shared by the daemon and the one-shot sync command.
func NewProfileEngine(ctx context.Context, cfg *config.Config, p *config.Profile, decider sync.DecisionProvider, journal *sync.CycleJournal) (*sync.Engine, error) {
	localRoot, err := utils.ResolvePath(p.LocalRoot)
	if err != nil {
		return nil, fmt.Errorf("profile %q: resolve local root: %w", p.Name, err)
	}

	// the same rules filter snapshots and fence the mirror transfers, so
	// ignored files are never uploaded nor deleted as extras
	ignore := sync.NewIgnoreList(localRoot)
	ignore.Load()

	transfer, err := buildTransfer(ctx, cfg, p, backend.NewFilter(ignore.Patterns()))
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", p.Name, err)
	}

	engine, err := sync.NewEngine(sync.EngineConfig{
		ProfileID:   p.ID,
		ProfileName: p.Name,
		LocalRoot:   localRoot,
		RemotePath:  p.RemotePath,
		Transfer:    transfer,
		Records:     sync.NewRecordStore(cfg.RecordsDir()),
		Decider:     decider,
		Ignore:      ignore,
		Journal:     journal,
	})
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", p.Name, err)
	}
	return engine, nil
}

func buildTransfer(ctx context.Context, cfg *config.Config, p *config.Profile, filter *backend.Filter) (backend.Transfer, error) {
	switch p.Backend {
	case config.BackendS3:
		return backend.NewS3(ctx, *cfg.S3, backend.WithS3Filter(filter))
	default:
		return backend.NewRclone(cfg.RclonePath, backend.WithRcloneFilter(filter)), nil
	}
}

// deferToInteractive declines every conflict so the daemon never overwrites
// a save without a human in the loop.
func deferToInteractive(profile string) sync.DecisionProvider {
	return sync.DecisionFunc(func(ctx context.Context, c *sync.ConflictCase) (sync.Resolution, error) {
		slog.Warn("sync conflict needs a decision, run `savesync sync` to resolve",
			"profile", profile,
			"local", c.LocalSummary.String(),
			"remote", c.RemoteSummary.String())
		return sync.ResolutionCancel, nil
	})
}

// Start runs all profile runtimes and the status API until the context is
// cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}
	defer d.lock.Unlock()

	if err := d.journal.Open(); err != nil {
		return err
	}
	defer d.journal.Close()

	slog.Info("daemon start", "profiles", len(d.runtimes), "interval", d.cfg.Interval())

	eg, egCtx := errgroup.WithContext(ctx)

	for _, rt := range d.runtimes {
		eg.Go(func() error {
			rt.sched.Run(egCtx)
			return nil
		})
		eg.Go(func() error {
			if err := rt.watcher.Run(egCtx); err != nil {
				// a dead watcher degrades to interval-only sync
				slog.Warn("save watcher stopped", "profile", rt.profile.Name, "error", err)
			}
			return nil
		})
		eg.Go(func() error {
			rt.sched.Forward(egCtx, rt.watcher.Events(), "save-changed")
			return nil
		})
		if rt.proc != nil {
			eg.Go(func() error {
				rt.proc.Run(egCtx)
				return nil
			})
			eg.Go(func() error {
				rt.sched.Forward(egCtx, rt.proc.Events(), "game-exit")
				return nil
			})
		}
	}

	eg.Go(func() error {
		return d.statusd.Start(egCtx)
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return d.statusd.Stop(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("daemon failure", "error", err)
		return err
	}
	slog.Info("daemon stopped")
	return nil
}

// Profiles implements statusd.StatusSource.
func (d *Daemon) Profiles() []sync.ProfileStatus {
	out := make([]sync.ProfileStatus, 0, len(d.runtimes))
	for _, rt := range d.runtimes {
		out = append(out, rt.engine.Status())
	}
	return out
}

// History implements statusd.StatusSource.
func (d *Daemon) History(profileID string, limit int) ([]sync.CycleEntry, error) {
	return d.journal.Recent(profileID, limit)
}
