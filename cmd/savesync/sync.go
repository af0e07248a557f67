package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensaves/savesync/internal/client"
	"github.com/opensaves/savesync/internal/client/config"
	syncpkg "github.com/opensaves/savesync/internal/client/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync [profile]",
	Short: "Run one sync cycle now",
	Long: "Runs a single sync cycle for one profile, or for every profile when none is\n" +
		"named. Conflicts prompt on the terminal unless --keep-local or --keep-remote\n" +
		"picks a side up front.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		profiles := cfg.Profiles
		if len(args) == 1 {
			p, err := cfg.Profile(args[0])
			if err != nil {
				return err
			}
			profiles = []*config.Profile{p}
		}
		if len(profiles) == 0 {
			return errors.New("no profiles configured, run `savesync profile add` first")
		}

		decider, err := pickDecider(cmd)
		if err != nil {
			return err
		}

		// best effort: history still lands in the journal unless the
		// daemon holds it
		journal := syncpkg.NewCycleJournal(cfg.JournalPath())
		if err := journal.Open(); err != nil {
			slog.Debug("journal unavailable for one-shot sync", "error", err)
			journal = nil
		} else {
			defer journal.Close()
		}

		cmd.SilenceUsage = true

		var failed bool
		for _, p := range profiles {
			if err := runOnce(cmd.Context(), cfg, p, decider, journal); err != nil {
				fmt.Printf("%s %s: %v\n", red.Render("✗"), p.Name, err)
				failed = true
			}
		}
		if failed {
			return errors.New("sync failed for one or more profiles")
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("keep-local", false, "resolve any conflict by keeping the local save")
	syncCmd.Flags().Bool("keep-remote", false, "resolve any conflict by keeping the remote save")
}

func pickDecider(cmd *cobra.Command) (syncpkg.DecisionProvider, error) {
	keepLocal, _ := cmd.Flags().GetBool("keep-local")
	keepRemote, _ := cmd.Flags().GetBool("keep-remote")

	switch {
	case keepLocal && keepRemote:
		return nil, errors.New("--keep-local and --keep-remote are mutually exclusive")
	case keepLocal:
		return scriptedDecider(syncpkg.ResolutionKeepLocal), nil
	case keepRemote:
		return scriptedDecider(syncpkg.ResolutionKeepRemote), nil
	default:
		return newTerminalPrompt(os.Stdin, os.Stdout), nil
	}
}

func scriptedDecider(r syncpkg.Resolution) syncpkg.DecisionProvider {
	return syncpkg.DecisionFunc(func(ctx context.Context, c *syncpkg.ConflictCase) (syncpkg.Resolution, error) {
		return r, nil
	})
}

func runOnce(ctx context.Context, cfg *config.Config, p *config.Profile, decider syncpkg.DecisionProvider, journal *syncpkg.CycleJournal) error {
	engine, err := client.NewProfileEngine(ctx, cfg, p, decider, journal)
	if err != nil {
		return err
	}

	res, err := engine.RunCycle(ctx)
	if err != nil {
		return err
	}

	switch {
	case res.Decision == syncpkg.DecisionConflict && res.Resolution == syncpkg.ResolutionCancel:
		fmt.Printf("%s %s: conflict left unresolved\n", yellow.Render("!"), p.Name)
	case res.Committed:
		fmt.Printf("%s %s: %s %s\n", green.Render("✓"), p.Name, res.Decision, gray.Render(res.Duration.Round(10*time.Millisecond).String()))
	default:
		fmt.Printf("%s %s: up to date\n", green.Render("✓"), p.Name)
	}
	return nil
}
