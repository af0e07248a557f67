package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	syncpkg "github.com/opensaves/savesync/internal/client/sync"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync state for all profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if len(cfg.Profiles) == 0 {
			fmt.Println(gray.Render("no profiles configured"))
			return nil
		}

		historyCount, _ := cmd.Flags().GetInt("history")

		var journal *syncpkg.CycleJournal
		if historyCount > 0 {
			journal = syncpkg.NewCycleJournal(cfg.JournalPath())
			if err := journal.Open(); err != nil {
				fmt.Printf("%s cycle history unavailable: %v\n", yellow.Render("!"), err)
				journal = nil
			} else {
				defer journal.Close()
			}
		}

		records := syncpkg.NewRecordStore(cfg.RecordsDir())
		for _, p := range cfg.Profiles {
			fmt.Printf("%s\n", bold.Render(p.Name))

			rec, err := records.Load(p.ID)
			switch {
			case errors.Is(err, syncpkg.ErrRecordNotFound):
				fmt.Printf("  %s\n", gray.Render("never synced"))
			case err != nil:
				fmt.Printf("  %s %v\n", red.Render("✗"), err)
			default:
				fmt.Printf("  last synced: %s %s\n",
					humanize.Time(rec.SyncedAt),
					gray.Render(rec.SyncedAt.Local().Format("2006-01-02 15:04")))
				fmt.Printf("  content:     %d file(s), %s\n",
					rec.FileCount, humanize.IBytes(uint64(rec.TotalSize)))
			}

			if journal != nil {
				printHistory(journal, p.ID, historyCount)
			}
		}
		return nil
	},
}

func printHistory(journal *syncpkg.CycleJournal, profileID string, limit int) {
	entries, err := journal.Recent(profileID, limit)
	if err != nil {
		fmt.Printf("  %s %v\n", red.Render("✗"), err)
		return
	}
	if len(entries) == 0 {
		return
	}

	fmt.Printf("  %s\n", gray.Render("recent cycles:"))
	for _, e := range entries {
		mark := green.Render("✓")
		if e.Error != "" {
			mark = red.Render("✗")
		}

		when := e.StartedAt
		if t, err := time.Parse(time.RFC3339, e.StartedAt); err == nil {
			when = humanize.Time(t)
		}

		line := fmt.Sprintf("  %s %-12s %s", mark, e.Decision, gray.Render(when))
		if e.Resolution != "" {
			line += " " + cyan.Render(e.Resolution)
		}
		if e.Error != "" {
			line += " " + red.Render(e.Error)
		}
		fmt.Println(line)
	}
}

func init() {
	statusCmd.Flags().Int("history", 0, "also show the last N sync cycles per profile")
}
