package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensaves/savesync/internal/client"
	"github.com/opensaves/savesync/internal/statusd"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: "Runs continuous sync for all configured profiles: on startup, on an interval,\n" +
		"when save files change, and when a watched game process exits. Conflicts are\n" +
		"never auto-resolved; resolve them interactively with `savesync sync`.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		apiAddr, _ := cmd.Flags().GetString("api-addr")
		d, err := client.NewDaemon(cmd.Context(), cfg, apiAddr)
		if err != nil {
			return err
		}

		cmd.SilenceUsage = true
		if err := d.Start(cmd.Context()); err != nil {
			if errors.Is(err, client.ErrAlreadyRunning) {
				return fmt.Errorf("%w, stop it first or use a separate data dir", err)
			}
			return err
		}
		return nil
	},
}

func init() {
	daemonCmd.Flags().String("api-addr", statusd.DefaultAddr, "status API listen address")
}
