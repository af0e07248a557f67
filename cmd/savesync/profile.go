package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensaves/savesync/internal/client/config"
	"github.com/opensaves/savesync/internal/client/savedir"
	syncpkg "github.com/opensaves/savesync/internal/client/sync"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage sync profiles",
}

var profileAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a sync profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		localRoot, _ := cmd.Flags().GetString("local")
		discover, _ := cmd.Flags().GetString("discover")
		switch {
		case localRoot != "" && discover != "":
			return errors.New("--local and --discover are mutually exclusive")
		case localRoot == "" && discover == "":
			return errors.New("one of --local or --discover is required")
		case discover != "":
			root, err := savedir.Discover(discover)
			if err != nil {
				return fmt.Errorf("discover %q: %w", discover, err)
			}
			localRoot, err = savedir.PickProfileDir(root)
			if err != nil {
				return err
			}
			fmt.Printf("%s found save directory %s\n", green.Render("✓"), localRoot)
		}

		remotePath, _ := cmd.Flags().GetString("remote")
		backendName, _ := cmd.Flags().GetString("backend")
		process, _ := cmd.Flags().GetString("process")

		p := &config.Profile{
			Name:        args[0],
			LocalRoot:   localRoot,
			RemotePath:  remotePath,
			Backend:     backendName,
			GameProcess: process,
		}
		if err := cfg.AddProfile(p); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfg.Save(cfg.Path); err != nil {
			return err
		}

		fmt.Printf("%s profile %s added %s\n", green.Render("✓"), bold.Render(p.Name), gray.Render(p.ID))
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sync profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if len(cfg.Profiles) == 0 {
			fmt.Println(gray.Render("no profiles configured"))
			return nil
		}

		for _, p := range cfg.Profiles {
			fmt.Printf("%s %s\n", bold.Render(p.Name), gray.Render(p.ID))
			fmt.Printf("  local:  %s\n", p.LocalRoot)
			fmt.Printf("  remote: %s %s\n", p.RemotePath, gray.Render("("+backendLabel(p)+")"))
			if p.GameProcess != "" {
				fmt.Printf("  on-exit: %s\n", p.GameProcess)
			}
		}
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a sync profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		p, err := cfg.Profile(args[0])
		if err != nil {
			return err
		}
		if err := cfg.RemoveProfile(p.ID); err != nil {
			return err
		}
		if err := cfg.Save(cfg.Path); err != nil {
			return err
		}

		// drop the sync baseline too; save data itself is never touched
		if err := syncpkg.NewRecordStore(cfg.RecordsDir()).Delete(p.ID); err != nil {
			fmt.Printf("%s failed to remove sync record: %v\n", yellow.Render("!"), err)
		}

		fmt.Printf("%s profile %s removed\n", green.Render("✓"), bold.Render(p.Name))
		return nil
	},
}

func backendLabel(p *config.Profile) string {
	if p.Backend == "" {
		return config.BackendRclone
	}
	return p.Backend
}

func init() {
	profileAddCmd.Flags().String("local", "", "local save directory")
	profileAddCmd.Flags().String("discover", "", "auto-locate the save directory for a game (e.g. DarkSoulsII)")
	profileAddCmd.Flags().String("remote", "", "remote path, e.g. gdrive:saves/ds2")
	profileAddCmd.Flags().String("backend", "", "transfer backend: rclone (default) or s3")
	profileAddCmd.Flags().String("process", "", "game process name for sync-on-exit (e.g. DarkSoulsII.exe)")
	profileAddCmd.MarkFlagRequired("remote")

	profileCmd.AddCommand(profileAddCmd, profileListCmd, profileRemoveCmd)
}
