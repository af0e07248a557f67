package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opensaves/savesync/internal/client/config"
	"github.com/opensaves/savesync/internal/utils"
	"github.com/opensaves/savesync/internal/version"
)

var (
	home, _            = os.UserHomeDir()
	defaultLogFilePath = filepath.Join(home, ".savesync", "logs", "client.log")
)

var rootCmd = &cobra.Command{
	Use:     "savesync",
	Short:   "SaveSync keeps game save directories in sync across devices",
	Version: version.Detailed(),
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "config file path")
	rootCmd.AddCommand(daemonCmd, syncCmd, profileCmd, statusCmd)
}

func main() {
	if err := setupLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setupLogging sends colored logs to the terminal and plain text to a file,
// so daemon runs leave a trail even when stdout is discarded.
func setupLogging() error {
	if err := utils.EnsureParent(defaultLogFilePath); err != nil {
		return err
	}
	file, err := os.OpenFile(defaultLogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: "15:04:05",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler)))
	return nil
}

// loadConfig reads the config file named by --config, falling back to a
// default config when it does not exist yet. SAVESYNC_* environment
// variables override the scalar settings.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = config.Default()
		cfg.Path = path
	}

	v := viper.New()
	v.SetEnvPrefix("SAVESYNC")
	v.AutomaticEnv()
	for key, dst := range map[string]*string{
		"data_dir":      &cfg.DataDir,
		"rclone_path":   &cfg.RclonePath,
		"sync_interval": &cfg.SyncInterval,
	} {
		v.BindEnv(key)
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	return cfg, nil
}
