package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/opensaves/savesync/internal/utils"
)

const (
	// backupKeepCount bounds how many local backups survive per prefix.
	backupKeepCount  = 5
	backupTimeFormat = "20060102-150405"
)

// losesPaths reports whether mirroring winner over loser would delete
// files: any path on the losing side with no counterpart on the winning
// side. Transfers that lose paths back up the losing side first.
func losesPaths(winner, loser *Snapshot) bool {
	for _, p := range loser.Paths() {
		if _, ok := winner.Get(p); !ok {
			return true
		}
	}
	return false
}

// backupBeforeResolve snapshots both sides before a divergent resolution
// overwrites one of them. Overwrite protection only; the engine never reads
// these back.
func (e *Engine) backupBeforeResolve(ctx context.Context) error {
	if err := e.backupLocalSide(); err != nil {
		return err
	}
	return e.backupRemoteSide(ctx)
}

// backupLocalSide copies the save dir into a Backups dir next to it.
func (e *Engine) backupLocalSide() error {
	dst, err := backupLocal(e.cfg.LocalRoot, time.Now())
	if err != nil {
		return fmt.Errorf("backup local: %w", err)
	}
	slog.Info("local save backed up", "profile", e.cfg.ProfileName, "to", dst)
	return nil
}

// backupRemoteSide copies the remote save server-side to a sibling prefix,
// never inside the synced path, so mirror transfers can't delete backups.
func (e *Engine) backupRemoteSide(ctx context.Context) error {
	dst := remoteBackupPath(e.cfg.RemotePath, time.Now())
	if err := e.cfg.Transfer.Copy(ctx, e.cfg.RemotePath, dst); err != nil {
		return fmt.Errorf("backup remote: %w", err)
	}
	slog.Info("remote save backed up", "profile", e.cfg.ProfileName, "to", dst)
	return nil
}

func backupLocal(localRoot string, now time.Time) (string, error) {
	backupsDir := filepath.Join(filepath.Dir(localRoot), "Backups")
	dst := filepath.Join(backupsDir, "local-"+now.Format(backupTimeFormat))

	if err := utils.CopyDir(localRoot, dst); err != nil {
		return "", err
	}

	if err := pruneBackups(backupsDir, "local-", backupKeepCount); err != nil {
		slog.Warn("failed to prune old backups", "dir", backupsDir, "error", err)
	}
	return dst, nil
}

func remoteBackupPath(remotePath string, now time.Time) string {
	return strings.TrimRight(remotePath, "/") + "-backups/remote-" + now.Format(backupTimeFormat)
}

// pruneBackups deletes the oldest backup dirs beyond keep. The timestamp
// format sorts lexicographically, so name order is age order.
func pruneBackups(backupsDir, prefix string, keep int) error {
	entries, err := os.ReadDir(backupsDir)
	if err != nil {
		return err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			names = append(names, entry.Name())
		}
	}
	if len(names) <= keep {
		return nil
	}

	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		if err := os.RemoveAll(filepath.Join(backupsDir, name)); err != nil {
			return err
		}
	}
	return nil
}
