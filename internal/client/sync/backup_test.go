package sync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupLocal(t *testing.T) {
	base := t.TempDir()
	localRoot := filepath.Join(base, "saves")
	writeSave(t, localRoot, "slot0.sl2", "save data")
	writeSave(t, localRoot, "profiles/main.dat", "profile")

	now := time.Date(2026, 8, 23, 14, 30, 0, 0, time.UTC)
	dst, err := backupLocal(localRoot, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "Backups", "local-20260823-143000"), dst)

	content, err := os.ReadFile(filepath.Join(dst, "profiles", "main.dat"))
	require.NoError(t, err)
	assert.Equal(t, "profile", string(content))
}

func TestPruneBackupsKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"local-20260101-000000",
		"local-20260102-000000",
		"local-20260103-000000",
		"local-20260104-000000",
		"local-20260105-000000",
		"local-20260106-000000",
		"local-20260107-000000",
	}
	for _, name := range names {
		require.NoError(t, os.Mkdir(filepath.Join(dir, name), 0o755))
	}
	// unrelated entries survive pruning
	require.NoError(t, os.Mkdir(filepath.Join(dir, "unrelated"), 0o755))

	require.NoError(t, pruneBackups(dir, "local-", 5))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var kept []string
	for _, entry := range entries {
		kept = append(kept, entry.Name())
	}
	assert.ElementsMatch(t, []string{
		"local-20260103-000000",
		"local-20260104-000000",
		"local-20260105-000000",
		"local-20260106-000000",
		"local-20260107-000000",
		"unrelated",
	}, kept)
}

func TestPruneBackupsUnderLimit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "local-20260101-000000"), 0o755))

	require.NoError(t, pruneBackups(dir, "local-", 5))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRemoteBackupPathIsSibling(t *testing.T) {
	now := time.Date(2026, 8, 23, 14, 30, 0, 0, time.UTC)

	// the backup prefix sits next to the synced path, never inside it, so
	// mirror uploads cannot delete old backups
	assert.Equal(t, "gdrive:saves/ds2-backups/remote-20260823-143000",
		remoteBackupPath("gdrive:saves/ds2", now))
	assert.Equal(t, "gdrive:saves/ds2-backups/remote-20260823-143000",
		remoteBackupPath("gdrive:saves/ds2/", now))
}
