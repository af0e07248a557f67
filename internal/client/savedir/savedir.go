// Package savedir locates game save directories across the platforms and
// compatibility layers the games actually run under: native Windows paths,
// macOS ports and CrossOver bottles, and Proton prefixes inside a Linux
// Steam library.
package savedir

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/opensaves/savesync/internal/utils"
)

var ErrNotFound = errors.New("no save directory found")

// defaultProfileDir is created when a save root exists but holds no
// per-account subdirectory yet (fresh install, never launched).
const defaultProfileDir = "0000000000000000"

// CandidateRoots lists the places a game's save root may live, most likely
// first. gameDir is the vendor-relative path as it appears under Windows
// AppData, e.g. "DarkSoulsII".
func CandidateRoots(gameDir string) []string {
	var roots []string

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			roots = append(roots, filepath.Join(appData, gameDir))
		}

	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		roots = append(roots, filepath.Join(home, "Library", "Application Support", gameDir))
		// CrossOver keeps a Windows prefix per bottle
		bottles, _ := filepath.Glob(filepath.Join(home,
			"Library", "Application Support", "CrossOver", "Bottles", "*",
			"drive_c", "users", "crossover", "AppData", "Roaming", gameDir))
		roots = append(roots, bottles...)

	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		// Proton prefixes: one per app id under the Steam library
		prefixes, _ := filepath.Glob(filepath.Join(home,
			".steam", "steam", "steamapps", "compatdata", "*",
			"pfx", "drive_c", "users", "steamuser", "AppData", "Roaming", gameDir))
		roots = append(roots, prefixes...)
		prefixes, _ = filepath.Glob(filepath.Join(home,
			".local", "share", "Steam", "steamapps", "compatdata", "*",
			"pfx", "drive_c", "users", "steamuser", "AppData", "Roaming", gameDir))
		roots = append(roots, prefixes...)
	}

	return roots
}

// Discover returns the first existing candidate root for the game.
func Discover(gameDir string) (string, error) {
	for _, root := range CandidateRoots(gameDir) {
		if utils.DirExists(root) {
			slog.Debug("save root found", "game", gameDir, "root", root)
			return root, nil
		}
	}
	return "", ErrNotFound
}

// PickProfileDir selects the per-account subdirectory under a save root.
// Games key these by platform account id; when several exist (shared PC,
// account migration) the one with the most recently touched file wins. A
// root with no account dir yet gets a default one created.
func PickProfileDir(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}

	var (
		best     string
		bestTime time.Time
	)
	for _, entry := range entries {
		// account ids are long numeric names; short dirs are game junk
		if !entry.IsDir() || len(entry.Name()) <= 5 {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if t := newestFileTime(dir); best == "" || t.After(bestTime) {
			best, bestTime = dir, t
		}
	}
	if best != "" {
		return best, nil
	}

	dir := filepath.Join(root, defaultProfileDir)
	if err := utils.EnsureDir(dir); err != nil {
		return "", err
	}
	slog.Info("no account save directory yet, created default", "dir", dir)
	return dir, nil
}

func newestFileTime(dir string) time.Time {
	var newest time.Time
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil && info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return newest
}
