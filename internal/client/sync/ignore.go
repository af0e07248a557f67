package sync

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/opensaves/savesync/internal/utils"
)

// defaultIgnoreLines keeps non-save droppings out of snapshots so they never
// flip a fingerprint or get mirrored to the cloud.
var defaultIgnoreLines = []string{
	// our own artifacts
	"Backups/",
	".savesyncignore",
	// editor/temp junk
	"*.tmp",
	"*.bak",
	"*.old",
	"*.log",
	// steam/os droppings next to saves
	"steam_autocloud.vdf",
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}

// IgnoreList filters paths out of both local and remote snapshots. The same
// rules also fence mirror transfers (as a backend.Filter) so ignored files
// are never uploaded nor deleted as extras on either side.
type IgnoreList struct {
	baseDir string
	lines   []string
	ignore  *gitignore.GitIgnore
}

func NewIgnoreList(baseDir string) *IgnoreList {
	return &IgnoreList{
		baseDir: baseDir,
		lines:   defaultIgnoreLines,
		ignore:  gitignore.CompileIgnoreLines(defaultIgnoreLines...),
	}
}

// Load extends the defaults with rules from a .savesyncignore file in the
// save directory, if present.
func (l *IgnoreList) Load() {
	ignorePath := filepath.Join(l.baseDir, ".savesyncignore")
	if !utils.FileExists(ignorePath) {
		return
	}

	lines := append([]string{}, defaultIgnoreLines...)
	file, err := os.Open(ignorePath)
	if err != nil {
		slog.Warn("failed to open ignore file", "path", ignorePath, "error", err)
		return
	}
	defer file.Close()

	rules := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
			rules++
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("error reading ignore file", "path", ignorePath, "error", err)
		return
	}

	slog.Debug("loaded ignore file", "path", ignorePath, "rules", rules)
	l.lines = lines
	l.ignore = gitignore.CompileIgnoreLines(lines...)
}

// Patterns returns the effective rules, for handing to a transfer filter.
func (l *IgnoreList) Patterns() []string {
	return append([]string(nil), l.lines...)
}

// Match reports whether a snapshot-relative path should be ignored.
func (l *IgnoreList) Match(path string) bool {
	return l.ignore.MatchesPath(path)
}
