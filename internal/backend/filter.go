package backend

import (
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// Filter excludes paths from mirror transfers. Without it a mirror would
// upload local junk, and worse, delete files on the destination side that
// the source side legitimately does not carry (ignore config, temp files).
// The same rules that filter snapshots must therefore also fence transfers.
type Filter struct {
	patterns []string
	matcher  *gitignore.GitIgnore
}

func NewFilter(patterns []string) *Filter {
	kept := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		kept = append(kept, p)
	}
	return &Filter{
		patterns: kept,
		matcher:  gitignore.CompileIgnoreLines(kept...),
	}
}

// Skip reports whether a transfer-relative path is excluded. A nil filter
// excludes nothing.
func (f *Filter) Skip(relPath string) bool {
	if f == nil {
		return false
	}
	return f.matcher.MatchesPath(relPath)
}

// RcloneArgs renders the rules as rclone --exclude flags. Trailing-slash
// directory rules become recursive globs, which is how rclone spells them.
func (f *Filter) RcloneArgs() []string {
	if f == nil {
		return nil
	}
	args := make([]string, 0, len(f.patterns)*2)
	for _, p := range f.patterns {
		if strings.HasSuffix(p, "/") {
			p += "**"
		}
		args = append(args, "--exclude", p)
	}
	return args
}
