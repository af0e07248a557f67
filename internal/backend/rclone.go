package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// rclone exit code for "directory not found"
const rcloneExitNotFound = 3

// Rclone shells out to an rclone binary. Remote paths use rclone's
// "remote:path" notation and must reference a remote already configured via
// `rclone config`.
type Rclone struct {
	bin    string
	flags  []string
	filter *Filter
}

type RcloneOption func(*Rclone)

// WithRcloneFlags appends extra global flags to every invocation
// (e.g. --config for a non-default rclone config file).
func WithRcloneFlags(flags ...string) RcloneOption {
	return func(r *Rclone) {
		r.flags = append(r.flags, flags...)
	}
}

// WithRcloneFilter excludes paths from mirror transfers, so an upload never
// carries local junk and a download never deletes ignored local files as
// extras.
func WithRcloneFilter(f *Filter) RcloneOption {
	return func(r *Rclone) {
		r.filter = f
	}
}

func NewRclone(bin string, opts ...RcloneOption) *Rclone {
	if bin == "" {
		bin = "rclone"
	}
	r := &Rclone{bin: bin}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Rclone) Name() string { return "rclone" }

// lsjsonEntry mirrors one element of `rclone lsjson` output.
type lsjsonEntry struct {
	Path    string            `json:"Path"`
	Name    string            `json:"Name"`
	Size    int64             `json:"Size"`
	ModTime string            `json:"ModTime"`
	IsDir   bool              `json:"IsDir"`
	Hashes  map[string]string `json:"Hashes"`
}

func (r *Rclone) List(ctx context.Context, remotePath string) ([]RemoteFile, error) {
	out, err := r.run(ctx, "lsjson", "--recursive", "--hash", remotePath)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == rcloneExitNotFound {
			// remote dir doesn't exist yet: empty save set, not a failure
			return nil, nil
		}
		return nil, fmt.Errorf("%w: rclone lsjson %s: %v", ErrUnavailable, remotePath, err)
	}
	return parseLsjson(out)
}

func (r *Rclone) Upload(ctx context.Context, localRoot, remotePath string) error {
	if err := r.Mkdir(ctx, remotePath); err != nil {
		return err
	}
	args := append([]string{"sync", localRoot, remotePath, "--create-empty-src-dirs"}, r.filter.RcloneArgs()...)
	if _, err := r.run(ctx, args...); err != nil {
		return fmt.Errorf("%w: rclone sync up %s: %v", ErrUnavailable, remotePath, err)
	}
	return nil
}

func (r *Rclone) Download(ctx context.Context, remotePath, localRoot string) error {
	args := append([]string{"sync", remotePath, localRoot, "--create-empty-src-dirs"}, r.filter.RcloneArgs()...)
	if _, err := r.run(ctx, args...); err != nil {
		return fmt.Errorf("%w: rclone sync down %s: %v", ErrUnavailable, remotePath, err)
	}
	return nil
}

func (r *Rclone) Copy(ctx context.Context, srcRemote, dstRemote string) error {
	if _, err := r.run(ctx, "copy", srcRemote, dstRemote); err != nil {
		return fmt.Errorf("%w: rclone copy %s -> %s: %v", ErrUnavailable, srcRemote, dstRemote, err)
	}
	return nil
}

func (r *Rclone) Mkdir(ctx context.Context, remotePath string) error {
	// mkdir fails if the directory exists on some providers, so don't
	// treat a non-zero exit as fatal
	if _, err := r.run(ctx, "mkdir", remotePath); err != nil {
		slog.Debug("rclone mkdir", "path", remotePath, "error", err)
	}
	return nil
}

func (r *Rclone) run(ctx context.Context, args ...string) ([]byte, error) {
	fullArgs := append(append([]string{}, r.flags...), args...)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.bin, fullArgs...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("rclone exec", "args", fullArgs)
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// parseLsjson converts `rclone lsjson --recursive --hash` output into
// RemoteFiles, skipping directories and normalizing hash names.
func parseLsjson(data []byte) ([]RemoteFile, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var entries []lsjsonEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: parse lsjson: %v", ErrUnavailable, err)
	}

	files := make([]RemoteFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir {
			continue
		}

		var modTime time.Time
		if e.ModTime != "" {
			if t, err := time.Parse(time.RFC3339, e.ModTime); err == nil {
				modTime = t
			}
		}

		files = append(files, RemoteFile{
			Path:    e.Path,
			Size:    e.Size,
			ModTime: modTime,
			Hashes:  normalizeHashes(e.Hashes),
		})
	}
	return files, nil
}

// normalizeHashes lowercases hash algorithm names and strips separators, so
// rclone's "SHA-1" and S3's "md5" land on the same keys.
func normalizeHashes(hashes map[string]string) map[string]string {
	if len(hashes) == 0 {
		return nil
	}
	out := make(map[string]string, len(hashes))
	for algo, digest := range hashes {
		if digest == "" {
			continue
		}
		key := strings.ToLower(strings.ReplaceAll(algo, "-", ""))
		out[key] = strings.ToLower(digest)
	}
	return out
}
