package sync

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opensaves/savesync/internal/backend"
)

// ErrSaveDirNotFound signals that the local save directory does not exist
// yet ("never played this game on this device").
var ErrSaveDirNotFound = errors.New("save directory not found")

type hashCacheEntry struct {
	size    int64
	modTime time.Time
	hashes  map[string]string
}

// Collector computes snapshots of the local save directory (by walking and
// hashing) and of the remote one (from the transfer backend's listing,
// without downloading bytes).
type Collector struct {
	localRoot  string
	remotePath string
	transfer   RemoteLister
	ignore     *IgnoreList

	// hash cache keyed on (size, mtime) so unchanged files are not
	// re-read every cycle
	mu        sync.Mutex
	hashCache map[string]hashCacheEntry
}

// RemoteLister is the slice of the transfer capability the collector needs.
type RemoteLister interface {
	List(ctx context.Context, remotePath string) ([]backend.RemoteFile, error)
}

func NewCollector(localRoot, remotePath string, transfer RemoteLister, ignore *IgnoreList) *Collector {
	return &Collector{
		localRoot:  localRoot,
		remotePath: remotePath,
		transfer:   transfer,
		ignore:     ignore,
		hashCache:  make(map[string]hashCacheEntry),
	}
}

// CollectLocal walks the save directory and hashes every regular file.
// Symlinks are skipped (save dirs are shallow; no cycle handling needed).
func (c *Collector) CollectLocal() (*Snapshot, error) {
	info, err := os.Stat(c.localRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSaveDirNotFound, c.localRoot)
		}
		return nil, fmt.Errorf("stat save dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("save path is not a directory: %s", c.localRoot)
	}

	files := make(map[string]*FileMeta)
	err = filepath.WalkDir(c.localRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk: %w", walkErr)
		}

		relPath, err := filepath.Rel(c.localRoot, path)
		if err != nil {
			return fmt.Errorf("walk rel path: %w", err)
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if relPath != "." && c.ignore.Match(relPath+"/") {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if c.ignore.Match(relPath) {
			return nil
		}

		fileInfo, err := d.Info()
		if err != nil {
			slog.Warn("failed to stat file, skipping", "path", path, "error", err)
			return nil
		}

		hashes, err := c.cachedHashes(path, relPath, fileInfo)
		if err != nil {
			slog.Warn("failed to hash file, skipping", "path", path, "error", err)
			return nil
		}

		files[relPath] = &FileMeta{
			Path:    relPath,
			Size:    fileInfo.Size(),
			ModTime: fileInfo.ModTime(),
			Hashes:  hashes,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", c.localRoot, err)
	}

	return NewSnapshot(files), nil
}

// CollectRemote builds a snapshot from the backend's listing, without
// downloading file bytes. Hashes are whatever the provider supplies.
func (c *Collector) CollectRemote(ctx context.Context) (*Snapshot, error) {
	listing, err := c.transfer.List(ctx, c.remotePath)
	if err != nil {
		return nil, fmt.Errorf("list remote: %w", err)
	}

	files := make(map[string]*FileMeta, len(listing))
	for _, entry := range listing {
		if c.ignore.Match(entry.Path) {
			continue
		}
		files[entry.Path] = &FileMeta{
			Path:    entry.Path,
			Size:    entry.Size,
			ModTime: entry.ModTime,
			Hashes:  entry.Hashes,
		}
	}
	return NewSnapshot(files), nil
}

func (c *Collector) cachedHashes(absPath, relPath string, info fs.FileInfo) (map[string]string, error) {
	c.mu.Lock()
	cached, ok := c.hashCache[relPath]
	c.mu.Unlock()

	if ok && cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
		return cached.hashes, nil
	}

	hashes, err := hashFile(absPath)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.hashCache[relPath] = hashCacheEntry{size: info.Size(), modTime: info.ModTime(), hashes: hashes}
	c.mu.Unlock()
	return hashes, nil
}

// hashFile computes md5, sha1 and sha256 in a single read. Remote providers
// report different algorithms, so carrying all three keeps cross-side
// content comparison possible regardless of backend.
func hashFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	md5h := md5.New()
	sha1h := sha1.New()
	sha256h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(md5h, sha1h, sha256h), file); err != nil {
		return nil, err
	}

	return map[string]string{
		"md5":    hex.EncodeToString(md5h.Sum(nil)),
		"sha1":   hex.EncodeToString(sha1h.Sum(nil)),
		"sha256": hex.EncodeToString(sha256h.Sum(nil)),
	}, nil
}
