package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// hashPreference orders content hash algorithms from most to least trusted.
// Local snapshots carry all three; remote snapshots carry whatever the
// provider reports.
var hashPreference = []string{"sha256", "sha1", "md5"}

// FileMeta describes one file inside a snapshot.
type FileMeta struct {
	Path    string
	Size    int64
	ModTime time.Time
	Hashes  map[string]string
}

// ContentKey returns the strongest available content identity for the file.
// Files without any hash fall back to their size, which is weaker but still
// catches most save mutations on providers without checksums.
func (m *FileMeta) ContentKey() string {
	for _, algo := range hashPreference {
		if v := m.Hashes[algo]; v != "" {
			return algo + ":" + v
		}
	}
	return fmt.Sprintf("size:%d", m.Size)
}

// HashVerified reports whether the file carries a real content hash.
func (m *FileMeta) HashVerified() bool {
	for _, algo := range hashPreference {
		if m.Hashes[algo] != "" {
			return true
		}
	}
	return false
}

// contentEqual compares two files by the strongest hash algorithm both
// sides share. With no shared algorithm it degrades to size equality.
func contentEqual(a, b *FileMeta) bool {
	for _, algo := range hashPreference {
		ha, hb := a.Hashes[algo], b.Hashes[algo]
		if ha != "" && hb != "" {
			return ha == hb
		}
	}
	return a.Size == b.Size
}

// Snapshot is an immutable point-in-time description of a save directory:
// relative path to size, content hashes and modification time. Two
// snapshots with equal path-to-hash mappings represent identical content
// regardless of timestamps.
type Snapshot struct {
	files map[string]*FileMeta
}

func NewSnapshot(files map[string]*FileMeta) *Snapshot {
	if files == nil {
		files = make(map[string]*FileMeta)
	}
	return &Snapshot{files: files}
}

func (s *Snapshot) Empty() bool {
	return len(s.files) == 0
}

func (s *Snapshot) Len() int {
	return len(s.files)
}

func (s *Snapshot) Get(path string) (*FileMeta, bool) {
	m, ok := s.files[path]
	return m, ok
}

// Paths returns the snapshot's relative paths in sorted order.
func (s *Snapshot) Paths() []string {
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (s *Snapshot) TotalSize() int64 {
	var total int64
	for _, m := range s.files {
		total += m.Size
	}
	return total
}

func (s *Snapshot) LatestModTime() time.Time {
	var latest time.Time
	for _, m := range s.files {
		if m.ModTime.After(latest) {
			latest = m.ModTime
		}
	}
	return latest
}

// Fingerprint digests the sorted path-to-content-key mapping. It is a pure
// function of file paths and bytes, never of timestamps. An empty snapshot
// fingerprints to the empty string.
func (s *Snapshot) Fingerprint() string {
	if len(s.files) == 0 {
		return ""
	}

	h := sha256.New()
	for _, p := range s.Paths() {
		fmt.Fprintf(h, "%s\x00%s\n", p, s.files[p].ContentKey())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ContentEqual reports whether two snapshots hold identical content: the
// same path set with per-file content equality. Works across sides even
// when the two snapshots carry different hash algorithms.
func (s *Snapshot) ContentEqual(other *Snapshot) bool {
	if s.Len() != other.Len() {
		return false
	}
	for p, m := range s.files {
		om, ok := other.files[p]
		if !ok || !contentEqual(m, om) {
			return false
		}
	}
	return true
}

// HashVerified reports whether every file in the snapshot carries a real
// content hash. Surfaced on conflict summaries so the user knows when the
// remote side's comparison degraded to sizes.
func (s *Snapshot) HashVerified() bool {
	for _, m := range s.files {
		if !m.HashVerified() {
			return false
		}
	}
	return true
}
