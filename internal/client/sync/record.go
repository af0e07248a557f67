package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/opensaves/savesync/internal/utils"
)

// ErrRecordNotFound is returned for profiles that never completed a sync.
// Corrupt record files are reported the same way, forcing a first-sync
// classification instead of silent data loss.
var ErrRecordNotFound = errors.New("sync record not found")

// Record is the persisted memory of the last known synchronized state for a
// profile. Both sides' aggregate fingerprints are stored so each side is
// compared against its own history (remote providers may hash with a
// different algorithm than the local scan).
type Record struct {
	ProfileID         string    `json:"profile_id"`
	LocalFingerprint  string    `json:"local_fingerprint"`
	RemoteFingerprint string    `json:"remote_fingerprint"`
	FileCount         int       `json:"file_count"`
	TotalSize         int64     `json:"total_size"`
	SyncedAt          time.Time `json:"synced_at"`
}

// RecordStore persists one Record per profile as a JSON file. Writes are
// atomic with respect to process crash: temp file then rename, never
// truncate in place, so readers observe either the old or the new record.
type RecordStore struct {
	dir string
}

func NewRecordStore(dir string) *RecordStore {
	return &RecordStore{dir: dir}
}

func (rs *RecordStore) recordPath(profileID string) string {
	return filepath.Join(rs.dir, profileID+".json")
}

// lockPath names the per-profile cycle lock file kept next to the record.
// Engines in separate processes (daemon plus an interactive sync) contend
// on it so at most one cycle runs per profile machine-wide.
func (rs *RecordStore) lockPath(profileID string) string {
	return filepath.Join(rs.dir, profileID+".lock")
}

// Load returns the record for a profile, or ErrRecordNotFound if the
// profile never synced. A malformed record file is treated as not found.
func (rs *RecordStore) Load(profileID string) (*Record, error) {
	data, err := os.ReadFile(rs.recordPath(profileID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("read record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		slog.Warn("corrupt sync record, treating as never synced", "profile", profileID, "error", err)
		return nil, ErrRecordNotFound
	}
	return &rec, nil
}

// Save atomically replaces the profile's record.
func (rs *RecordStore) Save(rec *Record) error {
	if rec == nil || rec.ProfileID == "" {
		return errors.New("record must have a profile id")
	}

	if err := utils.EnsureDir(rs.dir); err != nil {
		return fmt.Errorf("ensure record dir: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	final := rs.recordPath(rec.ProfileID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace record: %w", err)
	}
	return nil
}

// Delete removes the profile's record. Missing records are not an error.
func (rs *RecordStore) Delete(profileID string) error {
	err := os.Remove(rs.recordPath(profileID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
