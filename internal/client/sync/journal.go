package sync

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opensaves/savesync/internal/db"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS cycle_journal (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    profile_id  TEXT NOT NULL,
    decision    TEXT NOT NULL,
    resolution  TEXT NOT NULL DEFAULT '',
    committed   INTEGER NOT NULL DEFAULT 0,
    error       TEXT NOT NULL DEFAULT '',
    started_at  TEXT NOT NULL, -- RFC3339
    duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_cycle_journal_profile ON cycle_journal(profile_id, id);
`

// CycleEntry is one completed (or failed) sync cycle in the journal.
type CycleEntry struct {
	ID         int64  `db:"id" json:"id"`
	ProfileID  string `db:"profile_id" json:"profile_id"`
	Decision   string `db:"decision" json:"decision"`
	Resolution string `db:"resolution" json:"resolution,omitempty"`
	Committed  bool   `db:"committed" json:"committed"`
	Error      string `db:"error" json:"error,omitempty"`
	StartedAt  string `db:"started_at" json:"started_at"`
	DurationMS int64  `db:"duration_ms" json:"duration_ms"`
}

// CycleJournal logs cycle outcomes to SQLite for status/history displays.
// It is observational only: the Fingerprint Record, not the journal, is the
// engine's source of truth.
type CycleJournal struct {
	db     *sqlx.DB
	dbPath string
}

func NewCycleJournal(dbPath string) *CycleJournal {
	return &CycleJournal{dbPath: dbPath}
}

func (j *CycleJournal) Open() error {
	if j.db != nil {
		return fmt.Errorf("cycle journal already open")
	}

	sdb, err := db.NewSqliteDB(db.WithPath(j.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open cycle journal: %w", err)
	}

	if _, err := sdb.Exec(journalSchema); err != nil {
		sdb.Close()
		return fmt.Errorf("init journal schema: %w", err)
	}

	j.db = sdb
	return nil
}

func (j *CycleJournal) Close() error {
	if j.db == nil {
		return fmt.Errorf("cycle journal not open")
	}
	if err := j.db.Close(); err != nil {
		return err
	}
	j.db = nil
	slog.Debug("cycle journal closed")
	return nil
}

// Append inserts a cycle outcome. StartedAt is filled if empty.
func (j *CycleJournal) Append(entry *CycleEntry) error {
	if entry == nil || entry.ProfileID == "" {
		return fmt.Errorf("journal entry must have a profile id")
	}
	if entry.StartedAt == "" {
		entry.StartedAt = time.Now().UTC().Format(time.RFC3339)
	}

	query := `INSERT INTO cycle_journal (profile_id, decision, resolution, committed, error, started_at, duration_ms)
	          VALUES (:profile_id, :decision, :resolution, :committed, :error, :started_at, :duration_ms)`
	if _, err := j.db.NamedExec(query, entry); err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for a profile, newest first.
func (j *CycleJournal) Recent(profileID string, limit int) ([]CycleEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	var entries []CycleEntry
	err := j.db.Select(&entries,
		`SELECT id, profile_id, decision, resolution, committed, error, started_at, duration_ms
		 FROM cycle_journal WHERE profile_id = ? ORDER BY id DESC LIMIT ?`,
		profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	return entries, nil
}

// Count returns the number of journal entries for a profile.
func (j *CycleJournal) Count(profileID string) (int, error) {
	var count int
	if err := j.db.Get(&count, "SELECT COUNT(*) FROM cycle_journal WHERE profile_id = ?", profileID); err != nil {
		return 0, fmt.Errorf("count journal entries: %w", err)
	}
	return count, nil
}
