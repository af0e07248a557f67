package sync

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *CycleJournal {
	t.Helper()

	j := NewCycleJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, j.Open())
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalAppendAndRecent(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.Append(&CycleEntry{ProfileID: "p1", Decision: "push-local", Committed: true}))
	require.NoError(t, j.Append(&CycleEntry{ProfileID: "p1", Decision: "no-change"}))
	require.NoError(t, j.Append(&CycleEntry{ProfileID: "p2", Decision: "conflict", Resolution: "keep-local", Committed: true}))

	entries, err := j.Recent("p1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// newest first
	assert.Equal(t, "no-change", entries[0].Decision)
	assert.Equal(t, "push-local", entries[1].Decision)
	assert.True(t, entries[1].Committed)
	assert.NotEmpty(t, entries[0].StartedAt)

	count, err := j.Count("p1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = j.Count("p3")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestJournalRecentLimit(t *testing.T) {
	j := openTestJournal(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(&CycleEntry{ProfileID: "p1", Decision: "no-change"}))
	}

	entries, err := j.Recent("p1", 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	// non-positive limit falls back to the default
	entries, err = j.Recent("p1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestJournalRejectsAnonymousEntry(t *testing.T) {
	j := openTestJournal(t)

	assert.Error(t, j.Append(nil))
	assert.Error(t, j.Append(&CycleEntry{Decision: "no-change"}))
}

func TestJournalErrorRoundtrip(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.Append(&CycleEntry{ProfileID: "p1", Decision: "push-local", Error: "transfer backend unavailable"}))

	entries, err := j.Recent("p1", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "transfer backend unavailable", entries[0].Error)
	assert.False(t, entries[0].Committed)
}
