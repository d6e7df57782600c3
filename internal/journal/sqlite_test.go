package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndListFailures(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.RecordFailure(Failure{
		Kind:      KindObject,
		Container: "logs-a",
		Key:       "2026/08/app.log",
		Message:   "connection reset",
	}))
	require.NoError(t, store.RecordFailure(Failure{
		Kind:      KindContainer,
		Container: "logs-b",
		Message:   "bucket not empty",
	}))

	failures, err := store.ListFailures()
	require.NoError(t, err)
	require.Len(t, failures, 2)

	assert.Equal(t, KindObject, failures[0].Kind)
	assert.Equal(t, "logs-a", failures[0].Container)
	assert.Equal(t, "2026/08/app.log", failures[0].Key)
	assert.Equal(t, "connection reset", failures[0].Message)
	assert.False(t, failures[0].RecordedAt.IsZero())

	assert.Equal(t, KindContainer, failures[1].Kind)
	assert.Empty(t, failures[1].Key)
}

func TestFinishRun(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.FinishRun(1234, 7, true))

	var objects, containers, succeeded int64
	row := store.db.QueryRow(`SELECT objects, containers, succeeded FROM runs WHERE id = ?`, store.runID)
	require.NoError(t, row.Scan(&objects, &containers, &succeeded))
	assert.Equal(t, int64(1234), objects)
	assert.Equal(t, int64(7), containers)
	assert.Equal(t, int64(1), succeeded)
}

func TestRunsAreSeparate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.db")

	first, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, first.RecordFailure(Failure{Kind: KindObject, Container: "c", Key: "k", Message: "x"}))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer second.Close()

	// A fresh run starts with no failures of its own.
	failures, err := second.ListFailures()
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())

	assert.Error(t, store.RecordFailure(Failure{Kind: KindObject, Container: "c", Message: "x"}))
	assert.Error(t, store.FinishRun(0, 0, false))
	_, err := store.ListFailures()
	assert.Error(t, err)

	// Closing twice is a no-op.
	assert.NoError(t, store.Close())
}
