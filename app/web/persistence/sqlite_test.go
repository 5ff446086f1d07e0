package persistence

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarray/pipecron/app/web/enums"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSQLiteStore(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		assert.NotNil(t, store)

		var count int
		err = store.db.Get(&count, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='executions'")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		require.NoError(t, store.Close())
	})

	t.Run("invalid path", func(t *testing.T) {
		store, err := NewSQLiteStore("/invalid/path/that/does/not/exist/test.db")
		assert.Error(t, err)
		assert.Nil(t, store)
	})

	t.Run("reopen keeps data", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")
		store, err := NewSQLiteStore(dbPath)
		require.NoError(t, err)
		_, err = store.RecordExecution(context.Background(), Execution{JobID: "job1", Status: enums.JobStatusSuccess})
		require.NoError(t, err)
		require.NoError(t, store.Close())

		store, err = NewSQLiteStore(dbPath)
		require.NoError(t, err)
		defer store.Close()
		res, err := store.Executions(context.Background(), "job1", 10)
		require.NoError(t, err)
		assert.Len(t, res, 1)
	})
}

func TestSQLiteStore_RecordAndGet(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 5, 10, 0, 0, 0, time.Local)

	id, err := store.RecordExecution(ctx, Execution{
		JobID:           "abc123",
		Spec:            "0 10 * * *",
		Command:         "ingest /data/{{.YYYYMMDD}}",
		ExecutedCommand: "ingest /data/20260305",
		StartedAt:       started,
		FinishedAt:      started.Add(90 * time.Second),
		Status:          enums.JobStatusFailed,
		ExitCode:        2,
		Output:          "line1\nline2",
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	res, err := store.Execution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Execution{
		ID:              id,
		JobID:           "abc123",
		Spec:            "0 10 * * *",
		Command:         "ingest /data/{{.YYYYMMDD}}",
		ExecutedCommand: "ingest /data/20260305",
		StartedAt:       started,
		FinishedAt:      started.Add(90 * time.Second),
		Status:          enums.JobStatusFailed,
		ExitCode:        2,
		Output:          "line1\nline2",
	}, res)

	_, err = store.Execution(ctx, id+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ZeroValues(t *testing.T) {
	store := newStore(t)
	id, err := store.RecordExecution(context.Background(), Execution{JobID: "job1"})
	require.NoError(t, err)

	res, err := store.Execution(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, res.StartedAt.IsZero())
	assert.True(t, res.FinishedAt.IsZero())
	assert.Equal(t, enums.JobStatusIdle, res.Status)
}

func TestSQLiteStore_Executions(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i := range 5 {
		_, err := store.RecordExecution(ctx, Execution{JobID: "job1", ExecutedCommand: fmt.Sprintf("cmd %d", i),
			Status: enums.JobStatusSuccess})
		require.NoError(t, err)
	}
	_, err := store.RecordExecution(ctx, Execution{JobID: "job2", Status: enums.JobStatusSkipped})
	require.NoError(t, err)

	res, err := store.Executions(ctx, "job1", 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "cmd 4", res[0].ExecutedCommand, "newest first")
	assert.Equal(t, "cmd 2", res[2].ExecutedCommand)

	res, err = store.Executions(ctx, "no-such-job", 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSQLiteStore_LastExecutions(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	res, err := store.LastExecutions(ctx)
	require.NoError(t, err)
	assert.Empty(t, res)

	_, err = store.RecordExecution(ctx, Execution{JobID: "job1", Status: enums.JobStatusFailed})
	require.NoError(t, err)
	_, err = store.RecordExecution(ctx, Execution{JobID: "job1", Status: enums.JobStatusSuccess})
	require.NoError(t, err)
	_, err = store.RecordExecution(ctx, Execution{JobID: "job2", Status: enums.JobStatusSkipped})
	require.NoError(t, err)

	res, err = store.LastExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, enums.JobStatusSuccess, res["job1"].Status)
	assert.Equal(t, enums.JobStatusSkipped, res["job2"].Status)
}

func TestSQLiteStore_Cleanup(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i := range 10 {
		_, err := store.RecordExecution(ctx, Execution{JobID: "job1", ExitCode: i, Status: enums.JobStatusSuccess})
		require.NoError(t, err)
	}
	_, err := store.RecordExecution(ctx, Execution{JobID: "job2", Status: enums.JobStatusSuccess})
	require.NoError(t, err)

	n, err := store.Cleanup(ctx, "job1", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	res, err := store.Executions(ctx, "job1", 100)
	require.NoError(t, err)
	require.Len(t, res, 4)
	assert.Equal(t, 9, res[0].ExitCode)
	assert.Equal(t, 6, res[3].ExitCode)

	res, err = store.Executions(ctx, "job2", 100)
	require.NoError(t, err)
	assert.Len(t, res, 1, "other jobs untouched")

	n, err = store.Cleanup(ctx, "job1", 4)
	require.NoError(t, err)
	assert.Zero(t, n)
}
