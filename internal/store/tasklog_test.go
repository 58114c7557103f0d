package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrybot/ferry/pkg/run"
)

func newTestLog(t *testing.T) *TaskLog {
	t.Helper()
	l, err := NewTaskLog(filepath.Join(t.TempDir(), "tasks.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestTaskLog_RecordAndRecent(t *testing.T) {
	l := newTestLog(t)

	l.Record(run.TaskRecord{UserID: 1, ChatID: 10, Prompt: "first", Outcome: run.OutcomeOK, Duration: 1200 * time.Millisecond})
	l.Record(run.TaskRecord{UserID: 1, ChatID: 10, Prompt: "second", Outcome: run.OutcomeError, Duration: 80 * time.Millisecond})
	l.Record(run.TaskRecord{UserID: 2, ChatID: 20, Prompt: "other chat", Outcome: run.OutcomeOK, Duration: time.Second})

	// Writes are async; wait for them to land.
	require.Eventually(t, func() bool {
		entries, err := l.Recent(10, 10)
		return err == nil && len(entries) == 2
	}, 2*time.Second, 20*time.Millisecond)

	entries, err := l.Recent(10, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	for _, e := range entries {
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, int64(10), e.ChatID)
		assert.False(t, e.CreatedAt.IsZero())
	}

	prompts := []string{entries[0].Prompt, entries[1].Prompt}
	assert.ElementsMatch(t, []string{"first", "second"}, prompts)
}

func TestTaskLog_RecentRespectsLimit(t *testing.T) {
	l := newTestLog(t)

	for i := 0; i < 5; i++ {
		l.Record(run.TaskRecord{UserID: 1, ChatID: 10, Prompt: "p", Outcome: run.OutcomeOK})
	}

	require.Eventually(t, func() bool {
		entries, err := l.Recent(10, 100)
		return err == nil && len(entries) == 5
	}, 2*time.Second, 20*time.Millisecond)

	entries, err := l.Recent(10, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestTaskLog_CloseFlushesQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	l, err := NewTaskLog(path, zerolog.Nop())
	require.NoError(t, err)

	l.Record(run.TaskRecord{UserID: 1, ChatID: 10, Prompt: "flushed", Outcome: run.OutcomeOK})
	require.NoError(t, l.Close())

	reopened, err := NewTaskLog(path, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.Recent(10, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "flushed", entries[0].Prompt)
}

func TestTaskLog_RecordAfterCloseIsNoOp(t *testing.T) {
	l, err := NewTaskLog(filepath.Join(t.TempDir(), "tasks.db"), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, l.Close())

	assert.NotPanics(t, func() {
		l.Record(run.TaskRecord{UserID: 1, ChatID: 10, Prompt: "late"})
	})
	assert.NoError(t, l.Close()) // idempotent
}

func TestTaskLog_RequiresPath(t *testing.T) {
	_, err := NewTaskLog("", zerolog.Nop())
	assert.Error(t, err)
}
