package telegram

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrybot/ferry/internal/store"
	"github.com/ferrybot/ferry/pkg/sessions"
)

type fakeReplier struct {
	mu      sync.Mutex
	replies []string
}

func (f *fakeReplier) Reply(_ int64, text string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	return nil
}

func (f *fakeReplier) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return ""
	}
	return f.replies[len(f.replies)-1]
}

type fakeService struct {
	mu       sync.Mutex
	busy     bool
	running  bool
	handled  []string
	retries  int
	resets   int
	cancels  int
	retryKey sessions.Key
}

func (f *fakeService) HandleMessage(_ context.Context, _ sessions.Key, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handled = append(f.handled, text)
}

func (f *fakeService) Retry(_ context.Context, key sessions.Key) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries++
	f.retryKey = key
}

func (f *fakeService) Cancel(sessions.Key) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return f.running
}

func (f *fakeService) Reset(sessions.Key) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeService) Busy(sessions.Key) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

type fakeTasks struct {
	entries []store.TaskEntry
}

func (f *fakeTasks) Recent(int64, int) ([]store.TaskEntry, error) {
	return f.entries, nil
}

func commandUpdate(cmd string) tgbotapi.Update {
	text := "/" + cmd
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 5,
			From:      &tgbotapi.User{ID: 1, UserName: "alice"},
			Chat:      &tgbotapi.Chat{ID: 10},
			Text:      text,
			Entities: []tgbotapi.MessageEntity{
				{Type: "bot_command", Offset: 0, Length: len(text)},
			},
		},
	}
}

func newTestCommands(svc *fakeService, tasks TaskReader) (*Commands, *fakeReplier) {
	out := &fakeReplier{}
	return NewCommands(out, svc, tasks, zerolog.Nop()), out
}

func TestCommands_UnknownCommand(t *testing.T) {
	c, out := newTestCommands(&fakeService{}, nil)

	require.NoError(t, c.HandleCommand(commandUpdate("frobnicate")))
	assert.Contains(t, out.last(), "Unknown command")
}

func TestCommands_StartAndHelp(t *testing.T) {
	c, out := newTestCommands(&fakeService{}, nil)

	require.NoError(t, c.HandleCommand(commandUpdate("start")))
	assert.Contains(t, out.last(), "/help")

	require.NoError(t, c.HandleCommand(commandUpdate("help")))
	assert.Contains(t, out.last(), "/retry")
	assert.Contains(t, out.last(), "/stop")
}

func TestCommands_NewResetsSession(t *testing.T) {
	svc := &fakeService{}
	c, out := newTestCommands(svc, nil)

	require.NoError(t, c.HandleCommand(commandUpdate("new")))
	assert.Equal(t, 1, svc.resets)
	assert.Equal(t, 0, svc.cancels) // not busy, nothing to cancel
	assert.Contains(t, out.last(), "new conversation")
}

func TestCommands_NewCancelsRunningTaskFirst(t *testing.T) {
	svc := &fakeService{busy: true, running: true}
	c, _ := newTestCommands(svc, nil)

	require.NoError(t, c.HandleCommand(commandUpdate("new")))
	assert.Equal(t, 1, svc.cancels)
	assert.Equal(t, 1, svc.resets)
}

func TestCommands_Stop(t *testing.T) {
	svc := &fakeService{running: true}
	c, out := newTestCommands(svc, nil)

	require.NoError(t, c.HandleCommand(commandUpdate("stop")))
	assert.Contains(t, out.last(), "Stopping")

	svc.running = false
	require.NoError(t, c.HandleCommand(commandUpdate("stop")))
	assert.Contains(t, out.last(), "Nothing is running")
}

func TestCommands_RetryWhileBusyRejected(t *testing.T) {
	svc := &fakeService{busy: true}
	c, out := newTestCommands(svc, nil)

	require.NoError(t, c.HandleCommand(commandUpdate("retry")))
	assert.Contains(t, out.last(), "Still working")
	assert.Equal(t, 0, svc.retries)
}

func TestCommands_RetryRunsAsync(t *testing.T) {
	svc := &fakeService{}
	c, _ := newTestCommands(svc, nil)

	require.NoError(t, c.HandleCommand(commandUpdate("retry")))

	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return svc.retries == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, sessions.Key{UserID: 1, ChatID: 10}, svc.retryKey)
}

func TestCommands_StatusShowsRecentTasks(t *testing.T) {
	tasks := &fakeTasks{entries: []store.TaskEntry{
		{ID: "a", ChatID: 10, Outcome: "ok", DurationMS: 1200, CreatedAt: time.Now()},
		{ID: "b", ChatID: 10, Outcome: "cancelled", DurationMS: 300, CreatedAt: time.Now()},
	}}
	c, out := newTestCommands(&fakeService{}, tasks)

	require.NoError(t, c.HandleCommand(commandUpdate("status")))
	assert.Contains(t, out.last(), "Idle")
	assert.Contains(t, out.last(), "ok")
	assert.Contains(t, out.last(), "cancelled")
}

func TestCommands_StatusWhileBusy(t *testing.T) {
	c, out := newTestCommands(&fakeService{busy: true}, nil)

	require.NoError(t, c.HandleCommand(commandUpdate("status")))
	assert.Contains(t, out.last(), "running")
}
