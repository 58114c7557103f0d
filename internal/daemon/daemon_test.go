package daemon

import (
	"path/filepath"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrybot/ferry/internal/config"
	"github.com/ferrybot/ferry/internal/logger"
)

func stubBotAPI(t *testing.T) {
	t.Helper()
	orig := newBotAPI
	newBotAPI = func(string) (*tgbotapi.BotAPI, error) {
		return &tgbotapi.BotAPI{Self: tgbotapi.User{ID: 99, UserName: "ferrytest_bot"}}, nil
	}
	t.Cleanup(func() { newBotAPI = orig })
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Telegram.BotToken = "123:abc"
	cfg.AI.APIKey = "sk-test"
	cfg.DataDir = t.TempDir()
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(logger.Config{Level: "error", File: filepath.Join(t.TempDir(), "test.log")})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestNew_WiresModules(t *testing.T) {
	stubBotAPI(t)

	d, err := New(testConfig(t), testLogger(t))
	require.NoError(t, err)

	assert.NotEmpty(t, d.InstanceID())
	assert.False(t, d.IsRunning())
	assert.Zero(t, d.Uptime())
	assert.NotNil(t, d.runner)
	assert.NotNil(t, d.store)
	assert.NotNil(t, d.taskLog)
	assert.NotNil(t, d.bot)

	require.NoError(t, d.taskLog.Close())
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	stubBotAPI(t)

	cfg := testConfig(t)
	cfg.Telegram.BotToken = ""

	_, err := New(cfg, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestNew_DistinctInstanceIDs(t *testing.T) {
	stubBotAPI(t)

	log := testLogger(t)
	d1, err := New(testConfig(t), log)
	require.NoError(t, err)
	d2, err := New(testConfig(t), log)
	require.NoError(t, err)

	assert.NotEqual(t, d1.InstanceID(), d2.InstanceID())

	d1.taskLog.Close()
	d2.taskLog.Close()
}

func TestStop_WithoutStartFails(t *testing.T) {
	stubBotAPI(t)

	d, err := New(testConfig(t), testLogger(t))
	require.NoError(t, err)
	defer d.taskLog.Close()

	assert.Error(t, d.Stop())
}
