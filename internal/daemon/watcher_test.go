package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ferrybot/ferry/internal/config"
)

func writeConfigFile(t *testing.T, path, level string) {
	t.Helper()
	content := `{
		"telegram": {"bot_token": "123:abc"},
		"ai": {"provider": "anthropic", "model": "m", "api_key": "k"},
		"logging": {"level": "` + level + `"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestConfigWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ferry.json")
	writeConfigFile(t, path, "info")

	reloaded := make(chan *config.Config, 4)
	w, err := NewConfigWatcher(path, zerolog.Nop(), func(cfg *config.Config) {
		reloaded <- cfg
	})
	require.NoError(t, err)
	defer w.Stop()
	w.debounce = 50 * time.Millisecond

	writeConfigFile(t, path, "debug")

	select {
	case cfg := <-reloaded:
		require.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback not invoked")
	}
}

func TestConfigWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ferry.json")
	writeConfigFile(t, path, "info")

	reloaded := make(chan *config.Config, 4)
	w, err := NewConfigWatcher(path, zerolog.Nop(), func(cfg *config.Config) {
		reloaded <- cfg
	})
	require.NoError(t, err)
	defer w.Stop()
	w.debounce = 50 * time.Millisecond

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0644))

	select {
	case <-reloaded:
		t.Fatal("unexpected reload for unrelated file")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestConfigWatcher_KeepsPreviousConfigOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ferry.json")
	writeConfigFile(t, path, "info")

	reloaded := make(chan *config.Config, 4)
	w, err := NewConfigWatcher(path, zerolog.Nop(), func(cfg *config.Config) {
		reloaded <- cfg
	})
	require.NoError(t, err)
	defer w.Stop()
	w.debounce = 50 * time.Millisecond

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))

	select {
	case <-reloaded:
		t.Fatal("callback must not fire for a malformed config")
	case <-time.After(500 * time.Millisecond):
	}
}
