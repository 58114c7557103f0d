package daemon

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ferrybot/ferry/internal/config"
)

// ConfigWatcher reloads the config file on change and hands the parsed
// result to a callback. Editors often emit several events per save, so
// reloads are debounced.
type ConfigWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	logger   zerolog.Logger
	onReload func(*config.Config)
	debounce time.Duration
	timer    *time.Timer
	stopCh   chan struct{}
}

// NewConfigWatcher starts watching configPath.
func NewConfigWatcher(configPath string, logger zerolog.Logger, onReload func(*config.Config)) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory: most editors replace the file on save, which
	// would drop a watch on the file itself.
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		watcher.Close()
		return nil, err
	}

	w := &ConfigWatcher{
		watcher:  watcher,
		path:     configPath,
		logger:   logger.With().Str("component", "configwatch").Logger(),
		onReload: onReload,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}

	go w.run()
	return w, nil
}

// Stop stops the watcher.
func (w *ConfigWatcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *ConfigWatcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Config watcher error")

		case <-w.stopCh:
			return
		}
	}
}

func (w *ConfigWatcher) scheduleReload() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *ConfigWatcher) reload() {
	cfg, err := config.Load(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Config reload failed, keeping previous configuration")
		return
	}
	w.logger.Info().Msg("Config file reloaded")
	w.onReload(cfg)
}
