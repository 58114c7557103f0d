package daemon

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ferrybot/ferry/internal/config"
	"github.com/ferrybot/ferry/internal/logger"
	"github.com/ferrybot/ferry/internal/observability"
	"github.com/ferrybot/ferry/internal/store"
	"github.com/ferrybot/ferry/internal/telegram"
	"github.com/ferrybot/ferry/pkg/agent"
	"github.com/ferrybot/ferry/pkg/run"
	"github.com/ferrybot/ferry/pkg/sessions"
)

// Daemon represents the Ferry daemon service
type Daemon struct {
	config     *config.Config
	logger     *logger.Logger
	zl         zerolog.Logger
	instanceID string

	// Core modules
	taskLog  *store.TaskLog
	store    *sessions.Store
	lastMsg  *sessions.LastMessageCache
	registry *run.Registry
	runner   *run.Runner
	channel  *telegram.Channel
	bot      *telegram.Bot

	// Services
	scheduler  *cron.Cron
	watcher    *ConfigWatcher
	metricsSrv *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// Swappable in tests; the real constructor authenticates against Telegram.
var newBotAPI = func(token string) (*tgbotapi.BotAPI, error) {
	return tgbotapi.NewBotAPI(token)
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	observability.EnsureRegistered()

	d := &Daemon{
		config:     cfg,
		logger:     log,
		zl:         log.GetZerolog(),
		instanceID: uuid.NewString(),
		ctx:        ctx,
		cancel:     cancel,
	}

	if err := d.initialize(); err != nil {
		cancel()
		return nil, err
	}

	d.zl.Info().Str("instance_id", d.instanceID).Msg("Daemon initialized")
	return d, nil
}

// initialize wires the modules in dependency order.
func (d *Daemon) initialize() error {
	cfg := d.config

	taskLog, err := store.NewTaskLog(filepath.Join(cfg.DataDir, "tasks.db"), d.zl)
	if err != nil {
		return fmt.Errorf("failed to open task log: %w", err)
	}
	d.taskLog = taskLog
	d.zl.Info().Msg("Task log initialized")

	d.store = sessions.NewStore(cfg.Session.Max, cfg.Session.TTL(), d.zl)
	d.lastMsg = sessions.NewLastMessageCache()
	// A removed session takes its retry history with it.
	d.store.OnDelete(d.lastMsg.Delete)
	d.registry = run.NewRegistry()
	d.zl.Info().Int("max", cfg.Session.Max).Dur("ttl", cfg.Session.TTL()).Msg("Session store initialized")

	api, err := newBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		return fmt.Errorf("failed to create Telegram client: %w", err)
	}
	d.channel = telegram.NewChannel(api, d.zl)

	backend := agent.NewBackend(d.zl)
	runner, err := run.New(run.Config{
		Timeout: cfg.Task.Timeout(),
		Profile: agent.Profile{
			Provider:     cfg.AI.Provider,
			Model:        cfg.AI.Model,
			APIKey:       cfg.AI.APIKey,
			SystemPrompt: cfg.AI.SystemPrompt,
			MaxTokens:    cfg.AI.MaxTokens,
			Temperature:  cfg.AI.Temperature,
		},
		Stream: run.StreamConfig{
			Throttle:       cfg.Stream.Throttle(),
			TypingInterval: cfg.Stream.TypingInterval(),
			MaxMessageLen:  cfg.Stream.MaxMessageLen,
		},
	}, backend, d.store, d.lastMsg, d.registry, d.channel, d.taskLog, d.zl)
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}
	d.runner = runner
	d.zl.Info().Str("provider", cfg.AI.Provider).Str("model", cfg.AI.Model).Msg("Runner initialized")

	bot, err := telegram.NewWithAPI(api, &cfg.Telegram, runner, taskLog, d.zl)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	d.bot = bot

	d.scheduler = cron.New()
	sweep := cfg.Session.Sweep()
	if sweep > 0 {
		if _, err := d.scheduler.AddFunc(fmt.Sprintf("@every %s", sweep), d.store.Evict); err != nil {
			return fmt.Errorf("failed to schedule session sweep: %w", err)
		}
	}

	return nil
}

// Start starts the daemon services
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon is already running")
	}

	d.zl.Info().Msg("Starting daemon")

	if err := d.bot.Start(); err != nil {
		return fmt.Errorf("failed to start Telegram bot: %w", err)
	}

	d.scheduler.Start()

	if d.config.Metrics.Enabled {
		d.startMetricsServer()
	}

	d.startTime = time.Now()
	d.running = true
	d.zl.Info().Msg("Daemon started")
	return nil
}

// WatchConfig starts the config file watcher, applying log level changes
// without a restart.
func (d *Daemon) WatchConfig(configPath string) error {
	if configPath == "" {
		return nil
	}
	watcher, err := NewConfigWatcher(configPath, d.zl, func(cfg *config.Config) {
		if cfg.Logging.Level != d.config.Logging.Level {
			if err := d.logger.SetLevel(cfg.Logging.Level); err != nil {
				d.zl.Warn().Err(err).Msg("Ignoring invalid log level from config reload")
				return
			}
			d.zl.Info().Str("level", cfg.Logging.Level).Msg("Log level updated from config file")
			d.config.Logging.Level = cfg.Logging.Level
		}
	})
	if err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}
	d.watcher = watcher
	return nil
}

func (d *Daemon) startMetricsServer() {
	addr := fmt.Sprintf(":%d", d.config.Metrics.Port)
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())

	d.metricsSrv = &http.Server{Addr: addr, Handler: mux}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.zl.Info().Str("addr", addr).Msg("Metrics server listening")
		if err := d.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.zl.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// Stop stops the daemon and releases its resources
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return fmt.Errorf("daemon is not running")
	}

	d.zl.Info().Msg("Stopping daemon")

	if err := d.bot.Stop(); err != nil {
		d.zl.Warn().Err(err).Msg("Failed to stop Telegram bot")
	}

	cronCtx := d.scheduler.Stop()
	<-cronCtx.Done()

	if d.watcher != nil {
		d.watcher.Stop()
	}

	if d.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsSrv.Shutdown(shutdownCtx); err != nil {
			d.zl.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
		cancel()
	}

	d.cancel()
	d.wg.Wait()

	// Dispose live sessions, then flush the task log.
	d.store.Clear()
	if err := d.taskLog.Close(); err != nil {
		d.zl.Warn().Err(err).Msg("Failed to close task log")
	}

	d.running = false
	d.zl.Info().Dur("uptime", time.Since(d.startTime)).Msg("Daemon stopped")
	return nil
}

// IsRunning reports whether the daemon is running.
func (d *Daemon) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// Uptime returns how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return 0
	}
	return time.Since(d.startTime)
}

// InstanceID returns the unique ID of this daemon process.
func (d *Daemon) InstanceID() string {
	return d.instanceID
}
