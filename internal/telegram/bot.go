package telegram

import (
	"context"
	"fmt"
	"sync/atomic"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/ferrybot/ferry/internal/config"
	"github.com/ferrybot/ferry/internal/observability"
	"github.com/ferrybot/ferry/pkg/sessions"
)

// Service is the task surface the bot drives. *run.Runner satisfies it.
type Service interface {
	HandleMessage(ctx context.Context, key sessions.Key, text string)
	Retry(ctx context.Context, key sessions.Key)
	Cancel(key sessions.Key) bool
	Reset(key sessions.Key)
	Busy(key sessions.Key) bool
}

// Bot represents a Telegram bot instance
type Bot struct {
	api      *tgbotapi.BotAPI
	config   *config.TelegramConfig
	logger   zerolog.Logger
	commands *Commands
	handler  *Handler

	running atomic.Bool
	updates tgbotapi.UpdatesChannel
}

// New creates a new Telegram bot instance
func New(cfg *config.TelegramConfig, svc Service, tasks TaskReader, log zerolog.Logger) (*Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telegram config is required")
	}
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if svc == nil {
		return nil, fmt.Errorf("service is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	return NewWithAPI(api, cfg, svc, tasks, log)
}

// NewWithAPI wires a bot around an existing API client.
func NewWithAPI(api *tgbotapi.BotAPI, cfg *config.TelegramConfig, svc Service, tasks TaskReader, log zerolog.Logger) (*Bot, error) {
	logger := log.With().Str("component", "telegram").Logger()

	b := &Bot{
		api:    api,
		config: cfg,
		logger: logger,
	}
	b.handler = NewHandler(b, b, svc, logger)
	b.commands = NewCommands(b, svc, tasks, logger)

	b.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")

	return b, nil
}

// API returns the underlying bot API, for constructing the outbound channel.
func (b *Bot) API() *tgbotapi.BotAPI {
	return b.api
}

// Start starts the bot and begins processing updates
func (b *Bot) Start() error {
	if !b.running.CompareAndSwap(false, true) {
		return fmt.Errorf("bot is already running")
	}

	b.logger.Info().Msg("Starting Telegram bot")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	b.updates = b.api.GetUpdatesChan(u)

	go b.processUpdates()

	if err := b.publishCommandList(); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to publish command list")
	}

	b.logger.Info().Msg("Telegram bot started")
	return nil
}

// Stop stops the bot
func (b *Bot) Stop() error {
	if !b.running.CompareAndSwap(true, false) {
		return fmt.Errorf("bot is not running")
	}

	b.logger.Info().Msg("Stopping Telegram bot")
	b.api.StopReceivingUpdates()
	b.logger.Info().Msg("Telegram bot stopped")
	return nil
}

// IsRunning returns whether the bot is running
func (b *Bot) IsRunning() bool {
	return b.running.Load()
}

func (b *Bot) processUpdates() {
	for update := range b.updates {
		if !b.running.Load() {
			break
		}
		if err := b.handleUpdate(update); err != nil {
			b.logger.Error().
				Err(err).
				Int("update_id", update.UpdateID).
				Msg("Failed to handle update")
		}
	}
}

// handleUpdate routes an update to the appropriate handler
func (b *Bot) handleUpdate(update tgbotapi.Update) error {
	if update.CallbackQuery != nil {
		if !b.allowed(update.CallbackQuery.From.ID) {
			return nil
		}
		return b.handler.HandleCallback(update)
	}

	if update.Message == nil {
		return nil
	}

	if !b.allowed(update.Message.From.ID) {
		b.logger.Debug().
			Int64("user_id", update.Message.From.ID).
			Msg("Message from user outside allowlist ignored")
		return nil
	}

	observability.RecordMessageReceived()

	if update.Message.IsCommand() {
		return b.commands.HandleCommand(update)
	}
	return b.handler.HandleMessage(update)
}

// allowed applies the user allowlist; an empty list means open access.
func (b *Bot) allowed(userID int64) bool {
	if len(b.config.Allowlist) == 0 {
		return true
	}
	for _, id := range b.config.Allowlist {
		if id == userID {
			return true
		}
	}
	return false
}

// Reply sends a plain text message, optionally as a reply.
func (b *Bot) Reply(chatID int64, text string, replyTo int) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if replyTo != 0 {
		msg.ReplyToMessageID = replyTo
	}
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// AnswerCallback acknowledges an inline-button press.
func (b *Bot) AnswerCallback(id, text string) error {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		return fmt.Errorf("failed to answer callback: %w", err)
	}
	return nil
}

// publishCommandList registers the command menu with Telegram.
func (b *Bot) publishCommandList() error {
	cfg := tgbotapi.NewSetMyCommands(b.commands.List()...)
	if _, err := b.api.Request(cfg); err != nil {
		return fmt.Errorf("failed to set commands: %w", err)
	}
	return nil
}
