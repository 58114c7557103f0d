package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/ferrybot/ferry/internal/observability"
	"github.com/ferrybot/ferry/pkg/run"
)

// sender is the slice of the bot API the channel needs. *tgbotapi.BotAPI
// satisfies it.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Channel adapts the Telegram bot API to the orchestrator's outbound
// surface. Messages go out as Markdown; when Telegram rejects the markup the
// same text is retried as plain text, so formatting errors never lose
// content.
type Channel struct {
	api    sender
	logger zerolog.Logger
}

// NewChannel creates a Telegram-backed channel.
func NewChannel(api sender, logger zerolog.Logger) *Channel {
	observability.EnsureRegistered()
	return &Channel{
		api:    api,
		logger: logger.With().Str("component", "telegram.channel").Logger(),
	}
}

// Send creates a new message and returns its reference.
func (c *Channel) Send(_ context.Context, chatID int64, text string, deco run.Decoration) (run.MessageRef, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if kb := keyboardFor(deco); kb != nil {
		msg.ReplyMarkup = *kb
	}

	sent, err := c.api.Send(msg)
	if err != nil && isParseError(err) {
		observability.RecordPlainFallback()
		msg.ParseMode = ""
		sent, err = c.api.Send(msg)
	}
	if err != nil {
		return run.MessageRef{}, fmt.Errorf("failed to send message: %w", err)
	}

	observability.RecordMessageSent()
	return run.MessageRef{ChatID: chatID, MessageID: sent.MessageID}, nil
}

// Edit replaces the referenced message's text and decoration. Telegram's
// "message is not modified" rejection is treated as success.
func (c *Channel) Edit(_ context.Context, ref run.MessageRef, text string, deco run.Decoration) error {
	edit := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	edit.ReplyMarkup = keyboardFor(deco)

	_, err := c.api.Send(edit)
	if err != nil && isNotModified(err) {
		observability.RecordStreamEdit(true)
		return nil
	}
	if err != nil && isParseError(err) {
		observability.RecordPlainFallback()
		edit.ParseMode = ""
		_, err = c.api.Send(edit)
		if err != nil && isNotModified(err) {
			err = nil
		}
	}

	observability.RecordStreamEdit(err == nil)
	if err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

// Delete removes the referenced message.
func (c *Channel) Delete(_ context.Context, ref run.MessageRef) error {
	if _, err := c.api.Request(tgbotapi.NewDeleteMessage(ref.ChatID, ref.MessageID)); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// Typing signals the chat-level typing indicator.
func (c *Channel) Typing(_ context.Context, chatID int64) error {
	if _, err := c.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("failed to send typing action: %w", err)
	}
	return nil
}

// Callback data routed by the bot's update loop.
const (
	callbackStop  = "stop"
	callbackRetry = "retry"
	callbackNew   = "new"
	callbackNoop  = "noop"
)

// keyboardFor renders a decoration as an inline keyboard. A nil return means
// no keyboard, which on edits also clears a previous one.
func keyboardFor(deco run.Decoration) *tgbotapi.InlineKeyboardMarkup {
	switch deco.Kind {
	case run.DecorationStreaming:
		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("◼ Stop", callbackStop),
			),
		)
		return &kb

	case run.DecorationDone:
		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✓ "+formatElapsed(deco.Elapsed), callbackNoop),
				tgbotapi.NewInlineKeyboardButtonData("↻ Retry", callbackRetry),
				tgbotapi.NewInlineKeyboardButtonData("✚ New chat", callbackNew),
			),
		)
		return &kb

	default:
		return nil
	}
}

func formatElapsed(d time.Duration) string {
	secs := d.Seconds()
	if secs < 10 {
		return fmt.Sprintf("%.1fs", secs)
	}
	if secs < 60 {
		return fmt.Sprintf("%.0fs", secs)
	}
	return fmt.Sprintf("%dm%02ds", int(secs)/60, int(secs)%60)
}

func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}

// isParseError matches Telegram's markup rejections so the plain-text retry
// only fires for formatting problems, not transport failures.
func isParseError(err error) bool {
	s := err.Error()
	return strings.Contains(s, "can't parse entities") ||
		strings.Contains(s, "can't parse message text")
}
