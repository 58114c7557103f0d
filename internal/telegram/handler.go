package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/ferrybot/ferry/pkg/sessions"
)

// callbackAnswerer acknowledges callback queries. *Bot satisfies it.
type callbackAnswerer interface {
	AnswerCallback(id, text string) error
}

// Handler routes plain messages and inline-button callbacks into the task
// service.
type Handler struct {
	out    Replier
	ack    callbackAnswerer
	svc    Service
	logger zerolog.Logger
}

// NewHandler creates a message handler
func NewHandler(out Replier, ack callbackAnswerer, svc Service, logger zerolog.Logger) *Handler {
	return &Handler{
		out:    out,
		ack:    ack,
		svc:    svc,
		logger: logger.With().Str("component", "telegram.handler").Logger(),
	}
}

// HandleMessage runs one task for an incoming text message. The task blocks
// until the reply finishes streaming, so it runs off the update loop.
func (h *Handler) HandleMessage(update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}

	key := sessions.Key{UserID: msg.From.ID, ChatID: msg.Chat.ID}

	h.logger.Debug().
		Str("key", key.String()).
		Int("len", len(text)).
		Msg("Message received")

	go h.svc.HandleMessage(context.Background(), key, text)
	return nil
}

// HandleCallback routes an inline-button press.
func (h *Handler) HandleCallback(update tgbotapi.Update) error {
	cb := update.CallbackQuery
	if cb.Message == nil {
		return nil
	}

	key := sessions.Key{UserID: cb.From.ID, ChatID: cb.Message.Chat.ID}

	switch cb.Data {
	case callbackStop:
		if h.svc.Cancel(key) {
			return h.ack.AnswerCallback(cb.ID, "Stopping…")
		}
		return h.ack.AnswerCallback(cb.ID, "Nothing is running.")

	case callbackRetry:
		if h.svc.Busy(key) {
			return h.ack.AnswerCallback(cb.ID, "Still working…")
		}
		go h.svc.Retry(context.Background(), key)
		return h.ack.AnswerCallback(cb.ID, "Retrying…")

	case callbackNew:
		if h.svc.Busy(key) {
			h.svc.Cancel(key)
		}
		h.svc.Reset(key)
		if err := h.ack.AnswerCallback(cb.ID, ""); err != nil {
			return err
		}
		return h.out.Reply(key.ChatID, "Started a new conversation.", 0)

	case callbackNoop:
		return h.ack.AnswerCallback(cb.ID, "")

	default:
		return fmt.Errorf("unknown callback data %q", cb.Data)
	}
}
