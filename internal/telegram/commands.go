package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/ferrybot/ferry/internal/store"
	"github.com/ferrybot/ferry/pkg/sessions"
)

// Replier sends plain text replies. *Bot satisfies it.
type Replier interface {
	Reply(chatID int64, text string, replyTo int) error
}

// TaskReader serves the status command. *store.TaskLog satisfies it.
type TaskReader interface {
	Recent(chatID int64, n int) ([]store.TaskEntry, error)
}

// Commands routes bot commands to their handlers
type Commands struct {
	out      Replier
	svc      Service
	tasks    TaskReader
	logger   zerolog.Logger
	handlers map[string]CommandFunc
}

// CommandFunc is a function that handles a command
type CommandFunc func(CommandContext) error

// CommandContext contains command metadata
type CommandContext struct {
	ChatID    int64
	MessageID int
	UserID    int64
	Username  string
	Command   string
	Args      []string
}

// NewCommands creates a command router with the built-in command set.
func NewCommands(out Replier, svc Service, tasks TaskReader, logger zerolog.Logger) *Commands {
	c := &Commands{
		out:      out,
		svc:      svc,
		tasks:    tasks,
		logger:   logger.With().Str("component", "telegram.commands").Logger(),
		handlers: make(map[string]CommandFunc),
	}

	c.Register("start", c.cmdStart)
	c.Register("help", c.cmdHelp)
	c.Register("new", c.cmdNew)
	c.Register("stop", c.cmdStop)
	c.Register("retry", c.cmdRetry)
	c.Register("status", c.cmdStatus)

	return c
}

// HandleCommand processes incoming commands
func (c *Commands) HandleCommand(update tgbotapi.Update) error {
	if update.Message == nil || !update.Message.IsCommand() {
		return nil
	}

	msg := update.Message
	command := msg.Command()

	ctx := CommandContext{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		UserID:    msg.From.ID,
		Username:  msg.From.UserName,
		Command:   command,
		Args:      strings.Fields(msg.CommandArguments()),
	}

	c.logger.Debug().
		Int64("chat_id", ctx.ChatID).
		Str("command", command).
		Msg("Command received")

	handler, exists := c.handlers[command]
	if !exists {
		return c.out.Reply(ctx.ChatID, fmt.Sprintf("Unknown command: /%s", command), ctx.MessageID)
	}
	return handler(ctx)
}

// Register registers a command handler
func (c *Commands) Register(command string, handler CommandFunc) {
	c.handlers[command] = handler
}

// List returns the published command set, in display order.
func (c *Commands) List() []tgbotapi.BotCommand {
	return []tgbotapi.BotCommand{
		{Command: "new", Description: "Start a fresh conversation"},
		{Command: "stop", Description: "Cancel the running request"},
		{Command: "retry", Description: "Run the last message again"},
		{Command: "status", Description: "Show recent activity"},
		{Command: "help", Description: "Show available commands"},
	}
}

func (c *Commands) key(ctx CommandContext) sessions.Key {
	return sessions.Key{UserID: ctx.UserID, ChatID: ctx.ChatID}
}

func (c *Commands) cmdStart(ctx CommandContext) error {
	return c.out.Reply(ctx.ChatID,
		"Hi! Send me a message and I'll pass it on to the assistant.\n"+
			"Replies stream in as they are generated. Use /help for commands.",
		ctx.MessageID)
}

func (c *Commands) cmdHelp(ctx CommandContext) error {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, cmd := range c.List() {
		fmt.Fprintf(&b, "/%s – %s\n", cmd.Command, cmd.Description)
	}
	return c.out.Reply(ctx.ChatID, b.String(), ctx.MessageID)
}

func (c *Commands) cmdNew(ctx CommandContext) error {
	key := c.key(ctx)
	if c.svc.Busy(key) {
		c.svc.Cancel(key)
	}
	c.svc.Reset(key)
	return c.out.Reply(ctx.ChatID, "Started a new conversation.", ctx.MessageID)
}

func (c *Commands) cmdStop(ctx CommandContext) error {
	if c.svc.Cancel(c.key(ctx)) {
		return c.out.Reply(ctx.ChatID, "Stopping…", ctx.MessageID)
	}
	return c.out.Reply(ctx.ChatID, "Nothing is running.", ctx.MessageID)
}

func (c *Commands) cmdRetry(ctx CommandContext) error {
	key := c.key(ctx)
	if c.svc.Busy(key) {
		return c.out.Reply(ctx.ChatID, "Still working on your previous message. Use /stop to cancel it.", ctx.MessageID)
	}
	go c.svc.Retry(context.Background(), key)
	return nil
}

func (c *Commands) cmdStatus(ctx CommandContext) error {
	key := c.key(ctx)

	var b strings.Builder
	if c.svc.Busy(key) {
		b.WriteString("A request is running right now.\n")
	} else {
		b.WriteString("Idle.\n")
	}

	if c.tasks != nil {
		entries, err := c.tasks.Recent(ctx.ChatID, 5)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to read recent tasks")
		} else if len(entries) > 0 {
			b.WriteString("\nRecent requests:\n")
			for _, e := range entries {
				d := time.Duration(e.DurationMS) * time.Millisecond
				fmt.Fprintf(&b, "• %s, %s (%s)\n", e.Outcome, d.Round(100*time.Millisecond), e.CreatedAt.Format("15:04"))
			}
		}
	}

	return c.out.Reply(ctx.ChatID, b.String(), ctx.MessageID)
}
