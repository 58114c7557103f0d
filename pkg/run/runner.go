package run

import (
	"context"
	"fmt"
	"time"

	"github.com/ferrybot/ferry/internal/observability"
	"github.com/ferrybot/ferry/pkg/agent"
	"github.com/ferrybot/ferry/pkg/sessions"
	"github.com/rs/zerolog"
)

// Task outcomes recorded in the task log.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// TaskRecord is one finished task for the persistence collaborator.
type TaskRecord struct {
	UserID   int64
	ChatID   int64
	Prompt   string
	Duration time.Duration
	Outcome  string
}

// TaskLog records task outcomes. Implementations must not block the
// response path.
type TaskLog interface {
	Record(rec TaskRecord)
}

// Config holds runner configuration.
type Config struct {
	// Timeout bounds one end-to-end task.
	Timeout time.Duration
	// Profile is the provider profile new sessions are created with.
	Profile agent.Profile
	// Stream carries the orchestrator knobs.
	Stream StreamConfig
}

// Runner executes one end-to-end request per incoming user message.
type Runner struct {
	cfg      Config
	backend  agent.Backend
	store    *sessions.Store
	lastMsg  *sessions.LastMessageCache
	registry *Registry
	channel  Channel
	taskLog  TaskLog
	logger   zerolog.Logger
}

// New creates a task runner.
func New(cfg Config, backend agent.Backend, store *sessions.Store, lastMsg *sessions.LastMessageCache, registry *Registry, channel Channel, taskLog TaskLog, logger zerolog.Logger) (*Runner, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("task registry is required")
	}
	if channel == nil {
		return nil, fmt.Errorf("channel is required")
	}

	observability.EnsureRegistered()

	return &Runner{
		cfg:      cfg,
		backend:  backend,
		store:    store,
		lastMsg:  lastMsg,
		registry: registry,
		channel:  channel,
		taskLog:  taskLog,
		logger:   logger.With().Str("component", "runner").Logger(),
	}, nil
}

// HandleMessage runs one task for an accepted user message. Concurrent
// messages for the same conversation are rejected with a notice, not
// queued.
func (r *Runner) HandleMessage(ctx context.Context, key sessions.Key, text string) {
	taskCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)

	if !r.registry.TryAcquire(key, cancel) {
		cancel()
		r.notify(key.ChatID, "Still working on your previous message. Use /stop to cancel it.")
		return
	}

	defer r.registry.Release(key)
	defer cancel()

	if r.lastMsg != nil {
		r.lastMsg.Put(key, text)
	}

	logger := r.logger.With().Str("key", key.String()).Logger()
	start := time.Now()

	sess, err := r.sessionFor(taskCtx, key)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create session")
		r.notify(key.ChatID, "Could not reach the model backend. Try again later.")
		r.record(key, text, time.Since(start), OutcomeError)
		return
	}

	st := newStream(r.channel, key.ChatID, r.cfg.Stream, logger)
	finalText, taskErr := st.run(taskCtx, sess, text)

	duration := time.Since(start)
	outcome := OutcomeOK
	if taskErr != nil {
		outcome = OutcomeError
		if taskErr.Kind == agent.KindCancelled {
			outcome = OutcomeCancelled
		}
		r.notify(key.ChatID, userMessage(taskErr))
	}

	r.record(key, text, duration, outcome)
	observability.RecordTask(outcome, duration)

	logger.Info().
		Str("outcome", outcome).
		Dur("duration", duration).
		Int("response_len", len(finalText)).
		Msg("Task finished")
}

// Retry re-runs the last accepted message for the conversation.
func (r *Runner) Retry(ctx context.Context, key sessions.Key) {
	if r.lastMsg == nil {
		return
	}
	text, ok := r.lastMsg.Get(key)
	if !ok {
		r.notify(key.ChatID, "Nothing to retry yet.")
		return
	}
	r.HandleMessage(ctx, key, text)
}

// Cancel aborts the running task for the conversation, if any.
func (r *Runner) Cancel(key sessions.Key) bool {
	cancelled := r.registry.Cancel(key)
	if cancelled {
		r.logger.Info().Str("key", key.String()).Msg("Task cancelled by user")
	}
	return cancelled
}

// Reset deletes the conversation's session so the next message starts
// fresh. The store's delete hook clears the last-message cache.
func (r *Runner) Reset(key sessions.Key) {
	r.store.Delete(key)
}

// Busy reports whether a task is running for the conversation.
func (r *Runner) Busy(key sessions.Key) bool {
	return r.registry.Running(key)
}

// sessionFor fetches the live session for key or creates and stores a new
// one.
func (r *Runner) sessionFor(ctx context.Context, key sessions.Key) (agent.Session, error) {
	if sess, ok := r.store.Get(key); ok {
		return sess, nil
	}

	sess, err := r.backend.CreateSession(ctx, r.cfg.Profile)
	if err != nil {
		return nil, err
	}
	r.store.Set(key, sess)
	return sess, nil
}

// record hands the outcome to the task log without blocking the response
// path.
func (r *Runner) record(key sessions.Key, text string, d time.Duration, outcome string) {
	if r.taskLog == nil {
		return
	}
	r.taskLog.Record(TaskRecord{
		UserID:   key.UserID,
		ChatID:   key.ChatID,
		Prompt:   text,
		Duration: d,
		Outcome:  outcome,
	})
}

// notify sends a plain informational message; failures are logged, never
// propagated.
func (r *Runner) notify(chatID int64, text string) {
	if _, err := r.channel.Send(context.Background(), chatID, text, Decoration{Kind: DecorationNone}); err != nil {
		r.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to send notice")
	}
}

// userMessage renders a classified failure for the user.
func userMessage(c *agent.ClassifiedError) string {
	switch c.Kind {
	case agent.KindRateLimited:
		return "⚠️ The model provider is rate limiting requests. Try again in a minute."
	case agent.KindServiceUnavailable:
		return "⚠️ The model provider is unavailable right now. Try again later."
	case agent.KindCancelled:
		return "✋ Stopped. Use /retry to run the last message again."
	default:
		return fmt.Sprintf("⚠️ Request failed (%d): %s", c.Code, c.Message)
	}
}
