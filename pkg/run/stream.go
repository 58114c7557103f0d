package run

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ferrybot/ferry/pkg/agent"
	"github.com/rs/zerolog"
)

// StreamConfig carries the timing and sizing knobs of one streamed reply.
type StreamConfig struct {
	// Throttle is the minimum spacing between content edits.
	Throttle time.Duration
	// TypingInterval is the cadence of the liveness indicator, independent
	// of content updates.
	TypingInterval time.Duration
	// MaxMessageLen bounds outbound text; longer content shows a trailing
	// window behind a truncation marker.
	MaxMessageLen int
}

const (
	placeholderText  = "…"
	truncationMarker = "…\n"

	// drainGrace bounds how long finalization waits for the terminal event
	// after an abort was requested.
	drainGrace = 10 * time.Second
)

// stream drives one reply from a session event stream into throttled,
// idempotent edits of a single outbound message.
type stream struct {
	channel Channel
	chatID  int64
	cfg     StreamConfig
	logger  zerolog.Logger
	started time.Time

	mu        sync.Mutex
	buf       strings.Builder
	toolName  string
	lastShown string
	ref       MessageRef
	hasRef    bool
	busy      bool
	lastErr   *agent.ClassifiedError
}

func newStream(channel Channel, chatID int64, cfg StreamConfig, logger zerolog.Logger) *stream {
	return &stream{
		channel: channel,
		chatID:  chatID,
		cfg:     cfg,
		logger:  logger.With().Int64("chat_id", chatID).Logger(),
	}
}

// run submits prompt to the session and consumes its event stream until the
// terminal event, editing the outbound message as content arrives. It
// returns the final text; a nil error means the text was delivered. With no
// content and a terminal failure, the placeholder is removed and the
// classified failure returned.
func (st *stream) run(ctx context.Context, sess agent.Session, prompt string) (string, *agent.ClassifiedError) {
	st.started = time.Now()

	// One placeholder message per invocation. Failure to create it is
	// tolerated; flushes check for message presence first.
	ref, err := st.channel.Send(ctx, st.chatID, placeholderText, Decoration{Kind: DecorationStreaming})
	if err != nil {
		st.logger.Warn().Err(err).Msg("Failed to create placeholder message")
	} else {
		st.ref = ref
		st.hasRef = true
	}

	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	// Both periodic tasks stop before finalization completes.
	tickersDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go st.typingLoop(tickersDone, &wg)
	go st.throttleLoop(tickersDone, &wg)

	if err := sess.Submit(ctx, prompt); err != nil {
		close(tickersDone)
		wg.Wait()
		st.setErr(agent.Classify(err))
		return st.finalize()
	}

	aborted := false
	done := ctx.Done()
	var drain <-chan time.Time

consume:
	for {
		select {
		case <-done:
			// Cooperative cancellation: ask the session to stop, then keep
			// consuming until its terminal event arrives.
			sess.Abort()
			aborted = true
			done = nil
			drain = time.After(drainGrace)

		case <-drain:
			st.logger.Warn().Msg("Session did not deliver terminal event after abort")
			st.setErr(&agent.ClassifiedError{Kind: agent.KindCancelled, Code: 499, Message: "request cancelled"})
			break consume

		case ev := <-events:
			switch ev.Type {
			case agent.EventTextDelta:
				st.append(ev.Delta)

			case agent.EventToolCallStart:
				// Tool status is latency-sensitive; update out of band.
				st.setTool(ev.ToolName)
				st.maybeUpdate()

			case agent.EventToolCallEnd:
				// Syntactic end only; the tool's side effects may still be
				// running, so the status stays up.

			case agent.EventToolExecutionEnd:
				st.setTool("")
				st.maybeUpdate()

			case agent.EventAutoRetryStart:
				st.setErr(agent.ClassifyAutoRetry(ev.ErrorMessage))

			case agent.EventError:
				st.setErr(agent.ClassifyMessage(ev.ErrorMessage, ev.StatusCode))

			case agent.EventMessageEnd:
				if ev.ErrorMessage != "" {
					st.setErr(agent.ClassifyMessage(ev.ErrorMessage, 0))
				} else if !aborted {
					st.clearErr()
				}
				break consume

			default:
				// Unrecognized event kinds are ignored, not fatal.
			}
		}
	}

	close(tickersDone)
	wg.Wait()

	if aborted {
		st.overrideErrIfEmpty(&agent.ClassifiedError{Kind: agent.KindCancelled, Code: 499, Message: "request cancelled"})
	}

	return st.finalize()
}

// typingLoop signals liveness on a fixed interval until stopped.
func (st *stream) typingLoop(done <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	if err := st.channel.Typing(context.Background(), st.chatID); err != nil {
		st.logger.Debug().Err(err).Msg("Typing signal failed")
	}

	ticker := time.NewTicker(st.cfg.TypingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := st.channel.Typing(context.Background(), st.chatID); err != nil {
				st.logger.Debug().Err(err).Msg("Typing signal failed")
			}
		}
	}
}

// throttleLoop flushes unsent content at most once per throttle interval.
func (st *stream) throttleLoop(done <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(st.cfg.Throttle)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			st.maybeUpdate()
		}
	}
}

func (st *stream) append(delta string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.buf.WriteString(delta)
}

func (st *stream) setTool(name string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.toolName = name
}

func (st *stream) setErr(c *agent.ClassifiedError) {
	st.mu.Lock()
	defer st.mu.Unlock()
	// Later classifications overwrite earlier ones; only the terminal error
	// is surfaced.
	st.lastErr = c
}

func (st *stream) clearErr() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastErr = nil
}

func (st *stream) overrideErrIfEmpty(c *agent.ClassifiedError) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.lastErr == nil {
		st.lastErr = c
	}
}

// maybeUpdate performs one throttled edit. It is a no-op while another edit
// is in flight (edits are serialized, not concurrent) and when the composed
// text matches what is already displayed.
func (st *stream) maybeUpdate() {
	st.mu.Lock()
	if st.busy || !st.hasRef {
		st.mu.Unlock()
		return
	}
	text := st.composeLocked(true)
	if text == "" || text == st.lastShown {
		st.mu.Unlock()
		return
	}
	st.busy = true
	ref := st.ref
	st.mu.Unlock()

	err := st.channel.Edit(context.Background(), ref, text, Decoration{Kind: DecorationStreaming})

	st.mu.Lock()
	st.busy = false
	if err == nil {
		st.lastShown = text
	}
	st.mu.Unlock()

	if err != nil {
		st.logger.Warn().Err(err).Msg("Streaming edit failed")
	}
}

// composeLocked renders the outbound text: accumulated content, tool status
// (placeholder when no text yet, suffix otherwise), and the trailing-window
// truncation. Caller holds st.mu.
func (st *stream) composeLocked(withTool bool) string {
	text := st.buf.String()

	if withTool && st.toolName != "" {
		status := "⚙ " + st.toolName + "…"
		if text == "" {
			text = status
		} else {
			text = text + "\n\n" + status
		}
	}

	if st.cfg.MaxMessageLen > 0 && len(text) > st.cfg.MaxMessageLen {
		window := st.cfg.MaxMessageLen - len(truncationMarker)
		tail := text[len(text)-window:]
		// Do not cut into the middle of a rune.
		for len(tail) > 0 && !utf8RuneStart(tail[0]) {
			tail = tail[1:]
		}
		text = truncationMarker + tail
	}

	return text
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// finalize performs the single mandatory final flush and resolves the
// terminal state. All timers are already stopped and the subscription is
// released by the caller's defer.
func (st *stream) finalize() (string, *agent.ClassifiedError) {
	st.mu.Lock()
	text := st.composeLocked(false)
	lastErr := st.lastErr
	ref := st.ref
	hasRef := st.hasRef
	st.mu.Unlock()

	elapsed := time.Since(st.started)

	if text == "" {
		// Nothing was produced; remove the placeholder rather than leaving
		// an empty message behind.
		if hasRef {
			if err := st.channel.Delete(context.Background(), ref); err != nil {
				st.logger.Warn().Err(err).Msg("Failed to delete placeholder message")
			}
		}
		if lastErr == nil {
			lastErr = &agent.ClassifiedError{Kind: agent.KindUnknown, Code: 500, Message: "the model returned no content"}
		}
		return "", lastErr
	}

	// Content exists: it is always delivered, error or not, with the
	// completion decoration marking the state transition.
	deco := Decoration{Kind: DecorationDone, Elapsed: elapsed}
	if hasRef {
		if err := st.channel.Edit(context.Background(), ref, text, deco); err != nil {
			st.logger.Warn().Err(err).Msg("Final edit failed")
		}
	} else {
		if _, err := st.channel.Send(context.Background(), st.chatID, text, deco); err != nil {
			st.logger.Warn().Err(err).Msg("Final send failed")
		}
	}

	if lastErr != nil {
		st.logger.Warn().Str("kind", string(lastErr.Kind)).Msg("Delivered partial content despite terminal error")
	}

	return text, nil
}
