package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// eventBuffer sizes each subscriber channel; a stalled subscriber drops
	// events rather than blocking the stream.
	eventBuffer = 256

	// maxAttempts bounds silent retries of transient provider failures.
	maxAttempts = 3
)

// streamFunc runs one provider round trip, emitting deltas and tool events
// along the way, and returns the full reply text.
type streamFunc func(ctx context.Context, turns []turn, emit func(Event)) (string, error)

type turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// session is the shared provider-agnostic half of a live conversation:
// accumulated history, subscriber fan-out, and the retry/abort plumbing
// around a single in-flight reply.
type session struct {
	profile Profile
	stream  streamFunc
	logger  zerolog.Logger

	mu      sync.Mutex
	history []turn
	subs    map[int]chan Event
	nextSub int
	cancel  context.CancelFunc
	closed  bool
}

func newSession(profile Profile, stream streamFunc, logger zerolog.Logger) *session {
	return &session{
		profile: profile,
		stream:  stream,
		logger:  logger.With().Str("provider", profile.Provider).Logger(),
		subs:    make(map[int]chan Event),
	}
}

// Submit starts generating a reply to prompt. Only one reply may be in
// flight at a time.
func (s *session) Submit(ctx context.Context, prompt string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session is closed")
	}
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("a reply is already in flight")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.history = append(s.history, turn{Role: "user", Content: prompt})
	turns := make([]turn, len(s.history))
	copy(turns, s.history)
	s.mu.Unlock()

	go s.run(runCtx, turns)

	return nil
}

// run drives the provider stream with bounded retries on transient errors
// and always finishes with a message_end event.
func (s *session) run(ctx context.Context, turns []turn) {
	defer func() {
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.mu.Unlock()
	}()

	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		text, err := s.stream(ctx, turns, s.emit)
		if err == nil {
			s.mu.Lock()
			s.history = append(s.history, turn{Role: "assistant", Content: text})
			s.mu.Unlock()
			s.emit(Event{Type: EventMessageEnd})
			return
		}

		lastErr = err
		if ctx.Err() != nil || !Retryable(err) || attempt == maxAttempts-1 {
			break
		}

		s.emit(Event{Type: EventAutoRetryStart, ErrorMessage: retryPayload(err)})
		s.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Retrying after transient provider error")

		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
		case <-time.After(time.Duration(1<<attempt) * time.Second):
			continue
		}
		break
	}

	classified := Classify(lastErr)
	s.emit(Event{Type: EventError, ErrorMessage: classified.Message, StatusCode: classified.Code})
	s.emit(Event{Type: EventMessageEnd, ErrorMessage: lastErr.Error()})
}

// retryPayload serializes an error the way auto-retry notifications carry
// it: an error document embedded as a string inside another one.
func retryPayload(err error) string {
	c := Classify(err)

	var inner retryDetail
	inner.Error.Message = err.Error()
	inner.Error.Code = c.Code
	innerJSON, merr := json.Marshal(inner)
	if merr != nil {
		return err.Error()
	}

	payload, merr := json.Marshal(retryNotice{Error: string(innerJSON)})
	if merr != nil {
		return err.Error()
	}
	return string(payload)
}

// Subscribe registers an event listener.
func (s *session) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, eventBuffer)
	s.subs[id] = ch

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}

	return ch, unsubscribe
}

// emit delivers an event to every subscriber, dropping it for subscribers
// whose buffer is full.
func (s *session) emit(ev Event) {
	s.mu.Lock()
	channels := make([]chan Event, 0, len(s.subs))
	for _, ch := range s.subs {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	for _, ch := range channels {
		select {
		case ch <- ev:
		default:
			s.logger.Warn().Str("event", string(ev.Type)).Msg("Subscriber buffer full, dropping event")
		}
	}
}

// Abort cooperatively cancels the in-flight reply, if any.
func (s *session) Abort() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		s.logger.Debug().Msg("Aborting in-flight reply")
		cancel()
	}
}

// Close aborts any in-flight reply and disposes the session. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.logger.Debug().Msg("Session closed")
	return nil
}

// ProviderBackend creates sessions against the real provider SDKs.
type ProviderBackend struct {
	logger zerolog.Logger
}

// NewBackend creates a provider-backed session factory.
func NewBackend(logger zerolog.Logger) *ProviderBackend {
	return &ProviderBackend{logger: logger.With().Str("component", "agent").Logger()}
}

// CreateSession builds a session for the profile's provider.
func (b *ProviderBackend) CreateSession(_ context.Context, profile Profile) (Session, error) {
	if profile.APIKey == "" {
		return nil, fmt.Errorf("profile has no API key")
	}
	if profile.Model == "" {
		return nil, fmt.Errorf("profile has no model")
	}

	switch profile.Provider {
	case "anthropic":
		return newAnthropicSession(profile, b.logger), nil
	case "openai":
		return newOpenAISession(profile, b.logger), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", profile.Provider)
	}
}
