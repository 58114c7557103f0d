package agent

import "context"

// EventType identifies a session stream event.
type EventType string

const (
	EventTextDelta        EventType = "text_delta"
	EventToolCallStart    EventType = "tool_call_start"
	EventToolCallEnd      EventType = "tool_call_end"
	EventToolExecutionEnd EventType = "tool_execution_end"
	EventMessageEnd       EventType = "message_end"
	EventError            EventType = "error"
	EventAutoRetryStart   EventType = "auto_retry_start"
)

// Event is a single notification from a session stream. Consumers must
// ignore event types they do not recognize.
type Event struct {
	Type         EventType `json:"type"`
	Delta        string    `json:"delta,omitempty"`
	ToolName     string    `json:"tool_name,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	StatusCode   int       `json:"status_code,omitempty"`
}

// Profile configures a provider session.
type Profile struct {
	Provider     string  `json:"provider"` // "anthropic", "openai"
	Model        string  `json:"model"`
	APIKey       string  `json:"api_key"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

// Session is one live conversation with a provider. It owns the accumulated
// context and streams replies as events, in emission order.
type Session interface {
	// Submit starts generating a reply to prompt. It returns immediately;
	// progress is reported through subscribed event channels and always
	// terminates with a message_end event.
	Submit(ctx context.Context, prompt string) error

	// Subscribe registers an event listener. The returned function removes
	// the listener and is safe to call more than once.
	Subscribe() (<-chan Event, func())

	// Abort cooperatively cancels the in-flight reply, if any. The stream
	// still delivers its terminal message_end event.
	Abort()

	// Close disposes the session. It is idempotent and never fails loudly.
	Close() error
}

// Backend creates provider sessions.
type Backend interface {
	CreateSession(ctx context.Context, profile Profile) (Session, error)
}
