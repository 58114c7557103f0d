package run

import (
	"context"
	"time"
)

// MessageRef identifies one outbound message on the channel.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// DecorationKind selects the interactive affordances attached to a message,
// distinct from its text content.
type DecorationKind int

const (
	// DecorationNone attaches nothing.
	DecorationNone DecorationKind = iota
	// DecorationStreaming shows the in-progress affordance (stop button).
	DecorationStreaming
	// DecorationDone shows the completion affordance (elapsed time and
	// retry/new-chat buttons).
	DecorationDone
)

// Decoration describes the affordances for one send or edit.
type Decoration struct {
	Kind    DecorationKind
	Elapsed time.Duration // rendered for DecorationDone
}

// Channel is the messaging side consumed by the orchestrator. All calls may
// fail due to external rate limiting; implementations log and return the
// error, and callers treat failures as non-fatal.
type Channel interface {
	Send(ctx context.Context, chatID int64, text string, deco Decoration) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, text string, deco Decoration) error
	Delete(ctx context.Context, ref MessageRef) error
	Typing(ctx context.Context, chatID int64) error
}
