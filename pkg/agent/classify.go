package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"
)

// Kind is the failure taxonomy surfaced to users and to the task log.
type Kind string

const (
	KindRateLimited        Kind = "rate_limited"
	KindServiceUnavailable Kind = "service_unavailable"
	KindCancelled          Kind = "cancelled"
	KindChannelDelivery    Kind = "channel_delivery"
	KindUnknown            Kind = "unknown"
)

// maxErrorLen bounds the detail kept for unclassified errors so a noisy
// provider cannot blow up logs or user-facing messages.
const maxErrorLen = 200

// ClassifiedError is a terminal failure with a short user-facing message
// and a status-like code.
type ClassifiedError struct {
	Kind    Kind
	Code    int
	Message string
}

func (e *ClassifiedError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Classify maps an error to the taxonomy. Context cancellation and deadline
// expiry map to KindCancelled regardless of message content.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{Kind: KindCancelled, Code: 499, Message: "request cancelled"}
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}
	return ClassifyMessage(err.Error(), 0)
}

// ClassifyMessage maps a raw failure description and optional HTTP-like
// status code to the taxonomy.
func ClassifyMessage(msg string, status int) *ClassifiedError {
	lower := strings.ToLower(msg)

	switch {
	case status == 429,
		strings.Contains(lower, "429"),
		strings.Contains(lower, "quota"),
		strings.Contains(lower, "rate limit"):
		return &ClassifiedError{Kind: KindRateLimited, Code: 429, Message: "provider rate limit hit, try again shortly"}

	case status >= 500,
		strings.Contains(lower, "500"), strings.Contains(lower, "502"),
		strings.Contains(lower, "503"), strings.Contains(lower, "504"),
		strings.Contains(lower, "unavailable"),
		strings.Contains(lower, "overloaded"):
		return &ClassifiedError{Kind: KindServiceUnavailable, Code: 503, Message: "provider is unavailable right now"}

	case strings.Contains(lower, "abort"),
		strings.Contains(lower, "cancel"),
		strings.Contains(lower, "deadline"):
		return &ClassifiedError{Kind: KindCancelled, Code: 499, Message: "request cancelled"}
	}

	return &ClassifiedError{Kind: KindUnknown, Code: 500, Message: truncate(msg, maxErrorLen)}
}

// retryNotice is the wire shape of an auto_retry_start payload: the outer
// error field carries another serialized error document.
type retryNotice struct {
	Error string `json:"error"`
}

type retryDetail struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// ClassifyAutoRetry unwraps the doubly nested serialized error carried by an
// auto-retry notification. Malformed or missing nesting falls back to
// KindUnknown with the raw text; it never panics.
func ClassifyAutoRetry(payload string) *ClassifiedError {
	var outer retryNotice
	if err := json.Unmarshal([]byte(payload), &outer); err != nil || outer.Error == "" {
		return &ClassifiedError{Kind: KindUnknown, Code: 500, Message: truncate(payload, maxErrorLen)}
	}

	var inner retryDetail
	if err := json.Unmarshal([]byte(outer.Error), &inner); err != nil || inner.Error.Message == "" {
		return ClassifyMessage(outer.Error, 0)
	}

	return ClassifyMessage(inner.Error.Message, inner.Error.Code)
}

// Retryable reports whether the session should silently retry the failure
// before giving up.
func Retryable(err error) bool {
	c := Classify(err)
	if c == nil {
		return false
	}
	return c.Kind == KindRateLimited || c.Kind == KindServiceUnavailable
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
