package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		status int
		kind   Kind
	}{
		{"http 429 status", "request failed", 429, KindRateLimited},
		{"quota substring", "daily quota exceeded for project", 0, KindRateLimited},
		{"rate limit substring", "rate limit reached", 0, KindRateLimited},
		{"http 503 status", "boom", 503, KindServiceUnavailable},
		{"unavailable substring", "service temporarily unavailable", 0, KindServiceUnavailable},
		{"overloaded substring", "Overloaded", 0, KindServiceUnavailable},
		{"abort substring", "request aborted by caller", 0, KindCancelled},
		{"fallback", "something odd happened", 0, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ClassifyMessage(tt.msg, tt.status)
			assert.Equal(t, tt.kind, c.Kind)
			assert.NotEmpty(t, c.Message)
		})
	}
}

func TestClassify_ContextErrors(t *testing.T) {
	c := Classify(context.Canceled)
	assert.Equal(t, KindCancelled, c.Kind)

	c = Classify(context.DeadlineExceeded)
	assert.Equal(t, KindCancelled, c.Kind)

	c = Classify(fmt.Errorf("run failed: %w", context.Canceled))
	assert.Equal(t, KindCancelled, c.Kind)
}

func TestClassify_PassesThroughClassified(t *testing.T) {
	orig := &ClassifiedError{Kind: KindRateLimited, Code: 429, Message: "slow down"}
	c := Classify(fmt.Errorf("wrapped: %w", orig))
	assert.Same(t, orig, c)
}

func TestClassify_UnknownTruncated(t *testing.T) {
	long := strings.Repeat("x", 1000)
	c := Classify(errors.New(long))
	assert.Equal(t, KindUnknown, c.Kind)
	assert.Len(t, c.Message, maxErrorLen)
}

func TestClassify_TruncationKeepsRuneBoundary(t *testing.T) {
	// 199 ASCII bytes followed by multi-byte runes puts the cut point
	// mid-rune unless truncation backs up.
	long := strings.Repeat("x", maxErrorLen-1) + strings.Repeat("é", 50)
	c := Classify(errors.New(long))
	assert.Equal(t, KindUnknown, c.Kind)
	assert.True(t, utf8.ValidString(c.Message))
	assert.LessOrEqual(t, len(c.Message), maxErrorLen)
	assert.Equal(t, strings.Repeat("x", maxErrorLen-1), c.Message)
}

func TestClassifyAutoRetry_NestedPayload(t *testing.T) {
	var inner retryDetail
	inner.Error.Message = "quota exhausted"
	inner.Error.Code = 429
	innerJSON, err := json.Marshal(inner)
	require.NoError(t, err)

	payload, err := json.Marshal(retryNotice{Error: string(innerJSON)})
	require.NoError(t, err)

	c := ClassifyAutoRetry(string(payload))
	assert.Equal(t, KindRateLimited, c.Kind)
}

func TestClassifyAutoRetry_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "complete garbage"},
		{"empty", ""},
		{"missing error field", `{"other":"field"}`},
		{"inner not json", `{"error":"not nested json"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				c := ClassifyAutoRetry(tt.payload)
				require.NotNil(t, c)
				assert.Equal(t, KindUnknown, c.Kind)
			})
		})
	}
}

func TestClassifyAutoRetry_InnerNotNestedButClassifiable(t *testing.T) {
	c := ClassifyAutoRetry(`{"error":"server unavailable, retrying"}`)
	assert.Equal(t, KindServiceUnavailable, c.Kind)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(errors.New("429 rate limit")))
	assert.True(t, Retryable(errors.New("service unavailable")))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(errors.New("invalid api key")))
	assert.False(t, Retryable(nil))
}
