package agent

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
)

// newAnthropicSession creates a session streaming from the Anthropic
// Messages API.
func newAnthropicSession(profile Profile, logger zerolog.Logger) Session {
	client := anthropic.NewClient(option.WithAPIKey(profile.APIKey))

	stream := func(ctx context.Context, turns []turn, emit func(Event)) (string, error) {
		return anthropicStream(ctx, client, profile, turns, emit)
	}

	return newSession(profile, stream, logger)
}

func anthropicStream(ctx context.Context, client anthropic.Client, profile Profile, turns []turn, emit func(Event)) (string, error) {
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case "user":
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Content)))
		case "assistant":
			messages = append(messages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(t.Content),
				},
			})
		}
	}

	maxTokens := profile.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(profile.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if profile.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: profile.SystemPrompt}}
	}
	if profile.Temperature > 0 {
		params.Temperature = anthropic.Float(profile.Temperature)
	}

	stream := client.Messages.NewStreaming(ctx, params)

	var text strings.Builder

	// Server-side tool use arrives as its own content blocks; execution is
	// considered finished once the stream moves past the tool block.
	toolOpen := false
	toolExecuting := false

	finishTool := func() {
		if toolOpen {
			emit(Event{Type: EventToolCallEnd})
			toolOpen = false
		}
		if toolExecuting {
			emit(Event{Type: EventToolExecutionEnd})
			toolExecuting = false
		}
	}

	for stream.Next() {
		event := stream.Current()

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			switch block := ev.ContentBlock.AsAny().(type) {
			case anthropic.ToolUseBlock:
				finishTool()
				emit(Event{Type: EventToolCallStart, ToolName: block.Name})
				toolOpen = true
				toolExecuting = true
			case anthropic.ServerToolUseBlock:
				finishTool()
				emit(Event{Type: EventToolCallStart, ToolName: string(block.Name)})
				toolOpen = true
				toolExecuting = true
			default:
				finishTool()
			}

		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				text.WriteString(delta.Text)
				emit(Event{Type: EventTextDelta, Delta: delta.Text})
			}

		case anthropic.ContentBlockStopEvent:
			if toolOpen {
				emit(Event{Type: EventToolCallEnd})
				toolOpen = false
			}

		case anthropic.MessageStopEvent:
			finishTool()
		}
	}

	if err := stream.Err(); err != nil {
		return "", err
	}

	finishTool()
	return text.String(), nil
}
