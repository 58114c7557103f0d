package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

// newOpenAISession creates a session streaming from the OpenAI chat
// completions API.
func newOpenAISession(profile Profile, logger zerolog.Logger) Session {
	client := openai.NewClient(option.WithAPIKey(profile.APIKey))

	stream := func(ctx context.Context, turns []turn, emit func(Event)) (string, error) {
		return openaiStream(ctx, client, profile, turns, emit)
	}

	return newSession(profile, stream, logger)
}

func openaiStream(ctx context.Context, client openai.Client, profile Profile, turns []turn, emit func(Event)) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if profile.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(profile.SystemPrompt))
	}
	for _, t := range turns {
		switch t.Role {
		case "user":
			messages = append(messages, openai.UserMessage(t.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(t.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(profile.Model),
		Messages: messages,
	}
	if profile.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(profile.MaxTokens))
	}
	if profile.Temperature > 0 {
		params.Temperature = openai.Float(profile.Temperature)
	}

	stream := client.Chat.Completions.NewStreaming(ctx, params)

	var text strings.Builder

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			emit(Event{Type: EventTextDelta, Delta: delta.Content})
		}
	}

	if err := stream.Err(); err != nil {
		return "", err
	}

	if text.Len() == 0 {
		return "", fmt.Errorf("no response choices returned")
	}

	return text.String(), nil
}
