package analyzer

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Backend is a structured-completion call against an evaluation service: a
// system instruction plus a user prompt in, JSON-shaped text out.
type Backend interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// OpenAIBackend implements Backend over the OpenAI chat completions API,
// forcing JSON object responses.
type OpenAIBackend struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIBackend builds the production evaluation backend. A missing API
// key is a structural error: continuing would silently score nothing.
func NewOpenAIBackend(apiKey, model string, temperature float32) (*OpenAIBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("analyzer: OpenAI API key is missing")
	}
	return &OpenAIBackend{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
	}, nil
}

// Complete issues one chat completion and returns the raw response text.
func (b *OpenAIBackend) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Temperature: b.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
