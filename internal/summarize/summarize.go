// Package summarize condenses post text with an LLM before it is stored
// alongside the post.
package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Summarizer condenses a post's text into a short summary.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// OpenAISummarizer implements Summarizer with the OpenAI chat completions API.
type OpenAISummarizer struct {
	client openai.Client
	model  string
}

// NewOpenAISummarizer creates a summarizer backed by OpenAI.
func NewOpenAISummarizer(apiKey, model string) (*OpenAISummarizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key cannot be empty")
	}
	if model == "" {
		model = string(openai.ChatModelGPT3_5Turbo)
	}
	return &OpenAISummarizer{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

// Summarize returns a 3-sentence summary of the given text. Empty input
// yields an empty summary without an API call.
func (s *OpenAISummarizer) Summarize(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", nil
	}

	prompt := fmt.Sprintf("Summarize the following Facebook post in 3 sentences:\n%s", text)
	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Noop is a Summarizer that produces no summary. It stands in when no API
// key is configured so a harvest run stores posts with a NULL summary
// instead of failing.
type Noop struct{}

// Summarize always returns an empty summary.
func (Noop) Summarize(ctx context.Context, text string) (string, error) {
	return "", nil
}
