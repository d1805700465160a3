package intent

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// DefaultModel is used when no model is named explicitly.
const DefaultModel = "gpt-4o-mini"

// OpenAITranslator implements Translator on the OpenAI chat API.
type OpenAITranslator struct {
	client openai.Client
	model  string
}

// NewOpenAITranslator builds a translator from an explicit key and model.
func NewOpenAITranslator(apiKey, model string) *OpenAITranslator {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAITranslator{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// OpenAIFromEnv builds a translator from OPENAI_API_KEY and optional
// OPENAI_MODEL. Returns nil when no key is present, which selects the
// rule-based fallback path.
func OpenAIFromEnv() *OpenAITranslator {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil
	}
	return NewOpenAITranslator(key, os.Getenv("OPENAI_MODEL"))
}

// Translate sends one chat completion request and returns the raw text.
func (t *OpenAITranslator) Translate(ctx context.Context, system, user string) (string, error) {
	resp, err := t.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(t.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", fmt.Errorf("intent: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("intent: empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}
