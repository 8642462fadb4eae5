// Package cleanup provides transcript cleanup backed by an OpenAI-compatible
// chat completion API.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

const systemPrompt = `You clean up transcripts of shopkeepers reporting stock changes.
Rewrite spelled-out numbers as digits and fix the spelling of product names.
Keep the language, word order and meaning. Do not add or remove items.
Answer with the corrected text only.`

// OpenAICleaner implements port.TextCleaner with a single chat completion.
type OpenAICleaner struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL    string
	maxRetries int
}

// Option is a functional option for OpenAICleaner.
type Option func(*config)

// WithBaseURL targets an OpenAI-compatible endpoint other than the default.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithMaxRetries sets how often the client retries a failed request.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

func NewOpenAICleaner(apiKey, model string, opts ...Option) (*OpenAICleaner, error) {
	if apiKey == "" {
		return nil, errors.New("cleanup: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("cleanup: model must not be empty")
	}

	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &OpenAICleaner{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Clean returns the model's rewrite of text. The caller bounds the call with ctx.
func (c *OpenAICleaner) Clean(ctx context.Context, text, language string) (string, error) {
	prompt := systemPrompt
	if language != "" {
		prompt += "\nThe transcript language code is " + language + "."
	}

	resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(prompt),
			oai.UserMessage(text),
		},
		Temperature: param.NewOpt(0.0),
	})
	if err != nil {
		return "", fmt.Errorf("cleanup: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("cleanup: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
