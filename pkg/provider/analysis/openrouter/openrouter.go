// Package openrouter provides an analysis provider backed by the OpenRouter
// chat completions API, reached through the OpenAI SDK with an overridden
// base URL.
package openrouter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/talkwire/pkg/provider/analysis"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "xiaomi/mimo-v2-flash:free"
)

// Provider implements analysis.Provider using OpenRouter.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenRouter base URL, used in tests.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel overrides the default analysis model.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenRouter analysis Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openrouter: apiKey must not be empty")
	}

	cfg := &config{
		baseURL: defaultBaseURL,
		model:   defaultModel,
		timeout: 60 * time.Second,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(cfg.baseURL),
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
	}, nil
}

// Analyze implements analysis.Provider.
func (p *Provider) Analyze(ctx context.Context, req analysis.Request) (string, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	resp, err := p.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(analysis.SystemPrompt),
			oai.UserMessage(analysis.UserPrompt(req)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openrouter: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openrouter: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

var _ analysis.Provider = (*Provider)(nil)
