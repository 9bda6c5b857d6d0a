// Package openai implements generative.Provider over the OpenAI chat completions API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/LanreCloud/minicoach/internal/generative"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-3.5-turbo"
	maxTokens      = 300
)

// Provider calls POST {base}/chat/completions with a single user message.
type Provider struct {
	client *resty.Client
	model  string
	retry  generative.RetryPolicy
}

// New creates a Provider. Empty baseURL and model fall back to the public API and DefaultModel.
func New(apiKey, baseURL, model string) *Provider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(apiKey).
		SetTimeout(30 * time.Second)
	return &Provider{client: c, model: model, retry: generative.DefaultRetryPolicy}
}

// WithRetryPolicy overrides the retry policy.
func (p *Provider) WithRetryPolicy(rp generative.RetryPolicy) *Provider {
	p.retry = rp
	return p
}

func (p *Provider) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete returns the first choice's content, trimmed.
func (p *Provider) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model:     p.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	}

	var out string
	err := generative.Retry(ctx, p.retry, func() error {
		var cr chatResponse
		resp, err := p.client.R().
			SetContext(ctx).
			SetBody(&reqBody).
			SetResult(&cr).
			Post("/chat/completions")
		if err != nil {
			return fmt.Errorf("openai request: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return &generative.StatusError{Op: "openai chat completion", StatusCode: resp.StatusCode(), Body: resp.String()}
		}
		if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
			return generative.ErrEmptyCompletion
		}
		out = strings.TrimSpace(cr.Choices[0].Message.Content)
		return nil
	})
	return out, err
}
