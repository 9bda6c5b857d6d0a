// Package ollama implements generative.Provider over a local Ollama server.
package ollama

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
	DefaultURL   = "http://localhost:11434"
	DefaultModel = "llama3"
)

// Provider calls the Ollama generate API with streaming disabled.
type Provider struct {
	client *resty.Client
	model  string
	retry  generative.RetryPolicy
}

// New creates a Provider. Empty base and model fall back to DefaultURL and DefaultModel.
func New(base, model string) *Provider {
	if base == "" {
		base = DefaultURL
	}
	if model == "" {
		model = DefaultModel
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(base, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(5 * time.Minute)
	return &Provider{client: c, model: model, retry: generative.DefaultRetryPolicy}
}

// WithRetryPolicy overrides the retry policy.
func (p *Provider) WithRetryPolicy(rp generative.RetryPolicy) *Provider {
	p.retry = rp
	return p
}

func (p *Provider) Name() string { return "ollama" }

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Complete generates a single non-streamed response for prompt.
func (p *Provider) Complete(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("empty prompt")
	}
	reqBody := generateRequest{Model: p.model, Prompt: prompt}

	var out string
	err := generative.Retry(ctx, p.retry, func() error {
		var gr generateResponse
		resp, err := p.client.R().
			SetContext(ctx).
			SetBody(&reqBody).
			SetResult(&gr).
			Post("/api/generate")
		if err != nil {
			return fmt.Errorf("ollama request: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return &generative.StatusError{Op: "ollama generate", StatusCode: resp.StatusCode(), Body: resp.String()}
		}
		if strings.TrimSpace(gr.Response) == "" {
			return generative.ErrEmptyCompletion
		}
		out = strings.TrimSpace(gr.Response)
		return nil
	})
	return out, err
}

// HealthPing checks that the Ollama server answers its version endpoint.
func (p *Provider) HealthPing(ctx context.Context) error {
	resp, err := p.client.R().SetContext(ctx).Get("/api/version")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("ollama status %d", resp.StatusCode())
	}
	return nil
}
