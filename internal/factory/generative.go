package factory

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/LanreCloud/minicoach/internal/config"
	"github.com/LanreCloud/minicoach/internal/generative"
	"github.com/LanreCloud/minicoach/internal/generative/ollama"
	"github.com/LanreCloud/minicoach/internal/generative/openai"
)

// NewGenerativeProvider returns the configured backend, or nil when the
// service runs rule-based only.
// An Ollama backend gets an async warmup ping; failures are logged only.
func NewGenerativeProvider(ctx context.Context, cfg *config.Config, log zerolog.Logger) generative.Provider {
	switch cfg.GenerativeProvider {
	case config.ProviderOpenAI:
		return openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.GenerativeModel)
	case config.ProviderOllama:
		p := ollama.New(cfg.OllamaURL, cfg.GenerativeModel)
		go func() {
			warmupCtx, cancel := context.WithTimeout(ctx, bootstrapTimeout(cfg))
			defer cancel()
			if err := p.HealthPing(warmupCtx); err != nil {
				log.Warn().Err(err).Str("url", cfg.OllamaURL).Msg("generative provider warmup failed")
			} else {
				log.Debug().Str("url", cfg.OllamaURL).Msg("generative provider warmup completed")
			}
		}()
		return p
	case config.ProviderNone, "":
		return nil
	default:
		log.Warn().Str("provider", cfg.GenerativeProvider).Msg("unknown generative provider; staying rule-based")
		return nil
	}
}
