package ai

import (
	"context"

	"github.com/suPer8Hu/medchat/internal/config"
)

// NewDefaultRegistry registers every provider this service knows about,
// each bound to its configured endpoint and credentials.
func NewDefaultRegistry(cfg config.Config) *Registry {
	reg := NewRegistry()
	reg.Register(providerGemini, func(ctx context.Context, model string) (Provider, error) {
		if model == "" {
			model = cfg.GeminiModel
		}
		return NewGeminiProvider(cfg.GeminiBaseURL, cfg.GeminiAPIKey, model), nil
	})
	reg.Register("openai", func(ctx context.Context, model string) (Provider, error) {
		if model == "" {
			model = cfg.OpenAIModel
		}
		return NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, model), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (Provider, error) {
		if model == "" {
			model = cfg.OpenRouterModel
		}
		return NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, model, "", "medchat"), nil
	})
	reg.Register(providerOllama, func(ctx context.Context, model string) (Provider, error) {
		if model == "" {
			model = cfg.OllamaModel
		}
		return NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})
	return reg
}
