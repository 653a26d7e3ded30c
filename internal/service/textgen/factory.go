// Package textgen provides the TextGenerator backends: Gemini, any
// OpenAI-compatible endpoint, and an offline lorem generator.
package textgen

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"branchtale/internal/config"
	"branchtale/internal/domain/services"
)

// Selection is the configured generator plus the models it should try
type Selection struct {
	Generator      services.TextGenerator
	Model          string
	FallbackModels []string
}

// New builds the generator named by cfg.LLMProvider
//
// Supported providers:
//   - "gemini" - Google Gemini models
//   - "openai" - OpenAI-compatible chat completions (OpenAI, Groq, OpenRouter)
//   - "lorem" - offline mock, no API key required
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Selection, error) {
	switch cfg.LLMProvider {
	case "gemini":
		gen, err := NewGeminiGenerator(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		logger.Info("text generator configured", "provider", gen.Name(), "model", cfg.GeminiModel, "fallbacks", cfg.GeminiFallbackModels)
		return &Selection{Generator: gen, Model: cfg.GeminiModel, FallbackModels: cfg.GeminiFallbackModels}, nil

	case "openai":
		gen, err := NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("text generator configured", "provider", gen.Name(), "model", cfg.OpenAIModel, "base_url", cfg.OpenAIBaseURL)
		return &Selection{Generator: gen, Model: cfg.OpenAIModel, FallbackModels: cfg.OpenAIFallbackModels}, nil

	case "lorem":
		logger.Warn("using lorem text generator; responses are placeholder text")
		return &Selection{Generator: NewLoremGenerator(20 * time.Millisecond), Model: "lorem-medium"}, nil

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}
}
