// File: internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/elara-sec/verdict/api/schemas"
	"github.com/elara-sec/verdict/internal/config"
)

// NoopClient satisfies schemas.LLMClient when no provider is configured.
// Callers treat its error as a degradable condition.
type NoopClient struct{}

func (NoopClient) Generate(_ context.Context, _ schemas.GenerationRequest) (string, error) {
	return "", fmt.Errorf("no LLM provider configured")
}

// NewClient is a factory function that creates an LLMClient for one model
// configuration. A missing API key selects the no-op client rather than
// failing startup; AI-dependent stages degrade gracefully.
func NewClient(cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	if cfg.Provider == config.ProviderNone || cfg.APIKey == "" {
		logger.Warn("No LLM provider configured; AI-dependent stages will degrade.",
			zap.String("model", cfg.Model))
		return NoopClient{}, nil
	}

	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", cfg.Provider, config.ProviderGemini)
	}
}

// NewRouter builds the tiered router from the full LLM configuration.
func NewRouter(cfg config.LLMRouterConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	fast, err := NewClient(cfg.Fast, logger)
	if err != nil {
		return nil, fmt.Errorf("building fast-tier client: %w", err)
	}
	powerful, err := NewClient(cfg.Powerful, logger)
	if err != nil {
		return nil, fmt.Errorf("building powerful-tier client: %w", err)
	}
	return NewLLMRouter(logger, fast, powerful)
}
