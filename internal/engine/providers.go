package engine

import (
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/adaptive-router/internal/config"
	"github.com/tributary-ai/adaptive-router/internal/providers"
	"github.com/tributary-ai/adaptive-router/internal/providers/anthropic"
	"github.com/tributary-ai/adaptive-router/internal/providers/openai"
)

// NewProviderPool registers every configured model as a routable provider ID.
// Upstreams without an API key are skipped.
func NewProviderPool(cfg *config.Config, logger *logrus.Logger) *providers.Pool {
	pool := providers.NewPool(cfg.Providers.HealthCheckInterval, logger)

	if cfg.Providers.OpenAI != nil && cfg.Providers.OpenAI.APIKey != "" {
		upstream := openai.NewOpenAIProvider(cfg.Providers.OpenAI, logger)
		for _, model := range cfg.Providers.OpenAI.Models {
			pool.Register(model.Name, upstream, model)
		}
		logger.WithFields(logrus.Fields{
			"provider": "openai",
			"models":   len(cfg.Providers.OpenAI.Models),
		}).Info("OpenAI provider registered")
	}

	if cfg.Providers.Anthropic != nil && cfg.Providers.Anthropic.APIKey != "" {
		upstream := anthropic.NewAnthropicProvider(cfg.Providers.Anthropic, logger)
		for _, model := range cfg.Providers.Anthropic.Models {
			pool.Register(model.Name, upstream, model)
		}
		logger.WithFields(logrus.Fields{
			"provider": "anthropic",
			"models":   len(cfg.Providers.Anthropic.Models),
		}).Info("Anthropic provider registered")
	}

	logger.WithField("count", len(pool.IDs())).Info("Provider registration completed")
	return pool
}
