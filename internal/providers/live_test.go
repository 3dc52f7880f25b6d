package providers_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/adaptive-router/internal/providers"
	"github.com/tributary-ai/adaptive-router/internal/providers/anthropic"
	"github.com/tributary-ai/adaptive-router/internal/providers/openai"
	"github.com/tributary-ai/adaptive-router/internal/types"
)

// These tests hit the real APIs and are skipped without credentials.

func TestOpenAIProvider_Live(t *testing.T) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY not set, skipping live OpenAI test")
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	model := types.ModelInfo{Name: "gpt-4o-mini", InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006, Tier: types.CostTierCheap}
	provider := openai.NewOpenAIProvider(&openai.OpenAIConfig{
		APIKey:  apiKey,
		Models:  []types.ModelInfo{model},
		Timeout: 30 * time.Second,
	}, logger)

	pool := providers.NewPool(time.Minute, logger)
	pool.Register("openai-fast", provider, model)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, provider.HealthCheck(ctx))

	result, err := pool.Generate(ctx, "openai-fast", "Reply with the single word: pong", types.GenerateOptions{MaxTokens: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Content)
	assert.Greater(t, result.Tokens, 0)
	assert.Greater(t, result.CostUSD, 0.0)

	t.Logf("OpenAI responded in %v: %q", result.Latency, result.Content)
}

func TestAnthropicProvider_Live(t *testing.T) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		t.Skip("ANTHROPIC_API_KEY not set, skipping live Anthropic test")
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	model := types.ModelInfo{Name: "claude-3-haiku-20240307", InputCostPer1K: 0.00025, OutputCostPer1K: 0.00125, Tier: types.CostTierCheap}
	provider := anthropic.NewAnthropicProvider(&anthropic.AnthropicConfig{
		APIKey:  apiKey,
		Models:  []types.ModelInfo{model},
		Timeout: 30 * time.Second,
	}, logger)

	pool := providers.NewPool(time.Minute, logger)
	pool.Register("anthropic-fast", provider, model)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := pool.Generate(ctx, "anthropic-fast", "Reply with the single word: pong", types.GenerateOptions{MaxTokens: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Content)
	assert.Greater(t, result.Tokens, 0)

	t.Logf("Anthropic responded in %v: %q", result.Latency, result.Content)
}
