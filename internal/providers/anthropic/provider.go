package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/adaptive-router/internal/providers"
	"github.com/tributary-ai/adaptive-router/internal/types"
)

const (
	defaultMaxTokens   = 1024
	healthCheckModelID = "claude-3-haiku-20240307"
)

// ErrEmptyResponse is returned when a message carries no text blocks
var ErrEmptyResponse = errors.New("anthropic returned no text content")

// AnthropicProvider implements the Generator interface for Anthropic Claude
type AnthropicProvider struct {
	client *anthropic.Client
	config *AnthropicConfig
	logger *logrus.Logger
}

// AnthropicConfig holds Anthropic-specific configuration
type AnthropicConfig struct {
	APIKey  string            `yaml:"api_key"`
	BaseURL string            `yaml:"base_url"`
	Models  []types.ModelInfo `yaml:"models"`
	Timeout time.Duration     `yaml:"timeout"`
}

// NewAnthropicProvider creates a new Anthropic provider instance
func NewAnthropicProvider(config *AnthropicConfig, logger *logrus.Logger) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}

	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	client := anthropic.NewClient(opts...)

	return &AnthropicProvider{
		client: &client,
		config: config,
		logger: logger,
	}
}

// GetProviderName returns the provider name
func (p *AnthropicProvider) GetProviderName() string {
	return "anthropic"
}

// Generate sends a single user message and concatenates the text blocks of the reply
func (p *AnthropicProvider) Generate(ctx context.Context, prompt string, opts types.GenerateOptions) (*types.GenerateResult, error) {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	params := p.buildParams(prompt, opts)

	start := time.Now()
	resp, err := p.client.Messages.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		p.logger.WithError(err).WithField("model", string(params.Model)).Debug("Anthropic API call failed")
		return nil, fmt.Errorf("anthropic api call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, ErrEmptyResponse
	}

	inputTokens := int(resp.Usage.InputTokens)
	outputTokens := int(resp.Usage.OutputTokens)

	result := &types.GenerateResult{
		Content: text.String(),
		Model:   string(resp.Model),
		Latency: latency,
		Tokens:  inputTokens + outputTokens,
	}
	if model := p.findModel(string(params.Model)); model != nil {
		result.CostUSD = float64(inputTokens)*model.InputCostPer1K/1000 +
			float64(outputTokens)*model.OutputCostPer1K/1000
		result.CostPerToken = model.CostPerToken()
	}
	if result.Model == "" {
		result.Model = string(params.Model)
	}

	p.logger.WithFields(logrus.Fields{
		"model":      result.Model,
		"tokens":     result.Tokens,
		"latency_ms": latency.Milliseconds(),
	}).Debug("Anthropic completion finished")

	return result, nil
}

// HealthCheck performs a health check on the Anthropic API
func (p *AnthropicProvider) HealthCheck(ctx context.Context) error {
	// Simple health check using a minimal message on the cheapest configured model
	model := healthCheckModelID
	for _, m := range p.config.Models {
		if m.Tier == types.CostTierCheap || m.Tier == types.CostTierFree {
			model = m.ModelID()
			break
		}
	}

	testReq := anthropic.MessageNewParams{
		Model: anthropic.Model(model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("test")),
		},
		MaxTokens: 1,
	}

	_, err := p.client.Messages.New(ctx, testReq)
	if err != nil {
		p.logger.WithError(err).Error("Anthropic health check failed")
		return fmt.Errorf("anthropic health check failed: %w", err)
	}

	p.logger.Debug("Anthropic health check passed")
	return nil
}

// Models returns the configured model catalog
func (p *AnthropicProvider) Models() []types.ModelInfo {
	return p.config.Models
}

func (p *AnthropicProvider) buildParams(prompt string, opts types.GenerateOptions) anthropic.MessageNewParams {
	model := opts.Model
	if model == "" && len(p.config.Models) > 0 {
		model = p.config.Models[0].ModelID()
	}

	maxTokens := int64(defaultMaxTokens)
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model: anthropic.Model(model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		MaxTokens: maxTokens,
	}
	if opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.SystemPrompt, Type: "text"}}
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	return params
}

func (p *AnthropicProvider) findModel(id string) *types.ModelInfo {
	for i := range p.config.Models {
		model := &p.config.Models[i]
		if model.Name == id || model.ProviderModelID == id {
			return model
		}
	}
	return nil
}

var _ providers.Generator = (*AnthropicProvider)(nil)
