package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/adaptive-router/internal/providers"
	"github.com/tributary-ai/adaptive-router/internal/types"
)

// ErrEmptyResponse is returned when the API answers without any choices
var ErrEmptyResponse = errors.New("openai returned no choices")

// OpenAIProvider implements the Generator interface for OpenAI
type OpenAIProvider struct {
	client *openai.Client
	config *OpenAIConfig
	logger *logrus.Logger
}

// OpenAIConfig holds OpenAI-specific configuration
type OpenAIConfig struct {
	APIKey  string            `yaml:"api_key"`
	BaseURL string            `yaml:"base_url"`
	OrgID   string            `yaml:"org_id"`
	Models  []types.ModelInfo `yaml:"models"`
	Timeout time.Duration     `yaml:"timeout"`
}

// NewOpenAIProvider creates a new OpenAI provider instance
func NewOpenAIProvider(config *OpenAIConfig, logger *logrus.Logger) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(config.APIKey)

	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.OrgID != "" {
		clientConfig.OrgID = config.OrgID
	}

	client := openai.NewClientWithConfig(clientConfig)

	return &OpenAIProvider{
		client: client,
		config: config,
		logger: logger,
	}
}

// GetProviderName returns the provider name
func (p *OpenAIProvider) GetProviderName() string {
	return "openai"
}

// Generate runs a single-turn chat completion
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, opts types.GenerateOptions) (*types.GenerateResult, error) {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	req := p.buildRequest(prompt, opts)

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, req)
	latency := time.Since(start)
	if err != nil {
		p.logger.WithError(err).WithField("model", req.Model).Debug("OpenAI API call failed")
		return nil, fmt.Errorf("openai api call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	model := p.findModel(req.Model)
	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}

	result := &types.GenerateResult{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Latency: latency,
		Tokens:  tokens,
	}
	if model != nil {
		result.CostUSD = float64(resp.Usage.PromptTokens)*model.InputCostPer1K/1000 +
			float64(resp.Usage.CompletionTokens)*model.OutputCostPer1K/1000
		result.CostPerToken = model.CostPerToken()
	}
	if result.Model == "" {
		result.Model = req.Model
	}

	p.logger.WithFields(logrus.Fields{
		"model":      result.Model,
		"tokens":     tokens,
		"latency_ms": latency.Milliseconds(),
	}).Debug("OpenAI completion finished")

	return result, nil
}

// HealthCheck performs a health check on the OpenAI API
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	// Simple health check using models endpoint
	_, err := p.client.ListModels(ctx)
	if err != nil {
		p.logger.WithError(err).Error("OpenAI health check failed")
		return fmt.Errorf("openai health check failed: %w", err)
	}

	p.logger.Debug("OpenAI health check passed")
	return nil
}

// Models returns the configured model catalog
func (p *OpenAIProvider) Models() []types.ModelInfo {
	return p.config.Models
}

func (p *OpenAIProvider) buildRequest(prompt string, opts types.GenerateOptions) openai.ChatCompletionRequest {
	model := opts.Model
	if model == "" && len(p.config.Models) > 0 {
		model = p.config.Models[0].ModelID()
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if opts.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: opts.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature != nil {
		req.Temperature = float32(*opts.Temperature)
	}
	return req
}

func (p *OpenAIProvider) findModel(id string) *types.ModelInfo {
	for i := range p.config.Models {
		model := &p.config.Models[i]
		if model.Name == id || model.ProviderModelID == id {
			return model
		}
	}
	return nil
}

var _ providers.Generator = (*OpenAIProvider)(nil)
