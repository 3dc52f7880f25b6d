package types

import "time"

// ModelInfo describes a concrete model served by a provider adapter
type ModelInfo struct {
	Name            string   `json:"name" yaml:"name"`
	ProviderModelID string   `json:"provider_model_id,omitempty" yaml:"provider_model_id"`
	DisplayName     string   `json:"display_name,omitempty" yaml:"display_name"`
	InputCostPer1K  float64  `json:"input_cost_per_1k" yaml:"input_cost_per_1k"`
	OutputCostPer1K float64  `json:"output_cost_per_1k" yaml:"output_cost_per_1k"`
	MaxOutputTokens int      `json:"max_output_tokens" yaml:"max_output_tokens"`
	Tier            CostTier `json:"tier" yaml:"tier"`
}

// ModelID returns the identifier sent to the upstream API
func (m ModelInfo) ModelID() string {
	if m.ProviderModelID != "" {
		return m.ProviderModelID
	}
	return m.Name
}

// CostPerToken returns the blended per-token price of the model
func (m ModelInfo) CostPerToken() float64 {
	return (m.InputCostPer1K + m.OutputCostPer1K) / 2 / 1000
}

// CostTier classifies a model by price
type CostTier string

const (
	CostTierFree    CostTier = "free"
	CostTierCheap   CostTier = "cheap"
	CostTierPremium CostTier = "premium"
)

// BudgetTier expresses how the caller trades cost against quality
type BudgetTier string

const (
	BudgetCostSensitive    BudgetTier = "cost_sensitive"
	BudgetBalanced         BudgetTier = "balanced"
	BudgetQualitySensitive BudgetTier = "quality_sensitive"
)

// ProviderStatus is what the provider-status source reports per provider
type ProviderStatus struct {
	ID        string `json:"id"`
	Available bool   `json:"available"`
	Enabled   bool   `json:"enabled"`
}

// Usable reports whether the provider can receive traffic
func (s ProviderStatus) Usable() bool {
	return s.Available && s.Enabled
}

// GenerateOptions are passed through to the generation function
type GenerateOptions struct {
	Model        string   `json:"model,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

// GenerateResult is the outcome of one successful generation call
type GenerateResult struct {
	Content      string        `json:"content"`
	Model        string        `json:"model,omitempty"`
	Latency      time.Duration `json:"latency"`
	CostUSD      float64       `json:"cost_usd"`
	Tokens       int           `json:"tokens"`
	CostPerToken float64       `json:"cost_per_token"`
}
