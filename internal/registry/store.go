package registry

import (
	"context"

	"github.com/tributary-ai/adaptive-router/internal/types"
)

// Recommendation is a ranked provider suggestion for a domain
type Recommendation struct {
	Provider    string  `json:"provider"`
	Score       float64 `json:"score"`
	Samples     int     `json:"samples,omitempty"`
	SuccessRate float64 `json:"success_rate,omitempty"`
	AvgQuality  float64 `json:"avg_quality,omitempty"`
	AvgCostUSD  float64 `json:"avg_cost_usd,omitempty"`
}

// RecommendationContext narrows a knowledge store query
type RecommendationContext struct {
	Budget types.BudgetTier
	Limit  int
}

// KnowledgeStore holds learned outcomes per domain and model
type KnowledgeStore interface {
	GetRecommendations(ctx context.Context, domain types.Domain, rc RecommendationContext) ([]Recommendation, error)
	RecordOutcome(ctx context.Context, outcome types.Outcome) error
}

// OutcomeRecorder accepts outcomes from the learning loop
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, outcome types.Outcome)
}
