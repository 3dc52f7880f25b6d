package learning

import (
	"github.com/tributary-ai/adaptive-router/internal/types"
)

// StrategyProfile maps a learning strategy onto model preferences
type StrategyProfile struct {
	PreferredModels  []string         `yaml:"preferred_models" json:"preferred_models"`
	Budget           types.BudgetTier `yaml:"budget" json:"budget"`
	QualityThreshold float64          `yaml:"quality_threshold" json:"quality_threshold"`
}

// DefaultProfiles returns the built-in strategy table
func DefaultProfiles() map[types.Strategy]StrategyProfile {
	return map[types.Strategy]StrategyProfile{
		types.StrategyGradientAscent: {
			PreferredModels:  []string{"gpt-4o-mini", "claude-3-haiku-20240307"},
			Budget:           types.BudgetBalanced,
			QualityThreshold: 0.6,
		},
		types.StrategyWeaknessTargeting: {
			PreferredModels:  []string{"claude-3-5-sonnet-20241022", "gpt-4o"},
			Budget:           types.BudgetQualitySensitive,
			QualityThreshold: 0.8,
		},
		types.StrategyMetaLearning: {
			PreferredModels:  []string{"gpt-4o", "claude-3-5-sonnet-20241022"},
			Budget:           types.BudgetQualitySensitive,
			QualityThreshold: 0.75,
		},
		types.StrategyParallelTraining: {
			PreferredModels:  []string{"gpt-4o-mini", "claude-3-5-sonnet-20241022"},
			Budget:           types.BudgetBalanced,
			QualityThreshold: 0.7,
		},
		types.StrategyEfficiency: {
			PreferredModels:  []string{"gpt-4o-mini", "claude-3-haiku-20240307"},
			Budget:           types.BudgetCostSensitive,
			QualityThreshold: 0.5,
		},
		types.StrategyExploration: {
			PreferredModels:  nil,
			Budget:           types.BudgetBalanced,
			QualityThreshold: 0.5,
		},
	}
}
