package registry

import (
	"sort"

	"github.com/tributary-ai/adaptive-router/internal/types"
)

// ColdStartEntry is the static fallback for a domain
type ColdStartEntry struct {
	Providers        []string `yaml:"providers" json:"providers"`
	QualityThreshold float64  `yaml:"quality_threshold" json:"quality_threshold"`
}

// DefaultColdStart returns the built-in domain table used before the knowledge
// store has learned anything
func DefaultColdStart() map[types.Domain]ColdStartEntry {
	return map[types.Domain]ColdStartEntry{
		types.DomainCoding: {
			Providers:        []string{"claude-3-5-sonnet-20241022", "gpt-4o", "gpt-4o-mini"},
			QualityThreshold: 0.8,
		},
		types.DomainCreative: {
			Providers:        []string{"gpt-4o", "claude-3-5-sonnet-20241022", "claude-3-haiku-20240307"},
			QualityThreshold: 0.7,
		},
		types.DomainResearch: {
			Providers:        []string{"gpt-4o", "claude-3-5-sonnet-20241022", "gpt-4o-mini"},
			QualityThreshold: 0.75,
		},
		types.DomainAnalysis: {
			Providers:        []string{"claude-3-5-sonnet-20241022", "gpt-4o", "gpt-4o-mini"},
			QualityThreshold: 0.75,
		},
		types.DomainGeneral: {
			Providers:        []string{"gpt-4o-mini", "claude-3-haiku-20240307", "gpt-4o"},
			QualityThreshold: 0.6,
		},
	}
}

// tierRank orders cost tiers for a budget; lower sorts first. Unknown tiers
// sit between the preferred and the avoided ones.
func tierRank(budget types.BudgetTier, tier types.CostTier, known bool) int {
	switch budget {
	case types.BudgetCostSensitive:
		if !known {
			return 2
		}
		switch tier {
		case types.CostTierFree:
			return 0
		case types.CostTierCheap:
			return 1
		default:
			return 3
		}
	case types.BudgetQualitySensitive:
		if !known {
			return 1
		}
		switch tier {
		case types.CostTierPremium:
			return 0
		case types.CostTierCheap:
			return 2
		default:
			return 3
		}
	default:
		return 0
	}
}

// ReorderByBudget stably reorders providers by tier preference for budget.
// Balanced budgets keep the table order.
func ReorderByBudget(providers []string, budget types.BudgetTier, tierOf func(string) (types.CostTier, bool)) []string {
	out := make([]string, len(providers))
	copy(out, providers)
	if budget != types.BudgetCostSensitive && budget != types.BudgetQualitySensitive {
		return out
	}

	ranks := make(map[string]int, len(out))
	for _, p := range out {
		tier, known := types.CostTier(""), false
		if tierOf != nil {
			tier, known = tierOf(p)
		}
		ranks[p] = tierRank(budget, tier, known)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return ranks[out[i]] < ranks[out[j]]
	})
	return out
}
