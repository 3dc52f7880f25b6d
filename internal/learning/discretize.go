package learning

import (
	"fmt"

	"github.com/tributary-ai/adaptive-router/internal/types"
)

// Discretization granularity
const (
	MasteryBins    = 5
	ConfidenceBins = 5
	SuccessBins    = 5
	QualityBins    = 5
	BudgetBins     = 3
)

// StateKey discretizes a LearningState into its Q-table hash
func StateKey(state types.LearningState) string {
	failures := 0
	if len(state.RecentFailures) > 0 {
		failures = 1
	}
	return fmt.Sprintf("m%d-c%d-s%d-q%d-b%d-f%d",
		bin(state.Mastery, MasteryBins),
		bin(state.Confidence, ConfidenceBins),
		bin(state.RecentSuccessRate, SuccessBins),
		bin(state.AverageQuality, QualityBins),
		bin(state.BudgetUtilization, BudgetBins),
		failures,
	)
}

func bin(v float64, bins int) int {
	b := int(clamp(v, 0, 1) * float64(bins))
	if b >= bins {
		b = bins - 1
	}
	return b
}
