package learning

import (
	"time"

	"github.com/tributary-ai/adaptive-router/internal/types"
)

// Reward function constants
const (
	RewardSuccess        = 0.5
	RewardFailure        = -0.3
	QualityRewardWeight  = 0.3
	SpeedBonusMax        = 0.1
	SpeedBonusHorizon    = 50 * time.Second
	CostPenaltyMax       = 0.1
	CostPenaltyReference = 0.05
	MinReward            = -1.0
	MaxReward            = 1.0
)

// ComputeReward scores an outcome on correctness, quality, speed and cost.
// The result is clamped to [MinReward, MaxReward].
func ComputeReward(outcome types.Outcome) float64 {
	reward := RewardFailure
	if outcome.Success {
		reward = RewardSuccess
	}

	reward += clamp(outcome.Quality, 0, 1) * QualityRewardWeight
	reward += SpeedBonus(outcome.Latency)
	reward -= CostPenalty(outcome.CostUSD)

	return clamp(reward, MinReward, MaxReward)
}

// SpeedBonus grows linearly from 0 at the horizon to SpeedBonusMax at zero latency
func SpeedBonus(latency time.Duration) float64 {
	if latency < 0 || latency >= SpeedBonusHorizon {
		return 0
	}
	return SpeedBonusMax * (1 - float64(latency)/float64(SpeedBonusHorizon))
}

// CostPenalty grows linearly up to CostPenaltyMax at CostPenaltyReference dollars
func CostPenalty(costUSD float64) float64 {
	if costUSD <= 0 {
		return 0
	}
	return CostPenaltyMax * clamp(costUSD/CostPenaltyReference, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
