package learning

import (
	"math"
	"sync"
	"time"

	"github.com/tributary-ai/adaptive-router/internal/types"
)

// State tracking constants
const (
	EMAFactor          = 0.1
	MaxRecentFailures  = 5
	latencyNormCeiling = 60 * time.Second
	costNormCeiling    = 0.05
	neutralStrength    = 0.5
	velocityGain       = 10
)

// Tracker maintains the LearningState by exponential moving averages
type Tracker struct {
	state types.LearningState
	mutex sync.Mutex
}

// NewTracker creates a tracker with neutral starting values
func NewTracker(explorationRate float64) *Tracker {
	return &Tracker{state: InitialState(explorationRate)}
}

// InitialState returns the neutral state used before any interaction
func InitialState(explorationRate float64) types.LearningState {
	return types.LearningState{
		Mastery:           neutralStrength,
		Confidence:        neutralStrength,
		ExplorationRate:   explorationRate,
		RecentSuccessRate: neutralStrength,
		AverageQuality:    neutralStrength,
		DomainStrengths:   make(map[string]float64),
		ModelPerformance:  make(map[string]float64),
	}
}

// State returns a copy of the current state
func (t *Tracker) State() types.LearningState {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.state.Clone()
}

// Set replaces the current state
func (t *Tracker) Set(state types.LearningState) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.state = state.Clone()
}

// SetExplorationRate mirrors the optimizer's epsilon into the state
func (t *Tracker) SetExplorationRate(rate float64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.state.ExplorationRate = rate
}

// Record folds an outcome into the state and returns the pre-update and
// post-update copies
func (t *Tracker) Record(outcome types.Outcome) (before, after types.LearningState) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	before = t.state.Clone()
	s := &t.state

	success := 0.0
	if outcome.Success {
		success = 1
	}
	quality := clamp(outcome.Quality, 0, 1)
	performance := success * quality

	s.Confidence = ema(s.Confidence, 1-math.Abs(success-s.RecentSuccessRate))
	s.RecentSuccessRate = ema(s.RecentSuccessRate, success)
	s.AverageQuality = ema(s.AverageQuality, quality)
	s.AverageLatency = ema(s.AverageLatency, clamp(float64(outcome.Latency)/float64(latencyNormCeiling), 0, 1))
	s.BudgetUtilization = ema(s.BudgetUtilization, clamp(outcome.CostUSD/costNormCeiling, 0, 1))

	previousMastery := s.Mastery
	s.Mastery = ema(s.Mastery, performance)
	s.LearningVelocity = ema(s.LearningVelocity, clamp(math.Abs(s.Mastery-previousMastery)*velocityGain, 0, 1))

	if s.DomainStrengths == nil {
		s.DomainStrengths = make(map[string]float64)
	}
	if s.ModelPerformance == nil {
		s.ModelPerformance = make(map[string]float64)
	}
	if outcome.Domain != "" {
		s.DomainStrengths[outcome.Domain] = ema(valueOr(s.DomainStrengths, outcome.Domain), performance)
	}
	if outcome.Provider != "" {
		s.ModelPerformance[outcome.Provider] = ema(valueOr(s.ModelPerformance, outcome.Provider), performance)
	}

	failureKey := outcome.Domain
	if failureKey == "" {
		failureKey = outcome.Provider
	}
	if failureKey != "" {
		if outcome.Success {
			s.RecentFailures = without(s.RecentFailures, failureKey)
		} else {
			s.RecentFailures = append(s.RecentFailures, failureKey)
			if overflow := len(s.RecentFailures) - MaxRecentFailures; overflow > 0 {
				s.RecentFailures = append([]string(nil), s.RecentFailures[overflow:]...)
			}
		}
	}

	return before, t.state.Clone()
}

func ema(current, observed float64) float64 {
	return clamp(current+EMAFactor*(observed-current), 0, 1)
}

func valueOr(m map[string]float64, key string) float64 {
	if v, ok := m[key]; ok {
		return v
	}
	return neutralStrength
}

func without(list []string, value string) []string {
	out := list[:0:0]
	for _, v := range list {
		if v != value {
			out = append(out, v)
		}
	}
	return out
}
