package types

import "time"

// Strategy is a learning action chosen by the optimizer
type Strategy string

const (
	StrategyGradientAscent    Strategy = "gradient_ascent"
	StrategyWeaknessTargeting Strategy = "weakness_targeting"
	StrategyMetaLearning      Strategy = "meta_learning"
	StrategyParallelTraining  Strategy = "parallel_training"
	StrategyEfficiency        Strategy = "efficiency"
	StrategyExploration       Strategy = "exploration"
)

// AllStrategies lists the action space in a fixed order
var AllStrategies = []Strategy{
	StrategyGradientAscent,
	StrategyWeaknessTargeting,
	StrategyMetaLearning,
	StrategyParallelTraining,
	StrategyEfficiency,
	StrategyExploration,
}

// LearningState is the normalized snapshot the optimizer conditions on.
// All ratio fields are kept in [0,1].
type LearningState struct {
	Mastery           float64            `json:"mastery"`
	Confidence        float64            `json:"confidence"`
	ExplorationRate   float64            `json:"exploration_rate"`
	BudgetUtilization float64            `json:"budget_utilization"`
	RecentSuccessRate float64            `json:"recent_success_rate"`
	AverageLatency    float64            `json:"average_latency"`
	AverageQuality    float64            `json:"average_quality"`
	LearningVelocity  float64            `json:"learning_velocity"`
	DomainStrengths   map[string]float64 `json:"domain_strengths,omitempty"`
	ModelPerformance  map[string]float64 `json:"model_performance,omitempty"`
	RecentFailures    []string           `json:"recent_failures,omitempty"`
}

// Clone returns a deep copy of the state
func (s LearningState) Clone() LearningState {
	out := s
	out.DomainStrengths = make(map[string]float64, len(s.DomainStrengths))
	for k, v := range s.DomainStrengths {
		out.DomainStrengths[k] = v
	}
	out.ModelPerformance = make(map[string]float64, len(s.ModelPerformance))
	for k, v := range s.ModelPerformance {
		out.ModelPerformance[k] = v
	}
	out.RecentFailures = append([]string(nil), s.RecentFailures...)
	return out
}

// QTableEntry is the learned value of one (state, strategy) pair
type QTableEntry struct {
	Strategy    Strategy  `json:"strategy"`
	QValue      float64   `json:"q_value"`
	Visits      int       `json:"visits"`
	LastUpdated time.Time `json:"last_updated"`
}

// Outcome is an observed interaction fed back into the learning loop
type Outcome struct {
	Provider  string        `json:"provider"`
	Domain    string        `json:"domain,omitempty"`
	Strategy  Strategy      `json:"strategy,omitempty"`
	Success   bool          `json:"success"`
	Quality   float64       `json:"quality"`
	Latency   time.Duration `json:"latency"`
	CostUSD   float64       `json:"cost_usd"`
	Source    string        `json:"source,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
