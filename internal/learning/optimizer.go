package learning

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/adaptive-router/internal/events"
	"github.com/tributary-ai/adaptive-router/internal/types"
)

// Heuristic thresholds for states without learned values
const (
	TightBudgetThreshold  = 0.8
	LowMasteryThreshold   = 0.4
	HighConfidenceCutover = 0.6
)

// Config holds Q-learning parameters
type Config struct {
	LearningRate   float64                            `yaml:"learning_rate"`
	Discount       float64                            `yaml:"discount"`
	InitialEpsilon float64                            `yaml:"initial_epsilon"`
	EpsilonDecay   float64                            `yaml:"epsilon_decay"`
	MinEpsilon     float64                            `yaml:"min_epsilon"`
	Profiles       map[types.Strategy]StrategyProfile `yaml:"profiles"`
	Seed           int64                              `yaml:"seed"`
}

// DefaultConfig returns the default optimizer configuration
func DefaultConfig() Config {
	return Config{
		LearningRate:   0.1,
		Discount:       0.9,
		InitialEpsilon: 0.3,
		EpsilonDecay:   0.995,
		MinEpsilon:     0.05,
		Profiles:       DefaultProfiles(),
	}
}

// Validate checks parameter ranges
func (c Config) Validate() error {
	if c.LearningRate < 0 || c.LearningRate > 1 {
		return fmt.Errorf("learning rate must be in [0,1], got %v", c.LearningRate)
	}
	if c.Discount < 0 || c.Discount > 1 {
		return fmt.Errorf("discount must be in [0,1], got %v", c.Discount)
	}
	if c.InitialEpsilon < 0 || c.InitialEpsilon > 1 {
		return fmt.Errorf("initial epsilon must be in [0,1], got %v", c.InitialEpsilon)
	}
	if c.MinEpsilon < 0 || c.MinEpsilon > c.InitialEpsilon {
		return fmt.Errorf("min epsilon must be in [0, initial epsilon], got %v", c.MinEpsilon)
	}
	if c.EpsilonDecay <= 0 || c.EpsilonDecay > 1 {
		return fmt.Errorf("epsilon decay must be in (0,1], got %v", c.EpsilonDecay)
	}
	return nil
}

// Optimizer is a tabular Q-learning agent over learning strategies
type Optimizer struct {
	config    Config
	profiles  map[types.Strategy]StrategyProfile
	logger    *logrus.Logger
	publisher events.Publisher
	tracker   *Tracker

	mutex    sync.Mutex
	table    map[string]map[types.Strategy]*types.QTableEntry
	updates  int
	epsilon  float64
	rng      *rand.Rand
	revision atomic.Uint64
}

// NewOptimizer creates an optimizer
func NewOptimizer(config Config, publisher events.Publisher, logger *logrus.Logger) (*Optimizer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid optimizer config: %w", err)
	}
	if publisher == nil {
		publisher = events.Discard
	}

	profiles := DefaultProfiles()
	for strategy, profile := range config.Profiles {
		profiles[strategy] = profile
	}

	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Optimizer{
		config:    config,
		profiles:  profiles,
		logger:    logger,
		publisher: publisher,
		tracker:   NewTracker(config.InitialEpsilon),
		table:     make(map[string]map[types.Strategy]*types.QTableEntry),
		epsilon:   config.InitialEpsilon,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

// SelectLearningAction picks a strategy for the state, exploring with probability epsilon
func (o *Optimizer) SelectLearningAction(state types.LearningState) types.Strategy {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if o.epsilon > 0 && o.rng.Float64() < o.epsilon {
		return types.AllStrategies[o.rng.Intn(len(types.AllStrategies))]
	}

	entries, visited := o.table[StateKey(state)]
	if !visited || !anyVisited(entries) {
		return HeuristicStrategy(state)
	}

	best := types.AllStrategies[0]
	bestQ := math.Inf(-1)
	for _, strategy := range types.AllStrategies {
		if q := entries[strategy].QValue; q > bestQ {
			best = strategy
			bestQ = q
		}
	}
	return best
}

func anyVisited(entries map[types.Strategy]*types.QTableEntry) bool {
	for _, e := range entries {
		if e.Visits > 0 {
			return true
		}
	}
	return false
}

// HeuristicStrategy is the hand-authored choice for never-visited states
func HeuristicStrategy(state types.LearningState) types.Strategy {
	switch {
	case len(state.RecentFailures) > 0:
		return types.StrategyWeaknessTargeting
	case state.BudgetUtilization >= TightBudgetThreshold:
		return types.StrategyEfficiency
	case state.Mastery < LowMasteryThreshold:
		return types.StrategyGradientAscent
	case state.Confidence >= HighConfidenceCutover:
		return types.StrategyMetaLearning
	default:
		return types.StrategyParallelTraining
	}
}

// UpdateQValue applies Q <- Q + alpha*(reward + gamma*max Q(next) - Q) and
// decays epsilon. It returns the new Q value.
func (o *Optimizer) UpdateQValue(state types.LearningState, action types.Strategy, reward float64, next types.LearningState) float64 {
	o.mutex.Lock()

	key := StateKey(state)
	entry := o.ensure(key)[action]
	if entry == nil {
		o.mutex.Unlock()
		o.logger.WithField("strategy", action).Warn("Ignoring Q update for unknown strategy")
		return 0
	}

	maxNext := 0.0
	if nextEntries, ok := o.table[StateKey(next)]; ok {
		maxNext = math.Inf(-1)
		for _, e := range nextEntries {
			maxNext = math.Max(maxNext, e.QValue)
		}
	}

	previous := entry.QValue
	entry.QValue = previous + o.config.LearningRate*(reward+o.config.Discount*maxNext-previous)
	entry.Visits++
	entry.LastUpdated = time.Now()

	o.updates++
	o.epsilon = EpsilonAfter(o.config.InitialEpsilon, o.config.EpsilonDecay, o.config.MinEpsilon, o.updates)
	epsilon := o.epsilon
	qValue := entry.QValue
	visits := entry.Visits
	o.mutex.Unlock()

	o.tracker.SetExplorationRate(epsilon)
	o.revision.Add(1)

	o.publisher.Publish(events.TopicQUpdate, map[string]interface{}{
		"state":    key,
		"strategy": string(action),
		"reward":   reward,
		"q_value":  qValue,
		"visits":   visits,
		"epsilon":  epsilon,
	})

	o.logger.WithFields(logrus.Fields{
		"state":    key,
		"strategy": action,
		"reward":   reward,
		"q_before": previous,
		"q_after":  qValue,
		"epsilon":  epsilon,
	}).Debug("Q value updated")

	return qValue
}

// ensure lazily creates all strategy entries for a state. Caller holds the mutex.
func (o *Optimizer) ensure(key string) map[types.Strategy]*types.QTableEntry {
	entries, ok := o.table[key]
	if !ok {
		entries = make(map[types.Strategy]*types.QTableEntry, len(types.AllStrategies))
		for _, strategy := range types.AllStrategies {
			entries[strategy] = &types.QTableEntry{Strategy: strategy}
		}
		o.table[key] = entries
	}
	return entries
}

// EpsilonAfter returns max(min, initial * decay^n)
func EpsilonAfter(initial, decay, min float64, n int) float64 {
	return math.Max(min, initial*math.Pow(decay, float64(n)))
}

// RecordInteraction folds an outcome into the learning state and updates the
// Q value of the strategy that produced it. It returns the computed reward.
func (o *Optimizer) RecordInteraction(outcome types.Outcome) float64 {
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = time.Now()
	}

	before, after := o.tracker.Record(outcome)

	strategy := outcome.Strategy
	if strategy == "" {
		strategy = HeuristicStrategy(before)
	}

	reward := ComputeReward(outcome)
	o.UpdateQValue(before, strategy, reward, after)
	return reward
}

// Suggest returns a state-conditioned provider pick from the candidates,
// together with the strategy that produced it
func (o *Optimizer) Suggest(candidates []string) (string, types.Strategy, bool) {
	strategy := o.SelectLearningAction(o.tracker.State())
	profile := o.Profile(strategy)

	available := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		available[c] = true
	}
	for _, model := range profile.PreferredModels {
		if available[model] {
			return model, strategy, true
		}
	}
	return "", strategy, false
}

// Profile returns the profile of a strategy
func (o *Optimizer) Profile(strategy types.Strategy) StrategyProfile {
	return o.profiles[strategy]
}

// State returns the current learning state
func (o *Optimizer) State() types.LearningState {
	return o.tracker.State()
}

// Epsilon returns the current exploration rate
func (o *Optimizer) Epsilon() float64 {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.epsilon
}

// Updates returns how many Q updates have been applied
func (o *Optimizer) Updates() int {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.updates
}

// Entries returns copies of the entries for a state, in strategy order
func (o *Optimizer) Entries(state types.LearningState) []types.QTableEntry {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return copyEntries(o.table[StateKey(state)])
}

// Table returns a copy of the whole Q table keyed by state hash
func (o *Optimizer) Table() map[string][]types.QTableEntry {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	out := make(map[string][]types.QTableEntry, len(o.table))
	for key, entries := range o.table {
		out[key] = copyEntries(entries)
	}
	return out
}

func copyEntries(entries map[types.Strategy]*types.QTableEntry) []types.QTableEntry {
	if entries == nil {
		return nil
	}
	out := make([]types.QTableEntry, 0, len(entries))
	for _, strategy := range types.AllStrategies {
		if e, ok := entries[strategy]; ok {
			out = append(out, *e)
		}
	}
	return out
}
