package scorecard

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/adaptive-router/internal/types"
)

const (
	// NeutralScore is assigned to providers with no recorded requests
	NeutralScore = 0.5

	DefaultWindowSize     = 50
	DefaultLatencyCeiling = 5000 * time.Millisecond
	DefaultCostCeiling    = 0.01
)

// Weights balance the three ranking axes. Lower scores rank first.
type Weights struct {
	Latency     float64 `yaml:"latency" json:"latency"`
	Cost        float64 `yaml:"cost" json:"cost"`
	Reliability float64 `yaml:"reliability" json:"reliability"`
}

// DefaultWeights returns the default ranking policy
func DefaultWeights() Weights {
	return Weights{Latency: 0.3, Cost: 0.3, Reliability: 0.4}
}

func (w Weights) normalized() (Weights, error) {
	if w.Latency < 0 || w.Cost < 0 || w.Reliability < 0 {
		return Weights{}, fmt.Errorf("scorecard weights must be non-negative: %+v", w)
	}
	sum := w.Latency + w.Cost + w.Reliability
	if sum == 0 {
		return Weights{}, fmt.Errorf("scorecard weights must not all be zero")
	}
	return Weights{Latency: w.Latency / sum, Cost: w.Cost / sum, Reliability: w.Reliability / sum}, nil
}

// Config holds scorecard configuration
type Config struct {
	WindowSize     int           `yaml:"window_size"`
	Weights        Weights       `yaml:"weights"`
	LatencyCeiling time.Duration `yaml:"latency_ceiling"`
	CostCeiling    float64       `yaml:"cost_ceiling"`
}

// DefaultConfig returns the default scorecard configuration
func DefaultConfig() Config {
	return Config{
		WindowSize:     DefaultWindowSize,
		Weights:        DefaultWeights(),
		LatencyCeiling: DefaultLatencyCeiling,
		CostCeiling:    DefaultCostCeiling,
	}
}

// RankedProvider is one row of the ranking
type RankedProvider struct {
	Provider string              `json:"provider"`
	Score    float64             `json:"score"`
	Stats    types.ProviderStats `json:"stats"`
}

// Scorecard keeps rolling performance statistics per provider
type Scorecard struct {
	config   Config
	weights  Weights
	logger   *logrus.Logger
	entries  map[string]*providerEntry
	order    []string
	mutex    sync.RWMutex
	revision atomic.Uint64
}

// providerEntry guards one provider's window
type providerEntry struct {
	stats types.ProviderStats
	mutex sync.Mutex
}

// New creates a scorecard for the given providers
func New(config Config, logger *logrus.Logger, providers ...string) (*Scorecard, error) {
	if config.WindowSize <= 0 {
		config.WindowSize = DefaultWindowSize
	}
	if config.LatencyCeiling <= 0 {
		config.LatencyCeiling = DefaultLatencyCeiling
	}
	if config.CostCeiling <= 0 {
		config.CostCeiling = DefaultCostCeiling
	}
	if config.Weights == (Weights{}) {
		config.Weights = DefaultWeights()
	}

	weights, err := config.Weights.normalized()
	if err != nil {
		return nil, err
	}

	s := &Scorecard{
		config:  config,
		weights: weights,
		logger:  logger,
		entries: make(map[string]*providerEntry),
	}
	s.Register(providers...)
	return s, nil
}

// Register adds providers that are not yet tracked
func (s *Scorecard) Register(providers ...string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, name := range providers {
		if name == "" {
			continue
		}
		if _, exists := s.entries[name]; exists {
			continue
		}
		s.entries[name] = &providerEntry{stats: types.ProviderStats{Provider: name}}
		s.order = append(s.order, name)
	}
}

// Providers returns tracked provider names in registration order
func (s *Scorecard) Providers() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	names := make([]string, len(s.order))
	copy(names, s.order)
	return names
}

// RecordRequest appends a metric to the provider's window and recomputes its
// averages. Unknown providers are logged and ignored.
func (s *Scorecard) RecordRequest(provider string, metric types.RequestMetric) {
	s.mutex.RLock()
	entry, exists := s.entries[provider]
	s.mutex.RUnlock()

	if !exists {
		s.logger.WithField("provider", provider).Warn("Ignoring metric for unknown provider")
		return
	}

	if metric.Timestamp.IsZero() {
		metric.Timestamp = time.Now()
	}
	if metric.Latency < 0 {
		metric.Latency = 0
	}

	entry.mutex.Lock()
	stats := &entry.stats
	stats.TotalRequests++
	if metric.Success {
		stats.Successes++
	} else {
		stats.Failures++
	}
	stats.Window = append(stats.Window, metric)
	if overflow := len(stats.Window) - s.config.WindowSize; overflow > 0 {
		stats.Window = append(stats.Window[:0:0], stats.Window[overflow:]...)
	}
	recompute(stats)
	stats.LastUpdated = metric.Timestamp
	entry.mutex.Unlock()

	s.revision.Add(1)

	s.logger.WithFields(logrus.Fields{
		"provider":   provider,
		"success":    metric.Success,
		"latency_ms": metric.Latency.Milliseconds(),
	}).Debug("Provider metric recorded")
}

// recompute derives the averages from the current window only
func recompute(stats *types.ProviderStats) {
	n := len(stats.Window)
	if n == 0 {
		stats.AvgLatency = 0
		stats.AvgCost = 0
		stats.ErrorRate = 0
		return
	}

	var totalLatency time.Duration
	var totalCost float64
	var costSamples, failures int
	for _, m := range stats.Window {
		totalLatency += m.Latency
		if !m.Success {
			failures++
			continue
		}
		if m.CostPerToken > 0 {
			totalCost += m.CostPerToken
			costSamples++
		}
	}

	stats.AvgLatency = totalLatency / time.Duration(n)
	stats.ErrorRate = float64(failures) / float64(n)
	stats.AvgCost = 0
	if costSamples > 0 {
		stats.AvgCost = totalCost / float64(costSamples)
	}
}

// Stats returns a copy of a provider's statistics
func (s *Scorecard) Stats(provider string) (types.ProviderStats, bool) {
	s.mutex.RLock()
	entry, exists := s.entries[provider]
	s.mutex.RUnlock()
	if !exists {
		return types.ProviderStats{}, false
	}
	return entry.snapshot(), true
}

func (e *providerEntry) snapshot() types.ProviderStats {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	out := e.stats
	out.Window = make([]types.RequestMetric, len(e.stats.Window))
	copy(out.Window, e.stats.Window)
	return out
}

// Score returns the composite score of a provider
func (s *Scorecard) Score(provider string) (float64, bool) {
	stats, ok := s.Stats(provider)
	if !ok {
		return 0, false
	}
	return s.score(stats), true
}

func (s *Scorecard) score(stats types.ProviderStats) float64 {
	if stats.TotalRequests == 0 || len(stats.Window) == 0 {
		return NeutralScore
	}

	s.mutex.RLock()
	w := s.weights
	s.mutex.RUnlock()

	normLatency := clamp01(float64(stats.AvgLatency) / float64(s.config.LatencyCeiling))
	normCost := clamp01(stats.AvgCost / s.config.CostCeiling)
	return w.Latency*normLatency + w.Cost*normCost + w.Reliability*(1-stats.SuccessRate())
}

// GetRankedProviders returns every provider sorted ascending by score
func (s *Scorecard) GetRankedProviders() []RankedProvider {
	names := s.Providers()
	ranked := make([]RankedProvider, 0, len(names))
	for _, name := range names {
		stats, ok := s.Stats(name)
		if !ok {
			continue
		}
		ranked = append(ranked, RankedProvider{Provider: name, Score: s.score(stats), Stats: stats})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score < ranked[j].Score
	})
	return ranked
}

// RankedNames is GetRankedProviders reduced to names
func (s *Scorecard) RankedNames() []string {
	ranked := s.GetRankedProviders()
	names := make([]string, len(ranked))
	for i, r := range ranked {
		names[i] = r.Provider
	}
	return names
}

// Reset clears a provider's statistics
func (s *Scorecard) Reset(provider string) bool {
	s.mutex.RLock()
	entry, exists := s.entries[provider]
	s.mutex.RUnlock()
	if !exists {
		return false
	}

	entry.mutex.Lock()
	entry.stats = types.ProviderStats{Provider: provider}
	entry.mutex.Unlock()

	s.revision.Add(1)
	s.logger.WithField("provider", provider).Info("Provider scorecard reset")
	return true
}

// SetWeights replaces the ranking policy
func (s *Scorecard) SetWeights(weights Weights) error {
	normalized, err := weights.normalized()
	if err != nil {
		return err
	}

	s.mutex.Lock()
	s.weights = normalized
	s.mutex.Unlock()
	return nil
}

// Weights returns the normalized ranking policy in use
func (s *Scorecard) Weights() Weights {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.weights
}

// WindowSize returns the rolling window capacity
func (s *Scorecard) WindowSize() int {
	return s.config.WindowSize
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
