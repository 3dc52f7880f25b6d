package routing

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/adaptive-router/internal/events"
	"github.com/tributary-ai/adaptive-router/internal/providers"
	"github.com/tributary-ai/adaptive-router/internal/quality"
	"github.com/tributary-ai/adaptive-router/internal/types"
)

const (
	DefaultMaxRetries     = 3
	DefaultAttemptTimeout = 30 * time.Second

	outcomeSource = "router"
)

// BackoffConfig describes the delay inserted between attempts. An empty type
// disables backoff.
type BackoffConfig struct {
	Type      string        `yaml:"type"`
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

// Config holds SmartRouter configuration
type Config struct {
	MaxRetries     int           `yaml:"max_retries"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	Backoff        BackoffConfig `yaml:"backoff"`
	UseOptimizer   bool          `yaml:"use_optimizer"`
}

// DefaultConfig returns the default router configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries:     DefaultMaxRetries,
		AttemptTimeout: DefaultAttemptTimeout,
		UseOptimizer:   true,
	}
}

// Ranker is the scorecard surface the router needs
type Ranker interface {
	RankedNames() []string
	RecordRequest(provider string, metric types.RequestMetric)
}

// Learner is the optimizer surface the router needs
type Learner interface {
	Suggest(candidates []string) (string, types.Strategy, bool)
	RecordInteraction(outcome types.Outcome) float64
}

// RouteOptions tune a single Route call
type RouteOptions struct {
	// Explicit candidate order; the scorecard ranking is used when empty
	Candidates []string
	Domain     types.Domain
	// Strategy credited with the outcome; the optimizer's pick is used when empty
	Strategy         types.Strategy
	DisableOptimizer bool
	Generate         types.GenerateOptions
}

// SmartRouter tries ranked providers in order until one succeeds
type SmartRouter struct {
	config     Config
	dispatcher providers.Dispatcher
	ranker     Ranker
	learner    Learner
	status     providers.StatusSource
	publisher  events.Publisher
	logger     *logrus.Logger
}

// NewSmartRouter creates a router. learner and status may be nil.
func NewSmartRouter(config Config, dispatcher providers.Dispatcher, ranker Ranker, learner Learner, status providers.StatusSource, publisher events.Publisher, logger *logrus.Logger) *SmartRouter {
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultAttemptTimeout
	}
	if publisher == nil {
		publisher = events.Discard
	}

	return &SmartRouter{
		config:     config,
		dispatcher: dispatcher,
		ranker:     ranker,
		learner:    learner,
		status:     status,
		publisher:  publisher,
		logger:     logger,
	}
}

// Route runs the waterfall for a prompt. The error is always a
// *RouteExhaustedError when no candidate succeeded.
func (r *SmartRouter) Route(ctx context.Context, prompt string, opts RouteOptions) (*RouteResult, error) {
	start := time.Now()

	candidates := opts.Candidates
	if len(candidates) == 0 {
		candidates = r.ranker.RankedNames()
	}
	candidates = r.filterAvailable(ctx, candidates)
	if len(candidates) == 0 {
		return nil, &RouteExhaustedError{Err: ErrNoProviders}
	}

	reasoning := []string{fmt.Sprintf("Ranked %d candidates", len(candidates))}
	strategy := opts.Strategy
	suggested := ""
	if r.learner != nil && r.config.UseOptimizer && !opts.DisableOptimizer {
		pick, picked, ok := r.learner.Suggest(candidates)
		if strategy == "" {
			strategy = picked
		}
		if ok {
			suggested = pick
			candidates = promote(candidates, pick)
			reasoning = append(reasoning, fmt.Sprintf("Optimizer promoted %s via %s", pick, picked))
		}
	}

	maxAttempts := r.config.MaxRetries
	if len(candidates) < maxAttempts {
		maxAttempts = len(candidates)
	}

	history := make([]Attempt, 0, maxAttempts)
	var lastErr error

	for i := 0; i < maxAttempts; i++ {
		provider := candidates[i]

		if i > 0 {
			if delay := r.calculateBackoffDelay(i); delay > 0 {
				r.logger.WithFields(logrus.Fields{
					"provider": provider,
					"attempt":  i + 1,
					"delay_ms": delay.Milliseconds(),
				}).Debug("Waiting before next attempt")

				select {
				case <-time.After(delay):
				case <-ctx.Done():
					lastErr = fmt.Errorf("request cancelled during backoff: %w", ctx.Err())
					return nil, r.exhausted(history, lastErr)
				}
			}
		}

		result, attempt, err := r.attempt(ctx, provider, i+1, prompt, opts.Generate)
		history = append(history, attempt)

		if err == nil {
			r.recordSuccess(provider, prompt, opts.Domain, strategy, result, attempt)

			routeResult := &RouteResult{
				Provider:       provider,
				Response:       result,
				Latency:        time.Since(start),
				AttemptsNeeded: i + 1,
				RouteHistory:   history,
				Strategy:       strategy,
				Suggested:      suggested,
				Candidates:     candidates,
				Reasoning:      append(reasoning, fmt.Sprintf("Attempt %d on %s succeeded", i+1, provider)),
			}

			r.publisher.Publish(events.TopicRouterSuccess, map[string]interface{}{
				"provider":   provider,
				"attempts":   i + 1,
				"latency_ms": attempt.Latency.Milliseconds(),
				"strategy":   string(strategy),
				"domain":     string(opts.Domain),
			})

			r.logger.WithFields(logrus.Fields{
				"provider":    provider,
				"attempts":    i + 1,
				"strategy":    strategy,
				"duration_ms": routeResult.Latency.Milliseconds(),
			}).Info("Request routed")

			return routeResult, nil
		}

		lastErr = err
		r.recordFailure(provider, opts.Domain, strategy, attempt)

		if ctx.Err() != nil {
			return nil, r.exhausted(history, fmt.Errorf("request cancelled: %w", ctx.Err()))
		}
	}

	return nil, r.exhausted(history, lastErr)
}

// attempt invokes one provider under the hard per-attempt deadline
func (r *SmartRouter) attempt(ctx context.Context, provider string, index int, prompt string, opts types.GenerateOptions) (*types.GenerateResult, Attempt, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.config.AttemptTimeout)
	defer cancel()

	type outcome struct {
		result *types.GenerateResult
		err    error
	}
	done := make(chan outcome, 1)

	start := time.Now()
	go func() {
		result, err := r.dispatcher.Generate(attemptCtx, provider, prompt, opts)
		done <- outcome{result: result, err: err}
	}()

	var err error
	var result *types.GenerateResult
	timedOut := false

	select {
	case out := <-done:
		result, err = out.result, out.err
		if err == nil && result == nil {
			err = fmt.Errorf("provider %s returned no result", provider)
		}
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			err = ctx.Err()
		} else {
			timedOut = true
			err = ErrAttemptTimeout
		}
	}

	attempt := Attempt{
		Provider: provider,
		Index:    index,
		Latency:  time.Since(start),
		Success:  err == nil,
		TimedOut: timedOut,
	}

	if err != nil {
		attemptErr := &AttemptError{Provider: provider, Attempt: index, TimedOut: timedOut, Err: err}
		attempt.Error = attemptErr.Error()

		r.logger.WithFields(logrus.Fields{
			"provider":   provider,
			"attempt":    index,
			"timed_out":  timedOut,
			"latency_ms": attempt.Latency.Milliseconds(),
		}).WithError(err).Debug("Provider attempt failed")

		return nil, attempt, attemptErr
	}

	if result.Latency == 0 {
		result.Latency = attempt.Latency
	}
	return result, attempt, nil
}

func (r *SmartRouter) recordSuccess(provider, prompt string, domain types.Domain, strategy types.Strategy, result *types.GenerateResult, attempt Attempt) {
	r.ranker.RecordRequest(provider, types.RequestMetric{
		Timestamp:    time.Now(),
		Latency:      attempt.Latency,
		Success:      true,
		Tokens:       result.Tokens,
		CostPerToken: result.CostPerToken,
	})

	if r.learner != nil {
		r.learner.RecordInteraction(types.Outcome{
			Provider:  provider,
			Domain:    string(domain),
			Strategy:  strategy,
			Success:   true,
			Quality:   quality.Estimate(prompt, result.Content),
			Latency:   attempt.Latency,
			CostUSD:   result.CostUSD,
			Source:    outcomeSource,
			Timestamp: time.Now(),
		})
	}
}

func (r *SmartRouter) recordFailure(provider string, domain types.Domain, strategy types.Strategy, attempt Attempt) {
	r.ranker.RecordRequest(provider, types.RequestMetric{
		Timestamp: time.Now(),
		Latency:   attempt.Latency,
		Success:   false,
		Error:     attempt.Error,
	})

	if r.learner != nil {
		r.learner.RecordInteraction(types.Outcome{
			Provider:  provider,
			Domain:    string(domain),
			Strategy:  strategy,
			Success:   false,
			Latency:   attempt.Latency,
			Source:    outcomeSource,
			Timestamp: time.Now(),
		})
	}

	r.publisher.Publish(events.TopicRouterFailure, map[string]interface{}{
		"provider":   provider,
		"attempt":    attempt.Index,
		"timed_out":  attempt.TimedOut,
		"latency_ms": attempt.Latency.Milliseconds(),
		"error":      attempt.Error,
		"exhausted":  false,
	})
}

func (r *SmartRouter) exhausted(history []Attempt, err error) error {
	r.publisher.Publish(events.TopicRouterFailure, map[string]interface{}{
		"attempts":  len(history),
		"exhausted": true,
		"error":     fmt.Sprint(err),
	})

	r.logger.WithFields(logrus.Fields{
		"attempts": len(history),
	}).WithError(err).Warn("All routing attempts failed")

	return &RouteExhaustedError{AttemptsNeeded: len(history), History: history, Err: err}
}

// filterAvailable drops duplicates and providers the status source reports as
// unusable or does not know
func (r *SmartRouter) filterAvailable(ctx context.Context, candidates []string) []string {
	var usable map[string]bool
	if r.status != nil {
		statuses := r.status.ProviderStatuses(ctx)
		usable = make(map[string]bool, len(statuses))
		for _, s := range statuses {
			usable[s.ID] = s.Usable()
		}
	}

	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if seen[c] {
			continue
		}
		seen[c] = true
		if usable != nil && !usable[c] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// promote moves pick to the front, keeping the relative order of the rest
func promote(candidates []string, pick string) []string {
	out := make([]string, 0, len(candidates))
	out = append(out, pick)
	for _, c := range candidates {
		if c != pick {
			out = append(out, c)
		}
	}
	return out
}

// calculateBackoffDelay calculates the delay before the attempt following
// `attempt` failures
func (r *SmartRouter) calculateBackoffDelay(attempt int) time.Duration {
	config := r.config.Backoff
	if config.BaseDelay <= 0 {
		return 0
	}

	var delay time.Duration
	switch config.Type {
	case "exponential":
		// Exponential backoff: baseDelay * 2^(attempt-1)
		multiplier := math.Pow(2, float64(attempt-1))
		delay = time.Duration(float64(config.BaseDelay) * multiplier)
	case "linear":
		// Linear backoff: baseDelay * attempt
		delay = time.Duration(int64(config.BaseDelay) * int64(attempt))
	case "constant":
		delay = config.BaseDelay
	default:
		return 0
	}

	// Cap delay at MaxDelay
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	return delay
}

// Config returns the active configuration
func (r *SmartRouter) Config() Config {
	return r.config
}
