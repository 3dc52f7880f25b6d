package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/adaptive-router/internal/events"
	"github.com/tributary-ai/adaptive-router/internal/scorecard"
	"github.com/tributary-ai/adaptive-router/internal/types"
)

type behavior struct {
	delay   time.Duration
	fail    bool
	content string
}

type fakeDispatcher struct {
	mu        sync.Mutex
	behaviors map[string]behavior
	calls     []string
}

func (d *fakeDispatcher) Generate(ctx context.Context, provider, prompt string, opts types.GenerateOptions) (*types.GenerateResult, error) {
	d.mu.Lock()
	d.calls = append(d.calls, provider)
	b, ok := d.behaviors[provider]
	d.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider %s", provider)
	}
	if b.delay > 0 {
		// Ignores ctx on purpose so the router's own deadline is what fires
		time.Sleep(b.delay)
	}
	if b.fail {
		return nil, errors.New(provider + " failed")
	}
	content := b.content
	if content == "" {
		content = "response from " + provider + " covering the prompt in enough detail to be useful."
	}
	return &types.GenerateResult{Content: content, Model: provider, Tokens: 50, CostPerToken: 0.00001, CostUSD: 0.0005}, nil
}

func (d *fakeDispatcher) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

type fakeLearner struct {
	mu       sync.Mutex
	pick     string
	strategy types.Strategy
	outcomes []types.Outcome
}

func (l *fakeLearner) Suggest(candidates []string) (string, types.Strategy, bool) {
	for _, c := range candidates {
		if c == l.pick {
			return c, l.strategy, true
		}
	}
	return "", l.strategy, false
}

func (l *fakeLearner) RecordInteraction(outcome types.Outcome) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, outcome)
	return 0
}

type staticStatus []types.ProviderStatus

func (s staticStatus) ProviderStatuses(ctx context.Context) []types.ProviderStatus {
	return s
}

type topicRecorder struct {
	mu       sync.Mutex
	topics   []events.Topic
	payloads []map[string]interface{}
}

func (r *topicRecorder) Publish(topic events.Topic, payload map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.payloads = append(r.payloads, payload)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newTestScorecard(t *testing.T, providers ...string) *scorecard.Scorecard {
	t.Helper()
	s, err := scorecard.New(scorecard.DefaultConfig(), testLogger(), providers...)
	require.NoError(t, err)
	return s
}

func newTestRouter(t *testing.T, config Config, dispatcher *fakeDispatcher, sc *scorecard.Scorecard, learner Learner, publisher events.Publisher) *SmartRouter {
	t.Helper()
	if config.AttemptTimeout == 0 {
		config.AttemptTimeout = time.Second
	}
	return NewSmartRouter(config, dispatcher, sc, learner, nil, publisher, testLogger())
}

// seedRanking makes the scorecard rank [B, C, A]
func seedRanking(sc *scorecard.Scorecard) {
	for i := 0; i < 5; i++ {
		sc.RecordRequest("A", types.RequestMetric{Latency: 100 * time.Millisecond, Success: false, Error: "boom"})
		sc.RecordRequest("B", types.RequestMetric{Latency: 200 * time.Millisecond, Success: true})
		sc.RecordRequest("C", types.RequestMetric{Latency: 800 * time.Millisecond, Success: true})
	}
}

func TestSmartRouter_FirstRankedSuccessWins(t *testing.T) {
	sc := newTestScorecard(t, "A", "B", "C")
	seedRanking(sc)
	require.Equal(t, []string{"B", "C", "A"}, sc.RankedNames())

	dispatcher := &fakeDispatcher{behaviors: map[string]behavior{
		"A": {fail: true},
		"B": {},
		"C": {},
	}}
	publisher := &topicRecorder{}
	router := newTestRouter(t, Config{MaxRetries: 3}, dispatcher, sc, nil, publisher)

	result, err := router.Route(context.Background(), "explain routing", RouteOptions{})
	require.NoError(t, err)

	assert.Equal(t, "B", result.Provider)
	assert.Equal(t, 1, result.AttemptsNeeded)
	require.Len(t, result.RouteHistory, 1)
	assert.True(t, result.RouteHistory[0].Success)
	assert.Equal(t, []string{"B"}, dispatcher.Calls())
	assert.Equal(t, []events.Topic{events.TopicRouterSuccess}, publisher.topics)

	stats, ok := sc.Stats("B")
	require.True(t, ok)
	assert.Equal(t, 6, stats.TotalRequests)
}

func TestSmartRouter_AllFailIsExhausted(t *testing.T) {
	sc := newTestScorecard(t, "A", "B", "C")
	dispatcher := &fakeDispatcher{behaviors: map[string]behavior{
		"A": {fail: true},
		"B": {fail: true},
		"C": {fail: true},
	}}
	publisher := &topicRecorder{}
	router := newTestRouter(t, Config{MaxRetries: 5}, dispatcher, sc, nil, publisher)

	result, err := router.Route(context.Background(), "hello", RouteOptions{})
	require.Error(t, err)
	assert.Nil(t, result)

	var exhausted *RouteExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.AttemptsNeeded)
	require.Len(t, exhausted.History, 3)
	for _, a := range exhausted.History {
		assert.False(t, a.Success)
		assert.NotEmpty(t, a.Error)
	}

	var attemptErr *AttemptError
	require.True(t, errors.As(err, &attemptErr))
	assert.Equal(t, 3, attemptErr.Attempt)

	// 3 attempt failures plus the exhaustion notice
	assert.Len(t, publisher.topics, 4)
	assert.Equal(t, true, publisher.payloads[3]["exhausted"])

	for _, p := range []string{"A", "B", "C"} {
		stats, _ := sc.Stats(p)
		assert.Equal(t, 1, stats.Failures, p)
	}
}

func TestSmartRouter_MaxRetriesBoundsAttempts(t *testing.T) {
	sc := newTestScorecard(t, "A", "B", "C")
	dispatcher := &fakeDispatcher{behaviors: map[string]behavior{
		"A": {fail: true},
		"B": {fail: true},
		"C": {},
	}}
	router := newTestRouter(t, Config{MaxRetries: 2}, dispatcher, sc, nil, nil)

	_, err := router.Route(context.Background(), "hello", RouteOptions{Candidates: []string{"A", "B", "C"}})

	var exhausted *RouteExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.AttemptsNeeded)
	assert.Equal(t, []string{"A", "B"}, dispatcher.Calls())
}

func TestSmartRouter_AttemptTimeout(t *testing.T) {
	sc := newTestScorecard(t, "slow", "fast")
	dispatcher := &fakeDispatcher{behaviors: map[string]behavior{
		"slow": {delay: 500 * time.Millisecond},
		"fast": {},
	}}
	router := newTestRouter(t, Config{MaxRetries: 2, AttemptTimeout: 30 * time.Millisecond}, dispatcher, sc, nil, nil)

	start := time.Now()
	result, err := router.Route(context.Background(), "hello", RouteOptions{Candidates: []string{"slow", "fast"}})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Equal(t, "fast", result.Provider)
	assert.Equal(t, 2, result.AttemptsNeeded)
	require.Len(t, result.RouteHistory, 2)
	assert.True(t, result.RouteHistory[0].TimedOut)
	assert.Contains(t, result.RouteHistory[0].Error, ErrAttemptTimeout.Error())

	stats, _ := sc.Stats("slow")
	assert.Equal(t, 1, stats.Failures)
}

func TestSmartRouter_OptimizerPromotion(t *testing.T) {
	sc := newTestScorecard(t, "A", "B", "C")
	seedRanking(sc)
	dispatcher := &fakeDispatcher{behaviors: map[string]behavior{"A": {}, "B": {}, "C": {}}}
	learner := &fakeLearner{pick: "C", strategy: types.StrategyEfficiency}
	router := newTestRouter(t, Config{MaxRetries: 3, UseOptimizer: true}, dispatcher, sc, learner, nil)

	result, err := router.Route(context.Background(), "write a function", RouteOptions{Domain: types.DomainCoding})
	require.NoError(t, err)

	assert.Equal(t, "C", result.Provider)
	assert.Equal(t, "C", result.Suggested)
	assert.Equal(t, types.StrategyEfficiency, result.Strategy)
	assert.Equal(t, []string{"C", "B", "A"}, result.Candidates)

	require.Len(t, learner.outcomes, 1)
	outcome := learner.outcomes[0]
	assert.Equal(t, "C", outcome.Provider)
	assert.Equal(t, "coding", outcome.Domain)
	assert.Equal(t, types.StrategyEfficiency, outcome.Strategy)
	assert.True(t, outcome.Success)
	assert.Greater(t, outcome.Quality, 0.0)
}

func TestSmartRouter_OptimizerDisabled(t *testing.T) {
	sc := newTestScorecard(t, "A", "B", "C")
	seedRanking(sc)
	dispatcher := &fakeDispatcher{behaviors: map[string]behavior{"A": {}, "B": {}, "C": {}}}
	learner := &fakeLearner{pick: "C", strategy: types.StrategyEfficiency}

	router := newTestRouter(t, Config{MaxRetries: 3, UseOptimizer: true}, dispatcher, sc, learner, nil)
	result, err := router.Route(context.Background(), "hi", RouteOptions{DisableOptimizer: true, Strategy: types.StrategyMetaLearning})
	require.NoError(t, err)
	assert.Equal(t, "B", result.Provider)
	assert.Empty(t, result.Suggested)
	assert.Equal(t, types.StrategyMetaLearning, learner.outcomes[0].Strategy)
}

func TestSmartRouter_FiltersUnavailableProviders(t *testing.T) {
	sc := newTestScorecard(t, "A", "B", "C")
	dispatcher := &fakeDispatcher{behaviors: map[string]behavior{"A": {}, "B": {}, "C": {}}}
	status := staticStatus{
		{ID: "A", Available: false, Enabled: true},
		{ID: "B", Available: true, Enabled: false},
		{ID: "C", Available: true, Enabled: true},
	}
	router := NewSmartRouter(Config{MaxRetries: 3, AttemptTimeout: time.Second}, dispatcher, sc, nil, status, nil, testLogger())

	result, err := router.Route(context.Background(), "hi", RouteOptions{Candidates: []string{"A", "B", "C", "C", "ghost"}})
	require.NoError(t, err)
	assert.Equal(t, "C", result.Provider)
	assert.Equal(t, []string{"C"}, result.Candidates)
}

func TestSmartRouter_NoProviders(t *testing.T) {
	sc := newTestScorecard(t)
	router := newTestRouter(t, Config{}, &fakeDispatcher{}, sc, nil, nil)

	_, err := router.Route(context.Background(), "hi", RouteOptions{})
	assert.ErrorIs(t, err, ErrNoProviders)

	var exhausted *RouteExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 0, exhausted.AttemptsNeeded)
}

func TestSmartRouter_CancelledContextStops(t *testing.T) {
	sc := newTestScorecard(t, "A", "B")
	dispatcher := &fakeDispatcher{behaviors: map[string]behavior{
		"A": {delay: 200 * time.Millisecond},
		"B": {},
	}}
	router := newTestRouter(t, Config{MaxRetries: 2, AttemptTimeout: time.Second}, dispatcher, sc, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := router.Route(ctx, "hi", RouteOptions{Candidates: []string{"A", "B"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var exhausted *RouteExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, exhausted.AttemptsNeeded)
	assert.False(t, exhausted.History[0].TimedOut)
}

func TestSmartRouter_BackoffBetweenAttempts(t *testing.T) {
	sc := newTestScorecard(t, "A", "B")
	dispatcher := &fakeDispatcher{behaviors: map[string]behavior{"A": {fail: true}, "B": {}}}
	router := newTestRouter(t, Config{
		MaxRetries: 2,
		Backoff:    BackoffConfig{Type: "constant", BaseDelay: 40 * time.Millisecond},
	}, dispatcher, sc, nil, nil)

	start := time.Now()
	result, err := router.Route(context.Background(), "hi", RouteOptions{Candidates: []string{"A", "B"}})
	require.NoError(t, err)
	assert.Equal(t, "B", result.Provider)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestCalculateBackoffDelay(t *testing.T) {
	tests := []struct {
		name     string
		config   BackoffConfig
		attempt  int
		expected time.Duration
	}{
		{"disabled", BackoffConfig{}, 1, 0},
		{"unknown type", BackoffConfig{Type: "random", BaseDelay: time.Second}, 1, 0},
		{"exponential first", BackoffConfig{Type: "exponential", BaseDelay: 100 * time.Millisecond}, 1, 100 * time.Millisecond},
		{"exponential third", BackoffConfig{Type: "exponential", BaseDelay: 100 * time.Millisecond}, 3, 400 * time.Millisecond},
		{"exponential capped", BackoffConfig{Type: "exponential", BaseDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond}, 3, 250 * time.Millisecond},
		{"linear", BackoffConfig{Type: "linear", BaseDelay: 100 * time.Millisecond}, 3, 300 * time.Millisecond},
		{"constant", BackoffConfig{Type: "constant", BaseDelay: 50 * time.Millisecond}, 4, 50 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := &SmartRouter{config: Config{Backoff: tt.config}}
			assert.Equal(t, tt.expected, router.calculateBackoffDelay(tt.attempt))
		})
	}
}

func TestSmartRouter_WaterfallProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("returns the first success or exhausts min(maxRetries, n) attempts", prop.ForAll(
		func(pool []bool, n int, maxRetries int) bool {
			outcomes := pool[:n]
			names := make([]string, len(outcomes))
			behaviors := make(map[string]behavior, len(outcomes))
			for i, ok := range outcomes {
				names[i] = fmt.Sprintf("p%d", i)
				behaviors[names[i]] = behavior{fail: !ok}
			}

			sc, err := scorecard.New(scorecard.DefaultConfig(), testLogger(), names...)
			if err != nil {
				return false
			}
			router := NewSmartRouter(Config{MaxRetries: maxRetries, AttemptTimeout: time.Second},
				&fakeDispatcher{behaviors: behaviors}, sc, nil, nil, nil, testLogger())

			limit := maxRetries
			if len(names) < limit {
				limit = len(names)
			}
			firstSuccess := -1
			for i := 0; i < limit; i++ {
				if outcomes[i] {
					firstSuccess = i
					break
				}
			}

			result, err := router.Route(context.Background(), "prompt", RouteOptions{Candidates: names})
			if firstSuccess >= 0 {
				return err == nil && result.Provider == names[firstSuccess] && result.AttemptsNeeded == firstSuccess+1
			}
			var exhausted *RouteExhaustedError
			return errors.As(err, &exhausted) && exhausted.AttemptsNeeded == limit && len(exhausted.History) == limit
		},
		gen.SliceOfN(6, gen.Bool()),
		gen.IntRange(1, 6),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
