package shadow

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/tributary-ai/adaptive-router/internal/events"
	"github.com/tributary-ai/adaptive-router/internal/providers"
	"github.com/tributary-ai/adaptive-router/internal/quality"
	"github.com/tributary-ai/adaptive-router/internal/registry"
	"github.com/tributary-ai/adaptive-router/internal/types"
)

const (
	// ChallengerBoost multiplies a winning challenger's sampling weight
	ChallengerBoost = 1.1
	// PrimaryDecay multiplies the beaten primary's sampling weight
	PrimaryDecay = 0.95

	DefaultWeight = 1.0

	outcomeSource = "shadow"
)

// SkipReason explains why Offer did not start an experiment
type SkipReason string

const (
	SkipNone           SkipReason = ""
	SkipDisabled       SkipReason = "disabled"
	SkipPromptTooShort SkipReason = "prompt_too_short"
	SkipAtCapacity     SkipReason = "at_capacity"
	SkipCooldown       SkipReason = "cooldown"
	SkipNotSampled     SkipReason = "not_sampled"
	SkipNoChallenger   SkipReason = "no_challenger"
	SkipStopped        SkipReason = "stopped"
)

// Config holds shadow lab configuration
type Config struct {
	Enabled         bool               `yaml:"enabled"`
	ExperimentRate  float64            `yaml:"experiment_rate"`
	MinPromptLength int                `yaml:"min_prompt_length"`
	MaxConcurrent   int                `yaml:"max_concurrent"`
	Cooldown        time.Duration      `yaml:"cooldown"`
	HistorySize     int                `yaml:"history_size"`
	JudgeProvider   string             `yaml:"judge_provider"`
	JudgeTimeout    time.Duration      `yaml:"judge_timeout"`
	RunTimeout      time.Duration      `yaml:"run_timeout"`
	InitialWeights  map[string]float64 `yaml:"initial_weights"`
	MinWeight       float64            `yaml:"min_weight"`
	MaxWeight       float64            `yaml:"max_weight"`
	Seed            int64              `yaml:"seed"`
}

// DefaultConfig returns the default shadow lab configuration
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		ExperimentRate:  0.1,
		MinPromptLength: 50,
		MaxConcurrent:   2,
		Cooldown:        30 * time.Second,
		HistorySize:     100,
		JudgeTimeout:    20 * time.Second,
		RunTimeout:      60 * time.Second,
		MinWeight:       0.1,
		MaxWeight:       10,
	}
}

// Request is a completed user-visible generation offered for shadowing
type Request struct {
	Prompt    string
	Domain    types.Domain
	SessionID string
	// Provider ID of the champion and its result
	Primary types.RunResult
	Options types.GenerateOptions
}

// Learner receives challenger wins as exploration interactions
type Learner interface {
	RecordInteraction(outcome types.Outcome) float64
}

// Stats are lifetime counters of the lab
type Stats struct {
	Started        int64 `json:"started"`
	Completed      int64 `json:"completed"`
	Failed         int64 `json:"failed"`
	ChallengerWins int64 `json:"challenger_wins"`
	JudgeFallbacks int64 `json:"judge_fallbacks"`
	InFlight       int64 `json:"in_flight"`
}

// Lab runs background champion/challenger experiments
type Lab struct {
	config     Config
	dispatcher providers.Dispatcher
	status     providers.StatusSource
	judge      Judge
	learner    Learner
	recorder   registry.OutcomeRecorder
	publisher  events.Publisher
	logger     *logrus.Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	enabled   bool
	weights   map[string]float64
	order     []string
	rng       *rand.Rand
	lastStart time.Time
	history   []*types.ShadowExperiment
	next      int
	stopped   bool

	revision       atomic.Uint64
	started        atomic.Int64
	completed      atomic.Int64
	failed         atomic.Int64
	challengerWins atomic.Int64
	judgeFallbacks atomic.Int64
	inFlight       atomic.Int64
}

// NewLab creates a shadow lab. status, learner and recorder may be nil. The
// LLM judge is used when config.JudgeProvider is set.
func NewLab(config Config, dispatcher providers.Dispatcher, status providers.StatusSource, learner Learner, recorder registry.OutcomeRecorder, publisher events.Publisher, logger *logrus.Logger) *Lab {
	defaults := DefaultConfig()
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.HistorySize <= 0 {
		config.HistorySize = defaults.HistorySize
	}
	if config.JudgeTimeout <= 0 {
		config.JudgeTimeout = defaults.JudgeTimeout
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = defaults.RunTimeout
	}
	if config.MinWeight <= 0 {
		config.MinWeight = defaults.MinWeight
	}
	if config.MaxWeight < config.MinWeight {
		config.MaxWeight = defaults.MaxWeight
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if publisher == nil {
		publisher = events.Discard
	}

	ctx, cancel := context.WithCancel(context.Background())

	lab := &Lab{
		config:     config,
		dispatcher: dispatcher,
		status:     status,
		learner:    learner,
		recorder:   recorder,
		publisher:  publisher,
		logger:     logger,
		sem:        semaphore.NewWeighted(int64(config.MaxConcurrent)),
		ctx:        ctx,
		cancel:     cancel,
		enabled:    config.Enabled,
		weights:    make(map[string]float64),
		rng:        rand.New(rand.NewSource(seed)),
		history:    make([]*types.ShadowExperiment, 0, config.HistorySize),
	}
	if config.JudgeProvider != "" {
		lab.judge = NewLLMJudge(dispatcher, config.JudgeProvider)
	}

	ids := make([]string, 0, len(config.InitialWeights))
	for id := range config.InitialWeights {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		lab.setWeight(id, config.InitialWeights[id])
	}

	return lab
}

// SetJudge replaces the LLM judge; nil disables escalation
func (l *Lab) SetJudge(judge Judge) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.judge = judge
}

// Register adds challenger candidates at the default weight
func (l *Lab) Register(ids ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		if _, exists := l.weights[id]; !exists {
			l.setWeight(id, DefaultWeight)
		}
	}
}

// setWeight clamps and stores a weight. Caller holds the mutex.
func (l *Lab) setWeight(id string, w float64) {
	if _, exists := l.weights[id]; !exists {
		l.order = append(l.order, id)
	}
	if w < l.config.MinWeight {
		w = l.config.MinWeight
	}
	if w > l.config.MaxWeight {
		w = l.config.MaxWeight
	}
	l.weights[id] = w
}

// Offer runs the sampling gates and, when they all pass, starts an experiment
// in the background. It never blocks on the experiment itself.
func (l *Lab) Offer(req Request) (string, SkipReason) {
	l.mu.Lock()
	enabled, stopped := l.enabled, l.stopped
	l.mu.Unlock()

	if stopped {
		return "", SkipStopped
	}
	if !enabled {
		return "", SkipDisabled
	}
	if utf8.RuneCountInString(req.Prompt) <= l.config.MinPromptLength {
		return "", SkipPromptTooShort
	}
	if !l.sem.TryAcquire(1) {
		return "", SkipAtCapacity
	}

	usable := l.usable()

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		l.sem.Release(1)
		return "", SkipStopped
	}
	if l.config.Cooldown > 0 && !l.lastStart.IsZero() && time.Since(l.lastStart) < l.config.Cooldown {
		l.mu.Unlock()
		l.sem.Release(1)
		return "", SkipCooldown
	}
	if l.rng.Float64() >= l.config.ExperimentRate {
		l.mu.Unlock()
		l.sem.Release(1)
		return "", SkipNotSampled
	}
	challenger, ok := l.pickChallenger(req.Primary.Model, usable)
	if !ok {
		l.mu.Unlock()
		l.sem.Release(1)
		return "", SkipNoChallenger
	}
	l.lastStart = time.Now()

	if req.Primary.Quality == 0 && req.Primary.Response != "" {
		req.Primary.Quality = quality.Estimate(req.Prompt, req.Primary.Response)
	}

	exp := &types.ShadowExperiment{
		ID:         uuid.New().String(),
		Prompt:     req.Prompt,
		Domain:     string(req.Domain),
		SessionID:  req.SessionID,
		Primary:    req.Primary,
		Challenger: types.RunResult{Model: challenger},
		Status:     types.ExperimentPending,
		CreatedAt:  time.Now(),
	}
	l.push(exp)
	l.wg.Add(1)
	l.mu.Unlock()

	l.started.Add(1)
	l.inFlight.Add(1)

	l.logger.WithFields(logrus.Fields{
		"experiment": exp.ID,
		"primary":    req.Primary.Model,
		"challenger": challenger,
	}).Debug("Shadow experiment started")

	go l.run(exp, req.Options)

	return exp.ID, SkipNone
}

// usable returns the IDs the status source reports as usable, or nil when
// there is no status source
func (l *Lab) usable() map[string]bool {
	if l.status == nil {
		return nil
	}
	out := make(map[string]bool)
	for _, s := range l.status.ProviderStatuses(l.ctx) {
		if s.Usable() {
			out[s.ID] = true
		}
	}
	return out
}

// pickChallenger draws a weighted-random candidate other than primary. A nil
// usable set admits every weighted ID; otherwise IDs missing from it are
// skipped. Caller holds the mutex.
func (l *Lab) pickChallenger(primary string, usable map[string]bool) (string, bool) {
	total := 0.0
	candidates := make([]string, 0, len(l.order))
	for _, id := range l.order {
		if id == primary || (usable != nil && !usable[id]) {
			continue
		}
		candidates = append(candidates, id)
		total += l.weights[id]
	}
	if len(candidates) == 0 || total <= 0 {
		return "", false
	}

	draw := l.rng.Float64() * total
	for _, id := range candidates {
		draw -= l.weights[id]
		if draw < 0 {
			return id, true
		}
	}
	return candidates[len(candidates)-1], true
}

// push appends to the history ring. Caller holds the mutex.
func (l *Lab) push(exp *types.ShadowExperiment) {
	if len(l.history) < l.config.HistorySize {
		l.history = append(l.history, exp)
		return
	}
	l.history[l.next] = exp
	l.next = (l.next + 1) % l.config.HistorySize
}

// advance moves an experiment strictly forward through its lifecycle
func (l *Lab) advance(exp *types.ShadowExperiment, next types.ExperimentStatus, mutate func(*types.ShadowExperiment)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !exp.Status.CanAdvanceTo(next) {
		l.logger.WithFields(logrus.Fields{
			"experiment": exp.ID,
			"from":       exp.Status,
			"to":         next,
		}).Warn("Rejected backward experiment transition")
		return false
	}
	if mutate != nil {
		mutate(exp)
	}
	exp.Status = next
	if next.Terminal() {
		exp.CompletedAt = time.Now()
	}
	return true
}

func (l *Lab) run(exp *types.ShadowExperiment, opts types.GenerateOptions) {
	defer l.wg.Done()
	defer l.sem.Release(1)
	defer l.inFlight.Add(-1)

	l.advance(exp, types.ExperimentRunning, nil)

	l.mu.Lock()
	prompt, primary, challengerID := exp.Prompt, exp.Primary, exp.Challenger.Model
	l.mu.Unlock()

	runCtx, cancel := context.WithTimeout(l.ctx, l.config.RunTimeout)
	start := time.Now()
	result, err := l.dispatcher.Generate(runCtx, challengerID, prompt, opts)
	cancel()

	if err == nil && result == nil {
		err = fmt.Errorf("challenger %s returned no result", challengerID)
	}
	if err != nil {
		l.fail(exp, fmt.Errorf("challenger run: %w", err))
		return
	}

	latency := result.Latency
	if latency == 0 {
		latency = time.Since(start)
	}
	challenger := types.RunResult{
		Model:    challengerID,
		Response: result.Content,
		Latency:  latency,
		Quality:  quality.Estimate(prompt, result.Content),
		CostUSD:  result.CostUSD,
	}

	l.advance(exp, types.ExperimentJudging, func(e *types.ShadowExperiment) {
		e.Challenger = challenger
	})

	judgment := l.decide(exp.ID, prompt, primary, challenger)

	l.advance(exp, types.ExperimentCompleted, func(e *types.ShadowExperiment) {
		e.Judgment = &judgment
	})
	l.completed.Add(1)
	l.revision.Add(1)

	l.publisher.Publish(events.TopicExperimentCompleted, map[string]interface{}{
		"experiment": exp.ID,
		"status":     string(types.ExperimentCompleted),
		"primary":    primary.Model,
		"challenger": challengerID,
		"winner":     string(judgment.Winner),
		"confidence": judgment.Confidence,
		"judge":      judgment.JudgeModel,
	})

	if judgment.Winner == types.WinnerChallenger && judgment.Confidence > AdoptionConfidence {
		l.adopt(exp, primary, challenger, judgment)
	}

	l.logger.WithFields(logrus.Fields{
		"experiment": exp.ID,
		"primary":    primary.Model,
		"challenger": challengerID,
		"winner":     judgment.Winner,
		"confidence": judgment.Confidence,
		"judge":      judgment.JudgeModel,
	}).Info("Shadow experiment completed")
}

// decide applies the heuristic judge and escalates low-confidence verdicts
func (l *Lab) decide(id, prompt string, primary, challenger types.RunResult) types.Judgment {
	judgment := HeuristicJudge(primary, challenger)
	if judgment.Confidence >= EscalationConfidence {
		return judgment
	}

	l.mu.Lock()
	judge := l.judge
	l.mu.Unlock()
	if judge == nil {
		return judgment
	}

	ctx, cancel := context.WithTimeout(l.ctx, l.config.JudgeTimeout)
	defer cancel()

	verdict, err := judge.Judge(ctx, prompt, primary, challenger)
	if err != nil {
		l.judgeFallbacks.Add(1)
		l.logger.WithError(err).WithField("experiment", id).Warn("LLM judge failed, keeping heuristic judgment")
		return judgment
	}
	return verdict
}

func (l *Lab) fail(exp *types.ShadowExperiment, err error) {
	l.advance(exp, types.ExperimentFailed, func(e *types.ShadowExperiment) {
		e.Error = err.Error()
	})
	l.failed.Add(1)
	l.revision.Add(1)

	l.publisher.Publish(events.TopicExperimentCompleted, map[string]interface{}{
		"experiment": exp.ID,
		"status":     string(types.ExperimentFailed),
		"challenger": exp.Challenger.Model,
		"error":      err.Error(),
	})

	l.logger.WithError(err).WithField("experiment", exp.ID).Warn("Shadow experiment failed")
}

// adopt shifts sampling weight toward a winning challenger and forwards the
// win into the learning loop and the knowledge store
func (l *Lab) adopt(exp *types.ShadowExperiment, primary, challenger types.RunResult, judgment types.Judgment) {
	l.mu.Lock()
	if w, ok := l.weights[challenger.Model]; ok {
		l.setWeight(challenger.Model, w*ChallengerBoost)
	}
	if w, ok := l.weights[primary.Model]; ok {
		l.setWeight(primary.Model, w*PrimaryDecay)
	}
	challengerWeight := l.weights[challenger.Model]
	l.mu.Unlock()

	l.challengerWins.Add(1)
	l.revision.Add(1)

	outcome := types.Outcome{
		Provider:  challenger.Model,
		Domain:    exp.Domain,
		Strategy:  types.StrategyExploration,
		Success:   true,
		Quality:   challenger.Quality,
		Latency:   challenger.Latency,
		CostUSD:   challenger.CostUSD,
		Source:    outcomeSource,
		Timestamp: time.Now(),
	}
	if l.learner != nil {
		l.learner.RecordInteraction(outcome)
	}
	if l.recorder != nil {
		l.recorder.RecordOutcome(l.ctx, outcome)
	}

	l.publisher.Publish(events.TopicChallengerWon, map[string]interface{}{
		"experiment":        exp.ID,
		"primary":           primary.Model,
		"challenger":        challenger.Model,
		"confidence":        judgment.Confidence,
		"challenger_weight": challengerWeight,
		"domain":            exp.Domain,
	})
}

// Experiments returns copies of the retained experiments, oldest first
func (l *Lab) Experiments() []types.ShadowExperiment {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]types.ShadowExperiment, 0, len(l.history))
	for i := 0; i < len(l.history); i++ {
		idx := i
		if len(l.history) == l.config.HistorySize {
			idx = (l.next + i) % l.config.HistorySize
		}
		out = append(out, copyExperiment(l.history[idx]))
	}
	return out
}

// Experiment returns a copy of a retained experiment
func (l *Lab) Experiment(id string) (types.ShadowExperiment, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, exp := range l.history {
		if exp.ID == id {
			return copyExperiment(exp), true
		}
	}
	return types.ShadowExperiment{}, false
}

func copyExperiment(exp *types.ShadowExperiment) types.ShadowExperiment {
	c := *exp
	if exp.Judgment != nil {
		j := *exp.Judgment
		c.Judgment = &j
	}
	return c
}

// Weights returns a copy of the challenger sampling weights
func (l *Lab) Weights() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]float64, len(l.weights))
	for id, w := range l.weights {
		out[id] = w
	}
	return out
}

// SetEnabled toggles shadow mode at runtime
func (l *Lab) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	l.mu.Unlock()

	l.logger.WithField("enabled", enabled).Info("Shadow mode changed")
}

// Enabled reports whether shadow mode is on
func (l *Lab) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Stats returns lifetime counters
func (l *Lab) Stats() Stats {
	return Stats{
		Started:        l.started.Load(),
		Completed:      l.completed.Load(),
		Failed:         l.failed.Load(),
		ChallengerWins: l.challengerWins.Load(),
		JudgeFallbacks: l.judgeFallbacks.Load(),
		InFlight:       l.inFlight.Load(),
	}
}

// Wait blocks until every started experiment has finished
func (l *Lab) Wait() {
	l.wg.Wait()
}

// Stop refuses new experiments, cancels in-flight ones and waits for them
func (l *Lab) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()

	l.cancel()
	l.wg.Wait()
}
