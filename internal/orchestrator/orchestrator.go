package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/adaptive-router/internal/events"
	"github.com/tributary-ai/adaptive-router/internal/features"
	"github.com/tributary-ai/adaptive-router/internal/quality"
	"github.com/tributary-ai/adaptive-router/internal/registry"
	"github.com/tributary-ai/adaptive-router/internal/routing"
	"github.com/tributary-ai/adaptive-router/internal/shadow"
	"github.com/tributary-ai/adaptive-router/internal/types"
)

const (
	DefaultShadowRate   = 0.5
	DefaultMaxFallbacks = 2

	// Shadow eligibility multipliers; medium prompts give the clearest signal
	MediumShadowBoost = 1.5
	LowShadowDamp     = 0.5

	coldStartConfidence = 0.5
	learnedConfidence   = 0.45
	maxConfidence       = 0.95
	ruleConfidence      = 0.9
	promotionBonus      = 0.05

	outcomeSource = "orchestrator"
)

// ErrEmptyPrompt is returned for requests without prompt text
var ErrEmptyPrompt = errors.New("prompt is empty")

// Config holds orchestrator configuration
type Config struct {
	DefaultBudget  types.BudgetTier `yaml:"default_budget"`
	ShadowRate     float64          `yaml:"shadow_rate"`
	MaxFallbacks   int              `yaml:"max_fallbacks"`
	DisableRecipes bool             `yaml:"disable_recipes"`
	Rules          []Rule           `yaml:"rules"`
	Seed           int64            `yaml:"seed"`
}

// DefaultConfig returns the default orchestrator configuration
func DefaultConfig() Config {
	return Config{
		DefaultBudget: types.BudgetBalanced,
		ShadowRate:    DefaultShadowRate,
		MaxFallbacks:  DefaultMaxFallbacks,
	}
}

// Learner suggests a state-conditioned provider among candidates
type Learner interface {
	Suggest(candidates []string) (string, types.Strategy, bool)
}

// Router runs a waterfall over candidates
type Router interface {
	Route(ctx context.Context, prompt string, opts routing.RouteOptions) (*routing.RouteResult, error)
}

// Roster lists the registered providers, best first
type Roster interface {
	RankedNames() []string
}

// ShadowLab accepts finished requests for background experiments
type ShadowLab interface {
	Offer(req shadow.Request) (string, shadow.SkipReason)
}

// Request is a user request entering the engine
type Request struct {
	Prompt        string                `json:"prompt"`
	Budget        types.BudgetTier      `json:"budget,omitempty"`
	SessionID     string                `json:"session_id,omitempty"`
	DisableShadow bool                  `json:"disable_shadow,omitempty"`
	Options       types.GenerateOptions `json:"options"`
}

// StepResult is the outcome of one executed plan step
type StepResult struct {
	Role         string        `json:"role,omitempty"`
	Provider     string        `json:"provider"`
	Content      string        `json:"content"`
	Attempts     int           `json:"attempts"`
	Latency      time.Duration `json:"latency"`
	CostUSD      float64       `json:"cost_usd"`
	UsedFallback bool          `json:"used_fallback,omitempty"`
}

// Execution is a plan together with what running it produced
type Execution struct {
	Plan         types.RoutingPlan `json:"plan"`
	Steps        []StepResult      `json:"steps"`
	Content      string            `json:"content"`
	Provider     string            `json:"provider"`
	Latency      time.Duration     `json:"latency"`
	CostUSD      float64           `json:"cost_usd"`
	ExperimentID string            `json:"experiment_id,omitempty"`
	ShadowSkip   string            `json:"shadow_skip,omitempty"`
}

// Orchestrator turns requests into routing plans and executes them
type Orchestrator struct {
	config    Config
	analyzer  *features.Analyzer
	registry  *registry.ModelRegistry
	roster    Roster
	learner   Learner
	router    Router
	lab       ShadowLab
	publisher events.Publisher
	logger    *logrus.Logger
	rules     []compiledRule

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates an orchestrator. roster, learner and lab may be nil; without a
// roster the registry's recommendations are used as they are.
func New(config Config, analyzer *features.Analyzer, reg *registry.ModelRegistry, roster Roster, learner Learner, router Router, lab ShadowLab, publisher events.Publisher, logger *logrus.Logger) (*Orchestrator, error) {
	if config.DefaultBudget == "" {
		config.DefaultBudget = types.BudgetBalanced
	}
	if config.ShadowRate < 0 || config.ShadowRate > 1 {
		return nil, fmt.Errorf("shadow rate must be within [0,1], got %v", config.ShadowRate)
	}
	if config.MaxFallbacks <= 0 {
		config.MaxFallbacks = DefaultMaxFallbacks
	}
	rules, err := compileRules(config.Rules)
	if err != nil {
		return nil, fmt.Errorf("invalid override rules: %w", err)
	}
	if publisher == nil {
		publisher = events.Discard
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Orchestrator{
		config:    config,
		analyzer:  analyzer,
		registry:  reg,
		roster:    roster,
		learner:   learner,
		router:    router,
		lab:       lab,
		publisher: publisher,
		logger:    logger,
		rules:     rules,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

// Plan analyzes a prompt and decides how it should be routed
func (o *Orchestrator) Plan(ctx context.Context, prompt string, budget types.BudgetTier) (types.RoutingPlan, error) {
	if prompt == "" {
		return types.RoutingPlan{}, ErrEmptyPrompt
	}
	if budget == "" {
		budget = o.config.DefaultBudget
	}

	f := o.analyzer.Analyze(prompt)
	selection := o.registry.GetBestModels(ctx, f, budget)
	candidates := selection.Providers()
	if o.roster != nil {
		candidates = withRoster(candidates, o.roster.RankedNames())
	}
	if len(candidates) == 0 {
		return types.RoutingPlan{}, routing.ErrNoProviders
	}

	plan := types.RoutingPlan{
		Type:       types.PlanSingle,
		Domain:     selection.Domain,
		Features:   f,
		Confidence: selectionConfidence(selection),
		Reasoning: []string{
			fmt.Sprintf("Domain %s, complexity %s (score %d)", selection.Domain, f.Complexity, f.ComplexityScore),
			fmt.Sprintf("%d candidates from %s", len(candidates), selection.Source),
		},
	}

	if o.learner != nil {
		pick, strategy, ok := o.learner.Suggest(candidates)
		plan.Strategy = strategy
		if ok {
			candidates = promote(candidates, pick)
			plan.Confidence = clampConfidence(plan.Confidence + promotionBonus)
			plan.Reasoning = append(plan.Reasoning, fmt.Sprintf("Optimizer promoted %s via %s", pick, strategy))
		}
	}

	rule, matched, err := matchRule(o.rules, newRuleContext(f, selection.Domain, budget))
	if err != nil {
		o.logger.WithError(err).Warn("Override rule evaluation failed, ignoring rules")
	}

	recipeName, isRecipe := "", false
	if f.Complexity == types.ComplexityHigh && !o.config.DisableRecipes && !(matched && rule.Model != "") {
		if d, ok := recipeDomain(f, selection.Domain); ok {
			r := recipes[d]
			plan.Type = types.PlanRecipe
			plan.Steps = buildSteps(r, candidates)
			plan.Lane = r.Lane
			recipeName, isRecipe = r.Name, true
			plan.Reasoning = append(plan.Reasoning, fmt.Sprintf("High complexity %s request uses recipe %s", d, r.Name))
		}
	}

	if !isRecipe {
		if matched && rule.Model != "" {
			candidates = promote(candidates, rule.Model)
		}
		plan.Model = candidates[0]
		rest := candidates[1:]
		if len(rest) > o.config.MaxFallbacks {
			rest = rest[:o.config.MaxFallbacks]
		}
		plan.Fallbacks = append([]string(nil), rest...)
		plan.Lane = laneFor(f.Complexity)
		plan.ShadowTest = o.shadowEligible(f.Complexity)
	}

	if matched {
		if rule.Lane != "" {
			plan.Lane = rule.Lane
		}
		plan.Confidence = ruleConfidence
		plan.Reasoning = append(plan.Reasoning, fmt.Sprintf("Override rule %s matched", rule.Name))
	}

	o.publisher.Publish(events.TopicRoutingPlan, map[string]interface{}{
		"type":        string(plan.Type),
		"lane":        string(plan.Lane),
		"domain":      string(plan.Domain),
		"model":       plan.Model,
		"steps":       len(plan.Steps),
		"complexity":  string(f.Complexity),
		"shadow_test": plan.ShadowTest,
		"confidence":  plan.Confidence,
		"recipe":      recipeName,
		"source":      selection.Source,
	})

	o.logger.WithFields(logrus.Fields{
		"type":       plan.Type,
		"lane":       plan.Lane,
		"domain":     plan.Domain,
		"model":      plan.Model,
		"complexity": f.Complexity,
		"shadow":     plan.ShadowTest,
	}).Debug("Routing plan built")

	return plan, nil
}

// Execute plans a request and runs the plan through the router. Single
// plans are offered to the shadow lab afterwards.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Execution, error) {
	plan, err := o.Plan(ctx, req.Prompt, req.Budget)
	if err != nil {
		if errors.Is(err, routing.ErrNoProviders) {
			return nil, &routing.RouteExhaustedError{Err: err}
		}
		return nil, err
	}

	exec := &Execution{Plan: plan}
	if plan.Type == types.PlanRecipe {
		err = o.executeRecipe(ctx, req, plan, exec)
	} else {
		err = o.executeSingle(ctx, req, plan, exec)
	}
	if err != nil {
		return exec, err
	}

	o.logger.WithFields(logrus.Fields{
		"type":        plan.Type,
		"provider":    exec.Provider,
		"steps":       len(exec.Steps),
		"duration_ms": exec.Latency.Milliseconds(),
	}).Info("Request executed")

	return exec, nil
}

func (o *Orchestrator) executeSingle(ctx context.Context, req Request, plan types.RoutingPlan, exec *Execution) error {
	candidates := append([]string{plan.Model}, plan.Fallbacks...)
	result, err := o.route(ctx, req.Prompt, candidates, plan, req.Options)
	if err != nil {
		return err
	}

	step := stepFrom("", result, plan.Model)
	exec.Steps = append(exec.Steps, step)
	exec.Content = step.Content
	exec.Provider = step.Provider
	exec.Latency = result.Latency
	exec.CostUSD = step.CostUSD

	if plan.ShadowTest && !req.DisableShadow && o.lab != nil {
		id, skip := o.lab.Offer(shadow.Request{
			Prompt:    req.Prompt,
			Domain:    plan.Domain,
			SessionID: req.SessionID,
			Primary: types.RunResult{
				Model:    result.Provider,
				Response: step.Content,
				Latency:  result.Response.Latency,
				Quality:  quality.Estimate(req.Prompt, step.Content),
				CostUSD:  step.CostUSD,
			},
			Options: req.Options,
		})
		exec.ExperimentID = id
		exec.ShadowSkip = string(skip)
	}
	return nil
}

func (o *Orchestrator) executeRecipe(ctx context.Context, req Request, plan types.RoutingPlan, exec *Execution) error {
	steps := append([]types.RecipeStep(nil), plan.Steps...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Priority < steps[j].Priority })

	previous := ""
	for _, step := range steps {
		candidates := []string{step.Model}
		if step.Fallback != "" {
			candidates = append(candidates, step.Fallback)
		}

		result, err := o.route(ctx, stepPrompt(req.Prompt, step, previous), candidates, plan, req.Options)
		if err != nil {
			o.logger.WithError(err).WithField("role", step.Role).Warn("Recipe step failed")
			return err
		}

		sr := stepFrom(step.Role, result, step.Model)
		exec.Steps = append(exec.Steps, sr)
		exec.Latency += sr.Latency
		exec.CostUSD += sr.CostUSD
		previous = sr.Content
	}

	last := exec.Steps[len(exec.Steps)-1]
	exec.Content = last.Content
	exec.Provider = last.Provider
	return nil
}

// route runs one waterfall and feeds every attempt into the knowledge store
func (o *Orchestrator) route(ctx context.Context, prompt string, candidates []string, plan types.RoutingPlan, opts types.GenerateOptions) (*routing.RouteResult, error) {
	routeOpts := routing.RouteOptions{
		Candidates:       candidates,
		Domain:           plan.Domain,
		Strategy:         plan.Strategy,
		DisableOptimizer: plan.Strategy != "",
		Generate:         opts,
	}

	result, err := o.router.Route(ctx, prompt, routeOpts)
	if err != nil {
		var exhausted *routing.RouteExhaustedError
		if errors.As(err, &exhausted) {
			o.recordFailures(ctx, plan, exhausted.History)
		}
		return nil, err
	}

	o.recordFailures(ctx, plan, result.RouteHistory)
	o.registry.RecordOutcome(ctx, types.Outcome{
		Provider:  result.Provider,
		Domain:    string(plan.Domain),
		Strategy:  result.Strategy,
		Success:   true,
		Quality:   quality.Estimate(prompt, result.Response.Content),
		Latency:   result.Response.Latency,
		CostUSD:   result.Response.CostUSD,
		Source:    outcomeSource,
		Timestamp: time.Now(),
	})
	return result, nil
}

func (o *Orchestrator) recordFailures(ctx context.Context, plan types.RoutingPlan, history []routing.Attempt) {
	for _, attempt := range history {
		if attempt.Success {
			continue
		}
		o.registry.RecordOutcome(ctx, types.Outcome{
			Provider:  attempt.Provider,
			Domain:    string(plan.Domain),
			Strategy:  plan.Strategy,
			Success:   false,
			Latency:   attempt.Latency,
			Source:    outcomeSource,
			Timestamp: time.Now(),
		})
	}
}

func stepFrom(role string, result *routing.RouteResult, planned string) StepResult {
	return StepResult{
		Role:         role,
		Provider:     result.Provider,
		Content:      result.Response.Content,
		Attempts:     result.AttemptsNeeded,
		Latency:      result.Latency,
		CostUSD:      result.Response.CostUSD,
		UsedFallback: result.Provider != planned,
	}
}

// shadowEligible draws the plan's shadow-test flag
func (o *Orchestrator) shadowEligible(complexity types.Complexity) bool {
	p := ShadowProbability(o.config.ShadowRate, complexity)
	if p <= 0 {
		return false
	}
	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	return o.rng.Float64() < p
}

// ShadowProbability scales the base rate by complexity, clamped to [0,1]
func ShadowProbability(base float64, complexity types.Complexity) float64 {
	p := base
	switch complexity {
	case types.ComplexityMedium:
		p *= MediumShadowBoost
	case types.ComplexityLow:
		p *= LowShadowDamp
	}
	if p > 1 {
		return 1
	}
	if p < 0 {
		return 0
	}
	return p
}

func laneFor(complexity types.Complexity) types.Lane {
	switch complexity {
	case types.ComplexityHigh:
		return types.LaneDeep
	case types.ComplexityMedium:
		return types.LaneFocus
	default:
		return types.LaneFast
	}
}

func selectionConfidence(selection registry.Selection) float64 {
	if selection.Source != registry.SourceLearned || len(selection.Recommendations) == 0 {
		return coldStartConfidence
	}
	return clampConfidence(coldStartConfidence + learnedConfidence*selection.Recommendations[0].Score)
}

func clampConfidence(c float64) float64 {
	if c > maxConfidence {
		return maxConfidence
	}
	if c < 0 {
		return 0
	}
	return c
}

// promote moves pick to the front, inserting it when absent
// withRoster drops recommendations that are not registered and appends the
// registered providers the registry did not name, in roster order
func withRoster(recommended, roster []string) []string {
	registered := make(map[string]bool, len(roster))
	for _, id := range roster {
		registered[id] = true
	}

	out := make([]string, 0, len(roster))
	seen := make(map[string]bool, len(roster))
	for _, id := range recommended {
		if registered[id] && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range roster {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func promote(candidates []string, pick string) []string {
	out := make([]string, 0, len(candidates)+1)
	out = append(out, pick)
	for _, c := range candidates {
		if c != pick {
			out = append(out, c)
		}
	}
	return out
}
