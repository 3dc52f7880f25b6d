package orchestrator

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tributary-ai/adaptive-router/internal/types"
)

// Rule forces a model and/or lane when its condition matches, e.g.
//
//	when: IsCode && Budget == "cost_sensitive"
//	model: gpt-4o-mini
type Rule struct {
	Name  string     `yaml:"name" json:"name"`
	When  string     `yaml:"when" json:"when"`
	Model string     `yaml:"model,omitempty" json:"model,omitempty"`
	Lane  types.Lane `yaml:"lane,omitempty" json:"lane,omitempty"`
}

// RuleContext is the environment a rule condition is evaluated against
type RuleContext struct {
	Domain          string
	Complexity      string
	Budget          string
	Tokens          int
	ComplexityScore int
	TechnicalTerms  int
	IsCode          bool
	IsCreative      bool
	IsResearch      bool
	IsAnalysis      bool
	MultiStep       bool
}

func newRuleContext(f types.Features, domain types.Domain, budget types.BudgetTier) RuleContext {
	return RuleContext{
		Domain:          string(domain),
		Complexity:      string(f.Complexity),
		Budget:          string(budget),
		Tokens:          f.TokenCount,
		ComplexityScore: f.ComplexityScore,
		TechnicalTerms:  f.TechnicalTerms,
		IsCode:          f.IsCode,
		IsCreative:      f.IsCreative,
		IsResearch:      f.IsResearch,
		IsAnalysis:      f.IsAnalysis,
		MultiStep:       f.MultiStep,
	}
}

type compiledRule struct {
	rule    Rule
	program *vm.Program
}

// compileRules type-checks every condition up front so a bad rule fails at startup
func compileRules(rules []Rule) ([]compiledRule, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, rule := range rules {
		name := rule.Name
		if name == "" {
			name = fmt.Sprintf("rule[%d]", i)
		}
		if rule.When == "" {
			return nil, fmt.Errorf("%s: condition is required", name)
		}
		if rule.Model == "" && rule.Lane == "" {
			return nil, fmt.Errorf("%s: rule must set a model or a lane", name)
		}
		if rule.Lane != "" && !validLane(rule.Lane) {
			return nil, fmt.Errorf("%s: unknown lane %q", name, rule.Lane)
		}

		program, err := expr.Compile(rule.When, expr.Env(RuleContext{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("failed to compile condition '%s' of %s: %w", rule.When, name, err)
		}
		rule.Name = name
		compiled = append(compiled, compiledRule{rule: rule, program: program})
	}
	return compiled, nil
}

// matchRule returns the first rule whose condition holds
func matchRule(rules []compiledRule, ctx RuleContext) (Rule, bool, error) {
	for _, r := range rules {
		output, err := expr.Run(r.program, ctx)
		if err != nil {
			return Rule{}, false, fmt.Errorf("failed to run condition '%s': %w", r.rule.When, err)
		}
		if matched, ok := output.(bool); ok && matched {
			return r.rule, true, nil
		}
	}
	return Rule{}, false, nil
}

func validLane(lane types.Lane) bool {
	switch lane {
	case types.LaneFast, types.LaneFocus, types.LaneDeep, types.LaneAudit:
		return true
	}
	return false
}
