package orchestrator

import (
	"fmt"
	"strings"

	"github.com/tributary-ai/adaptive-router/internal/types"
)

// stepTemplate is a recipe role bound to a position in the recommended
// provider list; the next position is its fallback
type stepTemplate struct {
	Role string
	Task string
	Slot int
}

type recipe struct {
	Name  string
	Lane  types.Lane
	Steps []stepTemplate
}

var recipes = map[types.Domain]recipe{
	types.DomainCoding: {
		Name: "design-implement-review",
		Lane: types.LaneAudit,
		Steps: []stepTemplate{
			{Role: "architect", Task: "Outline the design, interfaces and edge cases before any code is written", Slot: 0},
			{Role: "implementer", Task: "Write the implementation that follows the design", Slot: 1},
			{Role: "reviewer", Task: "Review the implementation for bugs and missing cases and return the corrected result", Slot: 0},
		},
	},
	types.DomainResearch: {
		Name: "gather-evaluate-synthesize",
		Lane: types.LaneDeep,
		Steps: []stepTemplate{
			{Role: "researcher", Task: "Gather the relevant facts, sources and open questions", Slot: 0},
			{Role: "analyst", Task: "Evaluate the evidence and note where it conflicts", Slot: 1},
			{Role: "synthesizer", Task: "Write the final answer from the evaluated findings", Slot: 0},
		},
	},
	types.DomainAnalysis: {
		Name: "analyze-critique-report",
		Lane: types.LaneDeep,
		Steps: []stepTemplate{
			{Role: "analyst", Task: "Break the problem down and analyze each part", Slot: 0},
			{Role: "critic", Task: "Challenge the analysis and point out weak assumptions", Slot: 1},
			{Role: "reporter", Task: "Produce the final conclusions with the critique addressed", Slot: 0},
		},
	},
	types.DomainCreative: {
		Name: "ideate-draft-edit",
		Lane: types.LaneDeep,
		Steps: []stepTemplate{
			{Role: "ideator", Task: "Propose a few distinct directions and pick the strongest", Slot: 1},
			{Role: "writer", Task: "Write the piece in the chosen direction", Slot: 0},
			{Role: "editor", Task: "Polish the draft for voice, rhythm and clarity", Slot: 1},
		},
	},
}

// recipeDomain picks the recipe for high-complexity prompts. The voted domain
// wins when its flag is set, otherwise the first set flag in priority order.
func recipeDomain(f types.Features, voted types.Domain) (types.Domain, bool) {
	flags := map[types.Domain]bool{
		types.DomainCoding:   f.IsCode,
		types.DomainResearch: f.IsResearch,
		types.DomainAnalysis: f.IsAnalysis,
		types.DomainCreative: f.IsCreative,
	}
	if flags[voted] {
		return voted, true
	}
	for _, d := range []types.Domain{types.DomainCoding, types.DomainResearch, types.DomainAnalysis, types.DomainCreative} {
		if flags[d] {
			return d, true
		}
	}
	return "", false
}

// buildSteps binds recipe roles to the recommended providers
func buildSteps(r recipe, providers []string) []types.RecipeStep {
	steps := make([]types.RecipeStep, 0, len(r.Steps))
	n := len(providers)
	for i, tmpl := range r.Steps {
		step := types.RecipeStep{
			Role:     tmpl.Role,
			Task:     tmpl.Task,
			Priority: i + 1,
			Model:    providers[tmpl.Slot%n],
		}
		if n > 1 {
			step.Fallback = providers[(tmpl.Slot+1)%n]
		}
		steps = append(steps, step)
	}
	return steps
}

// stepPrompt frames the original request for one recipe role, carrying the
// previous step's output forward
func stepPrompt(prompt string, step types.RecipeStep, previous string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s in a multi-step workflow.\nYour task: %s.\n\nRequest:\n%s\n", step.Role, step.Task, prompt)
	if previous != "" {
		fmt.Fprintf(&b, "\nOutput of the previous step:\n%s\n", previous)
	}
	return b.String()
}
