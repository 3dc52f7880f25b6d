package routing

import (
	"time"

	"github.com/tributary-ai/adaptive-router/internal/types"
)

// Attempt records one provider invocation of a routed request
type Attempt struct {
	Provider string        `json:"provider"`
	Index    int           `json:"index"`
	Latency  time.Duration `json:"latency"`
	Success  bool          `json:"success"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// RouteResult contains the outcome of a successful waterfall
type RouteResult struct {
	// The provider that produced the response
	Provider string `json:"provider"`

	Response *types.GenerateResult `json:"response"`

	// Wall clock across all attempts
	Latency time.Duration `json:"latency"`

	AttemptsNeeded int       `json:"attempts_needed"`
	RouteHistory   []Attempt `json:"route_history"`

	// Optimizer involvement, if any
	Strategy  types.Strategy `json:"strategy,omitempty"`
	Suggested string         `json:"suggested,omitempty"`

	// Candidate order the waterfall walked
	Candidates []string `json:"candidates"`

	// Human-readable reasoning for the decision
	Reasoning []string `json:"reasoning"`
}
