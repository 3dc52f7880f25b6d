package types

// Domain is the task family a prompt belongs to
type Domain string

const (
	DomainCoding   Domain = "coding"
	DomainCreative Domain = "creative"
	DomainResearch Domain = "research"
	DomainAnalysis Domain = "analysis"
	DomainGeneral  Domain = "general"
)

// Complexity classifies how demanding a prompt is
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Features are the signals extracted from a raw prompt
type Features struct {
	IsCode          bool                `json:"is_code"`
	IsCreative      bool                `json:"is_creative"`
	IsResearch      bool                `json:"is_research"`
	IsAnalysis      bool                `json:"is_analysis"`
	Keywords        map[Domain][]string `json:"keywords,omitempty"`
	TokenCount      int                 `json:"token_count"`
	MultiStep       bool                `json:"multi_step"`
	TechnicalTerms  int                 `json:"technical_terms"`
	ComplexityScore int                 `json:"complexity_score"`
	Complexity      Complexity          `json:"complexity"`
}

// PlanType distinguishes single-model plans from recipes
type PlanType string

const (
	PlanSingle PlanType = "single"
	PlanRecipe PlanType = "recipe"
)

// Lane is the qualitative execution profile of a plan
type Lane string

const (
	LaneFast  Lane = "fast"
	LaneFocus Lane = "focus"
	LaneDeep  Lane = "deep"
	LaneAudit Lane = "audit"
)

// RecipeStep is one role in a multi-step plan
type RecipeStep struct {
	Role     string `json:"role"`
	Model    string `json:"model"`
	Task     string `json:"task"`
	Priority int    `json:"priority"`
	Fallback string `json:"fallback,omitempty"`
}

// RoutingPlan is the orchestrator's output contract
type RoutingPlan struct {
	Type       PlanType     `json:"type"`
	Model      string       `json:"model,omitempty"`
	Fallbacks  []string     `json:"fallbacks,omitempty"`
	Steps      []RecipeStep `json:"steps,omitempty"`
	Lane       Lane         `json:"lane"`
	Domain     Domain       `json:"domain"`
	Strategy   Strategy     `json:"strategy,omitempty"`
	Confidence float64      `json:"confidence"`
	ShadowTest bool         `json:"shadow_test"`
	Reasoning  []string     `json:"reasoning,omitempty"`
	Features   Features     `json:"features"`
}
