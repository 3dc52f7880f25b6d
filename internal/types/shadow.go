package types

import "time"

// ExperimentStatus tracks a shadow experiment's lifecycle
type ExperimentStatus string

const (
	ExperimentPending   ExperimentStatus = "pending"
	ExperimentRunning   ExperimentStatus = "running"
	ExperimentJudging   ExperimentStatus = "judging"
	ExperimentCompleted ExperimentStatus = "completed"
	ExperimentFailed    ExperimentStatus = "failed"
)

var statusOrder = map[ExperimentStatus]int{
	ExperimentPending:   0,
	ExperimentRunning:   1,
	ExperimentJudging:   2,
	ExperimentCompleted: 3,
	ExperimentFailed:    3,
}

// Terminal reports whether no further transition is allowed
func (s ExperimentStatus) Terminal() bool {
	return s == ExperimentCompleted || s == ExperimentFailed
}

// CanAdvanceTo reports whether moving from s to next keeps the lifecycle strictly forward
func (s ExperimentStatus) CanAdvanceTo(next ExperimentStatus) bool {
	if s.Terminal() {
		return false
	}
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	to, ok := statusOrder[next]
	if !ok {
		return false
	}
	return to > from
}

// Winner names the side a judgment favoured
type Winner string

const (
	WinnerPrimary    Winner = "primary"
	WinnerChallenger Winner = "challenger"
	WinnerTie        Winner = "tie"
)

// RunResult captures one side of a champion/challenger comparison
type RunResult struct {
	Model    string        `json:"model"`
	Response string        `json:"response"`
	Latency  time.Duration `json:"latency"`
	Quality  float64       `json:"quality"`
	CostUSD  float64       `json:"cost_usd"`
}

// Judgment is the verdict of comparing primary and challenger
type Judgment struct {
	Winner     Winner  `json:"winner"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	JudgeModel string  `json:"judge_model"`
}

// ShadowExperiment is one sampled champion/challenger trial
type ShadowExperiment struct {
	ID          string           `json:"id"`
	Prompt      string           `json:"prompt"`
	Domain      string           `json:"domain,omitempty"`
	SessionID   string           `json:"session_id,omitempty"`
	Primary     RunResult        `json:"primary"`
	Challenger  RunResult        `json:"challenger"`
	Judgment    *Judgment        `json:"judgment,omitempty"`
	Status      ExperimentStatus `json:"status"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt time.Time        `json:"completed_at,omitempty"`
}
