package shadow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tributary-ai/adaptive-router/internal/providers"
	"github.com/tributary-ai/adaptive-router/internal/types"
)

// Composite score weights and references for the heuristic judge
const (
	QualityWeight    = 0.5
	LatencyWeight    = 0.3
	CostWeight       = 0.2
	LatencyReference = 10 * time.Second
	CostReference    = 0.1

	// WinMargin is the composite gap a side needs over the other to win
	WinMargin = 0.15
	// EscalationConfidence is the heuristic confidence below which the LLM judge is asked
	EscalationConfidence = 0.7
	// AdoptionConfidence is the confidence above which a challenger win moves weights
	AdoptionConfidence = 0.6

	HeuristicJudgeName = "heuristic"
)

var (
	// ErrJudgeUnparsable is wrapped by JudgeError when the verdict is not valid JSON
	ErrJudgeUnparsable = errors.New("judge verdict unparsable")
	// ErrJudgeInvalidVerdict is wrapped by JudgeError when a verdict field is out of range
	ErrJudgeInvalidVerdict = errors.New("judge verdict invalid")
)

// JudgeError is an LLM judge failure. The lab recovers from it by keeping the
// heuristic judgment.
type JudgeError struct {
	Provider string
	Raw      string
	Err      error
}

func (e *JudgeError) Error() string {
	return fmt.Sprintf("judge %s failed: %v", e.Provider, e.Err)
}

func (e *JudgeError) Unwrap() error {
	return e.Err
}

// Composite scores one side of an experiment
func Composite(r types.RunResult) float64 {
	latency := float64(r.Latency) / float64(LatencyReference)
	return QualityWeight*r.Quality + LatencyWeight*(1-latency) + CostWeight*(1-r.CostUSD/CostReference)
}

// HeuristicJudge compares composites. A winner is declared only when the gap
// exceeds WinMargin; confidence grows with the gap.
func HeuristicJudge(primary, challenger types.RunResult) types.Judgment {
	p := Composite(primary)
	c := Composite(challenger)
	gap := math.Abs(c - p)

	judgment := types.Judgment{
		Winner:     types.WinnerTie,
		Confidence: math.Min(1, 0.5+gap),
		JudgeModel: HeuristicJudgeName,
	}

	switch {
	case gap <= WinMargin:
		judgment.Reason = fmt.Sprintf("composite gap %.3f within margin (primary %.3f, challenger %.3f)", gap, p, c)
	case c > p:
		judgment.Winner = types.WinnerChallenger
		judgment.Reason = fmt.Sprintf("challenger composite %.3f beats primary %.3f", c, p)
	default:
		judgment.Winner = types.WinnerPrimary
		judgment.Reason = fmt.Sprintf("primary composite %.3f beats challenger %.3f", p, c)
	}
	return judgment
}

// Judge decides an experiment with a model
type Judge interface {
	Judge(ctx context.Context, prompt string, primary, challenger types.RunResult) (types.Judgment, error)
}

// LLMJudge asks a provider for a strict JSON verdict
type LLMJudge struct {
	dispatcher providers.Dispatcher
	provider   string
}

// NewLLMJudge creates a judge that runs on the given provider ID
func NewLLMJudge(dispatcher providers.Dispatcher, provider string) *LLMJudge {
	return &LLMJudge{dispatcher: dispatcher, provider: provider}
}

const judgeSystemPrompt = "You compare two answers to the same request and reply with JSON only."

const judgeTemplate = `Request:
%s

Answer PRIMARY:
%s

Answer CHALLENGER:
%s

Which answer is better? Reply with only this JSON object and nothing else:
{"winner": "primary" | "challenger" | "tie", "confidence": <number between 0 and 1>, "reason": "<one sentence>"}`

// Judge calls the judge provider and parses its verdict
func (j *LLMJudge) Judge(ctx context.Context, prompt string, primary, challenger types.RunResult) (types.Judgment, error) {
	result, err := j.dispatcher.Generate(ctx, j.provider, fmt.Sprintf(judgeTemplate, prompt, primary.Response, challenger.Response), types.GenerateOptions{
		SystemPrompt: judgeSystemPrompt,
		MaxTokens:    200,
	})
	if err != nil {
		return types.Judgment{}, &JudgeError{Provider: j.provider, Err: err}
	}

	judgment, err := ParseVerdict(result.Content)
	if err != nil {
		return types.Judgment{}, &JudgeError{Provider: j.provider, Raw: result.Content, Err: err}
	}
	judgment.JudgeModel = j.provider
	return judgment, nil
}

// ParseVerdict extracts a judgment from a model reply. The reply may wrap the
// object in prose or a code fence; the object itself must be well formed.
func ParseVerdict(content string) (types.Judgment, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return types.Judgment{}, ErrJudgeUnparsable
	}
	raw := content[start : end+1]
	if !gjson.Valid(raw) {
		return types.Judgment{}, ErrJudgeUnparsable
	}

	verdict := gjson.Parse(raw)

	winner := types.Winner(strings.ToLower(strings.TrimSpace(verdict.Get("winner").String())))
	switch winner {
	case types.WinnerPrimary, types.WinnerChallenger, types.WinnerTie:
	default:
		return types.Judgment{}, fmt.Errorf("%w: winner %q", ErrJudgeInvalidVerdict, winner)
	}

	confidence := verdict.Get("confidence")
	if confidence.Type != gjson.Number {
		return types.Judgment{}, fmt.Errorf("%w: confidence missing", ErrJudgeInvalidVerdict)
	}
	if confidence.Float() < 0 || confidence.Float() > 1 {
		return types.Judgment{}, fmt.Errorf("%w: confidence %v out of range", ErrJudgeInvalidVerdict, confidence.Float())
	}

	return types.Judgment{
		Winner:     winner,
		Reason:     verdict.Get("reason").String(),
		Confidence: confidence.Float(),
	}, nil
}

var _ Judge = (*LLMJudge)(nil)
