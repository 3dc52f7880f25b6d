package shadow

import (
	"sort"

	"github.com/tributary-ai/adaptive-router/internal/types"
)

type snapshotState struct {
	Weights     map[string]float64       `json:"weights"`
	Experiments []types.ShadowExperiment `json:"experiments"`
}

// SnapshotName identifies the shadow lab snapshot file
func (l *Lab) SnapshotName() string {
	return "shadow"
}

// Revision changes whenever an experiment finishes or weights move
func (l *Lab) Revision() uint64 {
	return l.revision.Load()
}

// Snapshot copies the sampling weights and finished experiments
func (l *Lab) Snapshot() (interface{}, error) {
	state := snapshotState{Weights: l.Weights()}
	for _, exp := range l.Experiments() {
		if exp.Status.Terminal() {
			state.Experiments = append(state.Experiments, exp)
		}
	}
	return state, nil
}

// Restore loads weights for registered providers and finished experiments
// into the ring. Weights of unknown providers are dropped.
func (l *Lab) Restore(decode func(v interface{}) error) error {
	var state snapshotState
	if err := decode(&state); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(state.Weights))
	for id := range state.Weights {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, registered := l.weights[id]; !registered {
			continue
		}
		l.setWeight(id, state.Weights[id])
	}
	for i := range state.Experiments {
		exp := state.Experiments[i]
		if !exp.Status.Terminal() {
			continue
		}
		l.push(&exp)
	}
	return nil
}
