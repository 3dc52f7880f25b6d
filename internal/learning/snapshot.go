package learning

import (
	"github.com/tributary-ai/adaptive-router/internal/types"
)

type snapshotState struct {
	Table   map[string][]types.QTableEntry `json:"table"`
	Updates int                            `json:"updates"`
	State   types.LearningState            `json:"state"`
}

// SnapshotName identifies the optimizer snapshot file
func (o *Optimizer) SnapshotName() string {
	return "qtable"
}

// Revision changes on every Q update
func (o *Optimizer) Revision() uint64 {
	return o.revision.Load()
}

// Snapshot copies the Q table, the update count and the learning state
func (o *Optimizer) Snapshot() (interface{}, error) {
	table := o.Table()
	return snapshotState{
		Table:   table,
		Updates: o.Updates(),
		State:   o.tracker.State(),
	}, nil
}

// Restore replaces the table and state with a decoded snapshot
func (o *Optimizer) Restore(decode func(v interface{}) error) error {
	var state snapshotState
	if err := decode(&state); err != nil {
		return err
	}

	o.mutex.Lock()
	o.table = make(map[string]map[types.Strategy]*types.QTableEntry, len(state.Table))
	for key, entries := range state.Table {
		restored := o.ensure(key)
		for _, e := range entries {
			if _, known := restored[e.Strategy]; !known {
				continue
			}
			entry := e
			restored[e.Strategy] = &entry
		}
	}
	o.updates = state.Updates
	o.epsilon = EpsilonAfter(o.config.InitialEpsilon, o.config.EpsilonDecay, o.config.MinEpsilon, o.updates)
	epsilon := o.epsilon
	o.mutex.Unlock()

	if state.State.DomainStrengths == nil {
		state.State.DomainStrengths = make(map[string]float64)
	}
	if state.State.ModelPerformance == nil {
		state.State.ModelPerformance = make(map[string]float64)
	}
	state.State.ExplorationRate = epsilon
	o.tracker.Set(state.State)
	return nil
}
