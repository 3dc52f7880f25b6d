package scorecard

import (
	"github.com/tributary-ai/adaptive-router/internal/types"
)

// snapshotState is the persisted form of the scorecard
type snapshotState struct {
	Providers []types.ProviderStats `json:"providers"`
}

// SnapshotName identifies the scorecard snapshot file
func (s *Scorecard) SnapshotName() string {
	return "scorecard"
}

// Revision changes whenever a metric is recorded or a provider reset
func (s *Scorecard) Revision() uint64 {
	return s.revision.Load()
}

// Snapshot copies all provider statistics
func (s *Scorecard) Snapshot() (interface{}, error) {
	names := s.Providers()
	state := snapshotState{Providers: make([]types.ProviderStats, 0, len(names))}
	for _, name := range names {
		if stats, ok := s.Stats(name); ok {
			state.Providers = append(state.Providers, stats)
		}
	}
	return state, nil
}

// Restore loads statistics for known providers. Windows longer than the
// configured capacity keep their most recent entries.
func (s *Scorecard) Restore(decode func(v interface{}) error) error {
	var state snapshotState
	if err := decode(&state); err != nil {
		return err
	}

	for _, stats := range state.Providers {
		s.mutex.RLock()
		entry, exists := s.entries[stats.Provider]
		s.mutex.RUnlock()
		if !exists {
			s.logger.WithField("provider", stats.Provider).Debug("Skipping snapshot for unknown provider")
			continue
		}

		if overflow := len(stats.Window) - s.config.WindowSize; overflow > 0 {
			stats.Window = stats.Window[overflow:]
		}
		recompute(&stats)

		entry.mutex.Lock()
		entry.stats = stats
		entry.mutex.Unlock()
	}
	return nil
}
