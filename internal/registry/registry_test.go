package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/adaptive-router/internal/types"
)

type staticCatalog map[string]types.CostTier

func (c staticCatalog) Model(id string) (types.ModelInfo, bool) {
	tier, ok := c[id]
	if !ok {
		return types.ModelInfo{}, false
	}
	return types.ModelInfo{Name: id, Tier: tier}, true
}

type failingStore struct {
	recorded int
}

func (s *failingStore) GetRecommendations(ctx context.Context, domain types.Domain, rc RecommendationContext) ([]Recommendation, error) {
	return nil, errors.New("store offline")
}

func (s *failingStore) RecordOutcome(ctx context.Context, outcome types.Outcome) error {
	s.recorded++
	return errors.New("store offline")
}

var testCatalog = staticCatalog{
	"free-model":    types.CostTierFree,
	"cheap-model":   types.CostTierCheap,
	"premium-model": types.CostTierPremium,
}

func codingFeatures() types.Features {
	return types.Features{
		IsCode:   true,
		Keywords: map[types.Domain][]string{types.DomainCoding: {"function", "bug"}, types.DomainCreative: {"story"}},
	}
}

func newTestRegistry(store KnowledgeStore) *ModelRegistry {
	return NewModelRegistry(Config{
		ColdStart: map[types.Domain]ColdStartEntry{
			types.DomainCoding: {
				Providers:        []string{"premium-model", "unknown-model", "cheap-model", "free-model"},
				QualityThreshold: 0.8,
			},
		},
	}, store, testCatalog, testLogger())
}

func TestModelRegistry_DomainVote(t *testing.T) {
	registry := newTestRegistry(nil)

	assert.Equal(t, types.DomainCoding, registry.GetBestModels(context.Background(), codingFeatures(), types.BudgetBalanced).Domain)
	assert.Equal(t, types.DomainGeneral, registry.GetBestModels(context.Background(), types.Features{}, types.BudgetBalanced).Domain)
}

func TestModelRegistry_ColdStartBudgetOrdering(t *testing.T) {
	registry := newTestRegistry(nil)

	tests := []struct {
		budget   types.BudgetTier
		expected []string
	}{
		{types.BudgetBalanced, []string{"premium-model", "unknown-model", "cheap-model", "free-model"}},
		{types.BudgetCostSensitive, []string{"free-model", "cheap-model", "unknown-model", "premium-model"}},
		{types.BudgetQualitySensitive, []string{"premium-model", "unknown-model", "cheap-model", "free-model"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.budget), func(t *testing.T) {
			selection := registry.GetBestModels(context.Background(), codingFeatures(), tt.budget)
			assert.Equal(t, types.DomainCoding, selection.Domain)
			assert.Equal(t, SourceColdStart, selection.Source)
			assert.Equal(t, 0.8, selection.QualityThreshold)
			assert.Equal(t, tt.expected, selection.Providers())
		})
	}
}

func TestModelRegistry_UnknownDomainUsesGeneral(t *testing.T) {
	registry := newTestRegistry(nil)

	selection := registry.GetBestModels(context.Background(), types.Features{
		Keywords: map[types.Domain][]string{types.DomainResearch: {"study"}},
	}, types.BudgetBalanced)

	assert.Equal(t, types.DomainResearch, selection.Domain)
	assert.Equal(t, DefaultColdStart()[types.DomainGeneral].Providers, selection.Providers())
}

func TestModelRegistry_LearnedFirstThenColdStart(t *testing.T) {
	store := newTestStore(t, 2)
	record(t, store, types.DomainCoding, "cheap-model", true, 0.9, 0.001, 2)
	record(t, store, types.DomainCoding, "learned-only", true, 0.5, 0.001, 2)

	registry := newTestRegistry(store)
	selection := registry.GetBestModels(context.Background(), codingFeatures(), types.BudgetBalanced)

	assert.Equal(t, SourceLearned, selection.Source)
	assert.Equal(t, []string{"cheap-model", "learned-only", "premium-model", "unknown-model", "free-model"}, selection.Providers())
}

func TestModelRegistry_StoreFailureFallsBack(t *testing.T) {
	store := &failingStore{}
	registry := newTestRegistry(store)

	selection := registry.GetBestModels(context.Background(), codingFeatures(), types.BudgetBalanced)
	assert.Equal(t, SourceColdStart, selection.Source)
	assert.Len(t, selection.Recommendations, 4)

	// Failures are swallowed
	registry.RecordOutcome(context.Background(), types.Outcome{Provider: "cheap-model", Domain: "coding"})
	assert.Equal(t, 1, store.recorded)
}

func TestModelRegistry_RecordOutcomeReachesStore(t *testing.T) {
	store := newTestStore(t, 1)
	registry := newTestRegistry(store)

	registry.RecordOutcome(context.Background(), types.Outcome{Provider: "free-model", Domain: "coding", Success: true, Quality: 1})

	selection := registry.GetBestModels(context.Background(), codingFeatures(), types.BudgetBalanced)
	require.NotEmpty(t, selection.Recommendations)
	assert.Equal(t, "free-model", selection.Recommendations[0].Provider)
	assert.Equal(t, SourceLearned, selection.Source)
}

func TestModelRegistry_ConfigIsCopied(t *testing.T) {
	table := map[types.Domain]ColdStartEntry{types.DomainCoding: {Providers: []string{"a"}}}
	registry := NewModelRegistry(Config{ColdStart: table}, nil, nil, testLogger())

	_, hasGeneral := registry.ColdStart(types.DomainGeneral)
	assert.True(t, hasGeneral)
	assert.Len(t, table, 1)
}
