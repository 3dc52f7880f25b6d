package registry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/adaptive-router/internal/features"
	"github.com/tributary-ai/adaptive-router/internal/types"
)

const (
	SourceLearned   = "learned"
	SourceColdStart = "cold_start"
)

// Catalog resolves a provider ID to the model it serves
type Catalog interface {
	Model(id string) (types.ModelInfo, bool)
}

// Config holds registry configuration
type Config struct {
	ColdStart map[types.Domain]ColdStartEntry
	Limit     int
	Timeout   time.Duration
}

// Selection is the registry's answer for one request
type Selection struct {
	Domain           types.Domain     `json:"domain"`
	Recommendations  []Recommendation `json:"recommendations"`
	QualityThreshold float64          `json:"quality_threshold"`
	Source           string           `json:"source"`
}

// Providers returns the recommended provider IDs in order
func (s Selection) Providers() []string {
	out := make([]string, len(s.Recommendations))
	for i, rec := range s.Recommendations {
		out[i] = rec.Provider
	}
	return out
}

// ModelRegistry maps request features to ranked provider recommendations
type ModelRegistry struct {
	store     KnowledgeStore
	catalog   Catalog
	coldStart map[types.Domain]ColdStartEntry
	limit     int
	timeout   time.Duration
	logger    *logrus.Logger
}

// NewModelRegistry creates a registry. A nil store always answers from the
// cold-start table.
func NewModelRegistry(config Config, store KnowledgeStore, catalog Catalog, logger *logrus.Logger) *ModelRegistry {
	coldStart := DefaultColdStart()
	if len(config.ColdStart) > 0 {
		coldStart = make(map[types.Domain]ColdStartEntry, len(config.ColdStart)+1)
		for domain, entry := range config.ColdStart {
			coldStart[domain] = entry
		}
	}
	if _, ok := coldStart[types.DomainGeneral]; !ok {
		coldStart[types.DomainGeneral] = DefaultColdStart()[types.DomainGeneral]
	}
	limit := config.Limit
	if limit <= 0 {
		limit = DefaultRecommendationLimit
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &ModelRegistry{
		store:     store,
		catalog:   catalog,
		coldStart: coldStart,
		limit:     limit,
		timeout:   timeout,
		logger:    logger,
	}
}

// GetBestModels returns recommendations for the features at the given budget.
// Learned results come first; the cold-start table fills the remainder, and
// answers on its own when the store is empty or failing.
func (r *ModelRegistry) GetBestModels(ctx context.Context, f types.Features, budget types.BudgetTier) Selection {
	domain := features.PrimaryDomain(f)
	entry, ok := r.coldStart[domain]
	if !ok {
		entry = r.coldStart[types.DomainGeneral]
	}

	selection := Selection{
		Domain:           domain,
		QualityThreshold: entry.QualityThreshold,
		Source:           SourceColdStart,
	}

	learned := r.learned(ctx, domain, budget)
	seen := make(map[string]bool)
	if len(learned) > 0 {
		selection.Source = SourceLearned
		for _, rec := range learned {
			seen[rec.Provider] = true
			selection.Recommendations = append(selection.Recommendations, rec)
		}
	}

	fallback := ReorderByBudget(entry.Providers, budget, r.tierOf)
	for i, provider := range fallback {
		if seen[provider] {
			continue
		}
		selection.Recommendations = append(selection.Recommendations, Recommendation{
			Provider: provider,
			Score:    1 - float64(i)/float64(len(fallback)+1),
		})
	}

	r.logger.WithFields(logrus.Fields{
		"domain":  domain,
		"budget":  budget,
		"source":  selection.Source,
		"options": len(selection.Recommendations),
	}).Debug("Registry selection")

	return selection
}

func (r *ModelRegistry) learned(ctx context.Context, domain types.Domain, budget types.BudgetTier) []Recommendation {
	if r.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	recs, err := r.store.GetRecommendations(ctx, domain, RecommendationContext{Budget: budget, Limit: r.limit})
	if err != nil {
		r.logger.WithError(err).WithField("domain", domain).Warn("Knowledge store query failed, using cold start table")
		return nil
	}
	return recs
}

func (r *ModelRegistry) tierOf(provider string) (types.CostTier, bool) {
	if r.catalog == nil {
		return "", false
	}
	model, ok := r.catalog.Model(provider)
	if !ok || model.Tier == "" {
		return "", false
	}
	return model.Tier, true
}

// RecordOutcome stores an outcome in the knowledge store. Failures are logged
// and never returned.
func (r *ModelRegistry) RecordOutcome(ctx context.Context, outcome types.Outcome) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.store.RecordOutcome(ctx, outcome); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"provider": outcome.Provider,
			"domain":   outcome.Domain,
		}).Warn("Failed to record outcome in knowledge store")
	}
}

// ColdStart returns the cold-start entry for a domain
func (r *ModelRegistry) ColdStart(domain types.Domain) (ColdStartEntry, bool) {
	entry, ok := r.coldStart[domain]
	return entry, ok
}

var _ OutcomeRecorder = (*ModelRegistry)(nil)
