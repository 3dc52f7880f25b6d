package engine

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/adaptive-router/internal/config"
	"github.com/tributary-ai/adaptive-router/internal/events"
	"github.com/tributary-ai/adaptive-router/internal/features"
	"github.com/tributary-ai/adaptive-router/internal/learning"
	"github.com/tributary-ai/adaptive-router/internal/metrics"
	"github.com/tributary-ai/adaptive-router/internal/orchestrator"
	"github.com/tributary-ai/adaptive-router/internal/persistence"
	"github.com/tributary-ai/adaptive-router/internal/providers"
	"github.com/tributary-ai/adaptive-router/internal/registry"
	"github.com/tributary-ai/adaptive-router/internal/routing"
	"github.com/tributary-ai/adaptive-router/internal/scorecard"
	"github.com/tributary-ai/adaptive-router/internal/shadow"
)

// Engine owns every long-lived component of the router
type Engine struct {
	Pool         *providers.Pool
	Scorecard    *scorecard.Scorecard
	Optimizer    *learning.Optimizer
	Bus          *events.Bus
	Registry     *registry.ModelRegistry
	Router       *routing.SmartRouter
	Lab          *shadow.Lab
	Orchestrator *orchestrator.Orchestrator
	Metrics      *metrics.Collector
	Gatherer     prometheus.Gatherer
	Persistence  *persistence.Manager

	config *config.Config
	store  *registry.SQLiteStore
	logger *logrus.Logger
}

// Build wires the components around a populated provider pool. Nothing runs
// until Start is called, apart from the event bus processor.
func Build(cfg *config.Config, pool *providers.Pool, logger *logrus.Logger) (*Engine, error) {
	ids := pool.IDs()
	if len(ids) == 0 {
		return nil, fmt.Errorf("no providers registered")
	}

	card, err := scorecard.New(cfg.Scorecard, logger, ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scorecard: %w", err)
	}

	bus := events.NewBus(cfg.Events, logger)

	optimizer, err := learning.NewOptimizer(cfg.Learning, bus, logger)
	if err != nil {
		bus.Stop()
		return nil, fmt.Errorf("failed to create optimizer: %w", err)
	}

	var knowledge registry.KnowledgeStore
	var store *registry.SQLiteStore
	if cfg.Registry.Path != "" {
		store, err = registry.NewSQLiteStore(cfg.Registry.Path, cfg.Registry.MinSamples, logger)
		if err != nil {
			bus.Stop()
			return nil, fmt.Errorf("failed to open knowledge store: %w", err)
		}
		knowledge = store
	}
	modelRegistry := registry.NewModelRegistry(cfg.ToRegistryConfig(), knowledge, pool, logger)

	router := routing.NewSmartRouter(cfg.Router, pool, card, optimizer, pool, bus, logger)

	shadowConfig := cfg.Shadow
	if shadowConfig.JudgeProvider != "" {
		if _, ok := pool.Model(shadowConfig.JudgeProvider); !ok {
			logger.WithField("judge_provider", shadowConfig.JudgeProvider).Warn("Judge provider not registered, using heuristic judging only")
			shadowConfig.JudgeProvider = ""
		}
	}
	lab := shadow.NewLab(shadowConfig, pool, pool, optimizer, modelRegistry, bus, logger)
	lab.Register(ids...)

	orch, err := orchestrator.New(cfg.Orchestrator, features.NewAnalyzer(logger), modelRegistry, card, optimizer, router, lab, bus, logger)
	if err != nil {
		lab.Stop()
		bus.Stop()
		if store != nil {
			store.Close()
		}
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)
	bus.Observe(collector.Observe)

	snapshots, err := persistence.NewFileStore(cfg.Persistence.Dir)
	if err != nil {
		lab.Stop()
		bus.Stop()
		if store != nil {
			store.Close()
		}
		return nil, err
	}
	manager := persistence.NewManager(snapshots, logger)
	manager.Register(card, optimizer, lab)

	logger.WithFields(logrus.Fields{
		"providers":       len(ids),
		"knowledge_store": cfg.Registry.Path != "",
		"shadow_enabled":  lab.Enabled(),
	}).Info("Engine assembled")

	return &Engine{
		Pool:         pool,
		Scorecard:    card,
		Optimizer:    optimizer,
		Bus:          bus,
		Registry:     modelRegistry,
		Router:       router,
		Lab:          lab,
		Orchestrator: orch,
		Metrics:      collector,
		Gatherer:     promRegistry,
		Persistence:  manager,
		config:       cfg,
		store:        store,
		logger:       logger,
	}, nil
}

// Start restores snapshots and schedules periodic flushes
func (e *Engine) Start() error {
	restored := e.Persistence.LoadAll()
	e.logger.WithField("restored", restored).Info("Snapshots loaded")

	if err := e.Persistence.Start(e.config.Persistence.FlushSchedule); err != nil {
		return err
	}
	return nil
}

// Stop drains experiments, writes final snapshots and releases resources
func (e *Engine) Stop() {
	e.Lab.Stop()
	written := e.Persistence.Stop()
	e.Bus.Stop()

	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.WithError(err).Warn("Failed to close knowledge store")
		}
	}
	e.logger.WithField("snapshots", written).Info("Engine stopped")
}
