package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/adaptive-router/internal/types"
)

var (
	// ErrUnknownProvider is returned for IDs that were never registered
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrProviderDisabled is returned for administratively disabled providers
	ErrProviderDisabled = errors.New("provider disabled")
)

// Pool maps routable provider IDs onto generators and tracks their health
type Pool struct {
	entries             map[string]*poolEntry
	order               []string
	mutex               sync.RWMutex
	logger              *logrus.Logger
	healthCheckInterval time.Duration
	lastHealthCheck     time.Time
	checking            bool
}

type poolEntry struct {
	generator   Generator
	model       types.ModelInfo
	healthy     bool
	enabled     bool
	lastChecked time.Time
	lastError   string
}

// NewPool creates an empty provider pool
func NewPool(healthCheckInterval time.Duration, logger *logrus.Logger) *Pool {
	if healthCheckInterval <= 0 {
		healthCheckInterval = 30 * time.Second
	}
	return &Pool{
		entries:             make(map[string]*poolEntry),
		logger:              logger,
		healthCheckInterval: healthCheckInterval,
	}
}

// Register binds a provider ID to a generator and the model it serves
func (p *Pool) Register(id string, generator Generator, model types.ModelInfo) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, exists := p.entries[id]; !exists {
		p.order = append(p.order, id)
	}
	p.entries[id] = &poolEntry{
		generator: generator,
		model:     model,
		healthy:   true,
		enabled:   true,
	}

	p.logger.WithFields(logrus.Fields{
		"provider": id,
		"upstream": generator.GetProviderName(),
		"model":    model.ModelID(),
	}).Info("Provider registered")
}

// IDs returns registered provider IDs in registration order
func (p *Pool) IDs() []string {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	ids := make([]string, len(p.order))
	copy(ids, p.order)
	return ids
}

// Model returns the model bound to a provider ID
func (p *Pool) Model(id string) (types.ModelInfo, bool) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	entry, exists := p.entries[id]
	if !exists {
		return types.ModelInfo{}, false
	}
	return entry.model, true
}

// Models returns every registered model keyed by provider ID
func (p *Pool) Models() map[string]types.ModelInfo {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	out := make(map[string]types.ModelInfo, len(p.entries))
	for id, entry := range p.entries {
		out[id] = entry.model
	}
	return out
}

// Generate runs a prompt on the provider registered under id
func (p *Pool) Generate(ctx context.Context, id, prompt string, opts types.GenerateOptions) (*types.GenerateResult, error) {
	p.mutex.RLock()
	entry, exists := p.entries[id]
	var generator Generator
	var model types.ModelInfo
	enabled := false
	if exists {
		generator, model, enabled = entry.generator, entry.model, entry.enabled
	}
	p.mutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	if !enabled {
		return nil, fmt.Errorf("%w: %s", ErrProviderDisabled, id)
	}

	opts.Model = model.ModelID()
	if opts.MaxTokens == 0 && model.MaxOutputTokens > 0 {
		opts.MaxTokens = model.MaxOutputTokens
	}

	result, err := generator.Generate(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}
	if result.CostPerToken == 0 {
		result.CostPerToken = model.CostPerToken()
	}
	if result.CostUSD == 0 && result.Tokens > 0 {
		result.CostUSD = float64(result.Tokens) * result.CostPerToken
	}
	if result.Model == "" {
		result.Model = model.ModelID()
	}
	return result, nil
}

// SetEnabled toggles whether a provider may receive traffic
func (p *Pool) SetEnabled(id string, enabled bool) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	entry, exists := p.entries[id]
	if !exists {
		return false
	}
	entry.enabled = enabled
	p.logger.WithFields(logrus.Fields{"provider": id, "enabled": enabled}).Info("Provider availability changed")
	return true
}

// ProviderStatuses reports every provider's availability. Stale health data
// triggers a background refresh.
func (p *Pool) ProviderStatuses(ctx context.Context) []types.ProviderStatus {
	p.mutex.Lock()
	if !p.checking && time.Since(p.lastHealthCheck) > p.healthCheckInterval {
		p.checking = true
		p.lastHealthCheck = time.Now()
		// Use background context so the refresh outlives the caller's request
		go func() {
			p.CheckHealth(context.Background())
			p.mutex.Lock()
			p.checking = false
			p.mutex.Unlock()
		}()
	}
	p.mutex.Unlock()

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	statuses := make([]types.ProviderStatus, 0, len(p.order))
	for _, id := range p.order {
		entry := p.entries[id]
		statuses = append(statuses, types.ProviderStatus{ID: id, Available: entry.healthy, Enabled: entry.enabled})
	}
	return statuses
}

// CheckHealth probes each upstream once and updates every provider ID it serves
func (p *Pool) CheckHealth(ctx context.Context) {
	p.mutex.RLock()
	byUpstream := make(map[Generator][]string)
	for _, id := range p.order {
		entry := p.entries[id]
		byUpstream[entry.generator] = append(byUpstream[entry.generator], id)
	}
	p.mutex.RUnlock()

	for generator, ids := range byUpstream {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := generator.HealthCheck(checkCtx)
		cancel()

		now := time.Now()
		p.mutex.Lock()
		for _, id := range ids {
			entry, exists := p.entries[id]
			if !exists {
				continue
			}
			entry.healthy = err == nil
			entry.lastChecked = now
			entry.lastError = ""
			if err != nil {
				entry.lastError = err.Error()
			}
		}
		p.mutex.Unlock()

		if err != nil {
			p.logger.WithError(err).WithField("upstream", generator.GetProviderName()).Warn("Provider health check failed")
		}
	}
}

var _ Dispatcher = (*Pool)(nil)
var _ StatusSource = (*Pool)(nil)
