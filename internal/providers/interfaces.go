package providers

import (
	"context"

	"github.com/tributary-ai/adaptive-router/internal/types"
)

// Generator is implemented by every upstream provider adapter
type Generator interface {
	GetProviderName() string
	Generate(ctx context.Context, prompt string, opts types.GenerateOptions) (*types.GenerateResult, error)
	HealthCheck(ctx context.Context) error
}

// Dispatcher is the generation function: it runs a prompt on a provider ID
type Dispatcher interface {
	Generate(ctx context.Context, provider, prompt string, opts types.GenerateOptions) (*types.GenerateResult, error)
}

// StatusSource reports availability for every known provider ID
type StatusSource interface {
	ProviderStatuses(ctx context.Context) []types.ProviderStatus
}

// FuncGenerator adapts a function into a Generator
type FuncGenerator struct {
	Name   string
	Fn     func(ctx context.Context, prompt string, opts types.GenerateOptions) (*types.GenerateResult, error)
	Health func(ctx context.Context) error
}

// GetProviderName returns the configured name
func (g *FuncGenerator) GetProviderName() string {
	return g.Name
}

// Generate calls the wrapped function
func (g *FuncGenerator) Generate(ctx context.Context, prompt string, opts types.GenerateOptions) (*types.GenerateResult, error) {
	return g.Fn(ctx, prompt, opts)
}

// HealthCheck calls the wrapped health function when set
func (g *FuncGenerator) HealthCheck(ctx context.Context) error {
	if g.Health == nil {
		return nil
	}
	return g.Health(ctx)
}

var _ Generator = (*FuncGenerator)(nil)
