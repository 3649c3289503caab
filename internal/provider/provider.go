// Package provider defines the uniform adapter contract over heterogeneous
// upstream model clients (spec §4.3) and a registry that maps a provider
// kind to a constructor (Design Notes §9).
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/quorumlabs/quorum/internal/model"
)

// Adapter is the narrow interface every provider implementation satisfies.
// Streaming is optional — callers test for it with a type assertion to
// StreamingAdapter rather than a capability flag (Design Notes §9).
type Adapter interface {
	Name() string
	Config() model.ProviderConfig
	Generate(ctx context.Context, prompt, system string) (string, error)
}

// OnDelta is called with each partial chunk of a streamed response.
type OnDelta func(chunk string)

// StreamingAdapter is implemented by adapters that can stream partial
// output. Presence is tested with a type assertion, not a separate flag.
type StreamingAdapter interface {
	Adapter
	GenerateStream(ctx context.Context, prompt, system string, onDelta OnDelta) (string, error)
}

// Constructor builds an Adapter from a ProviderConfig.
type Constructor func(cfg model.ProviderConfig) (Adapter, error)

// Registry maps a providerKind string to a Constructor.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds a constructor for a provider kind, overwriting any
// existing one (last registration wins, matching the config loader's
// policy-file de-duplication rule).
func (r *Registry) Register(kind string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[kind] = ctor
}

// Build constructs an Adapter for cfg using the registered constructor for
// cfg.ProviderKind.
func (r *Registry) Build(cfg model.ProviderConfig) (Adapter, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[cfg.ProviderKind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider: no constructor registered for kind %q", cfg.ProviderKind)
	}
	return ctor(cfg)
}

// BuildAll constructs adapters for every config, in order, failing fast on
// the first error.
func (r *Registry) BuildAll(cfgs []model.ProviderConfig) ([]Adapter, error) {
	out := make([]Adapter, 0, len(cfgs))
	for _, cfg := range cfgs {
		a, err := r.Build(cfg)
		if err != nil {
			return nil, fmt.Errorf("provider: building %q: %w", cfg.Name, err)
		}
		out = append(out, a)
	}
	return out, nil
}
