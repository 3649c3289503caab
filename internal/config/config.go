// Package config loads and validates the deliberation configuration: the
// provider roster and the agent profile that governs a run. Layering order
// is builtin defaults, then a profile file, then a project config file,
// then CLI overrides — each layer replaces only the fields it sets.
package config

import (
	"fmt"

	"github.com/quorumlabs/quorum/internal/model"
)

// Config is the fully resolved configuration for a deliberation.
type Config struct {
	Providers []model.ProviderConfig `yaml:"providers" json:"providers"`
	Profile   model.AgentProfile     `yaml:"profile" json:"profile"`
}

// Validate performs structural validation of the resolved configuration.
func (c *Config) Validate() error {
	if len(c.Providers) < 1 {
		return fmt.Errorf("config: at least one provider is required")
	}
	if len(c.Providers) > 20 {
		return fmt.Errorf("config: maximum 20 providers allowed, got %d", len(c.Providers))
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("config: invalid provider at index %d: %w", i, err)
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate provider name: %s", p.Name)
		}
		seen[p.Name] = true
	}

	return c.Profile.Validate(providerNames(c.Providers))
}

func providerNames(providers []model.ProviderConfig) map[string]bool {
	names := make(map[string]bool, len(providers))
	for _, p := range providers {
		names[p.Name] = true
	}
	return names
}
