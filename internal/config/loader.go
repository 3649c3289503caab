package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quorumlabs/quorum/internal/model"
)

// Loader resolves a Config by layering, in increasing precedence:
// builtin defaults, a profile file, a project config file, and CLI
// overrides. Each layer only replaces the fields it sets.
type Loader struct {
	ProfilePath string
	ProjectPath string
}

// fileLayer is the on-disk shape of a profile or project config file; both
// use the same shape so a project file can override provider connection
// details without duplicating the whole profile.
type fileLayer struct {
	Providers []model.ProviderConfig `yaml:"providers,omitempty"`
	Profile   model.AgentProfile    `yaml:"profile,omitempty"`
}

// Load resolves the full layered configuration and validates it.
func (l *Loader) Load(overrides *model.AgentProfile) (*Config, error) {
	cfg := Config{Profile: builtinDefaults()}

	if l.ProfilePath != "" {
		layer, err := loadFileLayer(l.ProfilePath)
		if err != nil {
			return nil, fmt.Errorf("config: loading profile file: %w", err)
		}
		applyLayer(&cfg, layer)
	}

	if l.ProjectPath != "" {
		layer, err := loadFileLayer(l.ProjectPath)
		if err != nil {
			return nil, fmt.Errorf("config: loading project file: %w", err)
		}
		applyLayer(&cfg, layer)
	}

	if overrides != nil {
		mergeProfile(&cfg.Profile, overrides)
	}

	substituteEnvVars(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &cfg, nil
}

// builtinDefaults is the bottom layer every Config starts from.
func builtinDefaults() model.AgentProfile {
	return model.AgentProfile{
		Name:                 "default",
		ChallengeStyle:       model.ChallengeCollaborative,
		Rounds:               3,
		ConvergenceThreshold: 0.8,
		Evidence:             model.EvidenceAdvisory,
		VotingMethod:         "borda",
		ControversyThreshold: 1.0,
		AdaptivePreset:       "balanced",
	}
}

func loadFileLayer(path string) (fileLayer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileLayer{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var layer fileLayer
	if err := yaml.Unmarshal(data, &layer); err != nil {
		return fileLayer{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return layer, nil
}

func applyLayer(cfg *Config, layer fileLayer) {
	if len(layer.Providers) > 0 {
		cfg.Providers = layer.Providers
	}
	mergeProfile(&cfg.Profile, &layer.Profile)
}

// mergeProfile overwrites dst's fields with any non-zero field set on src.
// Zero-valued fields in src are treated as "not set at this layer" and
// left untouched, matching the teacher's apply-defaults-then-overwrite
// loading style generalized to multiple layers.
func mergeProfile(dst *model.AgentProfile, src *model.AgentProfile) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if len(src.Focus) > 0 {
		dst.Focus = src.Focus
	}
	if src.ChallengeStyle != "" {
		dst.ChallengeStyle = src.ChallengeStyle
	}
	if src.Rounds != 0 {
		dst.Rounds = src.Rounds
	}
	if src.ConvergenceThreshold != 0 {
		dst.ConvergenceThreshold = src.ConvergenceThreshold
	}
	if len(src.Phases) > 0 {
		dst.Phases = src.Phases
	}
	if len(src.Roles) > 0 {
		dst.Roles = src.Roles
	}
	if len(src.Prompts) > 0 {
		dst.Prompts = src.Prompts
	}
	if len(src.Weights) > 0 {
		dst.Weights = src.Weights
	}
	if src.Evidence != "" {
		dst.Evidence = src.Evidence
	}
	if src.VotingMethod != "" {
		dst.VotingMethod = src.VotingMethod
	}
	if len(src.Hooks) > 0 {
		dst.Hooks = src.Hooks
	}
	if len(src.ExcludeFromDeliberation) > 0 {
		dst.ExcludeFromDeliberation = src.ExcludeFromDeliberation
	}
	if src.Topology != "" {
		dst.Topology = src.Topology
	}
	if len(src.Tools) > 0 {
		dst.Tools = src.Tools
	}
	if src.AllowShellTool {
		dst.AllowShellTool = true
	}
	if src.ReputationWeighting {
		dst.ReputationWeighting = true
	}
	if len(src.HITLPoints) > 0 {
		dst.HITLPoints = src.HITLPoints
	}
	if src.ControversyThreshold != 0 {
		dst.ControversyThreshold = src.ControversyThreshold
	}
	if src.AdaptivePreset != "" {
		dst.AdaptivePreset = src.AdaptivePreset
	}
	if src.MemoryEnabled {
		dst.MemoryEnabled = true
	}
	if src.RedTeam {
		dst.RedTeam = true
	}
	if src.AttackPackPath != "" {
		dst.AttackPackPath = src.AttackPackPath
	}
}

// substituteEnvVars expands ${VAR_NAME} placeholders in fields that
// plausibly carry credentials or environment-dependent locators.
func substituteEnvVars(cfg *Config) {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		p.AuthSpec = os.ExpandEnv(p.AuthSpec)
		p.BaseURL = os.ExpandEnv(p.BaseURL)
		for k, v := range p.Extra {
			p.Extra[k] = os.ExpandEnv(v)
		}
	}
}
