package model

import "fmt"

// Validate checks structural invariants of a ProviderConfig.
func (p *ProviderConfig) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if p.ProviderKind == "" {
		return fmt.Errorf("provider %s: provider_kind is required", p.Name)
	}
	if p.ModelID == "" {
		return fmt.Errorf("provider %s: model_id is required", p.Name)
	}
	if p.AuthSpec == "" {
		return fmt.Errorf("provider %s: auth_spec is required", p.Name)
	}
	if p.TimeoutSec < 0 {
		return fmt.Errorf("provider %s: timeout_sec must be non-negative, got %d", p.Name, p.TimeoutSec)
	}
	if p.ContextWindow < 0 {
		return fmt.Errorf("provider %s: context_window must be non-negative, got %d", p.Name, p.ContextWindow)
	}
	return nil
}

var (
	validChallengeStylesModel = map[ChallengeStyle]bool{
		ChallengeAdversarial:   true,
		ChallengeCollaborative: true,
		ChallengeSocratic:      true,
	}
	validEvidenceModesModel = map[EvidenceMode]bool{
		EvidenceOff:      true,
		EvidenceAdvisory: true,
		EvidenceStrict:   true,
	}
	validVotingMethodsModel  = map[string]bool{"borda": true, "instant_runoff": true, "approval": true, "condorcet": true}
	validTopologiesModel     = map[string]bool{"mesh": true, "star": true, "tournament": true, "map_reduce": true, "adversarial_tree": true, "pipeline": true, "panel": true, "": true}
	validAdaptivePresetsModel = map[string]bool{"fast": true, "balanced": true, "critical": true, "": true}
)

// Validate checks structural invariants of an AgentProfile against the
// roster of known provider names, so that roles/weights/excludes
// referencing an unconfigured provider fail fast at load time rather than
// mid-deliberation.
func (p *AgentProfile) Validate(knownProviders map[string]bool) error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.Rounds < 1 {
		return fmt.Errorf("profile %s: rounds must be at least 1, got %d", p.Name, p.Rounds)
	}
	if p.ConvergenceThreshold < 0.0 || p.ConvergenceThreshold > 1.0 {
		return fmt.Errorf("profile %s: convergence_threshold must be between 0.0 and 1.0, got %f", p.Name, p.ConvergenceThreshold)
	}
	if p.ControversyThreshold < 0.0 {
		return fmt.Errorf("profile %s: controversy_threshold must be non-negative, got %f", p.Name, p.ControversyThreshold)
	}
	if !validChallengeStylesModel[p.ChallengeStyle] {
		return fmt.Errorf("profile %s: invalid challenge_style %q", p.Name, p.ChallengeStyle)
	}
	if !validEvidenceModesModel[p.Evidence] {
		return fmt.Errorf("profile %s: invalid evidence mode %q", p.Name, p.Evidence)
	}
	if !validVotingMethodsModel[p.VotingMethod] {
		return fmt.Errorf("profile %s: invalid voting_method %q", p.Name, p.VotingMethod)
	}
	if !validTopologiesModel[p.Topology] {
		return fmt.Errorf("profile %s: invalid topology %q", p.Name, p.Topology)
	}
	if !validAdaptivePresetsModel[p.AdaptivePreset] {
		return fmt.Errorf("profile %s: invalid adaptive_preset %q", p.Name, p.AdaptivePreset)
	}

	if knownProviders != nil {
		for provider := range p.Roles {
			if !knownProviders[provider] {
				return fmt.Errorf("profile %s: roles references unknown provider %q", p.Name, provider)
			}
		}
		for provider := range p.Weights {
			if !knownProviders[provider] {
				return fmt.Errorf("profile %s: weights references unknown provider %q", p.Name, provider)
			}
		}
		for _, provider := range p.ExcludeFromDeliberation {
			if !knownProviders[provider] {
				return fmt.Errorf("profile %s: exclude_from_deliberation references unknown provider %q", p.Name, provider)
			}
		}
	}

	return nil
}
