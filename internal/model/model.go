// Package model holds the core data entities of the deliberation engine,
// as enumerated in spec §3. Types here are plain value objects; behavior
// lives in the packages that own each entity's lifecycle.
package model

import "time"

// ProviderConfig identifies one configured model provider. Immutable during
// a deliberation; name is unique per deliberation.
type ProviderConfig struct {
	Name         string            `yaml:"name" json:"name"`
	ProviderKind string            `yaml:"provider_kind" json:"provider_kind"`
	ModelID      string            `yaml:"model_id" json:"model_id"`
	AuthSpec     string            `yaml:"auth_spec" json:"auth_spec"`
	BaseURL      string            `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	TimeoutSec   int               `yaml:"timeout_sec,omitempty" json:"timeout_sec,omitempty"`
	ContextWindow int              `yaml:"context_window,omitempty" json:"context_window,omitempty"`
	Extra        map[string]string `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// EvidenceMode controls how strictly the Evidence Scorer gates voting.
type EvidenceMode string

const (
	EvidenceOff      EvidenceMode = "off"
	EvidenceAdvisory EvidenceMode = "advisory"
	EvidenceStrict   EvidenceMode = "strict"
)

// ChallengeStyle describes the adversarial posture a profile asks agents to take.
type ChallengeStyle string

const (
	ChallengeAdversarial  ChallengeStyle = "adversarial"
	ChallengeCollaborative ChallengeStyle = "collaborative"
	ChallengeSocratic     ChallengeStyle = "socratic"
)

// AgentProfile is the deliberation's behavioral configuration (spec §3).
// Immutable during a run; CLI overrides produce a derived copy before a
// deliberation starts (Design Notes §9 layered config).
type AgentProfile struct {
	Name                string                 `yaml:"name" json:"name"`
	Focus               []string               `yaml:"focus,omitempty" json:"focus,omitempty"`
	ChallengeStyle      ChallengeStyle         `yaml:"challenge_style" json:"challenge_style"`
	Rounds              int                    `yaml:"rounds" json:"rounds"`
	ConvergenceThreshold float64               `yaml:"convergence_threshold" json:"convergence_threshold"`
	Phases              []string               `yaml:"phases,omitempty" json:"phases,omitempty"`
	Roles               map[string]string      `yaml:"roles,omitempty" json:"roles,omitempty"`
	Prompts             map[string]string      `yaml:"prompts,omitempty" json:"prompts,omitempty"`
	Weights             map[string]float64     `yaml:"weights,omitempty" json:"weights,omitempty"`
	Evidence            EvidenceMode           `yaml:"evidence" json:"evidence"`
	VotingMethod        string                 `yaml:"voting_method" json:"voting_method"`
	Hooks               map[string]string      `yaml:"hooks,omitempty" json:"hooks,omitempty"`
	ExcludeFromDeliberation []string           `yaml:"exclude_from_deliberation,omitempty" json:"exclude_from_deliberation,omitempty"`
	Topology            string                 `yaml:"topology,omitempty" json:"topology,omitempty"`
	Tools               []string               `yaml:"tools,omitempty" json:"tools,omitempty"`
	AllowShellTool      bool                   `yaml:"allow_shell_tool,omitempty" json:"allow_shell_tool,omitempty"`
	ReputationWeighting bool                   `yaml:"reputation_weighting,omitempty" json:"reputation_weighting,omitempty"`
	HITLPoints          []string               `yaml:"hitl_points,omitempty" json:"hitl_points,omitempty"`
	ControversyThreshold float64               `yaml:"controversy_threshold,omitempty" json:"controversy_threshold,omitempty"`
	AdaptivePreset      string                 `yaml:"adaptive_preset,omitempty" json:"adaptive_preset,omitempty"`
	MemoryEnabled       bool                   `yaml:"memory_enabled,omitempty" json:"memory_enabled,omitempty"`
	RedTeam             bool                   `yaml:"red_team,omitempty" json:"red_team,omitempty"`
	AttackPackPath      string                 `yaml:"attack_pack,omitempty" json:"attack_pack,omitempty"`
}

// Clone returns a deep-enough copy for CLI-override derivation.
func (p *AgentProfile) Clone() *AgentProfile {
	cp := *p
	cp.Focus = append([]string(nil), p.Focus...)
	cp.Phases = append([]string(nil), p.Phases...)
	cp.Tools = append([]string(nil), p.Tools...)
	cp.ExcludeFromDeliberation = append([]string(nil), p.ExcludeFromDeliberation...)
	cp.HITLPoints = append([]string(nil), p.HITLPoints...)
	cp.Roles = cloneStringMap(p.Roles)
	cp.Prompts = cloneStringMap(p.Prompts)
	cp.Hooks = cloneStringMap(p.Hooks)
	cp.Weights = make(map[string]float64, len(p.Weights))
	for k, v := range p.Weights {
		cp.Weights[k] = v
	}
	return &cp
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Session is the single record of one end-to-end deliberation.
type Session struct {
	SessionID    string     `json:"session_id"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Input        string     `json:"input"`
	ProfileName  string     `json:"profile_name"`
	Providers    []string   `json:"providers"`
	SessionDir   string     `json:"session_dir"`
}

// PhaseOutput is the immutable record of one completed phase.
type PhaseOutput struct {
	Phase      string            `json:"phase"`
	Timestamp  time.Time         `json:"timestamp"`
	DurationMs int64             `json:"duration_ms"`
	Responses  map[string]string `json:"responses"`
}

// HashChainEntry is one link of the per-session attestation chain (spec §4.4).
type HashChainEntry struct {
	Phase        string    `json:"phase"`
	InputsHash   string    `json:"inputs_hash"`
	OutputsHash  string    `json:"outputs_hash"`
	PreviousHash *string   `json:"previous_hash,omitempty"`
	Hash         string    `json:"hash"`
	Timestamp    time.Time `json:"timestamp"`
	ProviderID   string    `json:"provider_id"`
}

// AttestationChain is the derived per-session chain of HashChainEntry records.
type AttestationChain struct {
	Version   int              `json:"version"`
	SessionID string           `json:"session_id"`
	CreatedAt time.Time        `json:"created_at"`
	Records   []HashChainEntry `json:"records"`
}

// Ranking is one voter's position assignment for a candidate.
type Ranking struct {
	Provider string `json:"provider"`
	Rank     int    `json:"rank"`
}

// Ballot is a single voter's ranking over the candidate set.
type Ballot struct {
	Voter    string    `json:"voter"`
	Rankings []Ranking `json:"rankings"`
}

// ScoredRanking is one candidate's place in a tallied result.
type ScoredRanking struct {
	Provider string  `json:"provider"`
	Score    float64 `json:"score"`
}

// VoteDetail carries the per-provider ranks and rationale behind a tally.
type VoteDetail struct {
	Ranks    []int  `json:"ranks"`
	Rationale string `json:"rationale,omitempty"`
}

// VoteResult is the outcome of tallying a set of ballots with one method.
type VoteResult struct {
	Rankings       []ScoredRanking       `json:"rankings"`
	Winner         string                `json:"winner"`
	Controversial  bool                  `json:"controversial"`
	Method         string                `json:"method"`
	Details        map[string]VoteDetail `json:"details"`
	VotingDetails  string                `json:"voting_details,omitempty"`
}

// Synthesis is the final synthesized answer plus its self-reported scores.
type Synthesis struct {
	Content          string              `json:"content"`
	Synthesizer      string              `json:"synthesizer"`
	ConsensusScore   float64             `json:"consensus_score"`
	ConfidenceScore  float64             `json:"confidence_score"`
	Controversial    bool                `json:"controversial"`
	MinorityReport   string              `json:"minority_report,omitempty"`
	Contributions    map[string][]string `json:"contributions,omitempty"`
	WhatWouldChange  string              `json:"what_would_change,omitempty"`
	EvidenceScore    float64             `json:"evidence_score,omitempty"`
}

// LedgerEntry is one append-only cross-session ledger record (spec §3, §4.12).
type LedgerEntry struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	Input        string            `json:"input"`
	Profile      string            `json:"profile"`
	Providers    []string          `json:"providers"`
	Topology     string            `json:"topology"`
	Synthesis    Synthesis         `json:"synthesis"`
	Votes        VoteResult        `json:"votes"`
	Options      map[string]string `json:"options,omitempty"`
	PreviousHash *string           `json:"previous_hash,omitempty"`
	Hash         string            `json:"hash"`
}

// MemoryNode is one keyed record in the Memory Graph.
type MemoryNode struct {
	SessionID      string    `json:"session_id"`
	Input          string    `json:"input"`
	Tags           []string  `json:"tags"`
	ConsensusScore *float64  `json:"consensus_score,omitempty"`
	Winner         string    `json:"winner,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// PolicyAction is the enforcement level attached to a PolicyRule.
type PolicyAction string

const (
	ActionLog   PolicyAction = "log"
	ActionWarn  PolicyAction = "warn"
	ActionPause PolicyAction = "pause"
	ActionBlock PolicyAction = "block"
)

// PolicyRuleType is the tag of a PolicyRule's variant (spec §3).
type PolicyRuleType string

const (
	RuleMinProviders   PolicyRuleType = "min_providers"
	RuleMinConsensus   PolicyRuleType = "min_consensus"
	RuleMinConfidence  PolicyRuleType = "min_confidence"
	RuleRequireEvidence PolicyRuleType = "require_evidence"
	RuleBlockProviders PolicyRuleType = "block_providers"
	RuleHumanApproval  PolicyRuleType = "human_approval"
	RuleMaxDuration    PolicyRuleType = "max_duration"
	RuleRequireRedTeam PolicyRuleType = "require_red_team"
	RuleInputMatch     PolicyRuleType = "input_match"
)

// PolicyRule is one tagged rule within a PolicyDocument.
type PolicyRule struct {
	Type      PolicyRuleType `yaml:"type" json:"type"`
	Value     float64        `yaml:"value,omitempty" json:"value,omitempty"`
	Providers []string       `yaml:"providers,omitempty" json:"providers,omitempty"`
	Pattern   string         `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	When      string         `yaml:"when,omitempty" json:"when,omitempty"`
	Action    PolicyAction   `yaml:"action" json:"action"`
	Message   string         `yaml:"message,omitempty" json:"message,omitempty"`
}

// PolicyDocument is one loaded policy file (spec §6 configuration).
type PolicyDocument struct {
	Name    string       `yaml:"name" json:"name"`
	Version string       `yaml:"version" json:"version"`
	Rules   []PolicyRule `yaml:"rules" json:"rules"`
}

// PolicyViolation is one evaluated rule hit, surfaced as an event.
type PolicyViolation struct {
	PolicyName string       `json:"policy_name"`
	RuleType   PolicyRuleType `json:"rule_type"`
	Action     PolicyAction `json:"action"`
	Message    string       `json:"message"`
}

// AttackVector is a single red-team prompt within an AttackPack.
type AttackVector struct {
	Name   string `yaml:"name" json:"name"`
	Prompt string `yaml:"prompt" json:"prompt"`
}

// AttackPack is consumed read-only by the optional red-team phase.
type AttackPack struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Vectors     []AttackVector `yaml:"vectors" json:"vectors"`
}
