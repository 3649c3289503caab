// Package engine orchestrates one deliberation end to end: policy
// pre-check, topology expansion, phase-by-phase dispatch with adaptive
// control, staged vote parsing and tallying, synthesis, and finalize
// (persist to session/ledger/arena/memory, spec §4.11).
package engine

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quorumlabs/quorum/internal/adaptive"
	"github.com/quorumlabs/quorum/internal/arena"
	"github.com/quorumlabs/quorum/internal/attestation"
	"github.com/quorumlabs/quorum/internal/evidence"
	"github.com/quorumlabs/quorum/internal/hashchain"
	"github.com/quorumlabs/quorum/internal/hitl"
	"github.com/quorumlabs/quorum/internal/ledger"
	"github.com/quorumlabs/quorum/internal/memory"
	"github.com/quorumlabs/quorum/internal/metrics"
	"github.com/quorumlabs/quorum/internal/model"
	"github.com/quorumlabs/quorum/internal/policy"
	"github.com/quorumlabs/quorum/internal/provider"
	"github.com/quorumlabs/quorum/internal/quorumerrors"
	"github.com/quorumlabs/quorum/internal/redteam"
	"github.com/quorumlabs/quorum/internal/session"
	"github.com/quorumlabs/quorum/internal/topology"
	"github.com/quorumlabs/quorum/internal/voting"
)

// State is the deliberation's position in the top-level state machine
// (spec §4.11): INIT -> POLICY_PRE -> RUNNING(i) -> VOTE -> SYNTHESIZE ->
// POLICY_POST -> DONE, with ABORTED reachable from any point.
type State string

const (
	StateInit       State = "INIT"
	StatePolicyPre  State = "POLICY_PRE"
	StateRunning    State = "RUNNING"
	StateVote       State = "VOTE"
	StateSynthesize State = "SYNTHESIZE"
	StatePolicyPost State = "POLICY_POST"
	StateDone       State = "DONE"
	StateAborted    State = "ABORTED"
)

// Options configures one call to Deliberate.
type Options struct {
	SessionID       string
	Input           string
	Profile         *model.AgentProfile
	Providers       []model.ProviderConfig
	Roles           topology.Roles
	PolicyName      string
	AdaptivePreset  string
	SessionDir      string
	IndexPath       string
	MemoryTags      []string
	MemoryK         int
	MemoryThreshold float64
	PolicyOptions   map[string]string
}

// Result is everything Deliberate produces for a completed or aborted run.
// SessionID, SessionDir, Synthesis, Votes, and DurationMs together are the
// public contract of one Deliberate call (spec §4.11).
type Result struct {
	SessionID         string
	SessionDir        string
	DurationMs        int64
	State             State
	PhaseOutputs      []model.PhaseOutput
	Votes             model.VoteResult
	Synthesis         model.Synthesis
	LedgerEntry       model.LedgerEntry
	Attestation       model.AttestationChain
	PreViolations     []model.PolicyViolation
	PostViolations    []model.PolicyViolation
	UnparseableVotes  []string
	AdaptiveDecisions []adaptive.Decision
	EvidenceReports   map[string]evidence.Report
	EvidenceGroups    []evidence.Group
	RedTeamReports    map[string]redteam.AttackReport
}

// Engine wires the supporting subsystems together. Every field beyond
// Adapters is optional; a nil subsystem degrades that step to a no-op
// (e.g. nil Memory skips retrieval, nil Ledger skips chain append).
type Engine struct {
	Policy       *policy.Engine
	Memory       *memory.Store
	Arena        *arena.Arena
	ArenaMirror  *arena.RedisMirror
	Ledger       *ledger.Ledger
	LedgerMirror *ledger.PostgresMirror
	Metrics      *metrics.Registry
	Events       *Bus
	HITL         hitl.Handler
	Logger       *log.Entry

	adapters map[string]provider.Adapter

	nowFunc func() time.Time
}

// New builds an Engine over adapters, keyed by their Name().
func New(adapters []provider.Adapter) *Engine {
	m := make(map[string]provider.Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Engine{adapters: m, Events: NewBus(), HITL: hitl.NoopHandler{}}
}

func (e *Engine) now() time.Time {
	if e.nowFunc != nil {
		return e.nowFunc()
	}
	return time.Now().UTC()
}

func (e *Engine) logger() *log.Entry {
	if e.Logger != nil {
		return e.Logger
	}
	return log.NewEntry(log.StandardLogger())
}

// Deliberate runs the full pipeline described in spec §4.11 for one input.
func (e *Engine) Deliberate(ctx context.Context, opts Options) (Result, error) {
	startedAt := e.now()
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = session.NewSessionID()
	}
	result := Result{SessionID: sessionID, SessionDir: opts.SessionDir, State: StateInit}
	finish := func(err error) (Result, error) {
		result.DurationMs = e.now().Sub(startedAt).Milliseconds()
		return result, err
	}

	if opts.Profile == nil {
		opts.Profile = &model.AgentProfile{}
	}

	// Precondition (spec §4.11): |providers| >= 2 after exclusion by profile.
	opts.Providers = excludeProviders(opts.Providers, opts.Profile)
	providers := providerNamesFromConfigs(opts.Providers)
	if len(providers) < 2 {
		result.State = StateAborted
		return finish(quorumerrors.New(quorumerrors.KindConfig, fmt.Sprintf("at least 2 providers required after exclusion, got %d", len(providers))))
	}

	// step 1: policy pre-check.
	result.State = StatePolicyPre
	if e.Policy != nil {
		result.PreViolations = e.Policy.EvaluatePre(opts.PolicyName, policy.PreCheckInput{
			Input: opts.Input, Providers: providers, Options: opts.PolicyOptions,
		})
		if policy.HasBlock(result.PreViolations) {
			result.State = StateAborted
			return finish(quorumerrors.New(quorumerrors.KindPolicy, "blocked by pre-deliberation policy"))
		}
	}

	// step 2: session init.
	var store *session.Store
	if opts.SessionDir != "" {
		s, err := session.Init(opts.SessionDir, opts.IndexPath)
		if err != nil {
			return finish(quorumerrors.Wrap(quorumerrors.KindPersist, "initializing session store", err))
		}
		store = s
		_ = store.WriteMeta(session.Meta{
			SessionID: sessionID, StartedAt: e.now(), Input: opts.Input,
			Profile: opts.Profile.Name, Providers: providers, Topology: opts.Profile.Topology,
		})
	}

	// step 3: optional memory retrieval.
	memorySummary := ""
	if e.Memory != nil {
		k := opts.MemoryK
		if k <= 0 {
			k = 3
		}
		matches := e.Memory.Retrieve(opts.Input, opts.MemoryTags, k, opts.MemoryThreshold)
		memorySummary = renderMemorySummary(matches)
	}

	// step 4: topology selection. An attack pack is loaded read-only and
	// handed to the planner, which decides whether this topology and
	// profile actually want a RED_TEAM phase.
	var attackPack *model.AttackPack
	if opts.Profile.AttackPackPath != "" {
		pack, err := redteam.Load(opts.Profile.AttackPackPath)
		if err != nil {
			result.State = StateAborted
			return finish(quorumerrors.Wrap(quorumerrors.KindConfig, "loading attack pack", err))
		}
		attackPack = &pack
	}
	plan, err := topology.Build(opts.Profile.Topology, providers, opts.Profile, opts.Roles, attackPack)
	if err != nil {
		result.State = StateAborted
		return finish(quorumerrors.Wrap(quorumerrors.KindConfig, "building topology plan", err))
	}

	// step 5/6: canonical phase pipeline with adaptive control and
	// per-phase fan-out.
	result.State = StateRunning
	thresholds := adaptive.ThresholdsFor(opts.AdaptivePreset)
	var phaseOutputs []model.PhaseOutput
	var phaseInputs []hashchain.PhaseInput
	roundsAdded := 0
	skipToSynthesize := false

	skipRebuttal := false
	allNames := phaseNames(plan.Phases)
	for i := 0; i < len(plan.Phases); i++ {
		phase := plan.Phases[i]
		if phase.Name == "VOTE" || skipToSynthesize {
			break
		}
		remaining := append([]string(nil), allNames[i+1:]...)

		if phase.Name == "REBUTTAL" && skipRebuttal {
			continue
		}

		e.runPreHook(ctx, opts.Profile, sessionID, phase.Name, providers, opts.Input)
		pr, err := e.dispatchPhase(ctx, sessionID, phase, opts.Input, opts.Profile, phaseOutputs, memorySummary)
		if err != nil {
			result.State = StateAborted
			return finish(quorumerrors.Wrap(quorumerrors.KindProvider, fmt.Sprintf("dispatching phase %s", phase.Name), err))
		}
		e.runPostHook(ctx, opts.Profile, sessionID, phase.Name, providers, opts.Input, pr.Output)
		phaseOutputs = append(phaseOutputs, pr.Output)
		phaseInputs = append(phaseInputs, hashchain.PhaseInput{
			Phase: phase.Name, Timestamp: pr.Output.Timestamp.UnixNano(),
			Prompts: pr.Prompts, Responses: pr.Output.Responses,
		})
		if store != nil {
			_ = store.WritePhase(fmt.Sprintf("%02d-%s", i+1, phase.Name), pr.Output)
		}

		// Post-ADJUST convergence check (spec §4.11 step 5): once responses
		// agree closely enough, REBUTTAL adds nothing and is skipped.
		if phase.Name == "ADJUST" {
			similarity := adaptive.ConvergenceSimilarity(pr.Output.Responses)
			if similarity >= opts.Profile.ConvergenceThreshold {
				skipRebuttal = true
				e.emit(Event{Kind: EventAdaptive, SessionID: sessionID, Phase: "REBUTTAL", Message: "phase-skip: convergence threshold reached", Timestamp: e.now()})
			}
		}

		decision := adaptive.Evaluate(phase.Name, pr.Output.Responses, remaining, thresholds, roundsAdded)
		result.AdaptiveDecisions = append(result.AdaptiveDecisions, decision)
		e.emit(Event{Kind: EventAdaptive, SessionID: sessionID, Phase: phase.Name, Message: string(decision.Action), Timestamp: e.now()})
		if e.Metrics != nil {
			e.Metrics.SetEntropy(phase.Name, decision.Entropy)
		}

		switch decision.Action {
		case adaptive.ActionAddRound:
			if phase.Name == "DEBATE" && roundsAdded < 2 {
				roundsAdded++
				i--
			}
		case adaptive.ActionSkipToSynthesize:
			skipToSynthesize = true
		}

		if d, err := e.maybeCheckpoint(sessionID, hitl.KindPhaseComplete, opts.Profile, phase.Name, opts.Input, pr.Output.Responses, "", "", false); err != nil {
			result.State = StateAborted
			return finish(err)
		} else if d.Action == hitl.ActionInject {
			opts.Input = d.Input
		}
	}

	// RED_TEAM reporting: parse each participant's structured findings from
	// the optional adversarial phase, if one ran.
	if redTeamOutput, ranRedTeam := findPhaseOutput(phaseOutputs, "RED_TEAM"); ranRedTeam {
		reports := make(map[string]redteam.AttackReport, len(redTeamOutput.Responses))
		for provider, response := range redTeamOutput.Responses {
			reports[provider] = redteam.ParseAttackReport(provider, response)
		}
		result.RedTeamReports = reports
		if store != nil {
			_ = store.WriteArtifact("redteam-result.json", reports)
		}
	}

	// evidence scoring: score each participant's last standing response and
	// cross-validate claims across providers before the vote is tallied, so
	// strict mode can scale ballot weight by source-tier coverage.
	if opts.Profile.Evidence != model.EvidenceOff && opts.Profile.Evidence != "" && len(phaseOutputs) > 0 {
		reports := make(map[string]evidence.Report, len(providers))
		for _, p := range providers {
			if text := lastResponseFor(phaseOutputs, p); text != "" {
				reports[p] = evidence.Score(text)
			}
		}
		result.EvidenceReports = reports
		result.EvidenceGroups = evidence.CrossValidate(reports)
		if store != nil {
			_ = store.WriteArtifact("evidence-report.json", reports)
			_ = store.WriteArtifact("cross-references.json", result.EvidenceGroups)
		}
	}

	// step 7-8: VOTE phase, staged parsing, reputation weighting, tally.
	result.State = StateVote
	votePhase, ok := findPhase(plan.Phases, "VOTE")
	var votes model.VoteResult
	if ok && !skipToSynthesize {
		e.runPreHook(ctx, opts.Profile, sessionID, "VOTE", providers, opts.Input)
		pr, err := e.dispatchPhase(ctx, sessionID, votePhase, opts.Input, opts.Profile, phaseOutputs, memorySummary)
		if err != nil {
			result.State = StateAborted
			return finish(quorumerrors.Wrap(quorumerrors.KindProvider, "dispatching VOTE phase", err))
		}
		e.runPostHook(ctx, opts.Profile, sessionID, "VOTE", providers, opts.Input, pr.Output)
		phaseOutputs = append(phaseOutputs, pr.Output)
		phaseInputs = append(phaseInputs, hashchain.PhaseInput{
			Phase: "VOTE", Timestamp: pr.Output.Timestamp.UnixNano(),
			Prompts: pr.Prompts, Responses: pr.Output.Responses,
		})
		if store != nil {
			_ = store.WritePhase(fmt.Sprintf("%02d-VOTE", len(phaseOutputs)), pr.Output)
		}

		ballots, unparseable := ParseBallots(pr.Output.Responses, providers)
		result.UnparseableVotes = unparseable
		for _, voter := range unparseable {
			e.emitWarn(sessionID, "VOTE", voter, "ballot unparseable, discarded")
		}

		weights := e.reputationWeights(opts.Profile, providers, result.EvidenceReports)
		votes, err = voting.Tally(opts.Profile.VotingMethod, ballots, weights)
		if err != nil {
			result.State = StateAborted
			return finish(quorumerrors.Wrap(quorumerrors.KindParse, "tallying votes", err))
		}
		if e.Metrics != nil {
			for _, r := range votes.Rankings {
				e.Metrics.RecordVote(r.Provider, outcomeFor(r.Provider, votes.Winner))
			}
		}
		e.emit(Event{Kind: EventVotes, SessionID: sessionID, Phase: "VOTE", Message: votes.Winner, Timestamp: e.now()})
	}
	result.Votes = votes

	// step 10: controversy / after-vote HITL. votes.Controversial is the
	// vote method's own top-two-gap test (spec §3); crossing
	// ControversyThreshold on the normalized margin is the separate,
	// profile-tunable signal that actually gates the checkpoint.
	controversyCrossed := len(votes.Rankings) >= 2 && voting.ControversyScore(votes.Rankings) <= opts.Profile.ControversyThreshold
	if controversyCrossed {
		if d, err := e.maybeCheckpoint(sessionID, hitl.KindOnControversy, opts.Profile, "VOTE", opts.Input, nil, votes.Winner, runnerUp(votes), true); err != nil {
			result.State = StateAborted
			return finish(err)
		} else if d.Action == hitl.ActionOverrideWinner && d.Winner != "" {
			votes.Winner = d.Winner
			result.Votes = votes
		}
	}
	if d, err := e.maybeCheckpoint(sessionID, hitl.KindAfterVote, opts.Profile, "VOTE", opts.Input, nil, votes.Winner, runnerUp(votes), controversyCrossed); err != nil {
		result.State = StateAborted
		return finish(err)
	} else if d.Action == hitl.ActionOverrideWinner && d.Winner != "" {
		votes.Winner = d.Winner
		result.Votes = votes
	}

	// step 9-10: synthesis.
	result.State = StateSynthesize
	synth, err := e.synthesize(ctx, sessionID, plan, opts.Input, opts.Profile, phaseOutputs, votes)
	if err != nil {
		result.State = StateAborted
		return finish(quorumerrors.Wrap(quorumerrors.KindProvider, "synthesizing final answer", err))
	}
	result.Synthesis = synth
	e.emit(Event{Kind: EventComplete, SessionID: sessionID, Phase: "SYNTHESIZE", Timestamp: e.now()})

	// step 11: post-deliberation policy check.
	result.State = StatePolicyPost
	if e.Policy != nil {
		var tags []string
		if phaseRan(phaseOutputs, "RED_TEAM") {
			tags = append(tags, "red-team")
		}
		result.PostViolations = e.Policy.EvaluatePost(opts.PolicyName, policy.PostCheckInput{
			Synthesis: synth, Votes: votes, Tags: tags, Options: opts.PolicyOptions,
			Duration: e.now().Sub(startedAt),
		})
		if policy.HasBlock(result.PostViolations) {
			result.State = StateAborted
			return finish(quorumerrors.New(quorumerrors.KindPolicy, "blocked by post-deliberation policy"))
		}
	}

	// step 12: finalize — persist session, ledger, arena, memory, and
	// attestation. Every persistence failure here is non-fatal: the
	// deliberation itself already succeeded.
	result.PhaseOutputs = phaseOutputs
	e.finalize(sessionID, store, opts, phaseOutputs, phaseInputs, votes, synth, &result)

	result.State = StateDone
	return finish(nil)
}

func (e *Engine) finalize(sessionID string, store *session.Store, opts Options, phaseOutputs []model.PhaseOutput, phaseInputs []hashchain.PhaseInput, votes model.VoteResult, synth model.Synthesis, result *Result) {
	providers := providerNamesFromConfigs(opts.Providers)

	if store != nil {
		if err := store.WriteSynthesis(synth, votes); err != nil {
			e.emitWarn(sessionID, "SYNTHESIZE", "", "failed to persist synthesis: "+err.Error())
		}
		_ = store.AppendIndex(session.IndexRow{
			SessionID: sessionID, StartedAt: e.now(), CompletedAt: e.now(),
			Profile: opts.Profile.Name, Winner: votes.Winner, SessionDir: opts.SessionDir,
		})
		if len(result.AdaptiveDecisions) > 0 {
			_ = store.WriteArtifact("adaptive-decisions.json", result.AdaptiveDecisions)
		}
	}

	if e.Arena != nil {
		scores := make(map[string]float64, len(votes.Rankings))
		for _, r := range votes.Rankings {
			scores[r.Provider] = r.Score
		}
		if err := e.Arena.RecordOutcome(votes.Winner, providers, scores); err != nil {
			e.emitWarn(sessionID, "", "", "failed to record arena outcome: "+err.Error())
		} else if e.ArenaMirror != nil {
			if err := e.Arena.SyncFrom(context.Background(), e.ArenaMirror); err != nil {
				e.emitWarn(sessionID, "", "", "failed to sync arena mirror: "+err.Error())
			}
		}
	}

	if e.Memory != nil {
		consensus := synth.ConsensusScore
		node := model.MemoryNode{
			SessionID: sessionID, Input: opts.Input, Tags: opts.MemoryTags,
			ConsensusScore: &consensus, Winner: votes.Winner, Timestamp: e.now(),
		}
		if err := e.Memory.Put(node); err != nil {
			e.emitWarn(sessionID, "", "", "failed to persist memory node: "+err.Error())
		}
	}

	if e.Ledger != nil {
		entry := model.LedgerEntry{
			ID: sessionID, Timestamp: e.now(), Input: opts.Input, Profile: opts.Profile.Name,
			Providers: providers, Topology: opts.Profile.Topology, Synthesis: synth, Votes: votes,
		}
		appended, err := e.Ledger.Append(entry)
		if err != nil {
			e.emitWarn(sessionID, "", "", "failed to append ledger entry: "+err.Error())
		} else {
			result.LedgerEntry = appended
			if e.LedgerMirror != nil {
				if err := e.LedgerMirror.Append(context.Background(), appended); err != nil {
					e.emitWarn(sessionID, "", "", "failed to append ledger mirror: "+err.Error())
				}
			}
		}
	}

	chain, err := attestation.Build(sessionID, phaseInputs, e.now())
	if err != nil {
		e.emitWarn(sessionID, "", "", "failed to build attestation chain: "+err.Error())
		return
	}
	result.Attestation = chain
	if store != nil {
		if err := store.WriteArtifact("attestation.json", chain); err != nil {
			e.emitWarn(sessionID, "", "", "failed to persist attestation: "+err.Error())
		}
	}
}

func (e *Engine) maybeCheckpoint(sessionID string, kind hitl.CheckpointKind, profile *model.AgentProfile, phase, input string, responses map[string]string, winner, runnerUp string, controversial bool) (hitl.Decision, error) {
	if !containsName(profile.HITLPoints, string(kind)) || e.HITL == nil {
		return hitl.Decision{Action: hitl.ActionContinue}, nil
	}
	decision, err := e.HITL.HandleCheckpoint(hitl.Checkpoint{
		Kind: kind, SessionID: sessionID, Phase: phase, Input: input, Responses: responses,
		Winner: winner, RunnerUp: runnerUp, Controversial: controversial,
	})
	if err != nil {
		return hitl.Decision{}, quorumerrors.Wrap(quorumerrors.KindProvider, "handling human checkpoint", err)
	}
	if decision.Action == hitl.ActionAbort {
		return decision, &hitl.AbortError{Checkpoint: hitl.Checkpoint{Kind: kind, SessionID: sessionID, Phase: phase}}
	}
	return decision, nil
}

// reputationWeights combines profile weights, arena reputation, and (in
// strict evidence mode) source-tier coverage into the per-provider vote
// multiplier spec §4.11 step 8 and §4.6 describe.
func (e *Engine) reputationWeights(profile *model.AgentProfile, providers []string, reports map[string]evidence.Report) voting.Weights {
	weights := make(voting.Weights, len(providers))
	for _, p := range providers {
		w := 1.0
		if profile.Weights != nil {
			if v, ok := profile.Weights[p]; ok {
				w = v
			}
		}
		if profile.ReputationWeighting && e.Arena != nil {
			w *= e.Arena.WeightMultiplierWithMirror(context.Background(), e.ArenaMirror, p)
		}
		if profile.Evidence == model.EvidenceStrict {
			if report, ok := reports[p]; ok {
				w *= evidence.StrictScaleFactor(report.WeightedScore)
			}
		}
		weights[p] = w
	}
	return weights
}

func renderMemorySummary(matches []memory.Match) string {
	if len(matches) == 0 {
		return ""
	}
	out := ""
	for _, m := range matches {
		out += fmt.Sprintf("- %q (winner: %s)\n", m.Node.Input, m.Node.Winner)
	}
	return out
}

func phaseNames(phases []topology.PhaseSpec) []string {
	out := make([]string, len(phases))
	for i, p := range phases {
		out[i] = p.Name
	}
	return out
}

func findPhase(phases []topology.PhaseSpec, name string) (topology.PhaseSpec, bool) {
	for _, p := range phases {
		if p.Name == name {
			return p, true
		}
	}
	return topology.PhaseSpec{}, false
}

func containsName(names []string, target string) bool {
	for _, n := range names {
		if n == target {
			return true
		}
	}
	return false
}

func phaseRan(outputs []model.PhaseOutput, name string) bool {
	for _, o := range outputs {
		if o.Phase == name {
			return true
		}
	}
	return false
}

func findPhaseOutput(outputs []model.PhaseOutput, name string) (model.PhaseOutput, bool) {
	for _, o := range outputs {
		if o.Phase == name {
			return o, true
		}
	}
	return model.PhaseOutput{}, false
}

// excludeProviders drops any provider named in the profile's
// ExcludeFromDeliberation list (spec §4.11 precondition: "after exclusion
// by profile").
func excludeProviders(configs []model.ProviderConfig, profile *model.AgentProfile) []model.ProviderConfig {
	if profile == nil || len(profile.ExcludeFromDeliberation) == 0 {
		return configs
	}
	excluded := make(map[string]bool, len(profile.ExcludeFromDeliberation))
	for _, name := range profile.ExcludeFromDeliberation {
		excluded[name] = true
	}
	out := make([]model.ProviderConfig, 0, len(configs))
	for _, c := range configs {
		if !excluded[c.Name] {
			out = append(out, c)
		}
	}
	return out
}

func runnerUp(votes model.VoteResult) string {
	if len(votes.Rankings) < 2 {
		return ""
	}
	return votes.Rankings[1].Provider
}

func outcomeFor(candidate, winner string) string {
	if candidate == winner {
		return "won"
	}
	return "lost"
}

func providerNamesFromConfigs(configs []model.ProviderConfig) []string {
	out := make([]string, len(configs))
	for i, c := range configs {
		out[i] = c.Name
	}
	return out
}
