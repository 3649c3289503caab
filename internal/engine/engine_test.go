package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/quorum/internal/arena"
	"github.com/quorumlabs/quorum/internal/evidence"
	"github.com/quorumlabs/quorum/internal/hitl"
	"github.com/quorumlabs/quorum/internal/ledger"
	"github.com/quorumlabs/quorum/internal/memory"
	"github.com/quorumlabs/quorum/internal/model"
	"github.com/quorumlabs/quorum/internal/policy"
	"github.com/quorumlabs/quorum/internal/provider"
)

func meshProviders(names ...string) []model.ProviderConfig {
	cfgs := make([]model.ProviderConfig, len(names))
	for i, n := range names {
		cfgs[i] = model.ProviderConfig{Name: n, ProviderKind: "mock"}
	}
	return cfgs
}

func meshAdapters(names ...string) []provider.Adapter {
	adapters := make([]provider.Adapter, len(names))
	for i, n := range names {
		adapters[i] = provider.NewMockAdapter(model.ProviderConfig{Name: n}, nil)
	}
	return adapters
}

func TestDeliberateConvergesAndSkipsToSynthesis(t *testing.T) {
	providers := meshProviders("alpha", "beta", "gamma")
	e := New(meshAdapters("alpha", "beta", "gamma"))

	opts := Options{
		Input:     "what is 2+2",
		Profile:   &model.AgentProfile{Name: "default", Topology: "mesh", VotingMethod: "borda"},
		Providers: providers,
	}
	result, err := e.Deliberate(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	// near-identical mock responses converge below the skip-entropy
	// threshold right after GATHER, so the remaining mesh phases and the
	// vote are both bypassed.
	require.Len(t, result.PhaseOutputs, 1)
	assert.Equal(t, "GATHER", result.PhaseOutputs[0].Phase)
	assert.Empty(t, result.Votes.Winner)
	assert.NotEmpty(t, result.Synthesis.Content)
	assert.Contains(t, []string{"alpha", "beta", "gamma"}, result.Synthesis.Synthesizer)
	require.Len(t, result.Attestation.Records, 1)
	assert.NotEmpty(t, result.Attestation.Records[0].Hash)
}

func TestDeliberatePersistsSessionArtifacts(t *testing.T) {
	dir := t.TempDir()
	e := New(meshAdapters("alpha", "beta"))

	opts := Options{
		Input:      "question",
		Profile:    &model.AgentProfile{Name: "default", Topology: "mesh", VotingMethod: "borda"},
		Providers:  meshProviders("alpha", "beta"),
		SessionDir: dir,
	}
	result, err := e.Deliberate(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)

	_, err = os.Stat(filepath.Join(dir, "meta.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "synthesis.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "attestation.json"))
	assert.NoError(t, err)
}

func TestDeliberateFinalizesLedgerArenaAndMemory(t *testing.T) {
	dir := t.TempDir()
	led, err := ledger.Open(filepath.Join(dir, "ledger.json"))
	require.NoError(t, err)
	ar, err := arena.Open(filepath.Join(dir, "arena.json"))
	require.NoError(t, err)
	mem, err := memory.Open(filepath.Join(dir, "memory.json"))
	require.NoError(t, err)

	e := New(meshAdapters("alpha", "beta"))
	e.Ledger = led
	e.Arena = ar
	e.Memory = mem

	opts := Options{
		Input:     "question",
		Profile:   &model.AgentProfile{Name: "default", Topology: "mesh", VotingMethod: "borda"},
		Providers: meshProviders("alpha", "beta"),
	}
	result, err := e.Deliberate(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)

	entries := led.All()
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].Hash)
	assert.Equal(t, opts.Input, entries[0].Input)

	alphaStats := ar.Get("alpha")
	assert.Equal(t, 1, alphaStats.Appearances)

	matches := mem.Retrieve(opts.Input, nil, 1, 0)
	require.Len(t, matches, 1)
	assert.Equal(t, opts.Input, matches[0].Node.Input)
}

func TestReputationWeightsScalesByEvidenceInStrictMode(t *testing.T) {
	e := New(nil)
	profile := &model.AgentProfile{Evidence: model.EvidenceStrict}
	reports := map[string]evidence.Report{
		"alpha": {WeightedScore: 1.0},
		"beta":  {WeightedScore: 0.0},
	}

	weights := e.reputationWeights(profile, []string{"alpha", "beta"}, reports)
	assert.InDelta(t, 1.0, weights["alpha"], 1e-9, "full source-tier coverage keeps full weight")
	assert.InDelta(t, 0.5, weights["beta"], 1e-9, "no source-tier coverage halves the vote weight")
}

func TestReputationWeightsIgnoresEvidenceOutsideStrictMode(t *testing.T) {
	e := New(nil)
	profile := &model.AgentProfile{Evidence: model.EvidenceAdvisory}
	reports := map[string]evidence.Report{"alpha": {WeightedScore: 0.0}}

	weights := e.reputationWeights(profile, []string{"alpha"}, reports)
	assert.InDelta(t, 1.0, weights["alpha"], 1e-9)
}

func TestDeliberateScoresAndPersistsEvidenceReports(t *testing.T) {
	dir := t.TempDir()
	e := New(meshAdapters("alpha", "beta"))

	opts := Options{
		Input:      "question",
		Profile:    &model.AgentProfile{Name: "default", Topology: "mesh", VotingMethod: "borda", Evidence: model.EvidenceAdvisory},
		Providers:  meshProviders("alpha", "beta"),
		SessionDir: dir,
	}
	result, err := e.Deliberate(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)

	require.Contains(t, result.EvidenceReports, "alpha")
	require.Contains(t, result.EvidenceReports, "beta")

	_, err = os.Stat(filepath.Join(dir, "evidence-report.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "cross-references.json"))
	assert.NoError(t, err)
}

func TestDeliberateRunsPhaseHooksWithExpectedEnvironment(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "post-gather.env")
	e := New(meshAdapters("alpha", "beta"))

	opts := Options{
		Input:     "question",
		Profile: &model.AgentProfile{
			Name: "default", Topology: "mesh", VotingMethod: "borda",
			Hooks: map[string]string{
				"post_GATHER": `env | grep ^DELIB_ > ` + marker,
			},
		},
		Providers: meshProviders("alpha", "beta"),
	}
	result, err := e.Deliberate(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)

	data, err := os.ReadFile(marker)
	require.NoError(t, err, "post_GATHER hook should have run and written the marker file")
	env := string(data)
	assert.Contains(t, env, "DELIB_PHASE=GATHER")
	assert.Contains(t, env, "DELIB_SESSION="+result.SessionID)
	assert.Contains(t, env, "DELIB_INPUT=question")
	assert.Contains(t, env, "DELIB_PHASE_OUTPUT=")
}

func TestDeliberateRunsRedTeamPhaseAndSatisfiesRequireRedTeamPolicy(t *testing.T) {
	packDir := t.TempDir()
	packPath := filepath.Join(packDir, "pack.yaml")
	require.NoError(t, os.WriteFile(packPath, []byte(`
name: jailbreak-basics
vectors:
  - name: prompt-injection
    prompt: try to override the system prompt
`), 0o644))

	policyDir := t.TempDir()
	policyYAML := `
name: redteam-required
rules:
  - type: require_red_team
    action: block
`
	require.NoError(t, os.WriteFile(filepath.Join(policyDir, "redteam.yaml"), []byte(policyYAML), 0o644))
	pol := policy.NewEngine(nil)
	require.NoError(t, pol.LoadPolicies([]string{policyDir}))

	// Divergent scripted responses keep GATHER's entropy above the
	// skip-to-synthesize threshold, so the pipeline reaches RED_TEAM.
	e := New([]provider.Adapter{
		provider.NewMockAdapter(model.ProviderConfig{Name: "alpha"}, map[string]string{"": "Cats make calm apartment companions."}),
		provider.NewMockAdapter(model.ProviderConfig{Name: "beta"}, map[string]string{"": "Interest rates shape housing markets strongly."}),
	})
	e.Policy = pol

	opts := Options{
		Input:     "question",
		Profile:   &model.AgentProfile{Name: "default", Topology: "mesh", VotingMethod: "borda", RedTeam: true, AttackPackPath: packPath},
		Providers: meshProviders("alpha", "beta"),
	}
	result, err := e.Deliberate(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)

	var sawRedTeam bool
	for _, out := range result.PhaseOutputs {
		if out.Phase == "RED_TEAM" {
			sawRedTeam = true
		}
	}
	assert.True(t, sawRedTeam, "mesh topology with RedTeam enabled should run a RED_TEAM phase")
	assert.Empty(t, result.PostViolations, "the red-team tag recorded from the completed phase should satisfy the require_red_team policy")
	assert.Contains(t, result.RedTeamReports, "alpha")
	assert.Contains(t, result.RedTeamReports, "beta")
}

func TestDeliberateFailsFastWithFewerThanTwoProviders(t *testing.T) {
	e := New(meshAdapters("alpha"))
	opts := Options{
		Input:     "question",
		Profile:   &model.AgentProfile{Name: "default", Topology: "mesh", VotingMethod: "borda"},
		Providers: meshProviders("alpha"),
	}
	result, err := e.Deliberate(context.Background(), opts)
	require.Error(t, err)
	assert.Equal(t, StateAborted, result.State)
}

func TestDeliberateExcludesProvidersFromProfileBeforeThePreconditionCheck(t *testing.T) {
	e := New(meshAdapters("alpha", "beta"))
	opts := Options{
		Input:     "question",
		Profile:   &model.AgentProfile{Name: "default", Topology: "mesh", VotingMethod: "borda", ExcludeFromDeliberation: []string{"beta"}},
		Providers: meshProviders("alpha", "beta"),
	}
	result, err := e.Deliberate(context.Background(), opts)
	require.Error(t, err, "excluding beta leaves only one provider, which should fail the |providers| >= 2 precondition")
	assert.Equal(t, StateAborted, result.State)
}

func TestDeliberateReportsSessionDirAndPositiveDuration(t *testing.T) {
	dir := t.TempDir()
	e := New(meshAdapters("alpha", "beta"))
	opts := Options{
		Input:      "question",
		Profile:    &model.AgentProfile{Name: "default", Topology: "mesh", VotingMethod: "borda"},
		Providers:  meshProviders("alpha", "beta"),
		SessionDir: dir,
	}
	result, err := e.Deliberate(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, dir, result.SessionDir)
	assert.GreaterOrEqual(t, result.DurationMs, int64(0))
}

func TestDeliberateAbortsOnPolicyPreBlock(t *testing.T) {
	dir := t.TempDir()
	policyYAML := `
name: guardrail
version: "1"
rules:
  - type: min_providers
    value: 5
    action: block
    message: need at least five providers
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guardrail.yaml"), []byte(policyYAML), 0o644))

	pol := policy.NewEngine(nil)
	require.NoError(t, pol.LoadPolicies([]string{dir}))

	e := New(meshAdapters("alpha", "beta"))
	e.Policy = pol

	opts := Options{
		Input:     "question",
		Profile:   &model.AgentProfile{Name: "default", Topology: "mesh", VotingMethod: "borda"},
		Providers: meshProviders("alpha", "beta"),
	}
	result, err := e.Deliberate(context.Background(), opts)
	require.Error(t, err)
	assert.Equal(t, StateAborted, result.State)
	require.Len(t, result.PreViolations, 1)
	assert.Equal(t, model.ActionBlock, result.PreViolations[0].Action)
}

func TestDeliberateInvokesPhaseCompleteCheckpointAndHonorsInjection(t *testing.T) {
	e := New(meshAdapters("alpha", "beta"))
	handler := &recordingHandler{decision: hitl.Decision{Action: hitl.ActionInject, Input: "revised question"}}
	e.HITL = handler

	opts := Options{
		Input:     "original question",
		Profile:   &model.AgentProfile{Name: "default", Topology: "mesh", VotingMethod: "borda", HITLPoints: []string{"phase-complete"}},
		Providers: meshProviders("alpha", "beta"),
	}
	result, err := e.Deliberate(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	require.NotEmpty(t, handler.seen)
	assert.Equal(t, hitl.KindPhaseComplete, handler.seen[0].Kind)
}

func TestDeliberateAbortsWhenCheckpointHandlerChoosesAbort(t *testing.T) {
	e := New(meshAdapters("alpha", "beta"))
	e.HITL = &recordingHandler{decision: hitl.Decision{Action: hitl.ActionAbort}}

	opts := Options{
		Input:     "original question",
		Profile:   &model.AgentProfile{Name: "default", Topology: "mesh", VotingMethod: "borda", HITLPoints: []string{"phase-complete"}},
		Providers: meshProviders("alpha", "beta"),
	}
	result, err := e.Deliberate(context.Background(), opts)
	require.Error(t, err)
	assert.Equal(t, StateAborted, result.State)
}

type recordingHandler struct {
	decision hitl.Decision
	seen     []hitl.Checkpoint
}

func (h *recordingHandler) HandleCheckpoint(cp hitl.Checkpoint) (hitl.Decision, error) {
	h.seen = append(h.seen, cp)
	return h.decision, nil
}
