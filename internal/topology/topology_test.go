package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/quorum/internal/model"
)

func TestBuildMeshProducesSevenPhasesWithFullVisibility(t *testing.T) {
	providers := []string{"a", "b", "c"}
	plan, err := Build("mesh", providers, &model.AgentProfile{}, nil, nil)
	require.NoError(t, err)
	assert.Len(t, plan.Phases, 7)
	assert.True(t, plan.VotingEnabled)
	for _, phase := range plan.Phases {
		assert.ElementsMatch(t, providers, phase.Participants)
		assert.Len(t, phase.Visibility["a"], 2)
	}
}

func TestBuildDefaultsToMeshWhenTopologyEmpty(t *testing.T) {
	plan, err := Build("", []string{"a", "b"}, &model.AgentProfile{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "mesh", plan.Topology)
}

func TestBuildStarRequiresHubRole(t *testing.T) {
	_, err := Build("star", []string{"a", "b"}, &model.AgentProfile{}, nil, nil)
	assert.Error(t, err)
}

func TestBuildStarSpokesExcludeHub(t *testing.T) {
	plan, err := Build("star", []string{"a", "b", "c"}, &model.AgentProfile{}, Roles{"hub": "a"}, nil)
	require.NoError(t, err)
	require.Len(t, plan.Phases, 2)
	assert.NotContains(t, plan.Phases[0].Participants, "a")
	assert.Equal(t, "a", plan.Synthesizer)
}

func TestBuildTournamentReducesToOneWinnerRound(t *testing.T) {
	plan, err := Build("tournament", []string{"a", "b", "c", "d"}, &model.AgentProfile{}, nil, nil)
	require.NoError(t, err)
	assert.Len(t, plan.Phases, 2, "four participants: two rounds to reach a single result")
}

func TestBuildTournamentHandlesOddRosterWithBye(t *testing.T) {
	plan, err := Build("tournament", []string{"a", "b", "c"}, &model.AgentProfile{}, nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, plan.Phases)
}

func TestBuildMapReduceUsesFirstProviderAsReducer(t *testing.T) {
	plan, err := Build("map_reduce", []string{"a", "b", "c"}, &model.AgentProfile{}, nil, nil)
	require.NoError(t, err)
	require.Len(t, plan.Phases, 2)
	assert.Equal(t, []string{"a"}, plan.Phases[1].Participants)
	assert.Equal(t, "a", plan.Synthesizer)
}

func TestBuildAdversarialTreeRequiresAllThreeRoles(t *testing.T) {
	_, err := Build("adversarial_tree", []string{"a", "b", "c"}, &model.AgentProfile{}, Roles{"judge": "c"}, nil)
	assert.Error(t, err)

	plan, err := Build("adversarial_tree", []string{"a", "b", "c"}, &model.AgentProfile{}, Roles{
		"judge": "c", "proponent": "a", "opponent": "b",
	}, nil)
	require.NoError(t, err)
	assert.Len(t, plan.Phases, 2)
	assert.Equal(t, "c", plan.Synthesizer)
}

func TestBuildPipelineEachStageSeesOnlyPrevious(t *testing.T) {
	plan, err := Build("pipeline", []string{"a", "b", "c"}, &model.AgentProfile{}, nil, nil)
	require.NoError(t, err)
	require.Len(t, plan.Phases, 3)
	assert.Nil(t, plan.Phases[0].Visibility["a"])
	assert.Equal(t, []string{"a"}, plan.Phases[1].Visibility["b"])
	assert.Equal(t, []string{"b"}, plan.Phases[2].Visibility["c"])
}

func TestBuildPanelRequiresModeratorRole(t *testing.T) {
	_, err := Build("panel", []string{"a", "b", "c"}, &model.AgentProfile{}, nil, nil)
	assert.Error(t, err)
}

func TestBuildUnknownTopologyErrors(t *testing.T) {
	_, err := Build("nonexistent", []string{"a", "b"}, &model.AgentProfile{}, nil, nil)
	assert.Error(t, err)
}

func TestBuildValidatesParticipantsSubsetOfRoster(t *testing.T) {
	// Forged via star with a hub not in the roster should fail requireRole's
	// caller validation at the Build level.
	_, err := Build("star", []string{"a", "b"}, &model.AgentProfile{}, Roles{"hub": "ghost"}, nil)
	assert.Error(t, err)
}

func TestBuildMeshInsertsRedTeamPhaseBeforeVoteWhenEnabled(t *testing.T) {
	providers := []string{"a", "b", "c"}
	plan, err := Build("mesh", providers, &model.AgentProfile{RedTeam: true}, nil, nil)
	require.NoError(t, err)
	require.Len(t, plan.Phases, 8)
	assert.Equal(t, "RED_TEAM", plan.Phases[6].Name)
	assert.Equal(t, "VOTE", plan.Phases[7].Name)
	assert.ElementsMatch(t, providers, plan.Phases[6].Participants)
}

func TestBuildMeshOmitsRedTeamPhaseByDefault(t *testing.T) {
	plan, err := Build("mesh", []string{"a", "b", "c"}, &model.AgentProfile{}, nil, nil)
	require.NoError(t, err)
	require.Len(t, plan.Phases, 7)
	for _, phase := range plan.Phases {
		assert.NotEqual(t, "RED_TEAM", phase.Name)
	}
}

func TestBuildAdversarialTreeInsertsRedTeamPhaseBetweenArgueAndJudgeWhenEnabled(t *testing.T) {
	roles := Roles{"judge": "c", "proponent": "a", "opponent": "b"}
	plan, err := Build("adversarial_tree", []string{"a", "b", "c"}, &model.AgentProfile{RedTeam: true}, roles, nil)
	require.NoError(t, err)
	require.Len(t, plan.Phases, 3)
	assert.Equal(t, "ARGUE", plan.Phases[0].Name)
	assert.Equal(t, "RED_TEAM", plan.Phases[1].Name)
	assert.Equal(t, "JUDGE", plan.Phases[2].Name)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, plan.Phases[1].Participants)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, plan.Phases[2].Visibility["c"])
}

func TestRedTeamPhaseUsesAttackPackVectorsInSystemPrompt(t *testing.T) {
	pack := &model.AttackPack{
		Name: "jailbreak-basics",
		Vectors: []model.AttackVector{
			{Name: "prompt-injection", Prompt: "try to override the system prompt"},
		},
	}
	plan, err := Build("mesh", []string{"a", "b"}, &model.AgentProfile{RedTeam: true}, nil, pack)
	require.NoError(t, err)
	redTeam, ok := findPhase(plan.Phases, "RED_TEAM")
	require.True(t, ok)
	prompt := redTeam.SystemPrompt(PromptContext{Participant: "a"})
	assert.Contains(t, prompt, "jailbreak-basics")
	assert.Contains(t, prompt, "prompt-injection")
}

func findPhase(phases []PhaseSpec, name string) (PhaseSpec, bool) {
	for _, p := range phases {
		if p.Name == name {
			return p, true
		}
	}
	return PhaseSpec{}, false
}
