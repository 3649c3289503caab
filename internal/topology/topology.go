// Package topology turns a named topology plus a provider roster into an
// ordered list of phases with participants and per-participant visibility
// maps (spec §4.10).
package topology

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quorumlabs/quorum/internal/model"
	"github.com/quorumlabs/quorum/internal/redteam"
)

// PromptContext is what a PhaseSpec's prompt functions see when building
// one participant's prompt for one phase.
type PromptContext struct {
	Input       string
	Profile     *model.AgentProfile
	Participant string
	Prior       []model.PhaseOutput
}

// PhaseSpec is one phase of a topology plan.
type PhaseSpec struct {
	Name         string
	Parallel     bool
	Participants []string
	// Visibility maps a participant to the other participants whose prior
	// responses it may read when its prompt is built.
	Visibility   map[string][]string
	SystemPrompt func(ctx PromptContext) string
	UserPrompt   func(ctx PromptContext) string
}

// Plan is the full expansion of a topology for one deliberation.
type Plan struct {
	Topology      string
	Description   string
	Phases        []PhaseSpec
	VotingEnabled bool
	// Synthesizer is either "auto" (Engine picks the runner-up) or a
	// specific provider name.
	Synthesizer string
}

// Roles maps a role name (hub, moderator, judge, ...) to a provider name.
type Roles map[string]string

// Build expands topology into a full Plan over providers, using profile
// for phase templates/prompts and roles for topology-specific
// participants. pack is the loaded attack pack (may be nil); it is only
// consulted when profile.RedTeam is set and the topology is mesh or
// adversarial_tree, the two topologies that carry an optional RED_TEAM
// phase. Returns an error if a required role is missing or any
// participant list is not a subset of providers.
func Build(topology string, providers []string, profile *model.AgentProfile, roles Roles, pack *model.AttackPack) (Plan, error) {
	if topology == "" {
		topology = "mesh"
	}
	var plan Plan
	var err error
	switch topology {
	case "mesh":
		plan, err = buildMesh(providers, profile, pack)
	case "star":
		plan, err = buildStar(providers, profile, roles)
	case "tournament":
		plan, err = buildTournament(providers, profile)
	case "map_reduce":
		plan, err = buildMapReduce(providers, profile)
	case "adversarial_tree":
		plan, err = buildAdversarialTree(providers, profile, roles, pack)
	case "pipeline":
		plan, err = buildPipeline(providers, profile)
	case "panel":
		plan, err = buildPanel(providers, profile, roles)
	default:
		return Plan{}, fmt.Errorf("topology: unknown topology %q", topology)
	}
	if err != nil {
		return Plan{}, err
	}
	if err := validate(plan, providers); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

func validate(plan Plan, providers []string) error {
	roster := make(map[string]bool, len(providers))
	for _, p := range providers {
		roster[p] = true
	}
	for _, phase := range plan.Phases {
		for _, participant := range phase.Participants {
			if !roster[participant] {
				return fmt.Errorf("topology: phase %q references participant %q not in the provider roster", phase.Name, participant)
			}
		}
	}
	return nil
}

func requireRole(roles Roles, role string) (string, error) {
	p, ok := roles[role]
	if !ok || p == "" {
		return "", fmt.Errorf("topology: role %q is required but was not assigned a provider", role)
	}
	return p, nil
}

// fullMesh returns a visibility map where every participant sees every
// other participant.
func fullMesh(participants []string) map[string][]string {
	vis := make(map[string][]string, len(participants))
	for _, p := range participants {
		var others []string
		for _, q := range participants {
			if q != p {
				others = append(others, q)
			}
		}
		vis[p] = others
	}
	return vis
}

func noneVisible(participants []string) map[string][]string {
	vis := make(map[string][]string, len(participants))
	for _, p := range participants {
		vis[p] = nil
	}
	return vis
}

func priorPhaseText(ctx PromptContext) string {
	if len(ctx.Prior) == 0 {
		return ""
	}
	last := ctx.Prior[len(ctx.Prior)-1]
	names := make([]string, 0, len(last.Responses))
	for name := range last.Responses {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "[%s] %s: %s\n", last.Phase, name, last.Responses[name])
	}
	return b.String()
}

// --- mesh: the canonical 7-phase pipeline, every participant sees every
// other participant's output from the immediately preceding phase.

func buildMesh(providers []string, profile *model.AgentProfile, pack *model.AttackPack) (Plan, error) {
	names := []string{"GATHER", "PLAN", "FORMULATE", "DEBATE", "ADJUST", "REBUTTAL"}
	phases := make([]PhaseSpec, 0, len(names)+2)
	for _, name := range names {
		phaseName := name
		phases = append(phases, PhaseSpec{
			Name:         phaseName,
			Parallel:     true,
			Participants: append([]string(nil), providers...),
			Visibility:   fullMesh(providers),
			SystemPrompt: meshSystemPrompt(phaseName, profile),
			UserPrompt:   meshUserPrompt(phaseName),
		})
	}
	if profile != nil && profile.RedTeam {
		phases = append(phases, redTeamPhase(providers, profile, pack))
	}
	phases = append(phases, PhaseSpec{
		Name:         "VOTE",
		Parallel:     true,
		Participants: append([]string(nil), providers...),
		Visibility:   fullMesh(providers),
		SystemPrompt: meshSystemPrompt("VOTE", profile),
		UserPrompt:   meshUserPrompt("VOTE"),
	})
	return Plan{
		Topology:      "mesh",
		Description:   "every participant sees every other participant's output each phase",
		Phases:        phases,
		VotingEnabled: true,
		Synthesizer:   "auto",
	}, nil
}

// redTeamPhase is the optional phase run between the debate phases and the
// vote (mesh) or between ARGUE and JUDGE (adversarial_tree), in which every
// participant challenges the deliberation's current answer against pack's
// attack vectors. A profile.Prompts["RED_TEAM"] override, if set, still
// takes priority over the attack pack's rendered prompt.
func redTeamPhase(participants []string, profile *model.AgentProfile, pack *model.AttackPack) PhaseSpec {
	return PhaseSpec{
		Name:         "RED_TEAM",
		Parallel:     true,
		Participants: append([]string(nil), participants...),
		Visibility:   fullMesh(participants),
		SystemPrompt: func(ctx PromptContext) string {
			if profile != nil {
				if tmpl, ok := profile.Prompts["RED_TEAM"]; ok && tmpl != "" {
					return tmpl
				}
			}
			return redteam.RenderPrompt(pack)
		},
		UserPrompt: meshUserPrompt("RED_TEAM"),
	}
}

func meshSystemPrompt(phase string, profile *model.AgentProfile) func(PromptContext) string {
	return func(ctx PromptContext) string {
		if profile != nil {
			if tmpl, ok := profile.Prompts[phase]; ok && tmpl != "" {
				return tmpl
			}
		}
		return fmt.Sprintf("You are participating in the %s phase of a structured deliberation.", phase)
	}
}

func meshUserPrompt(phase string) func(PromptContext) string {
	return func(ctx PromptContext) string {
		prior := priorPhaseText(ctx)
		if prior == "" {
			return ctx.Input
		}
		return fmt.Sprintf("Question: %s\n\nPrior responses:\n%s", ctx.Input, prior)
	}
}

// --- star: a hub fans out to every other participant, then aggregates
// their responses in a second phase.

func buildStar(providers []string, profile *model.AgentProfile, roles Roles) (Plan, error) {
	hub, err := requireRole(roles, "hub")
	if err != nil {
		return Plan{}, err
	}
	var spokes []string
	for _, p := range providers {
		if p != hub {
			spokes = append(spokes, p)
		}
	}

	fanOut := PhaseSpec{
		Name:         "FAN_OUT",
		Parallel:     true,
		Participants: spokes,
		Visibility:   noneVisible(spokes),
		SystemPrompt: meshSystemPrompt("FAN_OUT", profile),
		UserPrompt:   meshUserPrompt("FAN_OUT"),
	}
	aggregate := PhaseSpec{
		Name:         "AGGREGATE",
		Parallel:     false,
		Participants: []string{hub},
		Visibility:   map[string][]string{hub: spokes},
		SystemPrompt: meshSystemPrompt("AGGREGATE", profile),
		UserPrompt:   meshUserPrompt("AGGREGATE"),
	}
	return Plan{
		Topology:      "star",
		Description:   "a hub fans out to spokes then aggregates their responses",
		Phases:        []PhaseSpec{fanOut, aggregate},
		VotingEnabled: false,
		Synthesizer:   hub,
	}, nil
}

// --- tournament: pairwise bracket with elimination.

func buildTournament(providers []string, profile *model.AgentProfile) (Plan, error) {
	round := append([]string(nil), providers...)
	var phases []PhaseSpec
	roundNum := 1
	for len(round) > 1 {
		var pairs [][2]string
		var byePlayer string
		for i := 0; i+1 < len(round); i += 2 {
			pairs = append(pairs, [2]string{round[i], round[i+1]})
		}
		if len(round)%2 == 1 {
			byePlayer = round[len(round)-1]
		}

		var participants []string
		vis := make(map[string][]string)
		for _, pair := range pairs {
			participants = append(participants, pair[0], pair[1])
			vis[pair[0]] = []string{pair[1]}
			vis[pair[1]] = []string{pair[0]}
		}
		phaseName := fmt.Sprintf("ROUND_%d", roundNum)
		phases = append(phases, PhaseSpec{
			Name:         phaseName,
			Parallel:     true,
			Participants: participants,
			Visibility:   vis,
			SystemPrompt: meshSystemPrompt(phaseName, profile),
			UserPrompt:   meshUserPrompt(phaseName),
		})

		// The planner advances the first of each pair (plus any bye) into
		// the next round; no vote or judge decides a round's advancement.
		var next []string
		for _, pair := range pairs {
			next = append(next, pair[0])
		}
		if byePlayer != "" {
			next = append(next, byePlayer)
		}
		round = next
		roundNum++
	}
	return Plan{
		Topology:      "tournament",
		Description:   "pairwise elimination bracket, the first of each pair advances to the next round",
		Phases:        phases,
		VotingEnabled: true,
		Synthesizer:   "auto",
	}, nil
}

// --- map_reduce: parallel map over every participant, then one serial
// reduce phase performed by the first participant.

func buildMapReduce(providers []string, profile *model.AgentProfile) (Plan, error) {
	if len(providers) == 0 {
		return Plan{}, fmt.Errorf("topology: map_reduce requires at least one provider")
	}
	reducer := providers[0]

	mapPhase := PhaseSpec{
		Name:         "MAP",
		Parallel:     true,
		Participants: providers,
		Visibility:   noneVisible(providers),
		SystemPrompt: meshSystemPrompt("MAP", profile),
		UserPrompt:   meshUserPrompt("MAP"),
	}
	reducePhase := PhaseSpec{
		Name:         "REDUCE",
		Parallel:     false,
		Participants: []string{reducer},
		Visibility:   map[string][]string{reducer: providers},
		SystemPrompt: meshSystemPrompt("REDUCE", profile),
		UserPrompt:   meshUserPrompt("REDUCE"),
	}
	return Plan{
		Topology:      "map_reduce",
		Description:   "parallel map over all participants, then a serial reduce",
		Phases:        []PhaseSpec{mapPhase, reducePhase},
		VotingEnabled: false,
		Synthesizer:   reducer,
	}, nil
}

// --- adversarial_tree: proponent and opponent branches converge on a judge.

func buildAdversarialTree(providers []string, profile *model.AgentProfile, roles Roles, pack *model.AttackPack) (Plan, error) {
	judge, err := requireRole(roles, "judge")
	if err != nil {
		return Plan{}, err
	}
	proponent, err := requireRole(roles, "proponent")
	if err != nil {
		return Plan{}, err
	}
	opponent, err := requireRole(roles, "opponent")
	if err != nil {
		return Plan{}, err
	}

	argue := PhaseSpec{
		Name:         "ARGUE",
		Parallel:     true,
		Participants: []string{proponent, opponent},
		Visibility:   map[string][]string{proponent: {opponent}, opponent: {proponent}},
		SystemPrompt: meshSystemPrompt("ARGUE", profile),
		UserPrompt:   meshUserPrompt("ARGUE"),
	}
	phases := []PhaseSpec{argue}
	judgeSees := []string{proponent, opponent}
	if profile != nil && profile.RedTeam {
		phases = append(phases, redTeamPhase([]string{proponent, opponent, judge}, profile, pack))
		judgeSees = []string{proponent, opponent, judge}
	}
	judgePhase := PhaseSpec{
		Name:         "JUDGE",
		Parallel:     false,
		Participants: []string{judge},
		Visibility:   map[string][]string{judge: judgeSees},
		SystemPrompt: meshSystemPrompt("JUDGE", profile),
		UserPrompt:   meshUserPrompt("JUDGE"),
	}
	phases = append(phases, judgePhase)
	return Plan{
		Topology:      "adversarial_tree",
		Description:   "proponent and opponent argue, a judge rules",
		Phases:        phases,
		VotingEnabled: false,
		Synthesizer:   judge,
	}, nil
}

// --- pipeline: serial stages, each visible only to the next.

func buildPipeline(providers []string, profile *model.AgentProfile) (Plan, error) {
	phases := make([]PhaseSpec, 0, len(providers))
	for i, p := range providers {
		var vis map[string][]string
		if i == 0 {
			vis = map[string][]string{p: nil}
		} else {
			vis = map[string][]string{p: {providers[i-1]}}
		}
		phaseName := fmt.Sprintf("STAGE_%d", i+1)
		phases = append(phases, PhaseSpec{
			Name:         phaseName,
			Parallel:     false,
			Participants: []string{p},
			Visibility:   vis,
			SystemPrompt: meshSystemPrompt(phaseName, profile),
			UserPrompt:   meshUserPrompt(phaseName),
		})
	}
	last := providers[len(providers)-1]
	return Plan{
		Topology:      "pipeline",
		Description:   "serial stages, each stage sees only the previous stage's output",
		Phases:        phases,
		VotingEnabled: false,
		Synthesizer:   last,
	}, nil
}

// --- panel: a moderator orchestrates ordered speakers.

func buildPanel(providers []string, profile *model.AgentProfile, roles Roles) (Plan, error) {
	moderator, err := requireRole(roles, "moderator")
	if err != nil {
		return Plan{}, err
	}
	var speakers []string
	for _, p := range providers {
		if p != moderator {
			speakers = append(speakers, p)
		}
	}

	speak := PhaseSpec{
		Name:         "SPEAK",
		Parallel:     false,
		Participants: speakers,
		Visibility:   fullMesh(speakers),
		SystemPrompt: meshSystemPrompt("SPEAK", profile),
		UserPrompt:   meshUserPrompt("SPEAK"),
	}
	moderate := PhaseSpec{
		Name:         "MODERATE",
		Parallel:     false,
		Participants: []string{moderator},
		Visibility:   map[string][]string{moderator: speakers},
		SystemPrompt: meshSystemPrompt("MODERATE", profile),
		UserPrompt:   meshUserPrompt("MODERATE"),
	}
	return Plan{
		Topology:      "panel",
		Description:   "a moderator orchestrates ordered speakers and closes with a ruling",
		Phases:        []PhaseSpec{speak, moderate},
		VotingEnabled: false,
		Synthesizer:   moderator,
	}, nil
}
