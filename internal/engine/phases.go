package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quorumlabs/quorum/internal/budgeter"
	"github.com/quorumlabs/quorum/internal/hashchain"
	"github.com/quorumlabs/quorum/internal/model"
	"github.com/quorumlabs/quorum/internal/provider"
	"github.com/quorumlabs/quorum/internal/topology"
)

// MaxRetries is the per-participant retry budget on empty result or error
// before a fallback substitution is used (spec §4.11 step 6c).
const MaxRetries = 2

// RetryDelay is the fixed inter-retry delay.
const RetryDelay = 250 * time.Millisecond

const defaultContextWindow = 8000

// defaultProviderTimeout bounds a single participant call when the
// provider config carries no explicit timeout.
const defaultProviderTimeout = 30 * time.Second

// phaseResult is what dispatchPhase produces: the persisted PhaseOutput,
// plus the exact prompts sent to each participant (for the hash chain).
type phaseResult struct {
	Output  model.PhaseOutput
	Prompts []hashchain.PromptEntry
}

func fallbackText(participant string, prior []model.PhaseOutput) string {
	for i := len(prior) - 1; i >= 0; i-- {
		if text, ok := prior[i].Responses[participant]; ok {
			return text
		}
	}
	return fmt.Sprintf("[%s failed to respond]", participant)
}

// dispatchPhase fans phase.Participants out to their adapters in parallel,
// building each participant's prompt from the phase template and
// visibility-filtered prior state, budgeting it, and applying
// retry/fallback on failure.
func (e *Engine) dispatchPhase(ctx context.Context, sessionID string, phase topology.PhaseSpec, input string, profile *model.AgentProfile, prior []model.PhaseOutput, memorySummary string) (phaseResult, error) {
	e.emit(Event{Kind: EventPhase, SessionID: sessionID, Phase: phase.Name, Timestamp: e.now()})
	start := e.now()

	type outcome struct {
		index    int
		provider string
		text     string
		prompt   hashchain.PromptEntry
	}
	outcomes := make([]outcome, len(phase.Participants))

	group, gctx := errgroup.WithContext(ctx)
	for i, participant := range phase.Participants {
		i, participant := i, participant
		group.Go(func() error {
			visible := visibilityPrior(phase, participant, prior)
			promptCtx := topology.PromptContext{Input: input, Profile: profile, Participant: participant, Prior: visible}

			system := phase.SystemPrompt(promptCtx)
			if phase.Name == "GATHER" && memorySummary != "" {
				system = system + "\n\nRelevant prior sessions:\n" + memorySummary
			}
			user := phase.UserPrompt(promptCtx)

			adapter, ok := e.adapterFor(participant)
			if !ok {
				text := fallbackText(participant, prior)
				e.emitWarn(sessionID, phase.Name, participant, "no adapter registered; using fallback")
				outcomes[i] = outcome{index: i, provider: participant, text: text, prompt: hashchain.PromptEntry{Provider: participant, System: system, User: user}}
				return nil
			}

			budgeted := e.budgetPrompt(adapter.Config(), system, user)
			text, err := e.callWithRetry(gctx, sessionID, phase.Name, adapter, budgeted.user, budgeted.system, prior)
			if err != nil {
				return err
			}
			outcomes[i] = outcome{index: i, provider: participant, text: text, prompt: hashchain.PromptEntry{Provider: participant, System: system, User: user}}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return phaseResult{}, err
	}

	responses := make(map[string]string, len(outcomes))
	prompts := make([]hashchain.PromptEntry, len(outcomes))
	for _, o := range outcomes {
		responses[o.provider] = o.text
		prompts[o.index] = o.prompt
		e.emit(Event{Kind: EventResponse, SessionID: sessionID, Phase: phase.Name, Provider: o.provider, Timestamp: e.now()})
	}

	duration := e.now().Sub(start)
	e.emit(Event{Kind: EventPhaseDone, SessionID: sessionID, Phase: phase.Name, Duration: duration, Timestamp: e.now()})
	if e.Metrics != nil {
		e.Metrics.ObservePhaseDuration(phase.Name, profile.Topology, duration.Seconds())
	}

	return phaseResult{
		Output: model.PhaseOutput{
			Phase:      phase.Name,
			Timestamp:  start,
			DurationMs: duration.Milliseconds(),
			Responses:  responses,
		},
		Prompts: prompts,
	}, nil
}

// visibilityPrior filters prior to the PhaseOutputs the participant is
// allowed to see, per phase.Visibility, collapsed into a single synthetic
// PhaseOutput carrying only that participant's visible entries from the
// most recent prior phase (topology.priorPhaseText reads only the last
// entry of Prior).
func visibilityPrior(phase topology.PhaseSpec, participant string, prior []model.PhaseOutput) []model.PhaseOutput {
	if len(prior) == 0 {
		return nil
	}
	allowed := phase.Visibility[participant]
	if allowed == nil {
		return nil
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, p := range allowed {
		allowedSet[p] = true
	}
	last := prior[len(prior)-1]
	filtered := make(map[string]string)
	for name, text := range last.Responses {
		if allowedSet[name] {
			filtered[name] = text
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return []model.PhaseOutput{{Phase: last.Phase, Timestamp: last.Timestamp, Responses: filtered}}
}

func (e *Engine) adapterFor(name string) (provider.Adapter, bool) {
	a, ok := e.adapters[name]
	return a, ok
}

type budgetedPrompt struct {
	system string
	user   string
}

func (e *Engine) budgetPrompt(cfg model.ProviderConfig, system, user string) budgetedPrompt {
	budget := cfg.ContextWindow
	if budget <= 0 {
		budget = defaultContextWindow
	}
	segments := []budgeter.Segment{
		{Name: "system", Text: system, Priority: budgeter.PriorityFull},
		{Name: "user", Text: user, Priority: budgeter.PriorityTrimmable},
	}
	result := budgeter.Fit(segments, budget, e.logger())
	out := budgetedPrompt{system: system, user: user}
	for _, s := range result.Segments {
		if s.Name == "user" {
			out.user = s.Text
		}
	}
	return out
}

func (e *Engine) callWithRetry(ctx context.Context, sessionID, phaseName string, adapter provider.Adapter, prompt, system string, prior []model.PhaseOutput) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.providerTimeout(adapter.Config()))
		text, err := adapter.Generate(callCtx, prompt, system)
		cancel()
		if err == nil && text != "" {
			return text, nil
		}
		lastErr = err
		e.emitWarn(sessionID, phaseName, adapter.Name(), fmt.Sprintf("attempt %d failed or empty, retrying", attempt+1))
		if attempt < MaxRetries {
			select {
			case <-time.After(RetryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	e.emitWarn(sessionID, phaseName, adapter.Name(), "retries exhausted; using fallback response")
	_ = lastErr
	return fallbackText(adapter.Name(), prior), nil
}

func (e *Engine) providerTimeout(cfg model.ProviderConfig) time.Duration {
	if cfg.TimeoutSec > 0 {
		return time.Duration(cfg.TimeoutSec) * time.Second
	}
	return defaultProviderTimeout
}

func (e *Engine) emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = e.now()
	}
	e.Events.Emit(evt)
}

func (e *Engine) emitWarn(sessionID, phase, providerName, message string) {
	e.emit(Event{Kind: EventWarn, SessionID: sessionID, Phase: phase, Provider: providerName, Message: message, Timestamp: e.now()})
}
