package engine

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"

	"github.com/quorumlabs/quorum/internal/model"
)

// runHook invokes the shell command registered under name in profile.Hooks,
// if any, with the environment variables of the hook protocol (spec §6):
// DELIB_PHASE, DELIB_SESSION, DELIB_PROVIDERS, DELIB_INPUT, and for
// post-phase hooks DELIB_PHASE_OUTPUT pointing to a temp file holding the
// phase's JSON output. Hook failures are logged as warnings and never
// abort the deliberation.
func (e *Engine) runHook(ctx context.Context, profile *model.AgentProfile, name, sessionID, phase string, providers []string, input string, output *model.PhaseOutput) {
	command, ok := profile.Hooks[name]
	if !ok || strings.TrimSpace(command) == "" {
		return
	}

	env := append(os.Environ(),
		"DELIB_PHASE="+phase,
		"DELIB_SESSION="+sessionID,
		"DELIB_PROVIDERS="+strings.Join(providers, ","),
		"DELIB_INPUT="+input,
	)

	if output != nil {
		if data, err := json.Marshal(output); err == nil {
			if tmp, err := os.CreateTemp("", "quorum-phase-output-*.json"); err == nil {
				defer os.Remove(tmp.Name())
				_, _ = tmp.Write(data)
				_ = tmp.Close()
				env = append(env, "DELIB_PHASE_OUTPUT="+tmp.Name())
			}
		}
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = env
	if err := cmd.Run(); err != nil {
		e.emitWarn(sessionID, phase, "", "hook "+name+" failed: "+err.Error())
	}
}

func (e *Engine) runPreHook(ctx context.Context, profile *model.AgentProfile, sessionID, phase string, providers []string, input string) {
	e.runHook(ctx, profile, "pre_"+phase, sessionID, phase, providers, input, nil)
}

func (e *Engine) runPostHook(ctx context.Context, profile *model.AgentProfile, sessionID, phase string, providers []string, input string, output model.PhaseOutput) {
	e.runHook(ctx, profile, "post_"+phase, sessionID, phase, providers, input, &output)
}
