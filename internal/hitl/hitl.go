// Package hitl defines the human-in-the-loop checkpoint contract the
// Engine calls at configured pause points. The handler implementation is
// an external collaborator (spec §6); this package only defines the
// shapes exchanged across that boundary.
package hitl

// CheckpointKind names where in the pipeline a checkpoint fired.
type CheckpointKind string

const (
	KindPolicyPause   CheckpointKind = "policy-pause"
	KindPhaseComplete CheckpointKind = "phase-complete"
	KindAfterVote     CheckpointKind = "after-vote"
	KindOnControversy CheckpointKind = "on-controversy"
)

// Checkpoint is the state snapshot the Engine offers a handler.
type Checkpoint struct {
	Kind          CheckpointKind
	SessionID     string
	Phase         string
	Input         string
	Responses     map[string]string
	Winner        string
	RunnerUp      string
	Controversial bool
	Message       string
}

// Action is the handler's chosen response to a Checkpoint.
type Action string

const (
	ActionContinue       Action = "continue"
	ActionInject         Action = "inject"
	ActionOverrideWinner Action = "override-winner"
	ActionAbort          Action = "abort"
)

// Decision is returned by the handler. Input is the injected text when
// Action is ActionInject; Winner is the overridden provider name when
// Action is ActionOverrideWinner.
type Decision struct {
	Action Action
	Input  string
	Winner string
}

// Handler is implemented by the external UI/CLI driving a deliberation
// interactively. NoopHandler satisfies it for unattended runs.
type Handler interface {
	HandleCheckpoint(cp Checkpoint) (Decision, error)
}

// NoopHandler always continues, for unattended or fully-automatic runs.
type NoopHandler struct{}

func (NoopHandler) HandleCheckpoint(Checkpoint) (Decision, error) {
	return Decision{Action: ActionContinue}, nil
}

// AbortError is returned by the Engine when a checkpoint's handler
// chooses to abort.
type AbortError struct {
	Checkpoint Checkpoint
}

func (e *AbortError) Error() string {
	return "hitl: aborted at " + string(e.Checkpoint.Kind)
}
