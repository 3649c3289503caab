// Package quorumerrors defines the sentinel error kinds used across the
// deliberation engine so callers can classify failures with errors.As
// instead of matching error strings.
package quorumerrors

import "fmt"

// Kind classifies an error the way spec §7 enumerates them.
type Kind string

const (
	KindConfig     Kind = "config"      // missing provider, unknown profile
	KindValidation Kind = "validation"  // bad CLI/profile value, policy file
	KindPolicy     Kind = "policy"      // pre- or post-deliberation block action
	KindProvider   Kind = "provider"    // transient/permanent upstream failure
	KindTimeout    Kind = "timeout"     // per-provider deadline
	KindPersist    Kind = "persist"     // session/ledger/memory I/O
	KindParse      Kind = "parse"       // vote, policy, attestation
	KindIntegrity  Kind = "integrity"   // hash-chain mismatch
)

// Error wraps an underlying cause with a Kind so it can be classified
// without string matching.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error of the given kind around cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Is lets errors.Is(err, quorumerrors.KindX) style checks work via a
// lightweight kind-only sentinel comparison.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Msg == "" && t.Cause == nil {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Msg == t.Msg
}

// Sentinel constructs a bare kind marker suitable for errors.Is comparisons,
// e.g. errors.Is(err, quorumerrors.Sentinel(quorumerrors.KindPolicy)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Fatal reports whether an error kind terminates a deliberation run rather
// than being recovered locally (spec §7 propagation policy).
func Fatal(kind Kind) bool {
	switch kind {
	case KindPolicy, KindConfig, KindValidation:
		return true
	default:
		return false
	}
}
