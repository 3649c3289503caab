// Package attestation builds, verifies, exports, and diffs the per-session
// AttestationChain derived from a deliberation's hash chain (spec §4.13).
package attestation

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quorumlabs/quorum/internal/hashchain"
	"github.com/quorumlabs/quorum/internal/model"
)

const chainVersion = 1

// Build derives an AttestationChain for sessionID from its recorded
// phase inputs, using createdAt as the chain's timestamp (supplied by
// the caller for determinism).
func Build(sessionID string, phases []hashchain.PhaseInput, createdAt time.Time) (model.AttestationChain, error) {
	records, err := hashchain.Build(phases)
	if err != nil {
		return model.AttestationChain{}, fmt.Errorf("attestation: building chain: %w", err)
	}
	return model.AttestationChain{
		Version:   chainVersion,
		SessionID: sessionID,
		CreatedAt: createdAt,
		Records:   records,
	}, nil
}

// VerifyResult is the outcome of verifying a chain against the phase
// material it claims to attest.
type VerifyResult struct {
	Valid    bool
	BrokenAt string
	Details  string
}

// Verify recomputes chain.Records from phases and compares it link by
// link, also rejecting a chain with the wrong Version.
func Verify(chain model.AttestationChain, phases []hashchain.PhaseInput) (VerifyResult, error) {
	if chain.Version != chainVersion {
		return VerifyResult{Valid: false, Details: fmt.Sprintf("unsupported chain version %d", chain.Version)}, nil
	}
	result, err := hashchain.Verify(chain.Records, phases)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("attestation: verifying chain: %w", err)
	}
	return VerifyResult{Valid: result.Valid, BrokenAt: result.BrokenAt, Details: result.Details}, nil
}

// PhaseStatus classifies how one phase compares across two chains.
type PhaseStatus string

const (
	StatusMatch     PhaseStatus = "match"
	StatusDiverged  PhaseStatus = "diverged"
	StatusOnlyLeft  PhaseStatus = "only-left"
	StatusOnlyRight PhaseStatus = "only-right"
)

// PhaseDiff is one phase's comparison result in a Diff. Details names the
// category of the mismatch (spec §4.13): "inputs differ", "outputs
// differ", "provider differ" (any combination, for a diverged phase),
// "presence-only" (for only-left/only-right), or "identical" for a match.
type PhaseDiff struct {
	Phase   string      `json:"phase"`
	Status  PhaseStatus `json:"status"`
	Details string      `json:"details"`
}

// Diff compares two attestation chains phase by phase and reports the
// first point of divergence, if any.
type Diff struct {
	Phases     []PhaseDiff `json:"phases"`
	DivergedAt string      `json:"diverged_at,omitempty"`
}

// DiffChains compares chainA and chainB by walking both phase lists in
// order, matching entries by Phase name.
func DiffChains(chainA, chainB model.AttestationChain) Diff {
	indexA := indexByPhase(chainA.Records)
	indexB := indexByPhase(chainB.Records)

	seen := make(map[string]bool)
	order := make([]string, 0, len(chainA.Records)+len(chainB.Records))
	for _, r := range chainA.Records {
		if !seen[r.Phase] {
			seen[r.Phase] = true
			order = append(order, r.Phase)
		}
	}
	for _, r := range chainB.Records {
		if !seen[r.Phase] {
			seen[r.Phase] = true
			order = append(order, r.Phase)
		}
	}

	diff := Diff{}
	for _, phase := range order {
		a, okA := indexA[phase]
		b, okB := indexB[phase]
		var status PhaseStatus
		var details string
		switch {
		case okA && !okB:
			status = StatusOnlyLeft
			details = fmt.Sprintf("presence-only: phase present only in %s", chainA.SessionID)
		case !okA && okB:
			status = StatusOnlyRight
			details = fmt.Sprintf("presence-only: phase present only in %s", chainB.SessionID)
		case a.Hash == b.Hash:
			status = StatusMatch
			details = "identical"
		default:
			status = StatusDiverged
			details = divergenceDetails(a, b)
		}
		diff.Phases = append(diff.Phases, PhaseDiff{Phase: phase, Status: status, Details: details})
		if status != StatusMatch && diff.DivergedAt == "" {
			diff.DivergedAt = phase
		}
	}
	return diff
}

// divergenceDetails names which parts of two otherwise phase-matched
// entries disagree. Any subset of the three categories may apply at once.
func divergenceDetails(a, b model.HashChainEntry) string {
	var reasons []string
	if a.InputsHash != b.InputsHash {
		reasons = append(reasons, "inputs differ")
	}
	if a.OutputsHash != b.OutputsHash {
		reasons = append(reasons, "outputs differ")
	}
	if a.ProviderID != b.ProviderID {
		reasons = append(reasons, "provider differ")
	}
	if len(reasons) == 0 {
		return "phase mismatch"
	}
	return strings.Join(reasons, "; ")
}

func indexByPhase(records []model.HashChainEntry) map[string]model.HashChainEntry {
	out := make(map[string]model.HashChainEntry, len(records))
	for _, r := range records {
		out[r.Phase] = r
	}
	return out
}

// FormatDiff renders a Diff as the human-readable summary spec §4.13
// describes: one line per phase plus a closing note on the first
// divergence, if any.
func FormatDiff(chainA, chainB model.AttestationChain, diff Diff) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Attestation diff: %s vs %s\n", chainA.SessionID, chainB.SessionID)
	for _, pd := range diff.Phases {
		fmt.Fprintf(&b, "  %-12s %-10s %s\n", pd.Phase, pd.Status, pd.Details)
	}
	if diff.DivergedAt == "" {
		b.WriteString("chains are identical\n")
	} else {
		fmt.Fprintf(&b, "first divergence at phase %s\n", diff.DivergedAt)
	}
	return b.String()
}

// attestationClaims is the JWT payload carrying a chain's summary: its
// session ID, version, and the hash of its final record, so a verifier
// can confirm the export matches a chain without re-sending it in full.
type attestationClaims struct {
	jwt.RegisteredClaims
	Version   int    `json:"version"`
	FinalHash string `json:"final_hash"`
}

// ExportJWT signs chain into a compact JWT using signingKey (HMAC-SHA256),
// suitable for handing to a third party that wants to verify the session
// produced this final hash without holding the whole chain.
func ExportJWT(chain model.AttestationChain, signingKey []byte) (string, error) {
	var finalHash string
	if len(chain.Records) > 0 {
		finalHash = chain.Records[len(chain.Records)-1].Hash
	}
	claims := attestationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  chain.SessionID,
			IssuedAt: jwt.NewNumericDate(chain.CreatedAt),
		},
		Version:   chain.Version,
		FinalHash: finalHash,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", fmt.Errorf("attestation: signing export: %w", err)
	}
	return signed, nil
}

// VerifyJWT parses and validates a JWT produced by ExportJWT, returning
// the session ID and final hash it attests to.
func VerifyJWT(tokenString string, signingKey []byte) (sessionID, finalHash string, err error) {
	claims := &attestationClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return signingKey, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("attestation: parsing export: %w", err)
	}
	if !token.Valid {
		return "", "", fmt.Errorf("attestation: export token invalid")
	}
	return claims.Subject, claims.FinalHash, nil
}
