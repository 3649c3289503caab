// Package budgeter implements the Context Budgeter of spec §4.2: it keeps
// prompts inside a provider's input budget by trimming trimmable segments
// proportionally while never truncating a full segment.
package budgeter

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Priority tags a segment as always-kept or proportionally trimmable.
type Priority string

const (
	PriorityFull      Priority = "full"
	PriorityTrimmable Priority = "trimmable"
)

// Segment is one named, priority-tagged chunk of a prompt.
type Segment struct {
	Name     string
	Text     string
	Priority Priority
}

const truncationMarker = "[…]"

// EstimateTokens applies the cheap 1-token-per-4-chars heuristic of spec
// §4.2. It is deliberately approximate.
func EstimateTokens(s string) int {
	n := len(strings.TrimSpace(s))
	if n == 0 {
		return 0
	}
	tokens := n / 4
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// Result is the budgeted set of segments plus any warning raised.
type Result struct {
	Segments []Segment
	Warning  string
}

// Fit trims segments to stay within budget tokens. Full segments are never
// dropped or truncated; if they alone exceed budget, all segments are
// returned unchanged with a warning.
func Fit(segments []Segment, budget int, logger *log.Entry) Result {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	fullTokens := 0
	trimmableTokens := 0
	for _, s := range segments {
		tok := EstimateTokens(s.Text)
		if s.Priority == PriorityFull {
			fullTokens += tok
		} else {
			trimmableTokens += tok
		}
	}

	if fullTokens > budget {
		warning := fmt.Sprintf("full segments alone need ~%d tokens, exceeding budget %d; returning unchanged", fullTokens, budget)
		logger.Warn(warning)
		return Result{Segments: segments, Warning: warning}
	}

	remaining := budget - fullTokens
	if trimmableTokens <= remaining || trimmableTokens == 0 {
		return Result{Segments: segments}
	}

	out := make([]Segment, len(segments))
	for i, s := range segments {
		if s.Priority == PriorityFull {
			out[i] = s
			continue
		}
		tok := EstimateTokens(s.Text)
		share := int(float64(remaining) * (float64(tok) / float64(trimmableTokens)))
		out[i] = Segment{
			Name:     s.Name,
			Priority: s.Priority,
			Text:     truncateToTokens(s.Text, share),
		}
	}

	return Result{Segments: out}
}

func truncateToTokens(text string, tokens int) string {
	if tokens <= 0 {
		return truncationMarker
	}
	maxChars := tokens * 4
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars] + " " + truncationMarker
}

// Join concatenates segments in order with their text only, for passing to
// a Provider Adapter as the final prompt body.
func Join(segments []Segment) string {
	var sb strings.Builder
	for i, s := range segments {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(s.Text)
	}
	return sb.String()
}
