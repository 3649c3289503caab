// Package redteam loads attack packs and renders them into the system
// prompt of the optional red-team phase (spec §3 AttackPack), then parses
// each participant's structured findings back into a Vulnerability/
// AttackReport shape. The structured-output format and its line-based
// parser follow the Red/Blue-Team attack-defend protocol's attack report
// (VULNERABILITIES section, "---"-separated entries, trailing
// OVERALL_RISK line); this adapts only the red-team reporting half of that
// protocol, since the round/retry loop itself is already the Engine's job.
// Attack packs are consumed read-only: this package never mutates or
// writes them back.
package redteam

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/quorumlabs/quorum/internal/model"
)

// Load reads an AttackPack from a YAML file at path.
func Load(path string) (model.AttackPack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.AttackPack{}, fmt.Errorf("redteam: reading attack pack %s: %w", path, err)
	}
	var pack model.AttackPack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return model.AttackPack{}, fmt.Errorf("redteam: parsing attack pack %s: %w", path, err)
	}
	if pack.Name == "" {
		return model.AttackPack{}, fmt.Errorf("redteam: attack pack %s is missing a name", path)
	}
	return pack, nil
}

// Vulnerability is one red-team finding against the deliberation's current
// answer.
type Vulnerability struct {
	ID          string `json:"id"`
	Category    string `json:"category"` // injection, overflow, race_condition, logic_error, etc.
	Severity    string `json:"severity"` // critical, high, medium, low
	Description string `json:"description"`
	Evidence    string `json:"evidence"`
	Exploit     string `json:"exploit"`
}

// AttackReport is one participant's structured findings for the RED_TEAM
// phase.
type AttackReport struct {
	Provider        string          `json:"provider"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	OverallRisk     float64         `json:"overall_risk"`
}

// RenderPrompt turns an attack pack's vectors into system-prompt text that
// instructs a red-team phase's participants to probe the deliberation's
// current answer with each vector in turn, then report findings in the
// structured format ParseAttackReport expects. A nil or empty pack falls
// back to a generic red-team instruction.
func RenderPrompt(pack *model.AttackPack) string {
	var b strings.Builder
	if pack == nil || len(pack.Vectors) == 0 {
		b.WriteString("You are the red team. Probe the deliberation's current answer for weaknesses, omissions, and failure modes.\n\n")
	} else {
		fmt.Fprintf(&b, "You are the red team running the %q attack pack. Challenge the deliberation's current answer using each of the following attack vectors:\n", pack.Name)
		for _, v := range pack.Vectors {
			fmt.Fprintf(&b, "- %s: %s\n", v.Name, v.Prompt)
		}
		b.WriteString("\n")
	}

	b.WriteString("Respond with structured output using the exact format below. Use --- to separate entries.\n\n")
	b.WriteString("VULNERABILITIES\n")
	b.WriteString("ID: VULN-001\n")
	b.WriteString("Category: <injection|overflow|race_condition|logic_error|auth|other>\n")
	b.WriteString("Severity: <critical|high|medium|low>\n")
	b.WriteString("Description: <description>\n")
	b.WriteString("Evidence: <evidence from the answer>\n")
	b.WriteString("Exploit: <how this could be exploited or why it breaks the answer>\n")
	b.WriteString("---\n\n")
	b.WriteString("OVERALL_RISK: <0.0-1.0>\n")

	return b.String()
}

// ParseAttackReport parses one participant's RED_TEAM response into an
// AttackReport. Responses that carry no parseable fields yield a report
// with zero vulnerabilities rather than an error, matching how a
// deliberation's free-text phase outputs are tolerantly handled elsewhere
// in this engine.
func ParseAttackReport(provider, response string) AttackReport {
	report := AttackReport{Provider: provider, Vulnerabilities: make([]Vulnerability, 0)}

	lines := strings.Split(response, "\n")
	inVulnSection := false
	var current *Vulnerability

	flush := func() {
		if current != nil && current.ID != "" {
			report.Vulnerabilities = append(report.Vulnerabilities, *current)
		}
		current = nil
	}

	for _, rawLine := range lines {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}

		if line == "VULNERABILITIES" {
			inVulnSection = true
			continue
		}

		if line == "---" {
			flush()
			continue
		}

		if val, ok := extractField(line, "OVERALL_RISK:"); ok {
			var risk float64
			if _, err := fmt.Sscanf(strings.TrimSpace(val), "%f", &risk); err == nil {
				report.OverallRisk = risk
			}
			continue
		}

		if !inVulnSection {
			continue
		}
		current = parseVulnLine(line, current)
	}
	flush()

	return report
}

func parseVulnLine(line string, current *Vulnerability) *Vulnerability {
	if current == nil {
		current = &Vulnerability{}
	}
	if val, ok := extractField(line, "ID:"); ok {
		if current.ID != "" {
			return &Vulnerability{ID: val}
		}
		current.ID = val
	} else if val, ok := extractField(line, "Category:"); ok {
		current.Category = val
	} else if val, ok := extractField(line, "Severity:"); ok {
		current.Severity = val
	} else if val, ok := extractField(line, "Description:"); ok {
		current.Description = val
	} else if val, ok := extractField(line, "Evidence:"); ok {
		current.Evidence = val
	} else if val, ok := extractField(line, "Exploit:"); ok {
		current.Exploit = val
	}
	return current
}

func extractField(line, key string) (string, bool) {
	if strings.HasPrefix(line, key) {
		return strings.TrimSpace(strings.TrimPrefix(line, key)), true
	}
	return "", false
}
