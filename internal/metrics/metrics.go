// Package metrics registers the Prometheus instruments the Engine updates
// as a deliberation runs (spec §4.11, §4.9 adaptive rounds, §4.10 policy).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every metric the Engine touches during a run.
type Registry struct {
	PhaseDuration    *prometheus.HistogramVec
	EntropyGauge     *prometheus.GaugeVec
	VoteTally        *prometheus.CounterVec
	PolicyViolations *prometheus.CounterVec
}

// NewRegistry registers metrics against prometheus's default registerer.
func NewRegistry() *Registry {
	return &Registry{
		PhaseDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quorum",
			Subsystem: "engine",
			Name:      "phase_duration_seconds",
			Help:      "Wall-clock duration of each deliberation phase.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"phase", "topology"}),

		EntropyGauge: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "quorum",
			Subsystem: "engine",
			Name:      "response_entropy",
			Help:      "Normalized Shannon entropy of a phase's clustered responses.",
		}, []string{"phase"}),

		VoteTally: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "engine",
			Name:      "votes_total",
			Help:      "Votes cast for a provider, by outcome.",
		}, []string{"provider", "outcome"}), // outcome: won, lost

		PolicyViolations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "policy",
			Name:      "violations_total",
			Help:      "Policy rule violations, by rule type and severity.",
		}, []string{"rule_type", "severity"}),
	}
}

// ObservePhaseDuration records how long a phase took.
func (r *Registry) ObservePhaseDuration(phase, topology string, seconds float64) {
	r.PhaseDuration.WithLabelValues(phase, topology).Observe(seconds)
}

// SetEntropy records a phase's adaptive-control entropy reading.
func (r *Registry) SetEntropy(phase string, entropy float64) {
	r.EntropyGauge.WithLabelValues(phase).Set(entropy)
}

// RecordVote increments a provider's tally for a vote outcome.
func (r *Registry) RecordVote(provider, outcome string) {
	r.VoteTally.WithLabelValues(provider, outcome).Inc()
}

// RecordPolicyViolation increments the violation counter for a rule.
func (r *Registry) RecordPolicyViolation(ruleType, severity string) {
	r.PolicyViolations.WithLabelValues(ruleType, severity).Inc()
}
