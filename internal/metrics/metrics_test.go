package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	return NewRegistry()
}

func TestObservePhaseDurationRecordsSample(t *testing.T) {
	r := newTestRegistry(t)
	r.ObservePhaseDuration("DEBATE", "mesh", 1.5)

	m := &dto.Metric{}
	require.NoError(t, r.PhaseDuration.WithLabelValues("DEBATE", "mesh").(prometheus.Histogram).Write(m))
	assert.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
}

func TestSetEntropyRecordsGaugeValue(t *testing.T) {
	r := newTestRegistry(t)
	r.SetEntropy("DEBATE", 0.73)

	m := &dto.Metric{}
	require.NoError(t, r.EntropyGauge.WithLabelValues("DEBATE").Write(m))
	assert.InDelta(t, 0.73, m.GetGauge().GetValue(), 1e-9)
}

func TestRecordVoteIncrementsCounterByOutcome(t *testing.T) {
	r := newTestRegistry(t)
	r.RecordVote("alpha", "won")
	r.RecordVote("alpha", "won")
	r.RecordVote("beta", "lost")

	m := &dto.Metric{}
	require.NoError(t, r.VoteTally.WithLabelValues("alpha", "won").Write(m))
	assert.Equal(t, 2.0, m.GetCounter().GetValue())

	require.NoError(t, r.VoteTally.WithLabelValues("beta", "lost").Write(m))
	assert.Equal(t, 1.0, m.GetCounter().GetValue())
}

func TestRecordPolicyViolationIncrementsCounter(t *testing.T) {
	r := newTestRegistry(t)
	r.RecordPolicyViolation("min_providers", "block")

	m := &dto.Metric{}
	require.NoError(t, r.PolicyViolations.WithLabelValues("min_providers", "block").Write(m))
	assert.Equal(t, 1.0, m.GetCounter().GetValue())
}
