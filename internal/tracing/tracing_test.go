package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWithNoneExporterSucceeds(t *testing.T) {
	tp, err := Setup(context.Background(), ExporterConfig{Type: ExporterNone, ServiceName: "test"})
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.NoError(t, Shutdown(context.Background(), tp))
}

func TestSetupWithStdoutExporterSucceeds(t *testing.T) {
	tp, err := Setup(context.Background(), ExporterConfig{Type: ExporterStdout, ServiceName: "test"})
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.NoError(t, Shutdown(context.Background(), tp))
}

func TestSetupRejectsUnknownExporterType(t *testing.T) {
	_, err := Setup(context.Background(), ExporterConfig{Type: ExporterType("datadog")})
	assert.Error(t, err)
}

func TestShutdownNoopOnNilProvider(t *testing.T) {
	assert.NoError(t, Shutdown(context.Background(), nil))
}

func TestStartPhaseReturnsNonNilSpan(t *testing.T) {
	tp, err := Setup(context.Background(), ExporterConfig{Type: ExporterNone})
	require.NoError(t, err)
	defer Shutdown(context.Background(), tp)

	_, span := StartPhase(context.Background(), "session-1", "GATHER")
	defer span.End()
	assert.NotNil(t, span)
}

func TestStartProviderCallReturnsNonNilSpan(t *testing.T) {
	tp, err := Setup(context.Background(), ExporterConfig{Type: ExporterNone})
	require.NoError(t, err)
	defer Shutdown(context.Background(), tp)

	_, span := StartProviderCall(context.Background(), "session-1", "DEBATE", "alpha")
	defer span.End()
	assert.NotNil(t, span)
}
