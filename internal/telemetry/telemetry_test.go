package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupTracing_DisabledIsNoop(t *testing.T) {
	t.Parallel()

	for _, cfg := range []TracingConfig{
		{Enabled: false, Endpoint: "http://localhost:4318"},
		{Enabled: true, Endpoint: ""},
	} {
		shutdown, err := SetupTracing(context.Background(), cfg)
		require.NoError(t, err)
		require.NotNil(t, shutdown)
		assert.NoError(t, shutdown(context.Background()))
	}
}

func TestMetrics_Record(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SessionStarted("stakeholder_meeting")
	m.Turn("stakeholder_meeting")
	m.Turn("stakeholder_meeting")
	m.Transition("stakeholder_meeting", "presentation")
	m.Fallback("analysis")
	m.Collaborator("dialogue", 120*time.Millisecond, nil)
	m.Collaborator("dialogue", time.Second, errors.New("boom"))
	m.SessionCompleted("stakeholder_meeting", 7.4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsStarted.WithLabelValues("stakeholder_meeting")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Turns.WithLabelValues("stakeholder_meeting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PhaseTransitions.WithLabelValues("stakeholder_meeting", "presentation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fallbacks.WithLabelValues("analysis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CollaboratorErrors.WithLabelValues("dialogue")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsCompleted.WithLabelValues("stakeholder_meeting")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.CollaboratorLatency))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	t.Parallel()
	var m *Metrics

	assert.NotPanics(t, func() {
		m.SessionStarted("x")
		m.Turn("x")
		m.Transition("x", "y")
		m.Fallback("analysis")
		m.Collaborator("dialogue", time.Second, nil)
		m.SessionCompleted("x", 5)
	})
}

func TestRegisterLiveGauges(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	hot := 3
	RegisterLiveGauges(reg, func() int { return hot }, func() int { return 1 })

	n, err := testutil.GatherAndCount(reg, "simulation_hot_sessions", "simulation_websocket_connections")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "simulation_hot_sessions" {
			assert.Equal(t, 3.0, mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
}
