package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllCollectors(t *testing.T) {
	m := New("fixlib_test")
	require.NotNil(t, m.Registry)

	families, err := m.Registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["fixlib_test_fragments_dispatched_total"])
	assert.True(t, names["fixlib_test_sessions_active"])
	assert.True(t, names["fixlib_test_reply_timeouts_total"])
	assert.True(t, names["fixlib_test_connect_attempts_total"])
	assert.True(t, names["fixlib_test_liveness_up"])
}

func TestNew_CountersAreIndependentAcrossInstances(t *testing.T) {
	a := New("fixlib_a")
	b := New("fixlib_b")

	a.FragmentsDispatched.Inc()

	famsA, err := a.Registry.Gather()
	require.NoError(t, err)
	famsB, err := b.Registry.Gather()
	require.NoError(t, err)

	var gotA, gotB float64
	for _, f := range famsA {
		if f.GetName() == "fixlib_a_fragments_dispatched_total" {
			gotA = f.Metric[0].GetCounter().GetValue()
		}
	}
	for _, f := range famsB {
		if f.GetName() == "fixlib_b_fragments_dispatched_total" {
			gotB = f.Metric[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), gotA)
	assert.Equal(t, float64(0), gotB)
}
