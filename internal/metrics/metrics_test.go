package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewSession(reg)

	s.FramesRendered.Inc()
	s.FramesSent.Add(2)
	s.FramesSkipped.Inc()
	s.TransportFailures.WithLabelValues(FailureWrite).Inc()
	s.AckWait.Observe(0.01)
	s.FrameRender.Observe(0.001)
	s.Token.Set(3)
	s.SetPreviewOnly(true)

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.FramesRendered))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.FramesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.FramesSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.TransportFailures.WithLabelValues(FailureWrite)))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.Token))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.PreviewOnly))

	s.SetPreviewOnly(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(s.PreviewOnly))
}

func TestNewSessionTwicePerRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewSession(reg)
	assert.Panics(t, func() { NewSession(reg) })
}

func TestNewSessionUnregistered(t *testing.T) {
	assert.NotPanics(t, func() {
		NewSession(nil)
		NewSession(nil)
	})
}
