package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func read(t *testing.T, m prometheus.Metric) *dto.Metric {
	t.Helper()
	out := &dto.Metric{}
	require.NoError(t, m.Write(out))
	return out
}

func TestCountersRegistered(t *testing.T) {
	c := OrderTransitionsTotal.WithLabelValues("waiting", "collecting")
	before := read(t, c).GetCounter().GetValue()
	c.Inc()
	assert.Equal(t, before+1, read(t, c).GetCounter().GetValue())

	g := FeatureLocked.WithLabelValues("lock-withdrawals")
	g.Set(BoolGauge(true))
	assert.Equal(t, 1.0, read(t, g).GetGauge().GetValue())
	assert.Equal(t, 0.0, BoolGauge(false))
}
