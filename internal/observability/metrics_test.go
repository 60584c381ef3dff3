package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NotNil(t, m)
	assert.NotNil(t, m.LookupsTotal)
	assert.NotNil(t, m.ProviderCallsTotal)
	assert.NotNil(t, m.ResolutionCost)
	assert.NotNil(t, m.BatchDuration)
}

func TestMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.LookupsTotal.WithLabelValues("shared").Inc()
	m.LookupsTotal.WithLabelValues("shared").Inc()
	m.ProviderCallsTotal.WithLabelValues("crossref", "success").Inc()
	m.ResolutionCost.WithLabelValues("serpapi").Add(0.01)
	m.CachePromotions.Inc()

	assert.Equal(t, 2.0, counterValue(t, m.LookupsTotal.WithLabelValues("shared")))
	assert.Equal(t, 1.0, counterValue(t, m.ProviderCallsTotal.WithLabelValues("crossref", "success")))
	assert.InDelta(t, 0.01, counterValue(t, m.ResolutionCost.WithLabelValues("serpapi")), 1e-9)
	assert.Equal(t, 1.0, counterValue(t, m.CachePromotions))
}

func TestMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.LookupsTotal.WithLabelValues("miss").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "citegenie_resolution_lookups_total" {
			found = true
		}
	}
	assert.True(t, found, "lookups counter should be registered under the citegenie namespace")
}
