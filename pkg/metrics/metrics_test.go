package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	m := New()
	m.Decisions.WithLabelValues("Heavy Irrigation").Inc()
	m.Decisions.WithLabelValues("Heavy Irrigation").Inc()
	m.ForecastFallbacks.Inc()
	m.ObserveHTTP("/api/recommendation", 200, 3*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Decisions.WithLabelValues("Heavy Irrigation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ForecastFallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/recommendation", "200")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.DecisionLevel.Observe(80)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "irrigation_decision_level_count 1")
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ForecastFallbacks.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ForecastFallbacks))
}
