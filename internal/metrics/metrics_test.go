// v0
// internal/metrics/metrics_test.go
package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAccumulate(t *testing.T) {
	m := New()
	m.Reading("electricity", OutcomeOK)
	m.Reading("electricity", OutcomeOK)
	m.Reading("", OutcomeRejected)
	m.Anomaly("high")
	m.Prediction(OutcomeOK)
	m.Achievement("energy_saver")
	m.ReportGenerated(time.Second, errors.New("boom"))
	m.Notification("achievement", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.readingsTotal.WithLabelValues("electricity", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.readingsTotal.WithLabelValues("unknown", OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.anomaliesTotal.WithLabelValues("high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.predictionsTotal.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reportFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notificationsTotal.WithLabelValues("achievement", OutcomeOK)))
}

func TestBreakerStateGauge(t *testing.T) {
	m := New()
	m.SetBreakerState("notify", "open")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cbState.WithLabelValues("notify")))
	m.SetBreakerState("notify", "half_open")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cbState.WithLabelValues("notify")))
	m.SetBreakerState("notify", "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.cbState.WithLabelValues("notify")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Reading("water", OutcomeOK)
	m.HTTPRequest("/health", 200, time.Millisecond)
	m.SetCampusTotal("water", 1)
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.SetCampusTotal("water", 1234)
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `ecoversa_campus_total{metric="water"} 1234`))
}
