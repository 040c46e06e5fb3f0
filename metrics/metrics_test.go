package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheResult("hit")
		m.Delivery("completed", 10, 0.1)
		m.QuotaDecision(true)
		m.Uploaded(5)
		m.Notification("sent")
		m.OrphanSweep("deleted")
		m.PublicRateLimited()
	})
	assert.Nil(t, m.Registry())
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.CacheResult("hit")
	m.CacheResult("hit")
	m.CacheResult("miss")
	m.QuotaDecision(false)
	m.Delivery("completed", 2048, 0.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheRequests.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.quotaDecisions.WithLabelValues("rejected")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(m.deliveredBytes))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "sharedrive_cache_requests_total"))
}
