// Package metrics exposes Prometheus collectors for the cache, the quota
// ledger, and the delivery path. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	cacheRequests     *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	deliveredBytes    prometheus.Counter
	deliveryDuration  prometheus.Histogram
	quotaDecisions    *prometheus.CounterVec
	uploadedBytes     prometheus.Counter
	notifications     *prometheus.CounterVec
	orphanSweeps      *prometheus.CounterVec
	publicRateLimited prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sharedrive_cache_requests_total",
			Help: "Metadata cache lookups by result (hit, miss, error)",
		}, []string{"result"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sharedrive_deliveries_total",
			Help: "Streamed deliveries by terminal state",
		}, []string{"state"}),
		deliveredBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "sharedrive_delivered_bytes_total",
			Help: "Bytes streamed to clients",
		}),
		deliveryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sharedrive_delivery_duration_seconds",
			Help:    "Duration of streamed deliveries",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		quotaDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sharedrive_quota_admissions_total",
			Help: "Quota admission decisions by result (admitted, rejected)",
		}, []string{"result"}),
		uploadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "sharedrive_uploaded_bytes_total",
			Help: "Bytes committed to the quota ledger by uploads",
		}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sharedrive_notifications_total",
			Help: "Notification deliveries by result (sent, failed, skipped)",
		}, []string{"result"}),
		orphanSweeps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sharedrive_orphan_blobs_total",
			Help: "Orphaned blob sweep attempts by result (deleted, failed)",
		}, []string{"result"}),
		publicRateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "sharedrive_public_rate_limited_total",
			Help: "Public share requests rejected by the rate limiter",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CacheResult(result string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) Delivery(state string, bytes int64, seconds float64) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(state).Inc()
	m.deliveredBytes.Add(float64(bytes))
	m.deliveryDuration.Observe(seconds)
}

func (m *Metrics) QuotaDecision(admitted bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if admitted {
		result = "admitted"
	}
	m.quotaDecisions.WithLabelValues(result).Inc()
}

func (m *Metrics) Uploaded(bytes int64) {
	if m == nil {
		return
	}
	m.uploadedBytes.Add(float64(bytes))
}

func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) OrphanSweep(result string) {
	if m == nil {
		return
	}
	m.orphanSweeps.WithLabelValues(result).Inc()
}

func (m *Metrics) PublicRateLimited() {
	if m == nil {
		return
	}
	m.publicRateLimited.Inc()
}
