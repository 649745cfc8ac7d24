// Package metrics exposes prometheus instrumentation for the HTTP layer and
// the session controller.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/amoylab/gameroom/internal/common/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpReqCnt *prometheus.CounterVec
	httpDur    *prometheus.HistogramVec
	httpInfl   *prometheus.GaugeVec

	connections    prometheus.Gauge
	roleAssigned   *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	denials        *prometheus.CounterVec
	storeConflicts prometheus.Counter
	sessionsClosed *prometheus.CounterVec
	reclaimed      prometheus.Counter
	purged         prometheus.Counter
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	m := &Metrics{
		registry:   r,
		httpReqCnt: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"}),
		httpDur:    prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: buckets}, []string{"method", "route", "status"}),
		httpInfl:   prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"}),

		connections:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "websocket_connections", Help: "Open websocket connections"}),
		roleAssigned:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "role_assignments_total"}, []string{"role", "recovered"}),
		transitions:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "transitions_applied_total"}, []string{"seat"}),
		denials:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "authorization_denials_total"}, []string{"reason"}),
		storeConflicts: prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "store_conflicts_total"}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "sessions_closed_total"}, []string{"outcome"}),
		reclaimed:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "sessions_reclaimed_total"}),
		purged:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "sessions_purged_total"}),
	}
	r.MustRegister(m.httpReqCnt, m.httpDur, m.httpInfl)
	r.MustRegister(m.connections, m.roleAssigned, m.transitions, m.denials,
		m.storeConflicts, m.sessionsClosed, m.reclaimed, m.purged)
	return m
}

// Connections is the open websocket connection gauge
func (m *Metrics) Connections() prometheus.Gauge {
	return m.connections
}

func (m *Metrics) RoleAssigned(role string, recovered bool) {
	m.roleAssigned.WithLabelValues(role, strconv.FormatBool(recovered)).Inc()
}

func (m *Metrics) TransitionApplied(seat string) {
	m.transitions.WithLabelValues(seat).Inc()
}

func (m *Metrics) Denied(reason string) {
	m.denials.WithLabelValues(reason).Inc()
}

func (m *Metrics) StoreConflict() {
	m.storeConflicts.Inc()
}

func (m *Metrics) SessionClosed(outcome string) {
	m.sessionsClosed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Reclaimed(n int) {
	m.reclaimed.Add(float64(n))
}

func (m *Metrics) Purged(n int) {
	m.purged.Add(float64(n))
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
