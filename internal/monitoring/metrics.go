package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService owns the Prometheus registry of the service.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	workflowActions *prometheus.CounterVec
	creditsIssued   prometheus.Counter
	cacheLookups    *prometheus.CounterVec
	reconcileDrift  *prometheus.GaugeVec
	reconcileRuns   *prometheus.CounterVec
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		workflowActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_actions_total",
			Help: "Workflow operations by action and outcome",
		}, []string{"action", "outcome"}),
		creditsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credits_issued_total",
			Help: "Carbon credits issued through verifier confirmation",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Submission view cache lookups by result",
		}, []string{"result"}),
		reconcileDrift: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_reconcile_findings",
			Help: "Invariant violations found by the last reconciliation run",
		}, []string{"kind"}),
		reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_reconcile_runs_total",
			Help: "Reconciliation runs by outcome",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		m.requestDuration,
		m.requestTotal,
		m.workflowActions,
		m.creditsIssued,
		m.cacheLookups,
		m.reconcileDrift,
		m.reconcileRuns,
		collectors.NewGoCollector(),
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records one served request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, code).Inc()
}

// ObserveWorkflowAction counts a workflow operation outcome such as
// "applied", "replayed" or an error code.
func (m *MetricsService) ObserveWorkflowAction(action, outcome string) {
	if m == nil {
		return
	}
	m.workflowActions.WithLabelValues(action, outcome).Inc()
}

// AddCreditsIssued adds newly issued credits.
func (m *MetricsService) AddCreditsIssued(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.creditsIssued.Add(amount)
}

// ObserveCacheLookup counts a cache hit or miss.
func (m *MetricsService) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// SetReconcileFindings publishes the findings of the latest run per kind.
func (m *MetricsService) SetReconcileFindings(counts map[string]int, kinds []string) {
	if m == nil {
		return
	}
	for _, kind := range kinds {
		m.reconcileDrift.WithLabelValues(kind).Set(float64(counts[kind]))
	}
}

// ObserveReconcileRun counts a reconciliation run.
func (m *MetricsService) ObserveReconcileRun(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.reconcileRuns.WithLabelValues(outcome).Inc()
}

// GinMiddleware records request metrics. Routes are labelled by their
// template so ids do not explode label cardinality.
func GinMiddleware(m *MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
