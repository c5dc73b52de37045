package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/shrinky/internal/domain"
	"github.com/dunamismax/shrinky/internal/format"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	jobsEnqueued      *prometheus.CounterVec
	jobsRejected      *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shrinky_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shrinky_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shrinky_api_rate_limit_rejections_total",
			Help: "Job submissions rejected by rate limiting, by source type.",
		}, []string{"source_type"}),
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shrinky_api_jobs_enqueued_total",
			Help: "Conversion jobs enqueued, by requested output format and selection mode.",
		}, []string{"queue", "source_type", "mode", "format"}),
		jobsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shrinky_api_jobs_rejected_total",
			Help: "Job submissions refused before enqueue, by reason.",
		}, []string{"reason"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.jobsEnqueued,
		m.jobsRejected,
	)
	return m
}

func (m *metrics) observeEnqueued(queueName string, job domain.Job) {
	m.jobsEnqueued.WithLabelValues(queueName, job.SourceType, jobMode(job.OutputFormat), formatLabel(job.OutputFormat)).Inc()
}

// jobMode is "auto" when no output format was requested and every format will
// be tried.
func jobMode(outputFormat string) string {
	if outputFormat == "" {
		return "auto"
	}
	return "explicit"
}

// formatLabel folds aliases such as jpeg and .JPG onto one label value.
func formatLabel(outputFormat string) string {
	if outputFormat == "" {
		return "auto"
	}
	f, err := format.Parse(outputFormat)
	if err != nil {
		return "invalid"
	}
	return f.String()
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := statusLabel(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/jobs/"):
		return "/v1/jobs/{id}"
	case path == "/v1/jobs":
		return "/v1/jobs"
	case strings.HasPrefix(path, "/healthz"):
		return "/healthz"
	case strings.HasPrefix(path, "/metrics"):
		return "/metrics"
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
