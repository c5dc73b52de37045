package worker

import (
	"net/http"
	"time"

	"github.com/dunamismax/shrinky/internal/format"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry         *prometheus.Registry
	jobsTotal        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	activeJobs       prometheus.Gauge
	encodeAttempts   *prometheus.CounterVec
	encodeDuration   *prometheus.HistogramVec
	formatWins       *prometheus.CounterVec
	inputBytesTotal  prometheus.Counter
	outputBytesTotal prometheus.Counter
	bytesSavedTotal  prometheus.Counter
	webhookFailures  *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shrinky_worker_jobs_total",
			Help: "Total worker jobs by source type and final status.",
		}, []string{"source_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shrinky_worker_job_duration_seconds",
			Help:    "Total processing duration for each worker job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shrinky_worker_active_jobs",
			Help: "Current number of jobs being converted.",
		}),
		encodeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shrinky_encode_attempts_total",
			Help: "Encode attempts made during auto-selection by format and outcome.",
		}, []string{"format", "outcome"}),
		encodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shrinky_encode_duration_seconds",
			Help:    "Time spent encoding one candidate format.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"format"}),
		formatWins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shrinky_format_selected_total",
			Help: "Output format of every successful job.",
		}, []string{"format", "mode"}),
		inputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shrinky_input_bytes_total",
			Help: "Total source bytes of successful jobs.",
		}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shrinky_output_bytes_total",
			Help: "Total bytes written by successful jobs.",
		}),
		bytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shrinky_bytes_saved_total",
			Help: "Total bytes saved across successful jobs; growth counts as zero.",
		}),
		webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shrinky_webhook_failures_total",
			Help: "Webhook deliveries that failed after all client retries, by event.",
		}, []string{"event"}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.encodeAttempts,
		m.encodeDuration,
		m.formatWins,
		m.inputBytesTotal,
		m.outputBytesTotal,
		m.bytesSavedTotal,
		m.webhookFailures,
	)
	return m
}

// ObserveEncode records one auto-selection attempt.
func (m *metrics) ObserveEncode(f format.Format, _ int, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.encodeAttempts.WithLabelValues(f.String(), outcome).Inc()
	m.encodeDuration.WithLabelValues(f.String()).Observe(elapsed.Seconds())
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
