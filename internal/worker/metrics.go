package worker

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry        *prometheus.Registry
	jobsTotal       *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	activeJobs      prometheus.Gauge
	filesTotal      *prometheus.CounterVec
	failuresTotal   *prometheus.CounterVec
	webhookFailures *prometheus.CounterVec
}

func newMetrics() *metrics {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: "linework", Subsystem: "worker", Name: name, Help: help}
	}

	m := &metrics{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts(opts("jobs_total", "Conversion job attempts by color mode and outcome.")),
			[]string{"color_mode", "status"},
		),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "linework",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Wall time of one conversion job attempt.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"color_mode", "status"}),
		activeJobs: prometheus.NewGauge(
			prometheus.GaugeOpts(opts("active_jobs", "Conversion jobs holding a worker slot.")),
		),
		filesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts(opts("files_converted_total", "SVG outputs written by the worker.")),
			[]string{"color_mode"},
		),
		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts(opts("failures_total", "Failed conversion attempts by error kind.")),
			[]string{"kind"},
		),
		webhookFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts(opts("webhook_failures_total", "Webhook deliveries that exhausted their retries.")),
			[]string{"event"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.filesTotal,
		m.failuresTotal,
		m.webhookFailures,
	)
	return m
}

func (m *metrics) observeJob(mode, status string, elapsed time.Duration) {
	m.jobDuration.WithLabelValues(mode, status).Observe(elapsed.Seconds())
	m.jobsTotal.WithLabelValues(mode, status).Inc()
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
