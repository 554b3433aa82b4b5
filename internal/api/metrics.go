package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/linework/internal/domain"
	"github.com/dunamismax/linework/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "linework"

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	inFlight          prometheus.Gauge
	rateLimitRejected *prometheus.CounterVec
	jobsEnqueued      *prometheus.CounterVec
	batchFiles        *prometheus.HistogramVec
	batchDuration     *prometheus.HistogramVec
	filesConverted    *prometheus.CounterVec
	batchFailures     *prometheus.CounterVec
}

func newMetrics() *metrics {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      name,
			Help:      help,
		}, labels)
	}

	m := &metrics{
		registry:     prometheus.NewRegistry(),
		requestTotal: counter("requests_total", "HTTP requests handled by the API.", "method", "route", "status"),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"method", "route", "status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "requests_in_flight",
			Help:      "Requests currently being served.",
		}),
		rateLimitRejected: counter("rate_limit_rejections_total", "Requests rejected by the rate limiter.", "route"),
		jobsEnqueued:      counter("jobs_enqueued_total", "Conversion jobs handed to the queue.", "queue"),
		batchFiles: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "batch_files",
			Help:      "Files per synchronous batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}, []string{"color_mode"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "api",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of synchronous batches, by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"color_mode", "outcome"}),
		filesConverted: counter("files_converted_total", "Files converted synchronously.", "color_mode"),
		batchFailures:  counter("conversion_failures_total", "Synchronous batches that failed, by error kind.", "color_mode", "kind"),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestTotal,
		m.requestDuration,
		m.inFlight,
		m.rateLimitRejected,
		m.jobsEnqueued,
		m.batchFiles,
		m.batchDuration,
		m.filesConverted,
		m.batchFailures,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// observeBatch records one synchronous Process call.
func (m *metrics) observeBatch(mode domain.ColorMode, files int, elapsed time.Duration, err error) {
	label := string(mode)
	m.batchFiles.WithLabelValues(label).Observe(float64(files))
	if err != nil {
		m.batchDuration.WithLabelValues(label, "failed").Observe(elapsed.Seconds())
		m.batchFailures.WithLabelValues(label, pipeline.ErrorKind(err)).Inc()
		return
	}
	m.batchDuration.WithLabelValues(label, "succeeded").Observe(elapsed.Seconds())
	m.filesConverted.WithLabelValues(label).Add(float64(files))
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		labels := []string{r.Method, routeLabel(r.URL.Path), strconv.Itoa(recorder.status)}
		m.requestTotal.WithLabelValues(labels...).Inc()
		m.requestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

// routeLabel collapses ids and modes so label cardinality stays bounded.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/primitive/"):
		return "/primitive/{mode}"
	case strings.HasPrefix(path, "/v1/jobs/"):
		return "/v1/jobs/{id}"
	case path == "/v1/jobs", path == "/healthz", path == "/metrics":
		return path
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	if !r.wroteHeader {
		r.status = statusCode
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
