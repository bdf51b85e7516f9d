// Package metrics exposes Prometheus instrumentation for the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry so tests can
// create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	AdmissionReject  *prometheus.CounterVec
	JobsSubmitted    prometheus.Counter
	JobsCompleted    prometheus.Counter
	JobsFailed       *prometheus.CounterVec
	ProcessingTime   prometheus.Histogram
	QueueDepth       prometheus.Gauge
	SurgeActive      prometheus.Gauge
	SurgeMultiplier  prometheus.Gauge
	LoadCPUPercent   prometheus.Gauge
	LoadMemPercent   prometheus.Gauge
	LoadActiveUsers  prometheus.Gauge
	PaymentsDeclined prometheus.Counter
}

// New creates a registry with all service collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "create_http_requests_total",
			Help: "HTTP requests by method, endpoint and status.",
		}, []string{"method", "endpoint", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "create_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		AdmissionReject: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "create_admission_rejected_total",
			Help: "Requests rejected by the rate limiter, by zone.",
		}, []string{"zone"}),
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "create_jobs_submitted_total",
			Help: "Creation jobs accepted for processing.",
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "create_jobs_completed_total",
			Help: "Creation jobs that reached completed.",
		}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "create_jobs_failed_total",
			Help: "Creation jobs that reached failed, by reason.",
		}, []string{"reason"}),
		ProcessingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "create_job_processing_seconds",
			Help:    "Time from queued to a terminal status.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "create_queue_depth",
			Help: "Jobs waiting for a worker.",
		}),
		SurgeActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "create_surge_active",
			Help: "Whether surge pricing is active (0 or 1).",
		}),
		SurgeMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "create_surge_multiplier",
			Help: "Current price multiplier.",
		}),
		LoadCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "create_load_cpu_percent",
			Help: "Last sampled CPU utilization.",
		}),
		LoadMemPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "create_load_memory_percent",
			Help: "Last sampled memory utilization.",
		}),
		LoadActiveUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "create_load_active_users",
			Help: "Distinct clients with live admission buckets.",
		}),
		PaymentsDeclined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "create_payments_declined_total",
			Help: "Charges refused by the payment processor.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.HTTPDuration,
		m.AdmissionReject,
		m.JobsSubmitted,
		m.JobsCompleted,
		m.JobsFailed,
		m.ProcessingTime,
		m.QueueDepth,
		m.SurgeActive,
		m.SurgeMultiplier,
		m.LoadCPUPercent,
		m.LoadMemPercent,
		m.LoadActiveUsers,
		m.PaymentsDeclined,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSurge publishes the pricing engine state.
func (m *Metrics) ObserveSurge(active bool, multiplier, cpuPct, memPct float64, users int) {
	if active {
		m.SurgeActive.Set(1)
	} else {
		m.SurgeActive.Set(0)
	}
	m.SurgeMultiplier.Set(multiplier)
	m.LoadCPUPercent.Set(cpuPct)
	m.LoadMemPercent.Set(memPct)
	m.LoadActiveUsers.Set(float64(users))
}
