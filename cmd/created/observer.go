package main

import (
	"time"

	"github.com/shayanmanesh/create/internal/metrics"
	"github.com/shayanmanesh/create/pkg/creation"
)

// metricsObserver bridges orchestrator lifecycle events to Prometheus.
type metricsObserver struct {
	m *metrics.Metrics
}

func (o metricsObserver) JobSubmitted() {
	o.m.JobsSubmitted.Inc()
}

func (o metricsObserver) JobCompleted(elapsed time.Duration) {
	o.m.JobsCompleted.Inc()
	o.m.ProcessingTime.Observe(elapsed.Seconds())
}

func (o metricsObserver) JobFailed(reason creation.FailureReason, elapsed time.Duration) {
	o.m.JobsFailed.WithLabelValues(string(reason)).Inc()
	o.m.ProcessingTime.Observe(elapsed.Seconds())
}

func (o metricsObserver) QueueDepth(depth int) {
	o.m.QueueDepth.Set(float64(depth))
}
