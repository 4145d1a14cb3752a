package publisher

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcdev12/impact/go/internal/events"
)

// MetricsCollector defines the interface for collecting publish metrics
type MetricsCollector interface {
	RecordEventPublished(eventType events.EventType, success bool, duration time.Duration)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordEventPublished(eventType events.EventType, success bool, duration time.Duration) {
}

// MetricPublisher wraps an EventPublisher with metrics collection
type MetricPublisher struct {
	publisher EventPublisher
	metrics   MetricsCollector
}

func NewMetricPublisher(publisher EventPublisher, metrics MetricsCollector) *MetricPublisher {
	return &MetricPublisher{
		publisher: publisher,
		metrics:   metrics,
	}
}

func (p *MetricPublisher) Publish(ctx context.Context, event events.Event) error {
	start := time.Now()

	err := p.publisher.Publish(ctx, event)

	p.metrics.RecordEventPublished(event.Type, err == nil, time.Since(start))
	return err
}

// PrometheusMetrics implements MetricsCollector using Prometheus
type PrometheusMetrics struct {
	eventCounter  *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
}

// NewPrometheusMetrics registers the publish collectors with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		eventCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "events_published_total",
			Help:      "Round events handed to publishers, by type and outcome.",
		}, []string{"event_type", "status"}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arena",
			Name:      "event_publish_duration_seconds",
			Help:      "Time spent publishing one round event.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"event_type"}),
	}
	reg.MustRegister(m.eventCounter, m.eventDuration)
	return m
}

func (m *PrometheusMetrics) RecordEventPublished(eventType events.EventType, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.eventCounter.WithLabelValues(string(eventType), status).Inc()
	m.eventDuration.WithLabelValues(string(eventType)).Observe(duration.Seconds())
}
