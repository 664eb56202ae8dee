package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/mcdev12/hotpotato/go/internal/events"
)

// MetricsCollector defines the interface for collecting event bus metrics
type MetricsCollector interface {
	RecordEventPublished(eventType string, success bool, duration time.Duration)
	RecordPublishAttempt(eventType string, attempt int, success bool)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordEventPublished(eventType string, success bool, duration time.Duration) {
}
func (n *NoOpMetricsCollector) RecordPublishAttempt(eventType string, attempt int, success bool) {}

// MetricPublisher wraps a Publisher with metrics collection
type MetricPublisher struct {
	publisher Publisher
	metrics   MetricsCollector
}

func NewMetricPublisher(publisher Publisher, metrics MetricsCollector) *MetricPublisher {
	return &MetricPublisher{
		publisher: publisher,
		metrics:   metrics,
	}
}

func (p *MetricPublisher) Publish(ctx context.Context, event events.Event) error {
	start := time.Now()

	err := p.publisher.Publish(ctx, event)

	p.metrics.RecordEventPublished(string(event.Type), err == nil, time.Since(start))
	return err
}

// Counters is a point-in-time copy of CounterMetrics.
type Counters struct {
	Published      int64            `json:"published"`
	Failed         int64            `json:"failed"`
	Retries        int64            `json:"retries"`
	ByType         map[string]int64 `json:"by_type"`
	LastFailure    *time.Time       `json:"last_failure,omitempty"`
	AverageLatency time.Duration    `json:"average_latency_ns"`
}

// CounterMetrics keeps in-process counters, reported by the health endpoint.
type CounterMetrics struct {
	mu          sync.Mutex
	published   int64
	failed      int64
	retries     int64
	byType      map[string]int64
	lastFailure *time.Time
	latency     time.Duration
}

func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{byType: make(map[string]int64)}
}

func (m *CounterMetrics) RecordEventPublished(eventType string, success bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !success {
		m.failed++
		now := time.Now()
		m.lastFailure = &now
		return
	}
	m.published++
	m.byType[eventType]++
	m.latency += duration
}

func (m *CounterMetrics) RecordPublishAttempt(eventType string, attempt int, success bool) {
	if attempt <= 1 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *CounterMetrics) Snapshot() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := Counters{
		Published:   m.published,
		Failed:      m.failed,
		Retries:     m.retries,
		ByType:      make(map[string]int64, len(m.byType)),
		LastFailure: m.lastFailure,
	}
	for k, v := range m.byType {
		c.ByType[k] = v
	}
	if m.published > 0 {
		c.AverageLatency = m.latency / time.Duration(m.published)
	}
	return c
}
