// Package metrics provides an in-memory, bounded time-series store for
// operational metrics. Observations survive only as long as the process;
// the collector additionally mirrors into a Prometheus registry for
// scraping, which carries no bound on lifetime but also no per-key history.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Well-known metric keys recorded by the order and webhook pipelines.
const (
	KeyOrderCreated     = "order.created"
	KeyOrderAmount      = "order.total_amount"
	KeyPaymentSucceeded = "payment.succeeded"
	KeyPaymentFailed    = "payment.failed"
	KeyWebhookDuration  = "webhook.processing_ms"
	KeyWebhookDuplicate = "webhook.duplicate"
)

// DefaultCapacity bounds each key's observation list when no explicit
// capacity is configured.
const DefaultCapacity = 1000

// Observation is a single timestamped recording for a key.
type Observation struct {
	Value      float64
	Metadata   map[string]string
	RecordedAt time.Time
}

// Collector records per-key bounded observation lists. Oldest entries are
// evicted first once a key reaches capacity (FIFO, not sampling). Unknown
// keys always aggregate to zero rather than erroring.
type Collector struct {
	mu       sync.RWMutex
	capacity int
	series   map[string][]Observation

	registry          *prometheus.Registry
	observationsTotal *prometheus.CounterVec
	webhookDuration   prometheus.Histogram
}

// NewCollector creates an isolated collector instance. Collectors are
// passed by reference rather than held as process-wide state so tests can
// construct their own.
func NewCollector(capacity int) *Collector {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	registry := prometheus.NewRegistry()
	observationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_observations_total",
		Help: "Total observations recorded per metric key",
	}, []string{"key"})
	webhookDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "storefront_webhook_processing_ms",
		Help:    "Webhook reconciliation duration in milliseconds",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
	registry.MustRegister(observationsTotal, webhookDuration)

	return &Collector{
		capacity:          capacity,
		series:            make(map[string][]Observation),
		registry:          registry,
		observationsTotal: observationsTotal,
		webhookDuration:   webhookDuration,
	}
}

// Record appends a timestamped observation for key, evicting the oldest
// entry when the key is at capacity.
func (c *Collector) Record(key string, value float64, metadata map[string]string) {
	obs := Observation{
		Value:      value,
		Metadata:   metadata,
		RecordedAt: time.Now(),
	}

	c.mu.Lock()
	s := c.series[key]
	if len(s) >= c.capacity {
		copy(s, s[1:])
		s[len(s)-1] = obs
	} else {
		s = append(s, obs)
	}
	c.series[key] = s
	c.mu.Unlock()

	c.observationsTotal.WithLabelValues(key).Inc()
	if key == KeyWebhookDuration {
		c.webhookDuration.Observe(value)
	}
}

// Count returns the number of retained observations for key.
func (c *Collector) Count(key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.series[key])
}

// Sum returns the sum over the most recent lastN observations for key, or
// over all retained observations when fewer are available.
func (c *Collector) Sum(key string, lastN int) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var sum float64
	for _, obs := range c.lastLocked(key, lastN) {
		sum += obs.Value
	}
	return sum
}

// Average returns the mean over the most recent lastN observations for key,
// or 0 when none are retained.
func (c *Collector) Average(key string, lastN int) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	window := c.lastLocked(key, lastN)
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, obs := range window {
		sum += obs.Value
	}
	return sum / float64(len(window))
}

// Handler serves the Prometheus exposition of the mirrored metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// lastLocked returns the trailing lastN observations for key. Callers must
// hold at least a read lock.
func (c *Collector) lastLocked(key string, lastN int) []Observation {
	s := c.series[key]
	if lastN <= 0 || lastN >= len(s) {
		return s
	}
	return s[len(s)-lastN:]
}
