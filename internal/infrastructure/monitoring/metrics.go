package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "assemblyline"

// Metrics holds all Prometheus metrics of one pipeline run
type Metrics struct {
	registry *prometheus.Registry

	// Transport metrics
	EnvelopesSent *prometheus.CounterVec
	BytesSent     *prometheus.CounterVec
	Spills        *prometheus.CounterVec

	// Worker metrics
	Messages        *prometheus.CounterVec
	MessageDuration *prometheus.HistogramVec
	WorkersActive   *prometheus.GaugeVec
	WorkerStarts    *prometheus.CounterVec
	WorkerRecycles  *prometheus.CounterVec
	WorkerCrashes   *prometheus.CounterVec

	// Admin metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	WSConnections   prometheus.Gauge

	startTime time.Time

	mu      sync.RWMutex
	latency map[string]*Reservoir
	queues  map[string]bool
}

// NewMetrics creates a collector registered on its own registry, so several
// pipelines can live in one process.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

// NewMetricsWithRegistry creates a collector registered on reg
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),
		latency:   make(map[string]*Reservoir),
		queues:    make(map[string]bool),

		// Transport metrics
		EnvelopesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "envelopes_sent_total",
				Help:      "Total number of envelopes accepted by a channel",
			},
			[]string{"channel"},
		),
		BytesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payload_bytes_total",
				Help:      "Total payload bytes accepted by a channel",
			},
			[]string{"channel"},
		),
		Spills: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "overflow_spills_total",
				Help:      "Total number of payloads spilled to overflow storage",
			},
			[]string{"channel"},
		),

		// Worker metrics
		Messages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Total number of message hook invocations",
			},
			[]string{"role", "status"},
		),
		MessageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "message_duration_seconds",
				Help:      "Message hook duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"role"},
		),
		WorkersActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workers_active",
				Help:      "Number of live workers",
			},
			[]string{"role"},
		),
		WorkerStarts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_starts_total",
				Help:      "Total number of worker starts, including replacements",
			},
			[]string{"role"},
		),
		WorkerRecycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_recycles_total",
				Help:      "Total number of workers retired after reaching their execution quota",
			},
			[]string{"role"},
		),
		WorkerCrashes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_crashes_total",
				Help:      "Total number of worker crashes",
			},
			[]string{"role"},
		),

		// Admin metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admin_http_requests_total",
				Help:      "Total number of admin HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "admin_http_request_duration_seconds",
				Help:      "Admin HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "admin_ws_connections",
				Help:      "Number of active event stream connections",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Pipeline uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus exposition handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSend records an envelope accepted by a channel
func (m *Metrics) ObserveSend(channel string, size int, spilled bool) {
	m.EnvelopesSent.WithLabelValues(channel).Inc()
	m.BytesSent.WithLabelValues(channel).Add(float64(size))
	if spilled {
		m.Spills.WithLabelValues(channel).Inc()
	}
}

// TrackQueue exports the depth of a channel as a gauge. Tracking the same
// name twice is a no-op.
func (m *Metrics) TrackQueue(channel string, depth func() int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queues[channel] {
		return
	}
	m.queues[channel] = true

	promauto.With(m.registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "queue_depth",
			Help:        "Number of envelopes buffered in a channel",
			ConstLabels: prometheus.Labels{"channel": channel},
		},
		func() float64 { return float64(depth()) },
	)
}

// RecordMessage records one message hook invocation
func (m *Metrics) RecordMessage(role, status string, duration time.Duration) {
	m.Messages.WithLabelValues(role, status).Inc()
	m.MessageDuration.WithLabelValues(role).Observe(duration.Seconds())
	m.reservoir(role).Add(duration.Seconds())
}

// WorkerStarted records a worker start
func (m *Metrics) WorkerStarted(role string) {
	m.WorkerStarts.WithLabelValues(role).Inc()
	m.WorkersActive.WithLabelValues(role).Inc()
}

// WorkerStopped records a worker leaving its slot for any reason
func (m *Metrics) WorkerStopped(role string) {
	m.WorkersActive.WithLabelValues(role).Dec()
}

// WorkerRecycled records a worker retired after its execution quota
func (m *Metrics) WorkerRecycled(role string) {
	m.WorkerRecycles.WithLabelValues(role).Inc()
}

// WorkerCrashed records a worker crash
func (m *Metrics) WorkerCrashed(role string) {
	m.WorkerCrashes.WithLabelValues(role).Inc()
}

// RecordHTTPRequest records an admin HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncWSConnections increments event stream connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements event stream connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// Latency summarizes recent message hook durations of a role
func (m *Metrics) Latency(role string) LatencySummary {
	return m.reservoir(role).Summary()
}

// Uptime returns the time since the metrics were created
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

func (m *Metrics) reservoir(role string) *Reservoir {
	m.mu.RLock()
	r, ok := m.latency[role]
	m.mu.RUnlock()
	if ok {
		return r
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok = m.latency[role]; !ok {
		r = NewReservoir(DefaultReservoirSize)
		m.latency[role] = r
	}
	return r
}
