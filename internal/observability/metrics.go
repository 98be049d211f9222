package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "caption_sync_active_sessions",
		Help: "Number of active caption sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caption_sync_sessions_total",
		Help: "Total number of caption sessions",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "caption_sync_session_duration_seconds",
		Help:    "Duration of caption sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	// Channel message metrics
	fragmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_sync_fragments_total",
		Help: "Total number of accepted channel messages",
	}, []string{"kind"})

	droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_sync_dropped_total",
		Help: "Total number of channel messages dropped",
	}, []string{"reason"})

	// Subtitle metrics
	emissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_sync_emissions_total",
		Help: "Total number of transcriptions emitted",
	}, []string{"status", "type"})

	evictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_sync_evictions_total",
		Help: "Total number of turns evicted from the buffer",
	}, []string{"cause"})

	residentTurns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "caption_sync_resident_turns",
		Help: "Number of agent turns currently buffered across sessions",
	})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "caption_sync_tick_duration_seconds",
		Help:    "Time spent reconciling buffered turns per tick",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
	})

	// Archive metrics
	archiveWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_sync_archive_writes_total",
		Help: "Total number of archive publish attempts",
	}, []string{"status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_sync_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "caption_sync_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_sync_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single caption session
type Metrics struct {
	startTime time.Time

	mu       sync.Mutex
	resident int
	ended    bool
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session. Repeated calls are ignored.
func (m *Metrics) RecordSessionEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return
	}
	m.ended = true

	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
	residentTurns.Sub(float64(m.resident))
	m.resident = 0
}

// RecordFragment records an accepted channel message
func (m *Metrics) RecordFragment(kind string) {
	fragmentsTotal.WithLabelValues(kind).Inc()
}

// RecordDrop records a dropped channel message
func (m *Metrics) RecordDrop(reason string) {
	droppedTotal.WithLabelValues(reason).Inc()
}

// RecordEmission records a transcription handed to the output sink
func (m *Metrics) RecordEmission(status, kind string) {
	emissionsTotal.WithLabelValues(status, kind).Inc()
}

// RecordEviction records a turn leaving the buffer
func (m *Metrics) RecordEviction(cause string) {
	evictionsTotal.WithLabelValues(cause).Inc()
}

// SetResidentTurns updates this session's share of the resident turns gauge
func (m *Metrics) SetResidentTurns(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return
	}
	residentTurns.Add(float64(n - m.resident))
	m.resident = n
}

// ObserveTick records the duration of one reconciliation tick
func (m *Metrics) ObserveTick(d time.Duration) {
	tickDuration.Observe(d.Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordArchiveWrite records the outcome of an archive publish
func RecordArchiveWrite(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	archiveWrites.WithLabelValues(status).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
