package telemetry

import (
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics encapsulates Prometheus instrumentation for the negotiation run and
// provides lightweight snapshots for tests. All methods are nil-safe so
// agents can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	messagesSent      *prometheus.CounterVec
	messagesDropped   prometheus.Counter
	proposalsReceived prometheus.Counter
	proposalsAccepted prometheus.Counter
	assignments       prometheus.Counter
	storeFlushes      *prometheus.CounterVec
	registeredAgents  prometheus.Gauge
	roundDuration     prometheus.Histogram

	sentCount       uint64
	droppedCount    uint64
	assignmentCount uint64
}

// NewMetrics registers the negotiation collectors on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	messagesSent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_messages_sent_total",
		Help: "Total messages delivered to agent inboxes",
	}, []string{"performative"})

	messagesDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bus_messages_dropped_total",
		Help: "Messages dropped because an inbox was full or malformed",
	})

	proposalsReceived := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "negotiation_proposals_received_total",
		Help: "PROPOSE replies collected by professors",
	})

	proposalsAccepted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "negotiation_proposals_accepted_total",
		Help: "Proposals that survived evaluation and were committed against",
	})

	assignments := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "negotiation_assignments_committed_total",
		Help: "Blocks confirmed by rooms",
	})

	storeFlushes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "store_flushes_total",
		Help: "Schedule store flushes by store name",
	}, []string{"store"})

	registeredAgents := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "directory_registered_agents",
		Help: "Agents currently registered in the directory",
	})

	roundDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "negotiation_round_duration_seconds",
		Help:    "Duration of a CFP collection round",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(messagesSent, messagesDropped, proposalsReceived,
		proposalsAccepted, assignments, storeFlushes, registeredAgents,
		roundDuration, goroutines)

	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		messagesSent:      messagesSent,
		messagesDropped:   messagesDropped,
		proposalsReceived: proposalsReceived,
		proposalsAccepted: proposalsAccepted,
		assignments:       assignments,
		storeFlushes:      storeFlushes,
		registeredAgents:  registeredAgents,
		roundDuration:     roundDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveSend records a delivered message.
func (m *Metrics) ObserveSend(performative string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(performative).Inc()
	atomic.AddUint64(&m.sentCount, 1)
}

// ObserveDrop records a message that never reached a handler.
func (m *Metrics) ObserveDrop() {
	if m == nil {
		return
	}
	m.messagesDropped.Inc()
	atomic.AddUint64(&m.droppedCount, 1)
}

// ObserveProposal counts a collected PROPOSE.
func (m *Metrics) ObserveProposal() {
	if m == nil {
		return
	}
	m.proposalsReceived.Inc()
}

// ObserveAcceptedProposal counts a proposal that was committed against.
func (m *Metrics) ObserveAcceptedProposal() {
	if m == nil {
		return
	}
	m.proposalsAccepted.Inc()
}

// ObserveAssignments counts blocks confirmed by a room.
func (m *Metrics) ObserveAssignments(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.assignments.Add(float64(n))
	atomic.AddUint64(&m.assignmentCount, uint64(n))
}

// ObserveFlush counts a store flush.
func (m *Metrics) ObserveFlush(store string) {
	if m == nil {
		return
	}
	m.storeFlushes.WithLabelValues(store).Inc()
}

// SetRegisteredAgents tracks directory size.
func (m *Metrics) SetRegisteredAgents(n int) {
	if m == nil {
		return
	}
	m.registeredAgents.Set(float64(n))
}

// ObserveRound records how long a collection round took.
func (m *Metrics) ObserveRound(d time.Duration) {
	if m == nil {
		return
	}
	m.roundDuration.Observe(d.Seconds())
}

// Snapshot reports coarse counters for assertions in tests.
type Snapshot struct {
	MessagesSent         uint64
	MessagesDropped      uint64
	AssignmentsCommitted uint64
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		MessagesSent:         atomic.LoadUint64(&m.sentCount),
		MessagesDropped:      atomic.LoadUint64(&m.droppedCount),
		AssignmentsCommitted: atomic.LoadUint64(&m.assignmentCount),
	}
}
