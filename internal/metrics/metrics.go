package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "graylogic_bus"

// Metrics holds the collectors for transports and the connection layer.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	messagesSent    *prometheus.CounterVec
	messagesFetched *prometheus.CounterVec
	lateReplies     *prometheus.CounterVec
	commands        *prometheus.CounterVec
	dispatchErrors  prometheus.Counter
	devices         prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "requests_total",
			Help:      "Requests sent on the bus, by transport and response identifier",
		}, []string{"transport", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "request_duration_seconds",
			Help:      "Time from sending a request to receiving its reply or timing out",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"transport"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "messages_sent_total",
			Help:      "Fire-and-forget messages published on the bus",
		}, []string{"transport"}),
		messagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "messages_fetched_total",
			Help:      "Inbound messages handed to the dispatch loop",
		}, []string{"transport"}),
		lateReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "late_replies_total",
			Help:      "Replies that arrived after their request had given up",
		}, []string{"transport"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "commands_total",
			Help:      "Directed commands handled, by response identifier",
		}, []string{"outcome"}),
		dispatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "dispatch_errors_total",
			Help:      "Messages whose handling failed inside the dispatch loop",
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "devices",
			Help:      "Devices currently owned by this instance",
		}),
	}

	m.registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.messagesSent,
		m.messagesFetched,
		m.lateReplies,
		m.commands,
		m.dispatchErrors,
		m.devices,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one completed request.
func (m *Metrics) ObserveRequest(transport, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(transport, outcome).Inc()
	m.requestDuration.WithLabelValues(transport).Observe(elapsed.Seconds())
}

// MessageSent records one published message.
func (m *Metrics) MessageSent(transport string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(transport).Inc()
}

// MessageFetched records one inbound message handed to the caller.
func (m *Metrics) MessageFetched(transport string) {
	if m == nil {
		return
	}
	m.messagesFetched.WithLabelValues(transport).Inc()
}

// LateReply records a reply dropped because nobody was waiting for it.
func (m *Metrics) LateReply(transport string) {
	if m == nil {
		return
	}
	m.lateReplies.WithLabelValues(transport).Inc()
}

// CommandHandled records the outcome of one directed command.
func (m *Metrics) CommandHandled(outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(outcome).Inc()
}

// DispatchError records a message whose handling failed.
func (m *Metrics) DispatchError() {
	if m == nil {
		return
	}
	m.dispatchErrors.Inc()
}

// SetDevices records the number of owned devices.
func (m *Metrics) SetDevices(n int) {
	if m == nil {
		return
	}
	m.devices.Set(float64(n))
}
