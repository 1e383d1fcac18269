package endpoint

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "ocpp_rpc"

// Metrics is a prometheus.Collector shared by every endpoint of a process.
// A nil *Metrics records nothing.
type Metrics struct {
	framesReceived     *prometheus.CounterVec
	framesRejected     *prometheus.CounterVec
	callsSent          *prometheus.CounterVec
	callTimeouts       *prometheus.CounterVec
	unmatchedResponses prometheus.Counter
	inflightHandlers   prometheus.Gauge
	handlerDuration    *prometheus.HistogramVec
}

// NewMetrics returns a new Metrics collector. Register it to expose the values.
func NewMetrics() *Metrics {
	return &Metrics{
		framesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "frames_received_total",
				Help:      "Frames decoded successfully, by message type.",
			}, []string{"type"},
		),
		framesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "frames_rejected_total",
				Help:      "Frames that failed to decode, by error code.",
			}, []string{"code"},
		),
		callsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "calls_sent_total",
				Help:      "Outbound calls written to the transport, by action.",
			}, []string{"action"},
		),
		callTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "call_timeouts_total",
				Help:      "Outbound calls that got no response before their deadline, by action.",
			}, []string{"action"},
		),
		unmatchedResponses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "unmatched_responses_total",
				Help:      "Responses whose message id matched no pending call.",
			},
		),
		inflightHandlers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "inflight_handlers",
				Help:      "Inbound calls currently being handled.",
			},
		),
		handlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "handler_duration_seconds",
				Help:      "Time from dispatch to response for inbound calls, by action.",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
			}, []string{"action"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.framesReceived.Describe(ch)
	m.framesRejected.Describe(ch)
	m.callsSent.Describe(ch)
	m.callTimeouts.Describe(ch)
	m.unmatchedResponses.Describe(ch)
	m.inflightHandlers.Describe(ch)
	m.handlerDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.framesReceived.Collect(ch)
	m.framesRejected.Collect(ch)
	m.callsSent.Collect(ch)
	m.callTimeouts.Collect(ch)
	m.unmatchedResponses.Collect(ch)
	m.inflightHandlers.Collect(ch)
	m.handlerDuration.Collect(ch)
}

func (m *Metrics) frameReceived(kind string) {
	if m != nil {
		m.framesReceived.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) frameRejected(code string) {
	if m != nil {
		m.framesRejected.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) callSent(action string) {
	if m != nil {
		m.callsSent.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) callTimedOut(action string) {
	if m != nil {
		m.callTimeouts.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) responseUnmatched() {
	if m != nil {
		m.unmatchedResponses.Inc()
	}
}

func (m *Metrics) handlerStarted() {
	if m != nil {
		m.inflightHandlers.Inc()
	}
}

func (m *Metrics) handlerFinished(action string, took time.Duration) {
	if m != nil {
		m.inflightHandlers.Dec()
		m.handlerDuration.WithLabelValues(action).Observe(took.Seconds())
	}
}
