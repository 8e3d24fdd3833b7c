package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fundichat"

// Metrics holds the client's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connectAttempts  *prometheus.CounterVec
	connectionState  *prometheus.GaugeVec
	framesSent       *prometheus.CounterVec
	framesReceived   *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	queueDropped     *prometheus.CounterVec
	fallbackSends    *prometheus.CounterVec
	handlerPanics    *prometheus.CounterVec
	uploads          *prometheus.CounterVec
	uploadBytes      prometheus.Counter
	uploadDuration   prometheus.Histogram
	reconnectBackoff prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts by result.",
		}, []string{"result"}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_sent_total",
			Help:      "Outbound envelopes written by type.",
		}, []string{"type"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_received_total",
			Help:      "Inbound envelopes decoded by type.",
		}, []string{"type"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "depth",
			Help:      "Messages waiting for a connection.",
		}),
		queueDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "dropped_total",
			Help:      "Messages refused or evicted by the overflow policy.",
		}, []string{"policy"}),
		fallbackSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "fallback_sends_total",
			Help:      "REST fallback sends by result.",
		}, []string{"result"}),
		handlerPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "handler_panics_total",
			Help:      "Recovered event handler panics by event kind.",
		}, []string{"kind"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "completed_total",
			Help:      "Finished uploads by mode (remote or simulated).",
		}, []string{"mode"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "bytes_total",
			Help:      "Bytes handed to the upload endpoint.",
		}),
		uploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "duration_seconds",
			Help:      "Wall time of upload calls including fallback.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		reconnectBackoff: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "reconnect_delay_seconds",
			Help:      "Scheduled reconnect delays.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectAttempts,
		m.connectionState,
		m.framesSent,
		m.framesReceived,
		m.queueDepth,
		m.queueDropped,
		m.fallbackSends,
		m.handlerPanics,
		m.uploads,
		m.uploadBytes,
		m.uploadDuration,
		m.reconnectBackoff,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

func (m *Metrics) ConnectAttempt(ok bool) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.connectAttempts.WithLabelValues(result).Inc()
}

var connectionStates = []string{"disconnected", "connecting", "connected", "reconnecting", "exhausted"}

func (m *Metrics) SetConnectionState(state string) {
	if m == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) FrameSent(kind string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) QueueDropped(policy string) {
	if m == nil {
		return
	}
	m.queueDropped.WithLabelValues(policy).Inc()
}

func (m *Metrics) FallbackSend(result string) {
	if m == nil {
		return
	}
	m.fallbackSends.WithLabelValues(result).Inc()
}

func (m *Metrics) HandlerPanic(kind string) {
	if m == nil {
		return
	}
	m.handlerPanics.WithLabelValues(kind).Inc()
}

func (m *Metrics) UploadFinished(simulated bool, bytes int64, seconds float64) {
	if m == nil {
		return
	}
	mode := "remote"
	if simulated {
		mode = "simulated"
	}
	m.uploads.WithLabelValues(mode).Inc()
	if bytes > 0 {
		m.uploadBytes.Add(float64(bytes))
	}
	m.uploadDuration.Observe(seconds)
}

func (m *Metrics) ReconnectScheduled(seconds float64) {
	if m == nil {
		return
	}
	m.reconnectBackoff.Observe(seconds)
}
