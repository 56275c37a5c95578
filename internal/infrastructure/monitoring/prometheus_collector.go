package monitoring

import (
	"net/http"
	"time"

	"callnet/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector records call lifecycle and relay metrics on its own registry.
type PrometheusCollector struct {
	registry *prometheus.Registry

	// Calls
	callsStarted      *prometheus.CounterVec
	callsActive       prometheus.Gauge
	callTransitions   *prometheus.CounterVec
	callsFinished     *prometheus.CounterVec
	callDuration      prometheus.Histogram
	negotiationErrors *prometheus.CounterVec
	transportFailures prometheus.Counter

	// Media
	packetLoss prometheus.Histogram
	jitter     prometheus.Histogram
	roundTrip  prometheus.Histogram

	// Relay
	clientsConnected  prometheus.Gauge
	envelopesRelayed  *prometheus.CounterVec
	envelopesRejected *prometheus.CounterVec
}

func NewPrometheusCollector() *PrometheusCollector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &PrometheusCollector{
		registry: registry,

		callsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callnet_calls_started_total",
			Help: "Calls placed or received",
		}, []string{"direction", "media"}),

		callsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callnet_calls_active",
			Help: "Calls that have not reached a terminal status",
		}),

		callTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callnet_call_transitions_total",
			Help: "Call status transitions",
		}, []string{"from", "to"}),

		callsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callnet_calls_finished_total",
			Help: "Calls by terminal status",
		}, []string{"status"}),

		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callnet_call_duration_seconds",
			Help:    "Accrued duration of finished calls",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		negotiationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callnet_negotiation_failures_total",
			Help: "Session negotiation failures by stage",
		}, []string{"stage"}),

		transportFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "callnet_signaling_failures_total",
			Help: "Signaling connection losses",
		}),

		packetLoss: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callnet_media_packet_loss_ratio",
			Help:    "Fraction of packets lost reported by receivers",
			Buckets: []float64{0.001, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
		}),

		jitter: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callnet_media_jitter_seconds",
			Help:    "Interarrival jitter reported by receivers",
			Buckets: []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.5},
		}),

		roundTrip: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callnet_media_round_trip_seconds",
			Help:    "Round trip time derived from receiver reports",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 2},
		}),

		clientsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callnet_signal_clients_connected",
			Help: "Users connected to the signaling relay",
		}),

		envelopesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callnet_signal_envelopes_relayed_total",
			Help: "Envelopes delivered to the other party",
		}, []string{"kind"}),

		envelopesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callnet_signal_envelopes_rejected_total",
			Help: "Envelopes or handshakes refused by the relay",
		}, []string{"reason"}),
	}
}

// Registry exposes the collector's registry, e.g. to add process collectors.
func (p *PrometheusCollector) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format.
func (p *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PrometheusCollector) CallStarted(video bool, outgoing bool) {
	direction := "incoming"
	if outgoing {
		direction = "outgoing"
	}
	media := "audio"
	if video {
		media = "video"
	}
	p.callsStarted.WithLabelValues(direction, media).Inc()
	p.callsActive.Inc()
}

func (p *PrometheusCollector) CallTransition(from, to domain.CallStatus) {
	p.callTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (p *PrometheusCollector) CallFinished(status domain.CallStatus, duration time.Duration) {
	p.callsActive.Dec()
	p.callsFinished.WithLabelValues(string(status)).Inc()
	p.callDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) NegotiationFailed(stage string) {
	p.negotiationErrors.WithLabelValues(stage).Inc()
}

func (p *PrometheusCollector) TransportFailure() {
	p.transportFailures.Inc()
}

func (p *PrometheusCollector) MediaQuality(metrics domain.NetworkMetrics) {
	if metrics.PacketsReceived > 0 && metrics.Jitter == 0 && metrics.PacketLoss == 0 {
		// traffic counters only
		return
	}
	p.packetLoss.Observe(metrics.PacketLoss)
	p.jitter.Observe(metrics.Jitter.Seconds())
	if metrics.RoundTrip > 0 {
		p.roundTrip.Observe(metrics.RoundTrip.Seconds())
	}
}

func (p *PrometheusCollector) ClientConnected() {
	p.clientsConnected.Inc()
}

func (p *PrometheusCollector) ClientDisconnected() {
	p.clientsConnected.Dec()
}

func (p *PrometheusCollector) EnvelopeRelayed(kind domain.SignalKind) {
	p.envelopesRelayed.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) EnvelopeRejected(reason string) {
	p.envelopesRejected.WithLabelValues(reason).Inc()
}
