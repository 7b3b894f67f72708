package monitoring

import (
	"time"

	"meshpad/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges
	peersConnectedTotal prometheus.Gauge
	roomsActiveTotal    prometheus.Gauge

	// Counters
	signalConnectsTotal    prometheus.Counter
	signalDisconnectsTotal prometheus.Counter
	envelopesForwarded     *prometheus.CounterVec
	envelopesDropped       prometheus.Counter

	// Histograms
	forwardDuration prometheus.Histogram
	joinDuration    prometheus.Histogram

	// Per-room metrics
	roomPeerCount *prometheus.GaugeVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		peersConnectedTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "meshpad_peers_connected_total",
			Help: "Number of peers currently connected to the signaling server",
		}),

		roomsActiveTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "meshpad_rooms_active_total",
			Help: "Number of active rooms",
		}),

		signalConnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meshpad_signal_connects_total",
			Help: "Total websocket connections accepted",
		}),

		signalDisconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meshpad_signal_disconnects_total",
			Help: "Total websocket connections closed",
		}),

		envelopesForwarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meshpad_envelopes_forwarded_total",
			Help: "Signaling envelopes forwarded between peers, by type",
		}, []string{"type"}),

		envelopesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meshpad_envelopes_dropped_total",
			Help: "Signaling envelopes dropped because the target peer was unknown or its queue was full",
		}),

		forwardDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshpad_envelope_forward_duration_seconds",
			Help:    "Time spent forwarding one signaling envelope",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		joinDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshpad_room_join_duration_seconds",
			Help:    "Time from join envelope to joined-room confirmation",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),

		roomPeerCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshpad_room_peer_count",
			Help: "Number of peers in each room",
		}, []string{"session_id"}),
	}
}

func (p *PrometheusCollector) RecordConnect() {
	p.signalConnectsTotal.Inc()
	p.peersConnectedTotal.Inc()
}

func (p *PrometheusCollector) RecordDisconnect() {
	p.signalDisconnectsTotal.Inc()
	p.peersConnectedTotal.Dec()
}

func (p *PrometheusCollector) RecordRoomCreated(sessionID domain.SessionID) {
	p.roomsActiveTotal.Inc()
}

func (p *PrometheusCollector) RecordRoomClosed(sessionID domain.SessionID) {
	p.roomsActiveTotal.Dec()
	p.roomPeerCount.DeleteLabelValues(string(sessionID))
}

func (p *PrometheusCollector) SetRoomPeerCount(sessionID domain.SessionID, count int) {
	p.roomPeerCount.WithLabelValues(string(sessionID)).Set(float64(count))
}

func (p *PrometheusCollector) RecordEnvelopeForwarded(envType string, duration time.Duration) {
	p.envelopesForwarded.WithLabelValues(envType).Inc()
	p.forwardDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordEnvelopeDropped() {
	p.envelopesDropped.Inc()
}

func (p *PrometheusCollector) RecordJoin(duration time.Duration) {
	p.joinDuration.Observe(duration.Seconds())
}
