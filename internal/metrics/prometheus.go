// Package metrics exposes the proxy's stat counters on a Prometheus
// registry, narrowed from the teacher's sprawling PrometheusMetrics down to
// the HTTP/QUIC counters internal/stats.Accumulator actually tracks.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quicproxy/internal/stats"
)

// PrometheusMetrics wraps a private registry with one gauge per HTTP stat
// tag (spec.md §6: HSEN/HTIO/HCFA/HREC), gauges for the QUIC byte, packet,
// lost-packet, connection-count and smoothed-RTT counters, plus the
// process-wide active stream/connection gauges a reverse proxy reports.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	httpSent             prometheus.Gauge
	httpTimeout          prometheus.Gauge
	httpConnectionFailed prometheus.Gauge
	httpReceived         prometheus.Gauge

	quicBytesSent        prometheus.Gauge
	quicBytesReceived    prometheus.Gauge
	quicPacketsSent      prometheus.Gauge
	quicPacketsReceived  prometheus.Gauge
	quicPacketsLost      prometheus.Gauge
	quicConnectionCount  prometheus.Gauge
	quicSmoothedRTTMicros prometheus.Gauge

	activeStreams     prometheus.Gauge
	activeConnections prometheus.Gauge
}

// NewPrometheusMetrics builds the metric set and registers it on a fresh
// registry, the same per-process registry pattern the teacher's
// NewPrometheusMetrics uses rather than the global default registry.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	if namespace == "" {
		namespace = "quicproxy"
	}
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		registry: registry,
		httpSent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "http_sent_total", Help: "Requests forwarded to the backend (stat tag HSEN).",
		}),
		httpTimeout: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "http_timeout_total", Help: "Backend fetches that exceeded their deadline (stat tag HTIO).",
		}),
		httpConnectionFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "http_connection_failed_total", Help: "Backend fetches that failed to connect (stat tag HCFA).",
		}),
		httpReceived: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "http_received_total", Help: "Backend responses received and forwarded (stat tag HREC).",
		}),
		quicBytesSent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "quic_bytes_sent_total", Help: "Bytes sent over QUIC connections.",
		}),
		quicBytesReceived: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "quic_bytes_received_total", Help: "Bytes received over QUIC connections.",
		}),
		quicPacketsSent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "quic_packets_sent_total", Help: "QUIC packets sent.",
		}),
		quicPacketsReceived: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "quic_packets_received_total", Help: "QUIC packets received.",
		}),
		quicPacketsLost: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "quic_packets_lost_total", Help: "QUIC packets declared lost.",
		}),
		quicConnectionCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "quic_connections_total", Help: "QUIC connections accepted.",
		}),
		quicSmoothedRTTMicros: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "quic_smoothed_rtt_micros", Help: "Sum of smoothed RTT samples folded into the accumulator, in microseconds.",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_streams", Help: "In-flight proxy streams.",
		}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_connections", Help: "Open QUIC connections.",
		}),
	}

	registry.MustRegister(
		pm.httpSent,
		pm.httpTimeout,
		pm.httpConnectionFailed,
		pm.httpReceived,
		pm.quicBytesSent,
		pm.quicBytesReceived,
		pm.quicPacketsSent,
		pm.quicPacketsReceived,
		pm.quicPacketsLost,
		pm.quicConnectionCount,
		pm.quicSmoothedRTTMicros,
		pm.activeStreams,
		pm.activeConnections,
	)

	return pm
}

// Observe refreshes every gauge from the accumulator's current snapshot.
// Counters are monotonic on the accumulator side, so exporting them as
// gauges set on each scrape is simpler than wiring prometheus.Counter's
// add-only API through an atomic snapshot and is exact either way.
func (pm *PrometheusMetrics) Observe(acc *stats.Accumulator) {
	snap := acc.Snapshot()

	pm.httpSent.Set(float64(snap.HTTP.Sent))
	pm.httpTimeout.Set(float64(snap.HTTP.Timeout))
	pm.httpConnectionFailed.Set(float64(snap.HTTP.ConnectionFailed))
	pm.httpReceived.Set(float64(snap.HTTP.Received))

	pm.quicBytesSent.Set(float64(snap.QUIC.BytesSent))
	pm.quicBytesReceived.Set(float64(snap.QUIC.BytesReceived))
	pm.quicPacketsSent.Set(float64(snap.QUIC.PacketsSent))
	pm.quicPacketsReceived.Set(float64(snap.QUIC.PacketsReceived))
	pm.quicPacketsLost.Set(float64(snap.QUIC.PacketsLost))
	pm.quicConnectionCount.Set(float64(snap.QUIC.ConnectionCount))
	pm.quicSmoothedRTTMicros.Set(float64(snap.QUIC.SmoothedRTTMicros))
}

// SetActiveStreams reports the current count of in-flight proxy streams.
func (pm *PrometheusMetrics) SetActiveStreams(count int) {
	pm.activeStreams.Set(float64(count))
}

// SetActiveConnections reports the current count of open QUIC connections.
func (pm *PrometheusMetrics) SetActiveConnections(count int) {
	pm.activeConnections.Set(float64(count))
}

// Handler returns the http.Handler to mount at /metrics.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly so tests can gather it
// directly instead of going through an HTTP round trip.
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}
