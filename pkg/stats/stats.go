// Package stats exposes the streaming stack's operational counters through
// a private prometheus registry, kept separate from the default registry so
// the endpoint carries no Go runtime noise.
package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	// SessionsActive tracks control connections currently being served.
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rtsp_sessions_active",
		Help: "Number of RTSP control connections currently open.",
	})

	// RequestsTotal counts processed RTSP requests by method and status.
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtsp_requests_total",
		Help: "RTSP requests processed, labelled by method and reply status.",
	}, []string{"method", "status"})

	// PacketsSent counts RTP datagrams pushed by paced streamers.
	PacketsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rtp_packets_sent_total",
		Help: "RTP datagrams sent to clients.",
	})

	// BytesSent counts RTP bytes (header and payload) pushed by paced
	// streamers.
	BytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rtp_bytes_sent_total",
		Help: "RTP bytes (header and payload) sent to clients.",
	})

	// PacketsDropped counts datagrams skipped because they exceeded the
	// host's datagram size limit.
	PacketsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rtp_packets_dropped_total",
		Help: "RTP datagrams dropped because the send failed with EMSGSIZE.",
	})
)

func init() {
	registry.MustRegister(
		SessionsActive,
		RequestsTotal,
		PacketsSent,
		BytesSent,
		PacketsDropped,
	)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
