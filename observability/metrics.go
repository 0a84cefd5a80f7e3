package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type tradeMetrics struct {
	transitions *prometheus.CounterVec
	notifier    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

type relayMetrics struct {
	packets  *prometheus.CounterVec
	timeouts *prometheus.CounterVec
}

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	tradeMetricsOnce sync.Once
	tradeRegistry    *tradeMetrics

	relayMetricsOnce sync.Once
	relayRegistry    *relayMetrics

	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics
)

// Trade returns the lazily-initialised registry tracking trade transitions and
// collaborator notifications.
func Trade() *tradeMetrics {
	tradeMetricsOnce.Do(func() {
		tradeRegistry = &tradeMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "trade",
				Name:      "transitions_total",
				Help:      "Trade entry point calls segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			notifier: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "notifier",
				Name:      "failures_total",
				Help:      "Collaborator notifications that failed after a committed fund movement.",
			}, []string{"collaborator"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "escrow",
				Subsystem: "trade",
				Name:      "call_duration_seconds",
				Help:      "Latency of atomic ledger entry points.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"action"}),
		}
		prometheus.MustRegister(
			tradeRegistry.transitions,
			tradeRegistry.notifier,
			tradeRegistry.latency,
		)
	})
	return tradeRegistry
}

// RecordTransition counts an entry point outcome.
func (m *tradeMetrics) RecordTransition(action string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	action = normalizeLabel(action)
	m.transitions.WithLabelValues(action, outcomeLabel(err)).Inc()
	m.latency.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordNotifierFailure counts a failed collaborator notification.
func (m *tradeMetrics) RecordNotifierFailure(collaborator string) {
	if m == nil {
		return
	}
	m.notifier.WithLabelValues(normalizeLabel(collaborator)).Inc()
}

// Relay returns the registry tracking relay packet flow.
func Relay() *relayMetrics {
	relayMetricsOnce.Do(func() {
		relayRegistry = &relayMetrics{
			packets: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "relay",
				Name:      "packets_total",
				Help:      "Relay packets segmented by direction (send, recv, ack) and outcome.",
			}, []string{"direction", "outcome"}),
			timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "relay",
				Name:      "timeouts_total",
				Help:      "Outbound relay packets that timed out, segmented by source channel.",
			}, []string{"channel"}),
		}
		prometheus.MustRegister(relayRegistry.packets, relayRegistry.timeouts)
	})
	return relayRegistry
}

// RecordPacket counts a packet event in the supplied direction.
func (m *relayMetrics) RecordPacket(direction string, err error) {
	if m == nil {
		return
	}
	m.packets.WithLabelValues(normalizeLabel(direction), outcomeLabel(err)).Inc()
}

// RecordTimeout counts a timed out packet on channel.
func (m *relayMetrics) RecordTimeout(channel string) {
	if m == nil {
		return
	}
	m.timeouts.WithLabelValues(normalizeLabel(channel)).Inc()
}

// RPC returns the registry tracking JSON-RPC traffic.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "escrow",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Requests rejected before dispatch, segmented by reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(rpcRegistry.requests, rpcRegistry.latency, rpcRegistry.throttles)
	})
	return rpcRegistry
}

// Observe records the outcome of a JSON-RPC call.
func (m *rpcMetrics) Observe(method string, failed bool, duration time.Duration) {
	if m == nil {
		return
	}
	method = normalizeLabel(method)
	outcome := "success"
	if failed {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" or "replay".
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(normalizeLabel(reason)).Inc()
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
