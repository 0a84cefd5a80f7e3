package network

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type relayerMetrics struct {
	packets  *prometheus.CounterVec
	duration prometheus.Histogram
}

var (
	relayerMetricsOnce sync.Once
	relayerRegistry    *relayerMetrics
)

func defaultRelayerMetrics() *relayerMetrics {
	relayerMetricsOnce.Do(func() {
		relayerRegistry = &relayerMetrics{
			packets: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "relayer",
				Name:      "packets_total",
				Help:      "Packets handled by the relayer segmented by path and outcome.",
			}, []string{"path", "outcome"}),
			duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "escrow",
				Subsystem: "relayer",
				Name:      "pass_duration_seconds",
				Help:      "Wall time of a full relay pass over both chains.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			relayerRegistry.packets,
			relayerRegistry.duration,
		)
	})
	return relayerRegistry
}

func (m *relayerMetrics) record(path, outcome string) {
	if m == nil {
		return
	}
	m.packets.WithLabelValues(path, outcome).Inc()
}

func (m *relayerMetrics) observePass(d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}
