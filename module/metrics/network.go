package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/onflow/sectionnet/module"
)

type NetworkCollector struct {
	outboundMessageSize *prometheus.HistogramVec
	inboundMessageSize  *prometheus.HistogramVec
	sendFailures        *prometheus.CounterVec
}

var _ module.NetworkMetrics = (*NetworkCollector)(nil)

func NewNetworkCollector(reg prometheus.Registerer) *NetworkCollector {
	factory := promauto.With(reg)
	return &NetworkCollector{
		outboundMessageSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemNetwork,
			Name:      "outbound_message_size_bytes",
			Help:      "size of the outbound network message",
			Buckets:   []float64{KiB, 100 * KiB, 500 * KiB, 1 * MiB, 2 * MiB, 4 * MiB},
		}, []string{LabelChannel}),
		inboundMessageSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemNetwork,
			Name:      "inbound_message_size_bytes",
			Help:      "size of the inbound network message",
			Buckets:   []float64{KiB, 100 * KiB, 500 * KiB, 1 * MiB, 2 * MiB, 4 * MiB},
		}, []string{LabelChannel}),
		sendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemNetwork,
			Name:      "send_failures_total",
			Help:      "the number of messages that could not be delivered to the peer",
		}, []string{LabelChannel}),
	}
}

const (
	KiB = 1 << (10 * (iota + 1))
	MiB
)

// NetworkMessageSent tracks the message size of the last message sent out on the wire
// in bytes for the given channel
func (nc *NetworkCollector) NetworkMessageSent(sizeBytes int, channel string) {
	nc.outboundMessageSize.WithLabelValues(channel).Observe(float64(sizeBytes))
}

// NetworkMessageReceived tracks the message size of the last message received on the wire
// in bytes for the given channel
func (nc *NetworkCollector) NetworkMessageReceived(sizeBytes int, channel string) {
	nc.inboundMessageSize.WithLabelValues(channel).Observe(float64(sizeBytes))
}

func (nc *NetworkCollector) NetworkSendFailed(channel string) {
	nc.sendFailures.WithLabelValues(channel).Inc()
}
