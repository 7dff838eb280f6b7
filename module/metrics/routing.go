package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/onflow/sectionnet/module"
)

type RoutingCollector struct {
	accepted   *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	routed     *prometheus.CounterVec
	duplicates prometheus.Counter
}

var _ module.RoutingMetrics = (*RoutingCollector)(nil)

func NewRoutingCollector(reg prometheus.Registerer) *RoutingCollector {
	factory := promauto.With(reg)
	return &RoutingCollector{
		accepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemRouting,
			Name:      "accepted_total",
			Help:      "the number of envelopes passing validation",
		}, []string{LabelAuthority}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemRouting,
			Name:      "dropped_total",
			Help:      "the number of envelopes dropped by validation",
		}, []string{LabelReason}),
		routed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemRouting,
			Name:      "routed_total",
			Help:      "routing decisions taken",
		}, []string{LabelDecision}),
		duplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemRouting,
			Name:      "duplicates_total",
			Help:      "the number of envelopes suppressed as duplicates",
		}),
	}
}

func (rc *RoutingCollector) EnvelopeAccepted(authority string) {
	rc.accepted.WithLabelValues(authority).Inc()
}

func (rc *RoutingCollector) EnvelopeRejected(reason string) {
	rc.dropped.WithLabelValues(reason).Inc()
}

func (rc *RoutingCollector) EnvelopeRouted(decision string) {
	rc.routed.WithLabelValues(decision).Inc()
}

func (rc *RoutingCollector) DuplicateSuppressed() {
	rc.duplicates.Inc()
}
