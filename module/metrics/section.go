package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/onflow/sectionnet/module"
)

type SectionCollector struct {
	size          *prometheus.GaugeVec
	knownSections prometheus.Gauge
	prefixLength  prometheus.Gauge
	changes       *prometheus.CounterVec
	joinRejected  *prometheus.CounterVec
	splits        prometheus.Counter
	agreements    *prometheus.CounterVec
	queueLength   prometheus.Gauge
}

var _ module.SectionMetrics = (*SectionCollector)(nil)

func NewSectionCollector(reg prometheus.Registerer) *SectionCollector {
	factory := promauto.With(reg)
	return &SectionCollector{
		size: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemSection,
			Name:      "members",
			Help:      "the number of members of the local section by role",
		}, []string{LabelRole}),
		knownSections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemSection,
			Name:      "known_sections",
			Help:      "the number of sections in the prefix map",
		}),
		prefixLength: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemSection,
			Name:      "prefix_length",
			Help:      "the length of the local section prefix",
		}),
		changes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemSection,
			Name:      "membership_changes_total",
			Help:      "the number of agreed membership changes",
		}, []string{LabelChange}),
		joinRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemSection,
			Name:      "joins_rejected_total",
			Help:      "the number of rejected join requests",
		}, []string{LabelReason}),
		splits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemSection,
			Name:      "splits_total",
			Help:      "the number of splits of the local section",
		}),
		agreements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemSection,
			Name:      "agreements_total",
			Help:      "the number of proposals reaching agreement",
		}, []string{LabelKind}),
		queueLength: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemSection,
			Name:      "inbound_queue_length",
			Help:      "the number of events waiting for the section engine",
		}),
	}
}

func (sc *SectionCollector) SectionSize(members, elders int) {
	sc.size.WithLabelValues("member").Set(float64(members))
	sc.size.WithLabelValues("elder").Set(float64(elders))
}

func (sc *SectionCollector) KnownSections(n int) {
	sc.knownSections.Set(float64(n))
}

func (sc *SectionCollector) PrefixLength(n int) {
	sc.prefixLength.Set(float64(n))
}

func (sc *SectionCollector) MembershipChanged(change string) {
	sc.changes.WithLabelValues(change).Inc()
}

func (sc *SectionCollector) JoinRejected(reason string) {
	sc.joinRejected.WithLabelValues(reason).Inc()
}

func (sc *SectionCollector) SectionSplit() {
	sc.splits.Inc()
}

func (sc *SectionCollector) ProposalAggregated(kind string) {
	sc.agreements.WithLabelValues(kind).Inc()
}

func (sc *SectionCollector) InboundQueueLength(n int) {
	sc.queueLength.Set(float64(n))
}
