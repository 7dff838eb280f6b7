package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/onflow/sectionnet/module"
)

type DKGCollector struct {
	started   *prometheus.CounterVec
	completed *prometheus.CounterVec
	retried   *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  prometheus.Histogram
}

var _ module.DKGMetrics = (*DKGCollector)(nil)

func NewDKGCollector(reg prometheus.Registerer) *DKGCollector {
	factory := promauto.With(reg)
	return &DKGCollector{
		started: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemDKG,
			Name:      "sessions_started_total",
			Help:      "the number of started dkg attempts",
		}, []string{LabelPrefix}),
		completed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemDKG,
			Name:      "sessions_completed_total",
			Help:      "the number of completed dkg sessions",
		}, []string{LabelPrefix}),
		retried: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemDKG,
			Name:      "sessions_retried_total",
			Help:      "the number of restarted dkg attempts",
		}, []string{LabelPrefix}),
		failed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemDKG,
			Name:      "sessions_failed_total",
			Help:      "the number of dkg sessions given up or superseded",
		}, []string{LabelPrefix, LabelReason}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemDKG,
			Name:      "session_duration_seconds",
			Help:      "time from the first attempt to completion of a dkg session",
			Buckets:   []float64{.05, .1, .5, 1, 2, 5, 10, 30, 60},
		}),
	}
}

func (dc *DKGCollector) DKGSessionStarted(prefix string) {
	dc.started.WithLabelValues(prefix).Inc()
}

func (dc *DKGCollector) DKGSessionCompleted(prefix string, duration time.Duration) {
	dc.completed.WithLabelValues(prefix).Inc()
	dc.duration.Observe(duration.Seconds())
}

func (dc *DKGCollector) DKGSessionRetried(prefix string) {
	dc.retried.WithLabelValues(prefix).Inc()
}

func (dc *DKGCollector) DKGSessionFailed(prefix string, reason string) {
	dc.failed.WithLabelValues(prefix, reason).Inc()
}
