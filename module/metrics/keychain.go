package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/onflow/sectionnet/module"
)

type KeyChainCollector struct {
	length prometheus.Gauge
	forks  prometheus.Counter
}

var _ module.KeyChainMetrics = (*KeyChainCollector)(nil)

func NewKeyChainCollector(reg prometheus.Registerer) *KeyChainCollector {
	factory := promauto.With(reg)
	return &KeyChainCollector{
		length: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemKeyChain,
			Name:      "keys",
			Help:      "the number of keys in the local key chain",
		}),
		forks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceSectionnet,
			Subsystem: subsystemKeyChain,
			Name:      "forks_detected_total",
			Help:      "the number of key chain forks detected",
		}),
	}
}

func (kc *KeyChainCollector) KeyChainLength(n int) {
	kc.length.Set(float64(n))
}

func (kc *KeyChainCollector) ForkDetected() {
	kc.forks.Inc()
}
