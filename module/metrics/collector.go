package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/onflow/sectionnet/module"
)

// Collector bundles the collectors of a node.
type Collector struct {
	*EngineCollector
	*NetworkCollector
	*DKGCollector
	*KeyChainCollector
	*RoutingCollector
	*SectionCollector
}

var _ module.NodeMetrics = (*Collector)(nil)

// NewCollector registers every collector with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	return &Collector{
		EngineCollector:   NewEngineCollector(reg),
		NetworkCollector:  NewNetworkCollector(reg),
		DKGCollector:      NewDKGCollector(reg),
		KeyChainCollector: NewKeyChainCollector(reg),
		RoutingCollector:  NewRoutingCollector(reg),
		SectionCollector:  NewSectionCollector(reg),
	}
}
