package metrics

import (
	"time"

	"github.com/onflow/sectionnet/module"
)

type NoopCollector struct{}

var _ module.NodeMetrics = (*NoopCollector)(nil)

func NewNoopCollector() *NoopCollector {
	nc := &NoopCollector{}
	return nc
}

func (nc *NoopCollector) MessageSent(engine string, message string)                 {}
func (nc *NoopCollector) MessageReceived(engine string, message string)             {}
func (nc *NoopCollector) MessageHandled(engine string, message string)              {}
func (nc *NoopCollector) InboundMessageDropped(engine string, message string)       {}
func (nc *NoopCollector) OutboundMessageDropped(engine string, message string)      {}
func (nc *NoopCollector) NetworkMessageSent(sizeBytes int, channel string)          {}
func (nc *NoopCollector) NetworkMessageReceived(sizeBytes int, channel string)      {}
func (nc *NoopCollector) NetworkSendFailed(channel string)                          {}
func (nc *NoopCollector) DKGSessionStarted(prefix string)                           {}
func (nc *NoopCollector) DKGSessionCompleted(prefix string, duration time.Duration) {}
func (nc *NoopCollector) DKGSessionRetried(prefix string)                           {}
func (nc *NoopCollector) DKGSessionFailed(prefix string, reason string)             {}
func (nc *NoopCollector) KeyChainLength(n int)                                      {}
func (nc *NoopCollector) ForkDetected()                                             {}
func (nc *NoopCollector) EnvelopeAccepted(authority string)                         {}
func (nc *NoopCollector) EnvelopeRejected(reason string)                            {}
func (nc *NoopCollector) EnvelopeRouted(decision string)                            {}
func (nc *NoopCollector) DuplicateSuppressed()                                      {}
func (nc *NoopCollector) SectionSize(members, elders int)                           {}
func (nc *NoopCollector) KnownSections(n int)                                       {}
func (nc *NoopCollector) PrefixLength(n int)                                        {}
func (nc *NoopCollector) MembershipChanged(change string)                           {}
func (nc *NoopCollector) JoinRejected(reason string)                                {}
func (nc *NoopCollector) SectionSplit()                                             {}
func (nc *NoopCollector) ProposalAggregated(kind string)                            {}
func (nc *NoopCollector) InboundQueueLength(n int)                                  {}
