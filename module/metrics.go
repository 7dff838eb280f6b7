package module

import (
	"time"
)

type EngineMetrics interface {
	// MessageSent reports that the engine transmitted the message over the network.
	// Unicasts and multicasts are reported once.
	MessageSent(engine string, message string)
	// MessageReceived reports that the engine received the message over the network.
	MessageReceived(engine string, message string)
	// MessageHandled reports that the engine has finished processing the message.
	// A message must be reported as either handled or dropped, not both.
	MessageHandled(engine string, message string)
	// InboundMessageDropped reports that the engine has dropped inbound message without processing it.
	InboundMessageDropped(engine string, message string)
	// OutboundMessageDropped reports that the engine has dropped outbound message without sending it.
	OutboundMessageDropped(engine string, message string)
}

// NetworkMetrics tracks traffic at the transport boundary.
type NetworkMetrics interface {
	// NetworkMessageSent tracks the size of an outbound message per channel.
	NetworkMessageSent(sizeBytes int, channel string)
	// NetworkMessageReceived tracks the size of an inbound message per channel.
	NetworkMessageReceived(sizeBytes int, channel string)
	// NetworkSendFailed tracks failed deliveries per channel.
	NetworkSendFailed(channel string)
}

// DKGMetrics tracks distributed key generation sessions.
type DKGMetrics interface {
	// DKGSessionStarted is called for every started attempt.
	DKGSessionStarted(prefix string)
	// DKGSessionCompleted is called once per completed session with its duration.
	DKGSessionCompleted(prefix string, duration time.Duration)
	// DKGSessionRetried is called when a failed attempt is restarted.
	DKGSessionRetried(prefix string)
	// DKGSessionFailed is called when a session is given up or superseded.
	DKGSessionFailed(prefix string, reason string)
}

// KeyChainMetrics tracks the section key chain.
type KeyChainMetrics interface {
	// KeyChainLength tracks the number of keys in the chain.
	KeyChainLength(n int)
	// ForkDetected is called for every detected fork.
	ForkDetected()
}

// RoutingMetrics tracks validation and routing of envelopes.
type RoutingMetrics interface {
	// EnvelopeAccepted is called for every envelope passing validation.
	EnvelopeAccepted(authority string)
	// EnvelopeRejected is called for every dropped envelope with the reason.
	EnvelopeRejected(reason string)
	// EnvelopeRouted tracks routing decisions: local delivery or next hop.
	EnvelopeRouted(decision string)
	// DuplicateSuppressed is called when an envelope was already seen.
	DuplicateSuppressed()
}

// SectionMetrics tracks the membership of the local section.
type SectionMetrics interface {
	// SectionSize tracks the number of members and elders.
	SectionSize(members, elders int)
	// KnownSections tracks the size of the prefix map.
	KnownSections(n int)
	// PrefixLength tracks the length of the local prefix.
	PrefixLength(n int)
	// MembershipChanged is called for every agreed membership change.
	MembershipChanged(change string)
	// JoinRejected is called for every rejected join request with the reason.
	JoinRejected(reason string)
	// SectionSplit is called when the local section commits a split.
	SectionSplit()
	// ProposalAggregated is called for every proposal reaching agreement.
	ProposalAggregated(kind string)
	// InboundQueueLength tracks the length of the engine event queue.
	InboundQueueLength(n int)
}

// NodeMetrics is the union of the metrics of a node.
type NodeMetrics interface {
	EngineMetrics
	NetworkMetrics
	DKGMetrics
	KeyChainMetrics
	RoutingMetrics
	SectionMetrics
}
