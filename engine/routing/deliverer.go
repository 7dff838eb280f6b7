package routing

import (
	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
)

// Delivery is a validated envelope addressed to this node or its section.
type Delivery struct {
	Envelope *messages.Envelope
	Payload  interface{}
	// Sender is the node or section name the envelope originates from.
	Sender overlay.Identifier
	// Section is the prefix of the sending section.
	Section   overlay.Prefix
	Authority messages.AuthorityKind
}

// Deliverer receives payloads the overlay does not handle itself, such as user
// messages for the data layer.
type Deliverer interface {
	Deliver(delivery Delivery)
}

// NewDelivery returns the delivery of a verified envelope.
func NewDelivery(verified *Verified) Delivery {
	env := verified.Envelope
	return Delivery{
		Envelope:  env,
		Payload:   verified.Payload,
		Sender:    env.Source,
		Section:   env.SourcePrefix,
		Authority: env.Authority.Kind,
	}
}
