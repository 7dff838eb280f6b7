package section

import (
	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/engine/routing"
	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/dkg"
)

// inboundEvent is an envelope received from the network, not verified yet.
type inboundEvent struct {
	origin overlay.Identifier
	env    *messages.Envelope
}

// verifiedEvent is the result of verifying an inbound envelope on the worker
// pool. Results are applied in the order the envelopes were received.
type verifiedEvent struct {
	seq      uint64
	origin   overlay.Identifier
	verified *routing.Verified
	// shareKey is the section key a proposal share was verified against.
	shareKey crypto.PublicKey
	// shareVerified is set for DKG outcomes whose share verified against the outcome key set.
	shareVerified bool
	err           error
}

// localEvent carries a payload the node addresses to itself.
type localEvent struct {
	payload interface{}
}

type dkgTimerEvent struct {
	timer dkg.Timer
}

type joinTimerEvent struct {
	attempt uint64
}

// admissionTimerEvent fires when the admission of a candidate under key
// should have been agreed.
type admissionTimerEvent struct {
	candidate overlay.Identifier
	key       crypto.PublicKey
}

type heartbeatEvent struct{}

type syncEvent struct{}

type sendEvent struct {
	dest messages.Destination
	data []byte
	done chan error
}

// message is a payload ready for the protocol handlers. env is nil for local
// payloads, whose source is the node itself.
type message struct {
	source        overlay.Identifier
	env           *messages.Envelope
	payload       interface{}
	shareKey      crypto.PublicKey
	shareVerified bool
}

func (m message) local() bool {
	return m.env == nil
}
