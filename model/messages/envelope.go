package messages

import (
	"fmt"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/encoding"
	"github.com/onflow/sectionnet/model/encoding/cbor"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/keychain"
)

// AuthorityKind tells who vouches for an envelope.
type AuthorityKind uint8

const (
	// AuthorityNode envelopes are signed by the node key of their source.
	AuthorityNode AuthorityKind = iota + 1
	// AuthoritySection envelopes carry a payload signed by a section key.
	AuthoritySection
)

func (k AuthorityKind) String() string {
	switch k {
	case AuthorityNode:
		return "node"
	case AuthoritySection:
		return "section"
	default:
		return fmt.Sprintf("authority(%d)", uint8(k))
	}
}

// Authority is the proof attached to an envelope.
//
// A node authority holds the encoded node public key of the source and its
// signature over the envelope body. A section authority holds the section key,
// its signature over the payload's own signing bytes and, when the receiver may
// not know the key yet, a segment of the key chain linking it to a known key.
type Authority struct {
	Kind       AuthorityKind
	NodeKey    []byte
	SectionKey crypto.PublicKey
	Proof      []keychain.Link
	Signature  crypto.Signature
}

// DestinationKind is the addressing mode of an envelope.
type DestinationKind uint8

const (
	// ToNode addresses one node by identifier.
	ToNode DestinationKind = iota + 1
	// ToSection addresses whichever section covers the name.
	ToSection
)

// Destination is where an envelope is routed to.
type Destination struct {
	Kind DestinationKind
	Name overlay.Identifier
}

func (d Destination) String() string {
	if d.Kind == ToSection {
		return "section:" + d.Name.TerminalString()
	}
	return "node:" + d.Name.TerminalString()
}

// Envelope is the unit exchanged between nodes. Payload is a codec encoded
// message, the leading byte being its message code.
type Envelope struct {
	ID           overlay.Identifier
	Source       overlay.Identifier
	SourcePrefix overlay.Prefix
	Destination  Destination
	// Hops counts the nodes that forwarded the envelope. It is not signed.
	Hops      uint16
	Payload   []byte
	Authority Authority
}

type envelopeBody struct {
	ID           overlay.Identifier
	Source       overlay.Identifier
	SourcePrefix overlay.Prefix
	Destination  Destination
	Payload      []byte
}

// SigningBytes returns the bytes signed by a node authority.
func (e *Envelope) SigningBytes() []byte {
	return cbor.SigningBytes(encoding.EnvelopeTag, envelopeBody{
		ID:           e.ID,
		Source:       e.Source,
		SourcePrefix: e.SourcePrefix,
		Destination:  e.Destination,
		Payload:      e.Payload,
	})
}

func (e *Envelope) String() string {
	return fmt.Sprintf("envelope %s from %s%s to %s (%s authority)",
		e.ID.TerminalString(), e.SourcePrefix.LogString(), e.Source.TerminalString(), e.Destination, e.Authority.Kind)
}

// SectionSignable is implemented by payloads that can travel under a section
// authority. The section signature is checked over SigningBytes.
type SectionSignable interface {
	SigningBytes() []byte
}
