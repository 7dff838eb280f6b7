package messages

import (
	"fmt"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/overlay"
)

// DKGSessionID identifies a key generation session. A session is bound to the
// prefix and generation of the membership event that triggered it. Retries
// within the generation bump Attempt and usually shrink the participants.
type DKGSessionID struct {
	Prefix       overlay.Prefix
	Generation   uint64
	Attempt      uint32
	Participants overlay.Identifier
}

// NewDKGSessionID derives the id of a session over the given participants.
func NewDKGSessionID(prefix overlay.Prefix, generation uint64, attempt uint32, participants overlay.PeerList) DKGSessionID {
	return DKGSessionID{
		Prefix:       prefix,
		Generation:   generation,
		Attempt:      attempt,
		Participants: participants.IDs().Fingerprint(),
	}
}

func (id DKGSessionID) String() string {
	return fmt.Sprintf("%s/%d/%d/%s", id.Prefix.LogString(), id.Generation, id.Attempt, id.Participants.TerminalString())
}

// DKGMessageKind is the round a DKG message belongs to.
type DKGMessageKind uint8

const (
	// DKGCommitment is broadcast by a dealer with its polynomial commitment.
	DKGCommitment DKGMessageKind = iota + 1
	// DKGShare is sent privately by a dealer to each participant.
	DKGShare
	// DKGAck is broadcast once all shares verified.
	DKGAck
)

func (k DKGMessageKind) String() string {
	switch k {
	case DKGCommitment:
		return "commitment"
	case DKGShare:
		return "share"
	case DKGAck:
		return "ack"
	default:
		return fmt.Sprintf("dkg-kind(%d)", uint8(k))
	}
}

// DKGMessage is a round message of a DKG session. Sender is the index of the
// sender in the ordered participant list.
type DKGMessage struct {
	Session     DKGSessionID
	Sender      uint16
	Kind        DKGMessageKind
	Commitments crypto.PublicKeySet
	Share       []byte
	Digest      overlay.Identifier
}

// DKGStart is sent by a current elder to every participant of a key
// generation for the next elders of Prefix. Participants start the session
// once a supermajority of the current elders asked for it.
type DKGStart struct {
	Session      DKGSessionID
	Participants overlay.PeerList
	// SectionKey is the current key of the requesting section.
	SectionKey crypto.PublicKey
}

// DKGOutcome is sent by a participant of a completed session to the current
// elders. Share is a share of the new key over the new section info.
type DKGOutcome struct {
	Session DKGSessionID
	Info    overlay.SectionInfo
	Share   crypto.SignatureShare
}
