package messages

import (
	"fmt"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/encoding"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/keychain"
)

// JoinRequest is sent by a candidate to the elders of the section it wants to join.
type JoinRequest struct {
	Peer overlay.Peer
	// NodeKey is the encoded node public key the candidate identifier derives from.
	NodeKey []byte
	// SectionKey is the key the candidate believes the section holds.
	SectionKey    crypto.PublicKey
	ResourceProof []byte
	Relocation    *RelocateDetails
}

// JoinStatus is the outcome of a join request.
type JoinStatus uint8

const (
	// JoinApproved means the section agreed on the candidate.
	JoinApproved JoinStatus = iota + 1
	// JoinRedirect means the candidate asked the wrong section. Section names
	// the closest section known to the responder.
	JoinRedirect
	// JoinRejected means the candidate was not admitted. Reason says why.
	JoinRejected
)

func (s JoinStatus) String() string {
	switch s {
	case JoinApproved:
		return "approved"
	case JoinRedirect:
		return "redirect"
	case JoinRejected:
		return "rejected"
	default:
		return fmt.Sprintf("join-status(%d)", uint8(s))
	}
}

// JoinResponse answers a join request.
type JoinResponse struct {
	Status  JoinStatus
	Reason  string
	Section overlay.SignedSectionInfo
	// Proof links the genesis key to the section key.
	Proof []keychain.Link
	// NodeState is the agreed state of the candidate, for approved joins.
	NodeState overlay.SignedNodeState
	Members   []overlay.SignedNodeState
	// Generation is the membership generation of the responding elder. The
	// joining node starts counting agreed changes from it.
	Generation uint64
}

// RelocateDetails is the credential a relocated node presents to its
// destination. State is the relocated node state signed by the source section,
// Proof links a key the destination trusts to the signing key, and Signature
// is a signature of the previous node key over the new identifier.
type RelocateDetails struct {
	State       overlay.SignedNodeState
	Proof       []keychain.Link
	PreviousKey []byte
	Signature   crypto.Signature
}

// RelocationSigningBytes returns the bytes the previous node key signs to hand
// its age over to newID.
func RelocationSigningBytes(newID overlay.Identifier) []byte {
	return encoding.Tagged(encoding.RelocateTag, newID[:])
}

// Verify checks the internal consistency of the credential for a node joining
// as newID: the source section signature, the relocated state, and that the
// previous node key owns the previous identifier and signed newID. Whether the
// source section key is trusted is left to the caller.
func (r RelocateDetails) Verify(newID overlay.Identifier) error {
	state := r.State.State
	if state.State != overlay.StateRelocated {
		return fmt.Errorf("node state is %s, not relocated", state.State)
	}
	if err := r.State.Verify(); err != nil {
		return fmt.Errorf("relocated state: %w", err)
	}
	raw, err := crypto.VerifyNodeSignature(r.PreviousKey, RelocationSigningBytes(newID), r.Signature)
	if err != nil {
		return fmt.Errorf("previous node signature: %w", err)
	}
	if overlay.IdentifierFromPublicKey(raw) != state.Peer.ID {
		return fmt.Errorf("previous node key does not match relocated node %s", state.Peer.ID.TerminalString())
	}
	return nil
}

// Age returns the age the relocated node joins with.
func (r RelocateDetails) Age() uint8 {
	return r.State.State.Age
}
