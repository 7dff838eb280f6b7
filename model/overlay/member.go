package overlay

import (
	"fmt"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/encoding"
	"github.com/onflow/sectionnet/model/encoding/cbor"
)

// Role is the role of a member within its section.
type Role uint8

const (
	// RoleJoining is a candidate admitted by an elder but not yet agreed by the section.
	RoleJoining Role = iota + 1
	// RoleAdult is an agreed member without key share.
	RoleAdult
	// RoleElder is a member holding a share of the section key.
	RoleElder
	// RoleLeaving is a member that went offline or is being relocated.
	RoleLeaving
)

func (r Role) String() string {
	switch r {
	case RoleJoining:
		return "joining"
	case RoleAdult:
		return "adult"
	case RoleElder:
		return "elder"
	case RoleLeaving:
		return "leaving"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Valid returns true for the defined roles.
func (r Role) Valid() bool {
	return r >= RoleJoining && r <= RoleLeaving
}

// CanTransition returns true if a member with role r may move to role to.
// Leaving is terminal.
func (r Role) CanTransition(to Role) bool {
	switch r {
	case RoleJoining:
		return to == RoleAdult || to == RoleLeaving
	case RoleAdult:
		return to == RoleElder || to == RoleLeaving
	case RoleElder:
		return to == RoleAdult || to == RoleLeaving
	default:
		return false
	}
}

// MembershipState is the section-agreed state of a node.
type MembershipState uint8

const (
	StateJoined MembershipState = iota + 1
	StateLeft
	StateRelocated
)

func (s MembershipState) String() string {
	switch s {
	case StateJoined:
		return "joined"
	case StateLeft:
		return "left"
	case StateRelocated:
		return "relocated"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// NodeState is the membership state of a node as agreed by its section.
// PreviousID is set for nodes that joined through relocation. RelocatedTo is the
// destination name of a relocated node.
type NodeState struct {
	Peer        Peer
	Age         uint8
	State       MembershipState
	PreviousID  Identifier
	RelocatedTo Identifier
}

// SigningBytes returns the bytes signed by the section to agree on the state.
func (n NodeState) SigningBytes() []byte {
	return cbor.SigningBytes(encoding.NodeStateTag, n)
}

func (n NodeState) String() string {
	return fmt.Sprintf("%s age=%d %s", n.Peer, n.Age, n.State)
}

// SignedNodeState is a node state signed by a section key.
type SignedNodeState struct {
	State      NodeState
	SectionKey crypto.PublicKey
	Signature  crypto.Signature
}

// Verify checks the signature under the claimed section key. Whether that key
// is trusted is for the caller to decide.
func (s SignedNodeState) Verify() error {
	return s.SectionKey.Verify(s.Signature, s.State.SigningBytes())
}

// MembershipRecord is the local view of a section member.
type MembershipRecord struct {
	Peer       Peer
	Age        uint8
	Role       Role
	LastSeen   uint64
	PreviousID Identifier
	// Proof is the agreed state that admitted the member. Unset for joining candidates.
	Proof SignedNodeState
}

// ID returns the member identifier.
func (m MembershipRecord) ID() Identifier {
	return m.Peer.ID
}
