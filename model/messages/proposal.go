package messages

import (
	"fmt"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/keychain"
)

// ProposalKind is the kind of decision elders sign.
type ProposalKind uint8

const (
	// ProposalOnline admits a node.
	ProposalOnline ProposalKind = iota + 1
	// ProposalOffline removes a node.
	ProposalOffline
	// ProposalRelocate moves a node to another section.
	ProposalRelocate
	// ProposalSectionKey links a new section key to the current one.
	ProposalSectionKey
)

func (k ProposalKind) String() string {
	switch k {
	case ProposalOnline:
		return "online"
	case ProposalOffline:
		return "offline"
	case ProposalRelocate:
		return "relocate"
	case ProposalSectionKey:
		return "section-key"
	default:
		return fmt.Sprintf("proposal(%d)", uint8(k))
	}
}

// Proposal is a decision elders agree on by threshold signature. Node proposals
// carry the node state, key proposals the prefix and key of the next link. The
// agreed signature is a valid node state signature or link signature.
type Proposal struct {
	Kind      ProposalKind
	NodeState overlay.NodeState
	Prefix    overlay.Prefix
	Key       crypto.PublicKey
}

// NodeProposal returns a proposal on a node state.
func NodeProposal(kind ProposalKind, state overlay.NodeState) Proposal {
	return Proposal{Kind: kind, NodeState: state}
}

// KeyProposal returns a proposal to link key for prefix.
func KeyProposal(prefix overlay.Prefix, key crypto.PublicKey) Proposal {
	return Proposal{Kind: ProposalSectionKey, Prefix: prefix, Key: key}
}

// IsNodeProposal returns true for proposals on node states.
func (p Proposal) IsNodeProposal() bool {
	return p.Kind == ProposalOnline || p.Kind == ProposalOffline || p.Kind == ProposalRelocate
}

// SigningBytes returns the bytes signed by the elders.
func (p Proposal) SigningBytes() []byte {
	if p.Kind == ProposalSectionKey {
		return keychain.LinkSigningBytes(p.Prefix, p.Key)
	}
	return p.NodeState.SigningBytes()
}

// ID identifies the proposal.
func (p Proposal) ID() overlay.Identifier {
	return overlay.HashToIdentifier([]byte{byte(p.Kind)}, p.SigningBytes())
}

func (p Proposal) String() string {
	if p.Kind == ProposalSectionKey {
		return fmt.Sprintf("%s %s %s", p.Kind, p.Prefix.LogString(), p.Key.TerminalString())
	}
	return fmt.Sprintf("%s %s", p.Kind, p.NodeState)
}

// ProposalShare is an elder's signature share over a proposal under the key set
// of SectionKey.
type ProposalShare struct {
	Proposal   Proposal
	SectionKey crypto.PublicKey
	Share      crypto.SignatureShare
}

// Agreement is an agreed proposal. It travels under a section authority whose
// signature is the aggregated proposal signature.
type Agreement struct {
	Proposal Proposal
}

// SigningBytes returns the proposal signing bytes.
func (a Agreement) SigningBytes() []byte {
	return a.Proposal.SigningBytes()
}
