package section

import (
	"fmt"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/membership"
	"github.com/onflow/sectionnet/module/metrics"
)

// propose signs a proposal with our key share and sends the share to the
// other elders. Every proposal is signed at most once per section key.
func (e *Engine) propose(p messages.Proposal) {
	if !e.isElder() {
		return
	}
	id := p.ID()
	if _, ok := e.proposed[id]; ok {
		return
	}
	if _, ok := e.voted[id]; ok {
		return
	}
	e.proposed[id] = struct{}{}

	share, err := e.signer.SignBytes(p.SigningBytes())
	if err != nil {
		e.log.Error().Err(err).Str("proposal", p.String()).Msg("could not sign proposal")
		return
	}
	e.log.Debug().Str("proposal", p.String()).Msg("signing proposal")
	msg := &messages.ProposalShare{
		Proposal:   p,
		SectionKey: e.signer.Keys().PublicKey(),
		Share:      share,
	}
	e.sendToPeers(e.toOurSection(), e.otherElders(), msg)
	e.addShare(p, share)
}

func (e *Engine) addShare(p messages.Proposal, share crypto.SignatureShare) {
	sig, done, err := e.votes.AddVerified(e.signer.Keys(), p.SigningBytes(), share)
	if err != nil {
		e.log.Debug().Err(err).Str("proposal", p.String()).Msg("dropping proposal share")
		return
	}
	if done {
		e.onAgreed(p, sig)
	}
}

// onProposalShare adds the share of another elder, and co-signs the proposal
// if our own view of the section supports it.
func (e *Engine) onProposalShare(m message, ps *messages.ProposalShare) {
	name := messageName(ps)
	if m.local() || !e.isElder() {
		e.metrics.InboundMessageDropped(metrics.EngineSection, name)
		return
	}
	info := e.section.Info().Info
	if ps.SectionKey != info.Key() || m.shareKey != ps.SectionKey {
		e.log.Debug().Str("section_key", ps.SectionKey.TerminalString()).Msg("dropping proposal share under another key")
		e.metrics.InboundMessageDropped(metrics.EngineSection, name)
		return
	}
	index, ok := info.ElderIndex(m.source)
	shareIndex, err := ps.Share.Index()
	if !ok || err != nil || index != shareIndex {
		e.log.Warn().Hex("sender", m.source[:]).Msg("dropping proposal share of another signer")
		e.metrics.InboundMessageDropped(metrics.EngineSection, name)
		return
	}

	id := ps.Proposal.ID()
	if _, ok := e.voted[id]; ok {
		return
	}
	e.addShare(ps.Proposal, ps.Share)

	if _, ok := e.voted[id]; ok {
		return
	}
	if _, ok := e.proposed[id]; ok {
		return
	}
	if err := e.checkProposal(ps.Proposal); err != nil {
		e.log.Debug().Err(err).Str("proposal", ps.Proposal.String()).Msg("not co-signing proposal")
		return
	}
	e.propose(ps.Proposal)
}

// checkProposal tells whether our view of the section supports a proposal.
func (e *Engine) checkProposal(p messages.Proposal) error {
	state := p.NodeState
	switch p.Kind {
	case messages.ProposalOnline:
		rec, ok := e.section.Member(state.Peer.ID)
		if !ok || rec.Role != overlay.RoleJoining {
			return fmt.Errorf("%s is not a join candidate", state.Peer.ID.TerminalString())
		}
		if state.State != overlay.StateJoined || state.Age != rec.Age || state.PreviousID != rec.PreviousID {
			return fmt.Errorf("state %s does not match the admitted candidate", state)
		}
	case messages.ProposalOffline:
		if state.State != overlay.StateLeft || !e.section.IsMember(state.Peer.ID) {
			return fmt.Errorf("%s is not a member", state.Peer.ID.TerminalString())
		}
		if !e.section.Excluded().Contains(state.Peer.ID) && !unresponsive(e.section, state.Peer.ID) {
			return fmt.Errorf("%s is responsive", state.Peer.ID.TerminalString())
		}
	case messages.ProposalRelocate:
		rec, ok := e.section.Member(state.Peer.ID)
		if !ok || rec.Role != overlay.RoleAdult {
			return fmt.Errorf("%s is not an adult", state.Peer.ID.TerminalString())
		}
		if state.State != overlay.StateRelocated || state.Age != relocatedAge(rec.Age) {
			return fmt.Errorf("state %s does not match the member", state)
		}
	case messages.ProposalSectionKey:
		info, ok := e.agreedInfos[p.Key]
		if !ok || info.Prefix() != p.Prefix {
			return fmt.Errorf("no agreed key generation for %s", p.Prefix.LogString())
		}
	default:
		return fmt.Errorf("unknown proposal kind %s", p.Kind)
	}
	return nil
}

func unresponsive(section *membership.Section, id overlay.Identifier) bool {
	for _, rec := range section.Unresponsive() {
		if rec.Peer.ID == id {
			return true
		}
	}
	return false
}

func relocatedAge(age uint8) uint8 {
	if age < ^uint8(0) {
		return age + 1
	}
	return age
}

// onAgreed handles a proposal whose signature we aggregated: the agreement is
// sent to the members and applied.
func (e *Engine) onAgreed(p messages.Proposal, sig crypto.Signature) {
	id := p.ID()
	if _, ok := e.voted[id]; ok {
		return
	}
	e.voted[id] = struct{}{}
	e.metrics.ProposalAggregated(p.Kind.String())
	e.log.Info().Str("proposal", p.String()).Msg("proposal agreed")

	e.sendSectionSigned(e.toOurSection(), e.section.Peers(), &messages.Agreement{Proposal: p}, sig)
	e.applyAgreement(p, sig)
}

// onAgreement applies an agreement sent by an elder of our section.
func (e *Engine) onAgreement(m message, a *messages.Agreement) {
	if m.local() || m.env.Authority.Kind != messages.AuthoritySection {
		e.metrics.InboundMessageDropped(metrics.EngineSection, messageName(a))
		return
	}
	if m.env.Authority.SectionKey != e.section.Info().Key() {
		e.log.Debug().Str("proposal", a.Proposal.String()).Msg("dropping agreement under another key")
		return
	}
	id := a.Proposal.ID()
	if _, ok := e.voted[id]; ok {
		return
	}
	e.voted[id] = struct{}{}
	e.applyAgreement(a.Proposal, m.env.Authority.Signature)
}

// applyAgreement applies an agreed proposal signed with sig by the current
// section key.
func (e *Engine) applyAgreement(p messages.Proposal, sig crypto.Signature) {
	if p.Kind == messages.ProposalSectionKey {
		e.onKeyAgreed(p, sig)
		return
	}

	signed := overlay.SignedNodeState{
		State:      p.NodeState,
		SectionKey: e.section.Info().Key(),
		Signature:  sig,
	}
	self := p.NodeState.Peer.ID == e.me.ID
	var (
		changed bool
		err     error
	)
	switch p.Kind {
	case messages.ProposalOnline:
		changed, err = e.section.ApplyOnline(signed)
	case messages.ProposalOffline:
		changed, err = e.section.ApplyOffline(signed)
	case messages.ProposalRelocate:
		changed, err = e.section.ApplyRelocated(signed)
	}
	if err != nil {
		e.log.Warn().Err(err).Str("proposal", p.String()).Msg("could not apply agreement")
		return
	}
	if !changed {
		return
	}
	e.metrics.MembershipChanged(p.Kind.String())
	e.log.Info().
		Str("change", p.Kind.String()).
		Str("node", p.NodeState.Peer.String()).
		Uint64("generation", e.section.Generation()).
		Msg("membership changed")

	switch p.Kind {
	case messages.ProposalOnline:
		if e.isElder() {
			e.approve(p.NodeState.Peer, signed)
		}
		e.afterChurn(sig)
	case messages.ProposalOffline:
		if self {
			e.rejoin()
			return
		}
		e.afterChurn(sig)
	case messages.ProposalRelocate:
		if self {
			e.relocateSelf(signed)
			return
		}
		e.maybeElderChange()
	}
	e.reportSection()
}

// afterChurn relocates a member when the churn signature picks one, and
// recomputes the elders.
func (e *Engine) afterChurn(sig crypto.Signature) {
	config := e.config.Membership
	if e.isElder() && config.RelocationEnabled && e.section.Len() > config.ElderSize && e.section.PendingSplit() == nil {
		for _, rec := range e.section.RelocationCandidates(sig) {
			e.propose(messages.NodeProposal(messages.ProposalRelocate, membership.RelocatedState(rec, sig)))
		}
	}
	e.maybeElderChange()
}

// rejoin joins the network again after our section voted us offline.
func (e *Engine) rejoin() {
	contacts := e.section.Elders()
	e.log.Warn().Msg("section voted us offline, joining again")
	e.leaveSection()
	e.startJoin(contacts)
}

func (e *Engine) leaveSection() {
	e.section = nil
	e.signer = nil
	e.election = nil
	e.proposed = make(map[overlay.Identifier]struct{})
	e.voted = make(map[overlay.Identifier]struct{})
	e.agreedInfos = make(map[crypto.PublicKey]overlay.SignedSectionInfo)
	e.starts = make(map[messages.DKGSessionID]*startRequest)
	e.votes.Prune()
	e.outcomes.Prune()
}

// maxKeyAttempts bounds the node keys generated when looking for one whose
// identifier falls into the relocation destination.
const maxKeyAttempts = 1 << 16

// relocateSelf hands the relocation agreed by our section over to the
// relocator. The node stops taking part in the protocol under its current
// identity.
func (e *Engine) relocateSelf(signed overlay.SignedNodeState) {
	defer func() {
		e.leaveSection()
		e.relocated = true
	}()
	dest := signed.State.RelocatedTo
	target, err := e.sections.Lookup(dest)
	if err != nil {
		target, err = e.sections.Closest(dest)
	}
	if err != nil {
		e.log.Error().Err(err).Msg("no known section for relocation destination")
		return
	}
	proof, err := e.chain.ProofTo(signed.SectionKey)
	if err != nil {
		e.log.Error().Err(err).Msg("could not build relocation proof")
		return
	}
	key, err := keyInPrefix(target.Prefix())
	if err != nil {
		e.log.Error().Err(err).Str("prefix", target.Prefix().LogString()).Msg("could not generate relocated identity")
		return
	}
	newID := overlay.IdentifierFromPublicKey(key.RawPublicKey())
	sig, err := e.key.Sign(messages.RelocationSigningBytes(newID))
	if err != nil {
		e.log.Error().Err(err).Msg("could not sign relocation")
		return
	}
	relocation := Relocation{
		NodeKey: key,
		Details: messages.RelocateDetails{
			State:       signed,
			Proof:       proof,
			PreviousKey: e.key.PublicKey(),
			Signature:   sig,
		},
		Destination: target,
	}
	e.log.Info().
		Str("destination", target.Prefix().LogString()).
		Str("new_id", newID.TerminalString()).
		Msg("relocated by section")
	if e.relocator != nil {
		e.relocator.Relocated(relocation)
	}
}

// keyInPrefix generates node keys until one has its identifier in prefix.
func keyInPrefix(prefix overlay.Prefix) (crypto.NodeKey, error) {
	for i := 0; i < maxKeyAttempts; i++ {
		key, err := crypto.GenerateNodeKey()
		if err != nil {
			return crypto.NodeKey{}, err
		}
		if prefix.Matches(overlay.IdentifierFromPublicKey(key.RawPublicKey())) {
			return key, nil
		}
	}
	return crypto.NodeKey{}, fmt.Errorf("no key in %s after %d attempts", prefix.LogString(), maxKeyAttempts)
}
