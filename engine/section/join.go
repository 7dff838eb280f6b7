package section

import (
	"errors"
	"fmt"

	"github.com/sethvargo/go-retry"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/keychain"
	"github.com/onflow/sectionnet/module/membership"
	"github.com/onflow/sectionnet/module/metrics"
)

// joinState is the progress of a node joining the network.
type joinState struct {
	targets       overlay.PeerList
	sectionKey    crypto.PublicKey
	resourceProof []byte
	backoff       retry.Backoff
	attempt       uint64
	redirects     int
	lastReason    string
}

// startJoin sends join requests to contacts, retrying with exponential backoff
// until a section approves us or the retries are exhausted.
func (e *Engine) startJoin(contacts overlay.PeerList) {
	targets := make(overlay.PeerList, 0, len(contacts))
	for _, c := range contacts {
		if c.ID != e.me.ID && !targets.Contains(c.ID) {
			targets = append(targets, c)
		}
	}
	if len(targets) == 0 {
		e.failJoin(ErrNoContacts)
		return
	}
	proof, err := e.prover.Prove(e.me.ID)
	if err != nil {
		e.failJoin(fmt.Errorf("could not compute resource proof: %w", err))
		return
	}

	backoff := retry.NewExponential(e.config.JoinTimeout)
	backoff = retry.WithCappedDuration(e.config.JoinTimeoutMax, backoff)
	backoff = retry.WithMaxRetries(e.config.JoinRetries, backoff)

	e.join = &joinState{
		targets:       targets,
		resourceProof: proof,
		backoff:       backoff,
	}
	e.log.Info().Int("contacts", len(targets)).Bool("relocated", e.config.Relocation != nil).Msg("joining network")
	e.sendJoinRequest()
	e.timers.after(e.config.JoinTimeout, joinTimerEvent{attempt: 0})
}

func (e *Engine) sendJoinRequest() {
	j := e.join
	req := &messages.JoinRequest{
		Peer:          e.me,
		NodeKey:       e.key.PublicKey(),
		SectionKey:    j.sectionKey,
		ResourceProof: j.resourceProof,
		Relocation:    e.config.Relocation,
	}
	e.sendToPeers(messages.Destination{Kind: messages.ToSection, Name: e.me.ID}, j.targets, req)
}

func (e *Engine) onJoinTimer(ev joinTimerEvent) {
	j := e.join
	if j == nil || ev.attempt != j.attempt {
		return
	}
	delay, stop := j.backoff.Next()
	if stop {
		err := fmt.Errorf("%w after %d attempts", ErrJoinFailed, j.attempt+1)
		if j.lastReason != "" {
			err = fmt.Errorf("%w after %d attempts, last rejection: %s", ErrJoinFailed, j.attempt+1, j.lastReason)
		}
		e.failJoin(err)
		return
	}
	j.attempt++
	e.log.Debug().Uint64("attempt", j.attempt).Dur("next_retry", delay).Msg("retrying join")
	e.sendJoinRequest()
	e.timers.after(delay, joinTimerEvent{attempt: j.attempt})
}

func (e *Engine) failJoin(err error) {
	e.join = nil
	e.log.Error().Err(err).Msg("could not join network")
	e.markJoined(err)
}

func (e *Engine) onJoinResponse(m message, resp *messages.JoinResponse) {
	j := e.join
	if j == nil || m.local() {
		return
	}
	switch resp.Status {
	case messages.JoinRejected:
		j.lastReason = resp.Reason
		e.log.Warn().Hex("elder", m.source[:]).Str("reason", resp.Reason).Msg("join request rejected")
	case messages.JoinRedirect:
		e.onJoinRedirect(j, resp)
	case messages.JoinApproved:
		e.onJoinApproved(resp)
	}
}

func (e *Engine) onJoinRedirect(j *joinState, resp *messages.JoinResponse) {
	if j.redirects >= e.config.MaxRedirects {
		e.log.Warn().Int("redirects", j.redirects).Msg("ignoring join redirect, too many redirects")
		return
	}
	if err := e.trustSection(resp.Section, resp.Proof); err != nil {
		e.log.Warn().Err(err).Msg("ignoring join redirect to untrusted section")
		return
	}
	elders := resp.Section.Info.Elders
	if len(elders) == 0 || sameTargets(j.targets, elders) {
		return
	}
	j.redirects++
	j.targets = elders
	j.sectionKey = resp.Section.Key()
	e.log.Debug().Str("prefix", resp.Section.Prefix().LogString()).Msg("join redirected")
	e.sendJoinRequest()
}

func sameTargets(a, b overlay.PeerList) bool {
	if len(a) != len(b) {
		return false
	}
	for _, p := range b {
		if !a.Contains(p.ID) {
			return false
		}
	}
	return true
}

func (e *Engine) onJoinApproved(resp *messages.JoinResponse) {
	state := resp.NodeState
	if state.State.Peer.ID != e.me.ID || state.State.State != overlay.StateJoined {
		e.log.Warn().Str("state", state.State.String()).Msg("ignoring approval for another node state")
		return
	}
	info := resp.Section
	if !info.Prefix().Matches(e.me.ID) {
		e.log.Warn().Str("prefix", info.Prefix().LogString()).Msg("ignoring approval from a section not covering us")
		return
	}
	if err := e.trustSection(info, resp.Proof); err != nil {
		e.log.Warn().Err(err).Msg("ignoring approval from untrusted section")
		return
	}
	if !e.chain.HasAncestor(info.Key(), state.SectionKey) {
		e.log.Warn().Msg("ignoring approval signed by a key outside the section lineage")
		return
	}

	members := make([]overlay.SignedNodeState, 0, len(resp.Members)+1)
	own := false
	for _, st := range resp.Members {
		if st.State.State != overlay.StateJoined || !info.Prefix().Matches(st.State.Peer.ID) {
			continue
		}
		if !e.chain.HasAncestor(info.Key(), st.SectionKey) {
			continue
		}
		own = own || st.State.Peer.ID == e.me.ID
		members = append(members, st)
	}
	if !own {
		members = append(members, state)
	}
	section, err := membership.NewSection(e.config.Membership, e.prover, info, members)
	if err != nil {
		e.log.Warn().Err(err).Msg("could not build section from approval")
		return
	}
	section.Advance(resp.Generation)
	if err := e.becomeMember(section); err != nil {
		e.throw(err)
	}
}

// trustSection roots the key chain at the proof of a section when the node
// trusts no key yet, merges the proof, and stores the section. It fails if the
// section key is not trusted afterwards.
func (e *Engine) trustSection(info overlay.SignedSectionInfo, proof []keychain.Link) error {
	if e.chain == nil {
		genesis := info.Key()
		if len(proof) > 0 {
			genesis = proof[0].ParentKey
		}
		e.trust(genesis)
	}
	if !e.chain.IsTrusted(info.Key()) && len(proof) > 0 {
		if err := e.mergeProof(proof); err != nil {
			return err
		}
	}
	if !e.chain.IsTrusted(info.Key()) {
		return fmt.Errorf("section key %s: %w", info.Key().TerminalString(), keychain.ErrStaleKey)
	}
	_, err := e.insertSection(info)
	return err
}

// mergeProof merges a key chain segment and persists the trusted links.
func (e *Engine) mergeProof(proof []keychain.Link) error {
	err := e.chain.Merge(proof)
	if fork, ok := keychain.IsForkError(err); ok {
		e.metrics.ForkDetected()
		e.log.Error().Err(fork).Msg("key chain fork detected")
		err = nil
	}
	if err != nil {
		return err
	}
	for _, link := range proof {
		if !e.chain.IsTrusted(link.Key) {
			continue
		}
		if err := e.store.Links.Store(link); err != nil {
			e.throw(fmt.Errorf("could not store link: %w", err))
			return err
		}
	}
	e.metrics.KeyChainLength(e.chain.Len())
	return nil
}

// handleJoinRequest answers a join candidate: elders of the section covering
// it admit it and propose it online, everyone else redirects it.
func (e *Engine) handleJoinRequest(m message, req *messages.JoinRequest) {
	if e.section == nil || m.local() {
		return
	}
	candidate := req.Peer
	if m.env.Authority.Kind != messages.AuthorityNode || m.source != candidate.ID {
		e.metrics.InboundMessageDropped(metrics.EngineSection, messageName(req))
		return
	}
	info := e.section.Info()
	if !e.section.Prefix().Matches(candidate.ID) {
		target, err := e.sections.Closest(candidate.ID)
		if err != nil {
			target = info
		}
		e.redirect(candidate, target)
		return
	}
	if !e.isElder() {
		e.redirect(candidate, info)
		return
	}

	age := e.config.Membership.JoinAge
	var previous overlay.Identifier
	if rel := req.Relocation; rel != nil {
		if err := e.checkRelocation(rel); err != nil {
			e.log.Warn().Err(err).Str("candidate", candidate.String()).Msg("rejecting relocated candidate")
			e.reject(candidate, "invalid_relocation")
			return
		}
		age = rel.Age()
		previous = rel.State.State.Peer.ID
	}

	rec, known := e.section.Member(candidate.ID)
	err := e.section.Admit(membership.JoinCandidate{
		Peer:          candidate,
		Age:           age,
		PreviousID:    previous,
		ResourceProof: req.ResourceProof,
	})
	switch {
	case errors.Is(err, membership.ErrAlreadyMember):
		e.approve(candidate, rec.Proof)
		return
	case err != nil:
		e.log.Debug().Err(err).Str("candidate", candidate.String()).Msg("rejecting candidate")
		e.reject(candidate, rejectionReason(err))
		return
	}
	if !known {
		e.log.Info().Str("candidate", candidate.String()).Uint8("age", age).Msg("admitted join candidate")
		// the other elders must admit the candidate too before co-signing its proposal
		e.multicastEnvelope(m.env, e.otherElders(), messageName(req))
		e.timers.after(e.config.JoinTimeoutMax, admissionTimerEvent{candidate: candidate.ID, key: info.Key()})
	}
	rec, _ = e.section.Member(candidate.ID)
	e.propose(messages.NodeProposal(messages.ProposalOnline, overlay.NodeState{
		Peer:       candidate,
		Age:        rec.Age,
		State:      overlay.StateJoined,
		PreviousID: rec.PreviousID,
	}))
}

// onAdmissionTimer forgets a candidate whose admission was not agreed in time.
// Candidates admitted under an earlier key were forgotten when the key changed.
func (e *Engine) onAdmissionTimer(ev admissionTimerEvent) {
	if e.section == nil || e.section.Info().Key() != ev.key {
		return
	}
	if e.section.Forget(ev.candidate) {
		e.log.Debug().Hex("candidate", ev.candidate[:]).Msg("forgot join candidate whose admission was not agreed")
	}
}

func (e *Engine) multicastEnvelope(env *messages.Envelope, peers overlay.PeerList, name string) {
	if len(peers) == 0 {
		return
	}
	e.multicast(env, peers, name)
}

// checkRelocation checks that the section the candidate is relocated from is
// trusted and chose our section as destination.
func (e *Engine) checkRelocation(rel *messages.RelocateDetails) error {
	state := rel.State.State
	if !e.section.Prefix().Matches(state.RelocatedTo) {
		return fmt.Errorf("relocated to %s, outside %s", state.RelocatedTo.TerminalString(), e.section.Prefix().LogString())
	}
	if len(rel.Proof) > 0 && !e.chain.IsTrusted(rel.State.SectionKey) {
		if err := e.mergeProof(rel.Proof); err != nil {
			return err
		}
	}
	return e.chain.VerifyAuthority(rel.State.SectionKey, rel.Proof)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, membership.ErrSectionFull):
		return "section_full"
	case errors.Is(err, membership.ErrResourceProofFailed):
		return "resource_proof"
	case errors.Is(err, membership.ErrWrongSection):
		return "wrong_section"
	default:
		return "invalid"
	}
}

func (e *Engine) reject(candidate overlay.Peer, reason string) {
	e.metrics.JoinRejected(reason)
	e.sendNode(candidate, &messages.JoinResponse{Status: messages.JoinRejected, Reason: reason})
}

func (e *Engine) redirect(candidate overlay.Peer, target overlay.SignedSectionInfo) {
	proof, err := e.chain.ProofTo(target.Key())
	if err != nil {
		e.log.Warn().Err(err).Str("prefix", target.Prefix().LogString()).Msg("could not build redirect proof")
		return
	}
	e.sendNode(candidate, &messages.JoinResponse{
		Status:  messages.JoinRedirect,
		Section: target,
		Proof:   proof,
	})
}

// approve sends the agreed state of a new member along with the section.
func (e *Engine) approve(candidate overlay.Peer, state overlay.SignedNodeState) {
	info := e.section.Info()
	proof, err := e.chain.ProofTo(info.Key())
	if err != nil {
		e.log.Warn().Err(err).Msg("could not build approval proof")
		return
	}
	e.sendNode(candidate, &messages.JoinResponse{
		Status:     messages.JoinApproved,
		Section:    info,
		Proof:      proof,
		NodeState:  state,
		Members:    e.section.NodeStates(),
		Generation: e.section.Generation(),
	})
}
