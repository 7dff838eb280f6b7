package section

import (
	"errors"
	"fmt"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/dkg"
	"github.com/onflow/sectionnet/module/keychain"
	"github.com/onflow/sectionnet/module/membership"
	"github.com/onflow/sectionnet/storage"
)

// maybeElderChange computes the elders the section should move to at the
// current generation and asks their members to generate the next key. Two
// candidates mean a split.
func (e *Engine) maybeElderChange() {
	if !e.isElder() {
		return
	}
	generation := e.section.Generation()
	if e.election != nil && e.election.generation == generation {
		return
	}
	candidates := e.section.PromoteAndDemote(nil)
	if len(candidates) == 0 {
		return
	}
	e.election = &election{
		generation: generation,
		candidates: candidates,
		proposed:   make(map[overlay.Prefix]struct{}),
	}
	if len(candidates) == 2 {
		split := membership.Split{Parent: e.section.Prefix(), Children: [2]membership.Candidate{candidates[0], candidates[1]}}
		if err := e.section.StartSplit(generation, split); err != nil {
			e.log.Warn().Err(err).Msg("could not start split")
			return
		}
	}

	key := e.section.Info().Key()
	for _, c := range candidates {
		start := &messages.DKGStart{
			Session:      messages.NewDKGSessionID(c.Prefix, generation, 0, c.Elders),
			Participants: c.Elders,
			SectionKey:   key,
		}
		e.log.Info().
			Str("prefix", c.Prefix.LogString()).
			Uint64("generation", generation).
			Strs("elders", c.Elders.IDs().Strings()).
			Msg("requesting key generation for new elders")
		for _, p := range c.Elders {
			e.sendNode(p, start)
		}
	}
}

// onDKGStart starts a key generation once a supermajority of the current
// elders asked for it.
func (e *Engine) onDKGStart(m message, start *messages.DKGStart) {
	info := e.section.Info().Info
	if start.SectionKey != info.Key() {
		e.log.Debug().Str("session", start.Session.String()).Msg("dropping dkg start under another key")
		return
	}
	if !info.IsElder(m.source) || !start.Participants.Contains(e.me.ID) {
		return
	}
	id := messages.NewDKGSessionID(start.Session.Prefix, start.Session.Generation, 0, start.Participants)
	if id != start.Session {
		e.log.Warn().Str("session", start.Session.String()).Msg("dropping dkg start with inconsistent session")
		return
	}
	req, ok := e.starts[id]
	if !ok {
		req = &startRequest{
			msg:     start,
			elders:  info.Elders,
			askedBy: make(map[overlay.Identifier]struct{}),
		}
		e.starts[id] = req
	}
	req.askedBy[m.source] = struct{}{}
	if req.started || len(req.askedBy) < crypto.Threshold(len(req.elders)) {
		return
	}
	req.started = true
	if _, err := e.coordinator.Start(id.Prefix, id.Generation, start.Participants); err != nil {
		if errors.Is(err, dkg.ErrDuplicateSession) || errors.Is(err, dkg.ErrStaleSession) {
			e.log.Debug().Err(err).Str("session", id.String()).Msg("not starting key generation")
			return
		}
		e.log.Warn().Err(err).Str("session", id.String()).Msg("could not start key generation")
	}
}

func (e *Engine) onDKGMessage(m message, msg *messages.DKGMessage) {
	if err := e.coordinator.Handle(m.source, *msg); err != nil {
		e.log.Debug().Err(err).Str("session", msg.Session.String()).Msg("dropping dkg message")
	}
}

// broker sends the round messages of the coordinator as node envelopes.
type broker struct {
	e *Engine
}

func (b *broker) PrivateSend(to overlay.Peer, msg messages.DKGMessage) {
	b.e.sendNode(to, &msg)
}

func (b *broker) Broadcast(to overlay.PeerList, msg messages.DKGMessage) {
	for _, p := range to {
		b.e.sendNode(p, &msg)
	}
}

// consumer feeds the results of the coordinator back into the engine.
type consumer struct {
	e *Engine
}

func (c *consumer) OnComplete(outcome dkg.Outcome) { c.e.onDKGComplete(outcome) }
func (c *consumer) OnFailure(failure dkg.Failure)  { c.e.onDKGFailure(failure) }

// onDKGComplete stores our share of the new key and sends our signature share
// over the new section info to the elders that asked for it.
func (e *Engine) onDKGComplete(outcome dkg.Outcome) {
	var req *startRequest
	for id, r := range e.starts {
		if id.Prefix == outcome.Session.Prefix && id.Generation == outcome.Session.Generation {
			req = r
		}
	}
	if req == nil {
		e.log.Warn().Str("session", outcome.Session.String()).Msg("key generation completed without request")
		return
	}
	info := overlay.SectionInfo{
		Prefix:     outcome.Session.Prefix,
		Generation: outcome.Session.Generation,
		Elders:     outcome.Participants,
		KeySet:     outcome.KeySet,
	}
	key := info.Key()
	e.shares[key] = outcome.Share
	if err := e.store.Shares.Store(key, outcome.Share); err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		e.throw(fmt.Errorf("could not store key share: %w", err))
		return
	}
	share, err := outcome.Share.Sign(info.SigningBytes())
	if err != nil {
		e.log.Error().Err(err).Msg("could not sign new section info")
		return
	}
	e.log.Info().
		Str("prefix", info.Prefix.LogString()).
		Str("section_key", key.TerminalString()).
		Int("index", outcome.Index).
		Msg("key generation completed")
	msg := &messages.DKGOutcome{Session: outcome.Session, Info: info, Share: share}
	for _, elder := range req.elders {
		e.sendNode(elder, msg)
	}
}

// onDKGFailure excludes the participants that made the key generation fail
// and proposes them offline.
func (e *Engine) onDKGFailure(failure dkg.Failure) {
	e.log.Warn().
		Err(failure.Err).
		Str("prefix", failure.Prefix.LogString()).
		Uint64("generation", failure.Generation).
		Int("excluded", len(failure.Excluded)).
		Msg("key generation failed")
	if e.section == nil {
		return
	}
	e.section.MarkDegraded(failure.Excluded)
	if !e.isElder() {
		return
	}
	for _, p := range failure.Excluded {
		rec, ok := e.section.Member(p.ID)
		if p.ID == e.me.ID || !ok || !e.section.IsMember(p.ID) {
			continue
		}
		e.propose(messages.NodeProposal(messages.ProposalOffline, overlay.NodeState{
			Peer:       rec.Peer,
			Age:        rec.Age,
			State:      overlay.StateLeft,
			PreviousID: rec.PreviousID,
		}))
	}
}

// onDKGOutcome aggregates the signature shares of the new elders over their
// section info. Once aggregated, the new key is proposed to the current elders.
func (e *Engine) onDKGOutcome(m message, out *messages.DKGOutcome) {
	if !m.shareVerified || !e.isElder() || e.election == nil {
		return
	}
	info := out.Info
	if out.Session.Generation != e.election.generation || info.Generation != out.Session.Generation || info.Prefix != out.Session.Prefix {
		e.log.Debug().Str("session", out.Session.String()).Msg("dropping outcome of another election")
		return
	}
	candidate, ok := e.election.candidate(info.Prefix)
	if !ok {
		return
	}
	for _, elder := range info.Elders {
		if !candidate.Elders.Contains(elder.ID) {
			e.log.Warn().Str("session", out.Session.String()).Msg("dropping outcome with unexpected elders")
			return
		}
	}
	index, ok := info.ElderIndex(m.source)
	shareIndex, err := out.Share.Index()
	if !ok || err != nil || index != shareIndex {
		e.log.Warn().Hex("sender", m.source[:]).Msg("dropping outcome share of another signer")
		return
	}

	sig, done, err := e.outcomes.AddVerified(info.KeySet, info.SigningBytes(), out.Share)
	if err != nil {
		e.log.Debug().Err(err).Msg("dropping outcome share")
		return
	}
	if !done {
		return
	}
	signed := overlay.SignedSectionInfo{Info: info, Signature: sig}
	e.agreedInfos[signed.Key()] = signed
	if _, ok := e.election.proposed[info.Prefix]; ok {
		return
	}
	e.election.proposed[info.Prefix] = struct{}{}
	e.propose(messages.KeyProposal(info.Prefix, signed.Key()))
}

// onKeyAgreed handles an agreed section key. A key for our prefix is a
// rotation: its link is appended and elders holding the new section info
// install it. A key for a child prefix is one half of a pending split.
func (e *Engine) onKeyAgreed(p messages.Proposal, sig crypto.Signature) {
	current := e.section.Info()
	link := keychain.Link{
		Prefix:    p.Prefix,
		ParentKey: current.Key(),
		Key:       p.Key,
		Signature: sig,
	}
	if p.Prefix != current.Prefix() {
		e.onSplitHalfAgreed(link)
		return
	}
	if !e.appendLink(link) {
		return
	}
	info, ok := e.agreedInfos[p.Key]
	if !ok {
		// members learn the new section info from the section update
		return
	}

	previous := e.section.Peers()
	if err := e.section.CommitElders(info); err != nil {
		e.log.Warn().Err(err).Msg("could not commit new elders")
		return
	}
	e.installSection()
	e.announce(mergePeers(previous, info.Info.Elders))
}

// onSplitHalfAgreed records an agreed half of the pending split. The link of a
// half stays out of the key chain until both halves are agreed, so the parent
// key remains the only authority of the section until the split commits.
func (e *Engine) onSplitHalfAgreed(link keychain.Link) {
	info, ok := e.agreedInfos[link.Key]
	if !ok || e.section.PendingSplit() == nil {
		// members learn both halves from the section update
		return
	}
	complete, err := e.section.RecordSplitHalf(membership.SplitHalf{Info: info, Link: link})
	if err != nil {
		e.log.Warn().Err(err).Msg("aborting split")
		e.section.AbortSplit()
		return
	}
	e.log.Info().
		Str("half", link.Prefix.LogString()).
		Str("section_key", link.Key.TerminalString()).
		Bool("complete", complete).
		Msg("split half agreed")
	if complete {
		e.commitSplit()
	}
}

// commitSplit appends the links of both halves, moves the section to our half
// and tells the members of the other half about their new section.
func (e *Engine) commitSplit() {
	pending := e.section.PendingSplit()
	for _, c := range pending.Split.Children {
		half, _ := pending.Agreed(c.Prefix)
		if !e.appendLink(half.Link) {
			e.section.AbortSplit()
			return
		}
	}
	result, err := e.section.CommitSplit(e.me.ID)
	if err != nil {
		e.log.Warn().Err(err).Msg("could not commit split")
		e.section.AbortSplit()
		return
	}
	e.metrics.SectionSplit()
	e.log.Info().
		Str("ours", result.Ours.Info.Prefix().LogString()).
		Str("sibling", result.Sibling.Info.Prefix().LogString()).
		Int("moved", len(result.Moved)).
		Msg("section split")

	e.installSection()
	sibling := result.Sibling.Info
	if _, err := e.insertSection(sibling); err != nil {
		e.throw(err)
		return
	}
	e.announce(e.section.Peers())

	proof, err := e.chain.ProofTo(sibling.Key())
	if err != nil {
		e.log.Warn().Err(err).Msg("could not build sibling proof")
		return
	}
	moved := make(overlay.PeerList, 0, len(result.Moved))
	states := make([]overlay.SignedNodeState, 0, len(result.Moved))
	for _, rec := range result.Moved {
		moved = append(moved, rec.Peer)
		if rec.Role != overlay.RoleJoining {
			states = append(states, rec.Proof)
		}
	}
	update := &messages.SectionUpdate{
		Section: messages.SyncedSection{Info: sibling, Proof: proof},
		Members: states,
	}
	dest := messages.Destination{Kind: messages.ToSection, Name: sibling.Prefix().Name()}
	e.sendToPeers(dest, moved, update)
}

// appendLink appends an agreed link and persists it. It returns false if the
// link was not added to the trusted lineage.
func (e *Engine) appendLink(link keychain.Link) bool {
	err := e.chain.Append(link)
	if fork, ok := keychain.IsForkError(err); ok {
		e.metrics.ForkDetected()
		e.log.Error().Err(fork).Msg("section agreed a key forking the chain")
		return false
	}
	if err != nil {
		e.log.Warn().Err(err).Str("link", link.String()).Msg("could not append agreed link")
		return false
	}
	if err := e.store.Links.Store(link); err != nil {
		e.throw(fmt.Errorf("could not store link: %w", err))
		return false
	}
	e.metrics.KeyChainLength(e.chain.Len())
	return true
}

// installSection takes the current section info into account after an elder
// change or a split. Work tied to the previous key is dropped.
func (e *Engine) installSection() {
	info := e.section.Info()
	if _, err := e.insertSection(info); err != nil {
		e.throw(err)
		return
	}
	e.rebuildSigner()
	e.votes.Prune(info.Key())
	e.outcomes.Prune()
	e.proposed = make(map[overlay.Identifier]struct{})
	e.voted = make(map[overlay.Identifier]struct{})
	e.agreedInfos = make(map[crypto.PublicKey]overlay.SignedSectionInfo)
	e.starts = make(map[messages.DKGSessionID]*startRequest)
	e.election = nil
	// proposals of candidates admitted under the previous key cannot be agreed anymore
	if forgotten := e.section.ForgetJoining(); len(forgotten) > 0 {
		e.log.Debug().Int("candidates", len(forgotten)).Msg("forgot join candidates admitted under the previous key")
	}
	e.log.Info().
		Str("prefix", info.Prefix().LogString()).
		Str("section_key", info.Key().TerminalString()).
		Uint64("generation", e.section.Generation()).
		Bool("elder", e.isElder()).
		Msg("installed section info")
	e.reportSection()
	e.maybeElderChange()
}

// insertSection adds a section info to the prefix map and persists it. It
// returns false if the prefix map rejected the info. Only storage failures are
// returned as errors.
func (e *Engine) insertSection(info overlay.SignedSectionInfo) (bool, error) {
	if err := e.sections.InsertOrUpdate(info); err != nil {
		e.log.Debug().Err(err).Str("prefix", info.Prefix().LogString()).Msg("not storing section info")
		return false, nil
	}
	if err := e.store.Sections.Store(info); err != nil {
		return false, fmt.Errorf("could not store section %s: %w", info.Prefix().LogString(), err)
	}
	e.metrics.KnownSections(e.sections.Len())
	return true, nil
}

// announce sends the current section info and member states to peers, and
// the section info to the other known sections.
func (e *Engine) announce(peers overlay.PeerList) {
	info := e.section.Info()
	proof, err := e.chain.ProofTo(info.Key())
	if err != nil {
		e.log.Warn().Err(err).Msg("could not build section proof")
		return
	}
	synced := messages.SyncedSection{Info: info, Proof: proof}
	update := &messages.SectionUpdate{Section: synced, Members: e.section.NodeStates()}
	e.sendToPeers(e.toOurSection(), peers, update)
	e.pushSync(synced)
}

func mergePeers(a, b overlay.PeerList) overlay.PeerList {
	merged := append(overlay.PeerList{}, a...)
	for _, p := range b {
		if !merged.Contains(p.ID) {
			merged = append(merged, p)
		}
	}
	return merged
}
