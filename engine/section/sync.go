package section

import (
	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/metrics"
)

// pushSync sends our section info to the elders of every other known
// section.
func (e *Engine) pushSync(ours messages.SyncedSection) {
	sync := &messages.SectionSync{Sections: []messages.SyncedSection{ours}}
	for _, info := range e.sections.All() {
		if info.Prefix() == ours.Info.Prefix() {
			continue
		}
		dest := messages.Destination{Kind: messages.ToSection, Name: info.Prefix().Name()}
		e.sendToPeers(dest, info.Info.Elders, sync)
	}
}

// requestSync asks one elder of every other known section for the sections
// it knows. It runs every sync interval.
func (e *Engine) requestSync() {
	e.syncRequested = make(map[overlay.Identifier]struct{})
	if e.section == nil {
		return
	}
	for _, info := range e.sections.All() {
		if info.Prefix() == e.section.Prefix() {
			continue
		}
		elder, ok := info.Info.Elders.Closest(e.me.ID)
		if !ok {
			continue
		}
		e.syncRequested[elder.ID] = struct{}{}
		e.sendNode(elder, &messages.SectionSyncRequest{Requester: e.me})
	}
}

// requestSyncFrom asks the sender of an envelope signed by a key we do not
// know yet for its sections, at most once per sync interval.
func (e *Engine) requestSyncFrom(origin overlay.Identifier) {
	if _, ok := e.syncRequested[origin]; ok {
		return
	}
	peer, ok := e.peerOf(origin)
	if !ok {
		return
	}
	e.syncRequested[origin] = struct{}{}
	e.log.Debug().Str("peer", peer.String()).Msg("requesting section sync after unknown key")
	e.sendNode(peer, &messages.SectionSyncRequest{Requester: e.me})
}

// peerOf finds the address of a node among our members and the elders we know.
func (e *Engine) peerOf(id overlay.Identifier) (overlay.Peer, bool) {
	if e.section != nil {
		if rec, ok := e.section.Member(id); ok {
			return rec.Peer, true
		}
	}
	if e.sections == nil {
		return overlay.Peer{}, false
	}
	for _, info := range e.sections.All() {
		if p, ok := info.Info.Elders.ByID(id); ok {
			return p, true
		}
	}
	return overlay.Peer{}, false
}

// onSyncRequest answers with the sections we know, each with its proof from
// the genesis key.
func (e *Engine) onSyncRequest(m message, req *messages.SectionSyncRequest) {
	if m.local() || req.Requester.ID != m.source || e.chain == nil {
		e.metrics.InboundMessageDropped(metrics.EngineSection, messageName(req))
		return
	}
	sync := &messages.SectionSync{}
	for _, info := range e.sections.All() {
		if len(req.Prefixes) > 0 && !compatible(info.Prefix(), req.Prefixes) {
			continue
		}
		proof, err := e.chain.ProofTo(info.Key())
		if err != nil {
			e.log.Debug().Err(err).Str("prefix", info.Prefix().LogString()).Msg("not syncing section without proof")
			continue
		}
		sync.Sections = append(sync.Sections, messages.SyncedSection{Info: info, Proof: proof})
	}
	if len(sync.Sections) == 0 {
		return
	}
	e.sendNode(req.Requester, sync)
}

func compatible(prefix overlay.Prefix, prefixes []overlay.Prefix) bool {
	for _, p := range prefixes {
		if prefix.IsCompatible(p) {
			return true
		}
	}
	return false
}

func (e *Engine) onSectionSync(m message, sync *messages.SectionSync) {
	if m.local() {
		return
	}
	for _, s := range sync.Sections {
		e.adoptSynced(s)
	}
}

// adoptSynced merges the proof of a synced section and takes the section info
// into account once its key is trusted.
func (e *Engine) adoptSynced(s messages.SyncedSection) {
	if e.chain == nil {
		return
	}
	info := s.Info
	if !e.chain.IsTrusted(info.Key()) && len(s.Proof) > 0 {
		if err := e.mergeProof(s.Proof); err != nil {
			e.log.Debug().Err(err).Str("prefix", info.Prefix().LogString()).Msg("dropping synced section with invalid proof")
			return
		}
	}
	if !e.chain.IsTrusted(info.Key()) {
		e.log.Debug().Str("prefix", info.Prefix().LogString()).Msg("dropping synced section with untrusted key")
		return
	}
	e.adoptSection(info)
}

// adoptSection applies a trusted section info. Newer infos of our own section
// or of the half of a split we belong to are installed, any other info goes
// to the prefix map.
func (e *Engine) adoptSection(info overlay.SignedSectionInfo) {
	if e.section == nil {
		if _, err := e.insertSection(info); err != nil {
			e.throw(err)
		}
		return
	}
	current := e.section.Info()
	if info.Key() == current.Key() {
		return
	}
	descendant := e.chain.HasAncestor(info.Key(), current.Key())
	prefix := info.Prefix()
	switch {
	case descendant && prefix == current.Prefix():
		if err := e.section.CommitElders(info); err != nil {
			e.log.Warn().Err(err).Msg("could not commit synced elders")
			return
		}
		e.installSection()
	case descendant && prefix.Len() == current.Prefix().Len()+1 && prefix.IsExtensionOf(current.Prefix()) && prefix.Matches(e.me.ID):
		moved, err := e.section.InstallChild(info)
		if err != nil {
			e.log.Warn().Err(err).Msg("could not install split section")
			return
		}
		e.log.Info().
			Str("prefix", prefix.LogString()).
			Int("moved", len(moved)).
			Msg("section split")
		e.installSection()
	default:
		if _, err := e.insertSection(info); err != nil {
			e.throw(err)
		}
	}
}

// onSectionUpdate adopts the section info sent by an elder and the member
// states agreed under its key lineage.
func (e *Engine) onSectionUpdate(m message, update *messages.SectionUpdate) {
	if m.local() {
		return
	}
	e.adoptSynced(update.Section)
	if e.section == nil || update.Section.Info.Key() != e.section.Info().Key() {
		return
	}
	current := e.section.Info().Key()
	changed := false
	for _, state := range update.Members {
		if state.State.State != overlay.StateJoined || !e.chain.HasAncestor(current, state.SectionKey) {
			continue
		}
		ok, err := e.section.ApplyOnline(state)
		if err != nil {
			e.log.Debug().Err(err).Str("node", state.State.Peer.String()).Msg("not applying synced member")
			continue
		}
		changed = changed || ok
	}
	if changed {
		e.reportSection()
	}
}
