package section

import (
	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
)

// onHeartbeatTick advances the liveness clock and sends a heartbeat to the
// elders. Elders propose unresponsive members offline.
func (e *Engine) onHeartbeatTick() {
	if e.section == nil {
		return
	}
	e.section.Tick()
	e.section.Touch(e.me.ID)
	hb := &messages.Heartbeat{Generation: e.section.Generation()}
	e.sendToPeers(e.toOurSection(), e.section.Elders(), hb)
	if !e.isElder() {
		return
	}
	for _, rec := range e.section.Unresponsive() {
		if rec.Peer.ID == e.me.ID {
			continue
		}
		e.log.Info().Str("node", rec.Peer.String()).Msg("proposing unresponsive member offline")
		e.propose(messages.NodeProposal(messages.ProposalOffline, overlay.NodeState{
			Peer:       rec.Peer,
			Age:        rec.Age,
			State:      overlay.StateLeft,
			PreviousID: rec.PreviousID,
		}))
	}
}

// onHeartbeat updates a member that is behind our section generation.
func (e *Engine) onHeartbeat(m message, hb *messages.Heartbeat) {
	if m.local() || !e.isElder() || hb.Generation >= e.section.Generation() {
		return
	}
	peer, ok := e.peerOf(m.source)
	if !ok {
		return
	}
	info := e.section.Info()
	proof, err := e.chain.ProofTo(info.Key())
	if err != nil {
		return
	}
	update := &messages.SectionUpdate{
		Section: messages.SyncedSection{Info: info, Proof: proof},
		Members: e.section.NodeStates(),
	}
	e.sendToPeers(e.toOurSection(), overlay.PeerList{peer}, update)
}
