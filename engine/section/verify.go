package section

import (
	"errors"
	"fmt"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/engine/routing"
	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/keychain"
	"github.com/onflow/sectionnet/module/metrics"
)

// submit hands an inbound envelope to the verification pool. The key set
// proposal shares are checked against is captured on the loop, so workers
// never read loop state.
func (e *Engine) submit(ev inboundEvent) {
	seq := e.seq
	e.seq++
	var keys crypto.PublicKeySet
	if e.section != nil {
		keys = e.section.Info().Info.KeySet
	}
	e.pool.Submit(func() {
		result := e.verify(ev, keys)
		result.seq = seq
		e.pushInternal(result)
	})
}

// verify checks every signature carried by an envelope. It has no side
// effects and runs on the worker pool.
func (e *Engine) verify(ev inboundEvent, keys crypto.PublicKeySet) verifiedEvent {
	out := verifiedEvent{origin: ev.origin}
	verified, err := e.validator.VerifySignatures(ev.env)
	if err != nil {
		out.err = err
		return out
	}
	out.verified = verified

	switch p := verified.Payload.(type) {
	case *messages.ProposalShare:
		if !keys.IsZero() && p.SectionKey == keys.PublicKey() {
			if err := keys.VerifyShare(p.Share, p.Proposal.SigningBytes()); err != nil {
				out.err = fmt.Errorf("proposal share for %s: %w", p.Proposal, err)
				return out
			}
			out.shareKey = p.SectionKey
		}
	case *messages.DKGOutcome:
		if p.Info.KeySet.IsZero() {
			out.err = fmt.Errorf("dkg outcome %s carries no key set", p.Session)
			return out
		}
		if err := p.Info.KeySet.VerifyShare(p.Share, p.Info.SigningBytes()); err != nil {
			out.err = fmt.Errorf("dkg outcome %s: %w", p.Session, err)
			return out
		}
		out.shareVerified = true
	case *messages.JoinRequest:
		out.err = verifyJoinRequest(p)
	case *messages.JoinResponse:
		out.err = verifyJoinResponse(p)
	case *messages.SectionUpdate:
		out.err = verifyUpdate(p)
	case *messages.SectionSync:
		for _, s := range p.Sections {
			if err := s.Info.Verify(); err != nil {
				out.err = fmt.Errorf("synced section %s: %w", s.Info.Prefix().LogString(), err)
				break
			}
		}
	}
	return out
}

func verifyJoinRequest(req *messages.JoinRequest) error {
	raw, err := crypto.RawNodePublicKey(req.NodeKey)
	if err != nil {
		return fmt.Errorf("join request node key: %w", err)
	}
	if overlay.IdentifierFromPublicKey(raw) != req.Peer.ID {
		return fmt.Errorf("join request node key does not belong to %s", req.Peer.ID.TerminalString())
	}
	if req.Relocation != nil {
		if err := req.Relocation.Verify(req.Peer.ID); err != nil {
			return fmt.Errorf("relocation of %s: %w", req.Peer.ID.TerminalString(), err)
		}
	}
	return nil
}

func verifyJoinResponse(resp *messages.JoinResponse) error {
	if resp.Status == messages.JoinRejected {
		return nil
	}
	if err := resp.Section.Verify(); err != nil {
		return fmt.Errorf("join response section: %w", err)
	}
	if resp.Status != messages.JoinApproved {
		return nil
	}
	if err := resp.NodeState.Verify(); err != nil {
		return fmt.Errorf("join response node state: %w", err)
	}
	for _, state := range resp.Members {
		if err := state.Verify(); err != nil {
			return fmt.Errorf("member %s: %w", state.State.Peer.ID.TerminalString(), err)
		}
	}
	return nil
}

func verifyUpdate(update *messages.SectionUpdate) error {
	if err := update.Section.Info.Verify(); err != nil {
		return fmt.Errorf("updated section: %w", err)
	}
	for _, state := range update.Members {
		if err := state.Verify(); err != nil {
			return fmt.Errorf("member %s: %w", state.State.Peer.ID.TerminalString(), err)
		}
	}
	return nil
}

// onVerified applies a verified envelope: it checks the section authority
// against the key chain, then routes the envelope to us or further.
func (e *Engine) onVerified(ev verifiedEvent) {
	if ev.err != nil {
		e.log.Debug().Err(ev.err).Hex("origin", ev.origin[:]).Msg("dropping invalid envelope")
		e.metrics.InboundMessageDropped(metrics.EngineSection, "CodeEnvelope")
		return
	}
	env := ev.verified.Envelope
	name := messageName(ev.verified.Payload)

	if env.Authority.Kind == messages.AuthoritySection {
		if e.chain == nil {
			e.metrics.InboundMessageDropped(metrics.EngineSection, name)
			return
		}
		if err := e.validator.CheckAuthority(e.chain, ev.verified); err != nil {
			if errors.Is(err, keychain.ErrStaleKey) {
				e.requestSyncFrom(ev.origin)
			}
			e.log.Debug().Err(err).Str("envelope", env.String()).Msg("dropping envelope with untrusted authority")
			e.metrics.InboundMessageDropped(metrics.EngineSection, name)
			return
		}
	}

	m := message{
		source:        env.Source,
		env:           env,
		payload:       ev.verified.Payload,
		shareKey:      ev.shareKey,
		shareVerified: ev.shareVerified,
	}

	// join requests are addressed by the candidate name, which the candidate
	// does not own yet
	if req, ok := m.payload.(*messages.JoinRequest); ok {
		e.handleJoinRequest(m, req)
		e.metrics.MessageHandled(metrics.EngineSection, name)
		return
	}

	if e.section == nil {
		e.onUnjoined(m, name)
		return
	}

	decision, err := e.dispatcher.Route(routingTable{e: e}, env)
	if err != nil {
		if errors.Is(err, routing.ErrDuplicate) {
			return
		}
		e.log.Debug().Err(err).Str("envelope", env.String()).Msg("could not route envelope")
		e.metrics.InboundMessageDropped(metrics.EngineSection, name)
		return
	}
	if env.Authority.Kind == messages.AuthorityNode {
		e.section.Touch(env.Source)
	}

	switch decision.Kind {
	case routing.Local:
		e.handlePayload(m)
	default:
		forwarded := *env
		forwarded.Hops++
		e.unicast(&forwarded, decision.Target, name)
	}
}

// onUnjoined handles envelopes received before the node joined a section.
// Only envelopes addressed to the node are looked at.
func (e *Engine) onUnjoined(m message, name string) {
	dest := m.env.Destination
	if dest.Kind != messages.ToNode || dest.Name != e.me.ID || e.relocated {
		e.metrics.InboundMessageDropped(metrics.EngineSection, name)
		return
	}
	switch m.payload.(type) {
	case *messages.DKGStart:
		// elders of the section we are joining may start a key generation
		// including us before our approval arrives
		if len(e.early) >= maxEarlyMessages {
			e.metrics.InboundMessageDropped(metrics.EngineSection, name)
			return
		}
		e.early = append(e.early, m)
	case *messages.JoinResponse, *messages.DKGMessage, *messages.SectionSync:
		e.handlePayload(m)
	default:
		e.metrics.InboundMessageDropped(metrics.EngineSection, name)
	}
}

// handlePayload dispatches a payload addressed to us.
func (e *Engine) handlePayload(m message) {
	switch p := m.payload.(type) {
	case *messages.JoinRequest:
		e.handleJoinRequest(m, p)
	case *messages.JoinResponse:
		e.onJoinResponse(m, p)
	case *messages.ProposalShare:
		e.onProposalShare(m, p)
	case *messages.Agreement:
		e.onAgreement(m, p)
	case *messages.DKGStart:
		e.onDKGStart(m, p)
	case *messages.DKGMessage:
		e.onDKGMessage(m, p)
	case *messages.DKGOutcome:
		e.onDKGOutcome(m, p)
	case *messages.SectionSyncRequest:
		e.onSyncRequest(m, p)
	case *messages.SectionSync:
		e.onSectionSync(m, p)
	case *messages.SectionUpdate:
		e.onSectionUpdate(m, p)
	case *messages.Heartbeat:
		e.onHeartbeat(m, p)
	default:
		e.deliver(m)
	}
	e.metrics.MessageHandled(metrics.EngineSection, messageName(m.payload))
}

func (e *Engine) deliver(m message) {
	if e.deliverer == nil || m.local() {
		return
	}
	e.deliverer.Deliver(routing.NewDelivery(&routing.Verified{Envelope: m.env, Payload: m.payload}))
}

// routingTable exposes the routing knowledge of the engine to the dispatcher.
type routingTable struct {
	e *Engine
}

func (t routingTable) Prefix() overlay.Prefix {
	return t.e.section.Prefix()
}

func (t routingTable) Closest(id overlay.Identifier) (overlay.SignedSectionInfo, error) {
	return t.e.sections.Closest(id)
}

func (t routingTable) Member(id overlay.Identifier) (overlay.Peer, bool) {
	if !t.e.section.IsMember(id) {
		return overlay.Peer{}, false
	}
	rec, _ := t.e.section.Member(id)
	return rec.Peer, true
}
