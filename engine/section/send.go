package section

import (
	"context"
	"fmt"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/engine/routing"
	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/metrics"
	"github.com/onflow/sectionnet/network/codec"
)

// Send routes data to dest through the overlay. It returns once the envelope
// was handed to the next hop, or delivered if dest is ourselves.
//
// Expected errors:
//   - ErrNotJoined before the node joined a section
//   - routing.ErrNoRoute if no known node is closer to dest
//   - ErrShutdown once the engine is shutting down
func (e *Engine) Send(ctx context.Context, dest messages.Destination, data []byte) error {
	ev := sendEvent{dest: dest, data: data, done: make(chan error, 1)}
	e.pushInternal(ev)
	select {
	case err := <-ev.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ShutdownSignal():
		return ErrShutdown
	}
}

func (e *Engine) send(ev sendEvent) error {
	if e.section == nil {
		return ErrNotJoined
	}
	payload := &messages.UserMessage{Data: ev.data}
	env, err := routing.NewNodeEnvelope(e.codec, e.key, e.section.Prefix(), ev.dest, payload)
	if err != nil {
		return fmt.Errorf("could not create envelope: %w", err)
	}
	decision, err := e.dispatcher.Route(routingTable{e: e}, env)
	if err != nil {
		return err
	}
	name := messageName(payload)
	if decision.Kind == routing.Local {
		e.deliver(message{source: e.me.ID, env: env, payload: payload})
		e.metrics.MessageHandled(metrics.EngineSection, name)
		return nil
	}
	if err := e.con.Unicast(env, decision.Target); err != nil {
		e.metrics.OutboundMessageDropped(metrics.EngineSection, name)
		return fmt.Errorf("could not send to %s: %w", decision.Target, err)
	}
	e.metrics.MessageSent(metrics.EngineSection, name)
	return nil
}

// sourcePrefix is the prefix node envelopes are sent from. A joining node
// claims its own full name.
func (e *Engine) sourcePrefix() overlay.Prefix {
	if e.section == nil {
		return overlay.NewPrefix(e.me.ID, overlay.IdentifierBits)
	}
	return e.section.Prefix()
}

// sendNode sends a node signed payload to one peer. Payloads for ourselves are
// handled locally.
func (e *Engine) sendNode(peer overlay.Peer, payload interface{}) {
	if peer.ID == e.me.ID {
		e.pushLocal(payload)
		return
	}
	dest := messages.Destination{Kind: messages.ToNode, Name: peer.ID}
	env, err := routing.NewNodeEnvelope(e.codec, e.key, e.sourcePrefix(), dest, payload)
	if err != nil {
		e.log.Error().Err(err).Str("message", messageName(payload)).Msg("could not create envelope")
		return
	}
	e.unicast(env, peer, messageName(payload))
}

// sendToPeers multicasts one node signed payload to peers, ourselves excluded.
func (e *Engine) sendToPeers(dest messages.Destination, peers overlay.PeerList, payload interface{}) {
	peers = peers.Filter(func(p overlay.Peer) bool { return p.ID != e.me.ID })
	if len(peers) == 0 {
		return
	}
	env, err := routing.NewNodeEnvelope(e.codec, e.key, e.sourcePrefix(), dest, payload)
	if err != nil {
		e.log.Error().Err(err).Str("message", messageName(payload)).Msg("could not create envelope")
		return
	}
	e.multicast(env, peers, messageName(payload))
}

// sendSectionSigned multicasts a payload signed by the current section key to
// peers, ourselves excluded.
func (e *Engine) sendSectionSigned(dest messages.Destination, peers overlay.PeerList, signable messages.SectionSignable, sig crypto.Signature) {
	peers = peers.Filter(func(p overlay.Peer) bool { return p.ID != e.me.ID })
	if len(peers) == 0 {
		return
	}
	info := e.section.Info()
	env, err := routing.NewSectionEnvelope(e.codec, info.Prefix(), dest, signable, info.Key(), sig, nil)
	if err != nil {
		e.log.Error().Err(err).Str("message", messageName(signable)).Msg("could not create section envelope")
		return
	}
	e.multicast(env, peers, messageName(signable))
}

// toOurSection addresses the members of our section.
func (e *Engine) toOurSection() messages.Destination {
	return messages.Destination{Kind: messages.ToSection, Name: e.section.Prefix().Name()}
}

func (e *Engine) unicast(env *messages.Envelope, peer overlay.Peer, name string) {
	if err := e.con.Unicast(env, peer); err != nil {
		e.log.Debug().Err(err).Str("target", peer.String()).Str("message", name).Msg("could not send envelope")
		e.metrics.OutboundMessageDropped(metrics.EngineSection, name)
		return
	}
	e.metrics.MessageSent(metrics.EngineSection, name)
}

func (e *Engine) multicast(env *messages.Envelope, peers overlay.PeerList, name string) {
	if err := e.con.Multicast(env, peers); err != nil {
		e.log.Debug().Err(err).Int("targets", len(peers)).Str("message", name).Msg("could not send envelope to every target")
		e.metrics.OutboundMessageDropped(metrics.EngineSection, name)
		return
	}
	e.metrics.MessageSent(metrics.EngineSection, name)
}

// messageName returns the name of the message type of v for logs and metrics.
func messageName(v interface{}) string {
	_, name, err := codec.MessageCodeFromInterface(v)
	if err != nil {
		return fmt.Sprintf("%T", v)
	}
	return name
}
