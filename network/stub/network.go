// Package stub implements an in-memory network for tests. Messages go through
// the codec like on the wire and are delivered asynchronously, in order per
// sender, by a worker of the receiving network.
package stub

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/onflow/sectionnet/engine"
	"github.com/onflow/sectionnet/engine/common/fifoqueue"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module"
	"github.com/onflow/sectionnet/module/component"
	"github.com/onflow/sectionnet/module/irrecoverable"
	"github.com/onflow/sectionnet/network"
	"github.com/onflow/sectionnet/network/channels"
)

type delivery struct {
	channel channels.Channel
	from    overlay.Identifier
	data    []byte
}

// Network is the stub network of one node.
type Network struct {
	*component.ComponentManager
	log     zerolog.Logger
	hub     *Hub
	me      overlay.Peer
	codec   network.Codec
	metrics module.NetworkMetrics

	mu         sync.RWMutex
	processors map[channels.Channel]network.MessageProcessor

	inbox    *fifoqueue.FifoQueue
	notifier engine.Notifier
}

var _ network.Network = (*Network)(nil)

// NewNetwork creates the network of me and plugs it into hub.
func NewNetwork(log zerolog.Logger, hub *Hub, me overlay.Peer, codec network.Codec, metrics module.NetworkMetrics) (*Network, error) {
	inbox, err := fifoqueue.NewFifoQueue()
	if err != nil {
		return nil, fmt.Errorf("could not create inbox: %w", err)
	}
	n := &Network{
		log:        log.With().Str("component", "stub_network").Str("node", me.ID.TerminalString()).Logger(),
		hub:        hub,
		me:         me,
		codec:      codec,
		metrics:    metrics,
		processors: make(map[channels.Channel]network.MessageProcessor),
		inbox:      inbox,
		notifier:   engine.NewNotifier(),
	}
	n.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(n.deliverLoop).
		Build()
	hub.Plug(n)
	return n, nil
}

// Me returns the peer the network belongs to.
func (n *Network) Me() overlay.Peer {
	return n.me
}

// Register implements network.Network.
func (n *Network) Register(channel channels.Channel, processor network.MessageProcessor) (network.Conduit, error) {
	if !channels.Valid(channel) {
		return nil, fmt.Errorf("unknown channel %s", channel)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.processors[channel]; ok {
		return nil, network.ChannelTakenError{Channel: channel}
	}
	n.processors[channel] = processor
	return &Conduit{channel: channel, net: n, closed: atomic.NewBool(false)}, nil
}

func (n *Network) unregister(channel channels.Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.processors, channel)
}

func (n *Network) processor(channel channels.Channel) (network.MessageProcessor, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.processors[channel]
	return p, ok
}

// send encodes the message once and queues it at every target. Targets that
// are not plugged into the hub are reported together.
func (n *Network) send(channel channels.Channel, message interface{}, targets ...overlay.Identifier) error {
	data, err := n.codec.Encode(message)
	if err != nil {
		return fmt.Errorf("could not encode message: %w", err)
	}
	var result *multierror.Error
	for _, to := range targets {
		if to == n.me.ID {
			continue
		}
		target, known, deliver := n.hub.route(n.me.ID, to)
		if !known {
			n.metrics.NetworkSendFailed(channel.String())
			result = multierror.Append(result, fmt.Errorf("node %s: %w", to.TerminalString(), network.ErrUnknownPeer))
			continue
		}
		n.metrics.NetworkMessageSent(len(data), channel.String())
		if !deliver {
			continue
		}
		target.enqueue(delivery{channel: channel, from: n.me.ID, data: data})
	}
	return result.ErrorOrNil()
}

func (n *Network) enqueue(d delivery) {
	n.inbox.Push(d)
	n.notifier.Notify()
}

func (n *Network) deliverLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.notifier.Channel():
			n.drain(ctx)
		}
	}
}

func (n *Network) drain(ctx irrecoverable.SignalerContext) {
	for {
		if ctx.Err() != nil {
			return
		}
		item, ok := n.inbox.Pop()
		if !ok {
			return
		}
		d := item.(delivery)
		n.metrics.NetworkMessageReceived(len(d.data), d.channel.String())
		processor, ok := n.processor(d.channel)
		if !ok {
			n.log.Debug().Str("channel", d.channel.String()).Msg("dropping message for unregistered channel")
			continue
		}
		message, err := n.codec.Decode(d.data)
		if err != nil {
			n.log.Warn().Err(err).Hex("origin", d.from[:]).Msg("could not decode message")
			continue
		}
		if err := processor.Process(d.channel, d.from, message); err != nil {
			n.log.Debug().Err(err).Hex("origin", d.from[:]).Msg("message processing failed")
		}
	}
}
