package stub

import (
	"go.uber.org/atomic"

	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/network"
	"github.com/onflow/sectionnet/network/channels"
)

// Conduit sends messages on one channel of a stub network.
type Conduit struct {
	channel channels.Channel
	net     *Network
	closed  *atomic.Bool
}

var _ network.Conduit = (*Conduit)(nil)

func (c *Conduit) Unicast(message interface{}, target overlay.Peer) error {
	if c.closed.Load() {
		return network.ErrConduitClosed
	}
	return c.net.send(c.channel, message, target.ID)
}

func (c *Conduit) Multicast(message interface{}, targets overlay.PeerList) error {
	if c.closed.Load() {
		return network.ErrConduitClosed
	}
	if len(targets) == 0 {
		return network.EmptyTargetList
	}
	ids := targets.IDs()
	return c.net.send(c.channel, message, ids...)
}

func (c *Conduit) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.net.unregister(c.channel)
	}
	return nil
}
