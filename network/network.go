package network

import (
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/component"
	"github.com/onflow/sectionnet/network/channels"
)

// Network represents the transport layer of the node. Engines register on a
// channel and get a conduit to reach the same channel on other nodes. On a
// single node, only one engine can be registered on a channel at any given time.
type Network interface {
	component.Component
	// Register subscribes the processor to the channel. Inbound messages on the
	// channel are passed to the processor.
	Register(channel channels.Channel, processor MessageProcessor) (Conduit, error)
}

// MessageProcessor processes messages received on a channel. OriginID is the
// identifier of the sender as authenticated by the transport.
type MessageProcessor interface {
	Process(channel channels.Channel, originID overlay.Identifier, message interface{}) error
}

// Conduit sends messages to the engines registered on the same channel of
// other nodes. Sends are asynchronous: a nil error means the message was
// handed to the transport, not that it was delivered.
type Conduit interface {
	// Unicast sends the message to one peer.
	Unicast(message interface{}, target overlay.Peer) error
	// Multicast sends the message to every given peer.
	Multicast(message interface{}, targets overlay.PeerList) error
	// Close unregisters the engine from the channel.
	Close() error
}

// Codec encodes messages for the wire. Encoded messages start with a code byte
// naming their type.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte) (interface{}, error)
}
