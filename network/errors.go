package network

import (
	"errors"
	"fmt"

	"github.com/onflow/sectionnet/network/channels"
)

var (
	// EmptyTargetList is returned when a multicast has no target.
	EmptyTargetList = errors.New("target list empty")
	// ErrConduitClosed is returned for sends on a closed conduit.
	ErrConduitClosed = errors.New("conduit closed")
	// ErrUnknownPeer is returned when the transport cannot reach a peer.
	ErrUnknownPeer = errors.New("unknown peer")
)

// ChannelTakenError is returned when registering twice on a channel.
type ChannelTakenError struct {
	Channel channels.Channel
}

func (e ChannelTakenError) Error() string {
	return fmt.Sprintf("channel %s already registered", e.Channel)
}

// IsChannelTakenError returns whether an error is ChannelTakenError.
func IsChannelTakenError(err error) bool {
	var e ChannelTakenError
	return errors.As(err, &e)
}
