// Package p2p implements the network on libp2p streams. Each channel is a
// libp2p protocol and every send opens a short-lived stream to the target.
package p2p

import (
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/network/channels"
)

const protocolPrefix = "/sectionnet"

// ProtocolID returns the libp2p protocol carrying a channel.
func ProtocolID(channel channels.Channel) protocol.ID {
	return protocol.ID(fmt.Sprintf("%s/%s/1.0.0", protocolPrefix, channel))
}

// NewHost creates a libp2p host identified by key and listening on the
// multiaddress listen, e.g. /ip4/0.0.0.0/tcp/7000.
func NewHost(key crypto.NodeKey, listen string) (host.Host, error) {
	addr, err := multiaddr.NewMultiaddr(listen)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", listen, err)
	}
	h, err := libp2p.New(
		libp2p.Identity(key.Libp2p()),
		libp2p.ListenAddrs(addr),
		libp2p.DisableRelay(),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create libp2p host: %w", err)
	}
	return h, nil
}

// IdentifierFromPeerID derives the overlay identifier of a libp2p peer from the
// public key embedded in its peer ID.
func IdentifierFromPeerID(pid peer.ID) (overlay.Identifier, error) {
	pub, err := pid.ExtractPublicKey()
	if err != nil {
		return overlay.Identifier{}, fmt.Errorf("could not extract public key of %s: %w", pid, err)
	}
	raw, err := pub.Raw()
	if err != nil {
		return overlay.Identifier{}, fmt.Errorf("could not read public key of %s: %w", pid, err)
	}
	return overlay.IdentifierFromPublicKey(raw), nil
}

// PeerFromHost returns the overlay peer of a host. The address is the first
// listen address of the host with its /p2p component.
func PeerFromHost(h host.Host) (overlay.Peer, error) {
	id, err := IdentifierFromPeerID(h.ID())
	if err != nil {
		return overlay.Peer{}, err
	}
	addrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: h.ID(), Addrs: h.Addrs()})
	if err != nil {
		return overlay.Peer{}, fmt.Errorf("could not build peer address: %w", err)
	}
	if len(addrs) == 0 {
		return overlay.Peer{}, fmt.Errorf("host %s has no listen address", h.ID())
	}
	return overlay.Peer{ID: id, Address: addrs[0].String()}, nil
}

// AddrInfo parses the address of a peer and checks that the libp2p identity it
// names matches the peer identifier.
func AddrInfo(p overlay.Peer) (peer.AddrInfo, error) {
	addr, err := multiaddr.NewMultiaddr(p.Address)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("invalid address of %s: %w", p.ID.TerminalString(), err)
	}
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("address of %s has no peer id: %w", p.ID.TerminalString(), err)
	}
	id, err := IdentifierFromPeerID(info.ID)
	if err != nil {
		return peer.AddrInfo{}, err
	}
	if id != p.ID {
		return peer.AddrInfo{}, fmt.Errorf("address of %s names node %s", p.ID.TerminalString(), id.TerminalString())
	}
	return *info, nil
}

// ParsePeer parses a peer multiaddress with a /p2p component, e.g.
// /ip4/10.0.0.1/tcp/7000/p2p/12D3KooW...
func ParsePeer(address string) (overlay.Peer, error) {
	addr, err := multiaddr.NewMultiaddr(address)
	if err != nil {
		return overlay.Peer{}, fmt.Errorf("invalid peer address %q: %w", address, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return overlay.Peer{}, fmt.Errorf("peer address %q has no peer id: %w", address, err)
	}
	id, err := IdentifierFromPeerID(info.ID)
	if err != nil {
		return overlay.Peer{}, err
	}
	return overlay.Peer{ID: id, Address: address}, nil
}
