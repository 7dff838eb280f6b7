package p2p_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/irrecoverable"
	"github.com/onflow/sectionnet/module/metrics"
	"github.com/onflow/sectionnet/network"
	"github.com/onflow/sectionnet/network/channels"
	"github.com/onflow/sectionnet/network/codec/cbor"
	"github.com/onflow/sectionnet/network/p2p"
	"github.com/onflow/sectionnet/utils/unittest"
)

type inbox struct {
	mu       sync.Mutex
	origins  []overlay.Identifier
	messages []interface{}
}

func (i *inbox) Process(_ channels.Channel, origin overlay.Identifier, message interface{}) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.origins = append(i.origins, origin)
	i.messages = append(i.messages, message)
	return nil
}

func (i *inbox) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.messages)
}

func startNode(t *testing.T, ctx irrecoverable.SignalerContext) (*p2p.Network, crypto.NodeKey) {
	key, err := crypto.GenerateNodeKey()
	require.NoError(t, err)
	h, err := p2p.NewHost(key, "/ip4/127.0.0.1/tcp/0")
	require.NoError(t, err)
	net, err := p2p.NewNetwork(unittest.Logger(), p2p.DefaultConfig(), h, cbor.NewCodec(), metrics.NewNoopCollector())
	require.NoError(t, err)
	net.Start(ctx)
	unittest.RequireClosed(t, net.Ready(), time.Second, "network ready")
	return net, key
}

func TestNetworkSendReceive(t *testing.T) {
	ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(t, context.Background())
	a, keyA := startNode(t, ctx)
	b, keyB := startNode(t, ctx)
	defer func() {
		cancel()
		unittest.RequireClosed(t, a.Done(), 5*time.Second, "network a done")
		unittest.RequireClosed(t, b.Done(), 5*time.Second, "network b done")
	}()

	assert.Equal(t, overlay.IdentifierFromPublicKey(keyA.RawPublicKey()), a.Me().ID)
	assert.Equal(t, overlay.IdentifierFromPublicKey(keyB.RawPublicKey()), b.Me().ID)

	inboxA, inboxB := &inbox{}, &inbox{}
	conA, err := a.Register(channels.TestNetwork, inboxA)
	require.NoError(t, err)
	conB, err := b.Register(channels.TestNetwork, inboxB)
	require.NoError(t, err)

	require.NoError(t, conA.Unicast(&messages.Heartbeat{Generation: 7}, b.Me()))
	require.Eventually(t, func() bool { return inboxB.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	inboxB.mu.Lock()
	assert.Equal(t, a.Me().ID, inboxB.origins[0], "origin is the authenticated sender")
	assert.Equal(t, &messages.Heartbeat{Generation: 7}, inboxB.messages[0])
	inboxB.mu.Unlock()

	require.NoError(t, conB.Multicast(&messages.Heartbeat{Generation: 8}, overlay.PeerList{a.Me(), b.Me()}))
	require.Eventually(t, func() bool { return inboxA.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, inboxB.count(), "no delivery to self")
}

func TestNetworkRejectsBadAddresses(t *testing.T) {
	ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(t, context.Background())
	defer cancel()
	a, _ := startNode(t, ctx)
	con, err := a.Register(channels.TestNetwork, &inbox{})
	require.NoError(t, err)

	err = con.Unicast(&messages.Heartbeat{}, overlay.Peer{ID: unittest.IdentifierFixture(), Address: "not an address"})
	assert.ErrorIs(t, err, network.ErrUnknownPeer)

	// the address names a different node than the identifier
	err = con.Unicast(&messages.Heartbeat{}, overlay.Peer{ID: unittest.IdentifierFixture(), Address: a.Me().Address})
	assert.ErrorIs(t, err, network.ErrUnknownPeer)

	_, err = a.Register(channels.TestNetwork, &inbox{})
	assert.True(t, network.IsChannelTakenError(err))
	require.NoError(t, con.Close())
	assert.ErrorIs(t, con.Unicast(&messages.Heartbeat{}, a.Me()), network.ErrConduitClosed)
}

func TestProtocolID(t *testing.T) {
	assert.Equal(t, "/sectionnet/section/1.0.0", string(p2p.ProtocolID(channels.Section)))
}

func TestParsePeer(t *testing.T) {
	ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(t, context.Background())
	defer cancel()
	a, _ := startNode(t, ctx)

	parsed, err := p2p.ParsePeer(a.Me().Address)
	require.NoError(t, err)
	assert.Equal(t, a.Me(), parsed)

	_, err = p2p.ParsePeer("/ip4/127.0.0.1/tcp/7000")
	assert.Error(t, err, "address without peer id")
	_, err = p2p.ParsePeer("not an address")
	assert.Error(t, err)
}
