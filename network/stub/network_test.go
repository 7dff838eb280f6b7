package stub_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/irrecoverable"
	"github.com/onflow/sectionnet/module/metrics"
	"github.com/onflow/sectionnet/network"
	"github.com/onflow/sectionnet/network/channels"
	"github.com/onflow/sectionnet/network/codec/cbor"
	"github.com/onflow/sectionnet/network/stub"
	"github.com/onflow/sectionnet/utils/unittest"
)

type received struct {
	origin  overlay.Identifier
	message interface{}
}

type recorder struct {
	mu       sync.Mutex
	messages []received
}

func (r *recorder) Process(_ channels.Channel, origin overlay.Identifier, message interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, received{origin: origin, message: message})
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *recorder) all() []received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]received(nil), r.messages...)
}

func startNetworks(t *testing.T, hub *stub.Hub, n int) ([]*stub.Network, []*recorder, []network.Conduit) {
	ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(t, context.Background())
	t.Cleanup(cancel)
	nets := make([]*stub.Network, n)
	recorders := make([]*recorder, n)
	conduits := make([]network.Conduit, n)
	for i, peer := range unittest.PeersFixture(n) {
		net, err := stub.NewNetwork(unittest.Logger(), hub, peer, cbor.NewCodec(), metrics.NewNoopCollector())
		require.NoError(t, err)
		net.Start(ctx)
		unittest.RequireClosed(t, net.Ready(), time.Second, "network ready")
		recorders[i] = &recorder{}
		conduits[i], err = net.Register(channels.TestNetwork, recorders[i])
		require.NoError(t, err)
		nets[i] = net
	}
	return nets, recorders, conduits
}

func TestStubUnicastAndMulticast(t *testing.T) {
	hub := stub.NewNetworkHub()
	nets, recorders, conduits := startNetworks(t, hub, 3)

	require.NoError(t, conduits[0].Unicast(&messages.Heartbeat{Generation: 1}, nets[1].Me()))
	require.Eventually(t, func() bool { return recorders[1].count() == 1 }, time.Second, 5*time.Millisecond)
	got := recorders[1].all()[0]
	assert.Equal(t, nets[0].Me().ID, got.origin)
	assert.Equal(t, &messages.Heartbeat{Generation: 1}, got.message)

	targets := overlay.PeerList{nets[0].Me(), nets[1].Me(), nets[2].Me()}
	for i := 0; i < 10; i++ {
		require.NoError(t, conduits[0].Multicast(&messages.Heartbeat{Generation: uint64(i)}, targets))
	}
	require.Eventually(t, func() bool { return recorders[2].count() == 10 }, time.Second, 5*time.Millisecond)
	for i, r := range recorders[2].all() {
		assert.Equal(t, &messages.Heartbeat{Generation: uint64(i)}, r.message, "delivered in order")
	}
	assert.Equal(t, 0, recorders[0].count(), "no delivery to self")

	assert.ErrorIs(t, conduits[0].Multicast(&messages.Heartbeat{}, nil), network.EmptyTargetList)
}

func TestStubUnreachable(t *testing.T) {
	hub := stub.NewNetworkHub()
	nets, recorders, conduits := startNetworks(t, hub, 3)

	err := conduits[0].Unicast(&messages.Heartbeat{}, unittest.PeerFixture())
	assert.ErrorIs(t, err, network.ErrUnknownPeer)

	hub.Unplug(nets[2].Me().ID)
	err = conduits[0].Multicast(&messages.Heartbeat{}, overlay.PeerList{nets[1].Me(), nets[2].Me()})
	assert.ErrorIs(t, err, network.ErrUnknownPeer)
	require.Eventually(t, func() bool { return recorders[1].count() == 1 }, time.Second, 5*time.Millisecond)

	hub.SetFilter(func(from, to overlay.Identifier) bool { return to != nets[1].Me().ID })
	require.NoError(t, conduits[0].Unicast(&messages.Heartbeat{}, nets[1].Me()))
	hub.SetFilter(nil)
	require.NoError(t, conduits[0].Unicast(&messages.Heartbeat{Generation: 2}, nets[1].Me()))
	require.Eventually(t, func() bool { return recorders[1].count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, &messages.Heartbeat{Generation: 2}, recorders[1].all()[1].message)
}

func TestStubRegister(t *testing.T) {
	hub := stub.NewNetworkHub()
	nets, _, conduits := startNetworks(t, hub, 1)

	_, err := nets[0].Register(channels.TestNetwork, &recorder{})
	assert.True(t, network.IsChannelTakenError(err))
	_, err = nets[0].Register("unknown", &recorder{})
	assert.Error(t, err)

	require.NoError(t, conduits[0].Close())
	assert.ErrorIs(t, conduits[0].Unicast(&messages.Heartbeat{}, unittest.PeerFixture()), network.ErrConduitClosed)
	_, err = nets[0].Register(channels.TestNetwork, &recorder{})
	assert.NoError(t, err)
}
