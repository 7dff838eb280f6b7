package section_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onflow/sectionnet/engine/routing"
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

// endpoint is a bare stub network on the section channel, used to talk to
// engines directly and record what they answer.
type endpoint struct {
	con   network.Conduit
	codec network.Codec

	mu       sync.Mutex
	payloads []interface{}
}

func (ep *endpoint) Process(_ channels.Channel, _ overlay.Identifier, message interface{}) error {
	env, ok := message.(*messages.Envelope)
	if !ok {
		return nil
	}
	payload, err := ep.codec.Decode(env.Payload)
	if err != nil {
		return err
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.payloads = append(ep.payloads, payload)
	return nil
}

// received returns true once a payload satisfying match arrived.
func (ep *endpoint) received(match func(interface{}) bool) bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	for _, p := range ep.payloads {
		if match(p) {
			return true
		}
	}
	return false
}

// startEndpoint plugs a network for peer into hub, replacing any network of
// the same peer.
func startEndpoint(t *testing.T, hub *stub.Hub, peer overlay.Peer) *endpoint {
	ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(t, context.Background())
	t.Cleanup(cancel)
	codec := cbor.NewCodec()
	net, err := stub.NewNetwork(unittest.Logger(), hub, peer, codec, metrics.NewNoopCollector())
	require.NoError(t, err)
	net.Start(ctx)
	unittest.RequireClosed(t, net.Ready(), time.Second, "network ready")

	ep := &endpoint{codec: codec}
	ep.con, err = net.Register(channels.Section, ep)
	require.NoError(t, err)
	return ep
}

// An envelope signed by a section key the node cannot connect to its key chain
// makes it ask the sender for the sections it knows.
func TestUnknownSectionKeyRequestsSync(t *testing.T) {
	hub := stub.NewNetworkHub()
	nodes := startNetwork(t, hub, 1)
	genesis, member := nodes[0], nodes[1]

	// the member's address is taken over by a bare endpoint
	stopNode(t, member)
	ep := startEndpoint(t, hub, member.peer)

	stranger := unittest.NewSectionFixture(t, overlay.RootPrefix, 1, 1)
	agreement := &messages.Agreement{Proposal: messages.NodeProposal(messages.ProposalOnline, overlay.NodeState{
		Peer:  unittest.PeerFixture(),
		Age:   5,
		State: overlay.StateJoined,
	})}
	dest := messages.Destination{Kind: messages.ToSection, Name: genesis.peer.ID}
	env, err := routing.NewSectionEnvelope(cbor.NewCodec(), overlay.RootPrefix, dest, agreement,
		stranger.Key(), stranger.Sign(t, agreement.SigningBytes()), nil)
	require.NoError(t, err)
	require.NoError(t, ep.con.Unicast(env, genesis.peer))

	require.Eventually(t, func() bool {
		return ep.received(func(p interface{}) bool {
			req, ok := p.(*messages.SectionSyncRequest)
			return ok && req.Requester.ID == genesis.peer.ID
		})
	}, settle, 20*time.Millisecond)

	// the envelope itself was dropped
	require.Equal(t, 2, genesis.engine.Status().Members)
}
