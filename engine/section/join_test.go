package section_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onflow/sectionnet/engine/routing"
	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/network/codec/cbor"
	"github.com/onflow/sectionnet/network/stub"
)

// An admitted candidate whose admission the other elders never co-sign is
// forgotten once the admission timed out.
func TestUnagreedAdmissionIsForgotten(t *testing.T) {
	hub := stub.NewNetworkHub()
	nodes := startNetwork(t, hub, 1)
	genesis, other := nodes[0], nodes[1]
	require.Len(t, genesis.engine.Status().Elders, 2)

	// the elders cannot reach each other anymore
	isolated := func(id overlay.Identifier) bool { return id == genesis.peer.ID || id == other.peer.ID }
	hub.SetFilter(func(from, to overlay.Identifier) bool {
		return !(isolated(from) && isolated(to))
	})

	key, peer := newKey(t)
	ep := startEndpoint(t, hub, peer)
	req := &messages.JoinRequest{Peer: peer, NodeKey: key.PublicKey()}
	dest := messages.Destination{Kind: messages.ToSection, Name: peer.ID}
	env, err := routing.NewNodeEnvelope(cbor.NewCodec(), key, overlay.RootPrefix, dest, req)
	require.NoError(t, err)
	require.NoError(t, ep.con.Unicast(env, genesis.peer))

	require.Eventually(t, func() bool {
		return genesis.engine.Status().Joining == 1
	}, settle, 10*time.Millisecond)
	assert.Zero(t, other.engine.Status().Joining)

	require.Eventually(t, func() bool {
		return genesis.engine.Status().Joining == 0
	}, settle, 20*time.Millisecond)
	status := genesis.engine.Status()
	assert.Equal(t, 2, status.Members)
	assert.False(t, ep.received(func(p interface{}) bool {
		resp, ok := p.(*messages.JoinResponse)
		return ok && resp.Status == messages.JoinApproved
	}))
}
