package messages_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/keychain"
	"github.com/onflow/sectionnet/utils/unittest"
)

func TestEnvelopeSigningBytes(t *testing.T) {
	env := &messages.Envelope{
		ID:           unittest.IdentifierFixture(),
		Source:       unittest.IdentifierFixture(),
		SourcePrefix: overlay.MustParsePrefix("01"),
		Destination:  messages.Destination{Kind: messages.ToNode, Name: unittest.IdentifierFixture()},
		Payload:      []byte{1, 2, 3},
	}
	base := env.SigningBytes()

	env.Hops = 7
	assert.Equal(t, base, env.SigningBytes(), "hop count is not signed")

	env.Payload = []byte{1, 2, 4}
	assert.NotEqual(t, base, env.SigningBytes())
	env.Payload = []byte{1, 2, 3}

	env.Destination.Kind = messages.ToSection
	assert.NotEqual(t, base, env.SigningBytes())
}

// An aggregated signature over a node proposal is a valid node state signature,
// and one over a key proposal is a valid link signature.
func TestProposalSignatures(t *testing.T) {
	keys := unittest.SectionKeysFixture(4)

	state := overlay.NodeState{Peer: unittest.PeerFixture(), Age: 5, State: overlay.StateJoined}
	online := messages.NodeProposal(messages.ProposalOnline, state)
	require.True(t, online.IsNodeProposal())
	signed := overlay.SignedNodeState{
		State:      state,
		SectionKey: keys.Key(),
		Signature:  keys.Sign(t, online.SigningBytes()),
	}
	require.NoError(t, signed.Verify())

	next := unittest.SectionKeysFixture(4)
	prefix := overlay.MustParsePrefix("1")
	proposal := messages.KeyProposal(prefix, next.Key())
	require.False(t, proposal.IsNodeProposal())
	link := keychain.Link{
		Prefix:    prefix,
		ParentKey: keys.Key(),
		Key:       next.Key(),
		Signature: keys.Sign(t, proposal.SigningBytes()),
	}
	require.NoError(t, link.Verify())

	agreement := messages.Agreement{Proposal: proposal}
	assert.Equal(t, proposal.SigningBytes(), agreement.SigningBytes())

	offline := messages.NodeProposal(messages.ProposalOffline, state)
	assert.NotEqual(t, online.ID(), offline.ID(), "same state under different kinds")
}

func TestRelocateDetails(t *testing.T) {
	source := unittest.SectionKeysFixture(3)
	oldKey, err := crypto.GenerateNodeKey()
	require.NoError(t, err)
	newKey, err := crypto.GenerateNodeKey()
	require.NoError(t, err)
	oldID := overlay.IdentifierFromPublicKey(oldKey.RawPublicKey())
	newID := overlay.IdentifierFromPublicKey(newKey.RawPublicKey())

	state := overlay.NodeState{
		Peer:        overlay.Peer{ID: oldID, Address: "stub/old"},
		Age:         6,
		State:       overlay.StateRelocated,
		RelocatedTo: unittest.IdentifierFixture(),
	}
	sig, err := oldKey.Sign(messages.RelocationSigningBytes(newID))
	require.NoError(t, err)
	details := messages.RelocateDetails{
		State: overlay.SignedNodeState{
			State:      state,
			SectionKey: source.Key(),
			Signature:  source.Sign(t, state.SigningBytes()),
		},
		PreviousKey: oldKey.PublicKey(),
		Signature:   sig,
	}

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, details.Verify(newID))
		assert.Equal(t, uint8(6), details.Age())
	})

	t.Run("signed for another node", func(t *testing.T) {
		assert.Error(t, details.Verify(unittest.IdentifierFixture()))
	})

	t.Run("previous key of another node", func(t *testing.T) {
		other := details
		other.PreviousKey = newKey.PublicKey()
		other.Signature, err = newKey.Sign(messages.RelocationSigningBytes(newID))
		require.NoError(t, err)
		assert.Error(t, other.Verify(newID))
	})

	t.Run("not relocated", func(t *testing.T) {
		other := details
		other.State.State.State = overlay.StateJoined
		assert.Error(t, other.Verify(newID))
	})

	t.Run("forged section signature", func(t *testing.T) {
		other := details
		other.State.State.Age = 7
		assert.ErrorIs(t, other.Verify(newID), crypto.ErrInvalidSignature)
	})
}

func TestDKGSessionID(t *testing.T) {
	participants := unittest.PeersFixture(4)
	prefix := overlay.MustParsePrefix("0")
	a := messages.NewDKGSessionID(prefix, 3, 0, participants)
	b := messages.NewDKGSessionID(prefix, 3, 0, participants)
	assert.Equal(t, a, b)

	c := messages.NewDKGSessionID(prefix, 3, 0, participants[:3])
	assert.NotEqual(t, a, c)

	sessions := map[messages.DKGSessionID]int{a: 1}
	assert.Equal(t, 1, sessions[b])
}
