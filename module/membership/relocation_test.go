package membership

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/utils/unittest"
)

func TestRelocationCandidates(t *testing.T) {
	churnSig := []byte("churn signature")
	keys := unittest.SectionKeysFixture(1)
	elders := unittest.PeersFixture(1)
	info := unittest.SignedSectionInfoFixture(t, overlay.RootPrefix, 1, elders, keys)
	adults := unittest.PeersFixture(5)
	states := []overlay.SignedNodeState{joinedState(t, keys, elders[0], 0)}
	for _, p := range adults {
		// age zero members always qualify
		states = append(states, joinedState(t, keys, p, 0))
	}

	config := DefaultConfig()
	s, err := NewSection(config, NoopProver{}, info, states)
	require.NoError(t, err)

	picked := s.RelocationCandidates(churnSig)
	require.Len(t, picked, 1, "one relocation per churn event")
	assert.Equal(t, overlay.RoleAdult, picked[0].Role, "elders are not relocated")
	assert.Equal(t, picked, s.RelocationCandidates(churnSig), "the choice is deterministic")

	state := RelocatedState(picked[0], churnSig)
	assert.Equal(t, overlay.StateRelocated, state.State)
	assert.Equal(t, uint8(1), state.Age)
	assert.Equal(t, RelocationDestination(churnSig, picked[0].ID()), state.RelocatedTo)
	assert.NotEqual(t, RelocationDestination([]byte("other churn"), picked[0].ID()), state.RelocatedTo)

	config.RelocationEnabled = false
	s.config = config
	assert.Empty(t, s.RelocationCandidates(churnSig))
}

func TestRelocatedStateAgeSaturates(t *testing.T) {
	rec := overlay.MembershipRecord{Peer: unittest.PeerFixture(), Age: 255}
	assert.Equal(t, uint8(255), RelocatedState(rec, nil).Age)
}

func TestTrailingZeros(t *testing.T) {
	var id overlay.Identifier
	assert.Equal(t, overlay.IdentifierBits, trailingZeros(id))
	id[31] = 0x08
	assert.Equal(t, 3, trailingZeros(id))
	id[31] = 0
	id[30] = 0x01
	assert.Equal(t, 8, trailingZeros(id))
}

func TestHashcashProver(t *testing.T) {
	prover := HashcashProver{Difficulty: 8}
	id := unittest.IdentifierFixture()
	proof, err := prover.Prove(id)
	require.NoError(t, err)
	require.NoError(t, prover.Verify(id, proof))
	assert.GreaterOrEqual(t, leadingZeros(overlay.HashToIdentifier(id[:], proof)), 8)

	assert.ErrorIs(t, prover.Verify(id, proof[:4]), ErrResourceProofFailed)

	_, err = HashcashProver{Difficulty: 40}.Prove(id)
	assert.Error(t, err)

	var zero overlay.Identifier
	assert.Equal(t, overlay.IdentifierBits, leadingZeros(zero))
	zero[1] = 0x10
	assert.Equal(t, 11, leadingZeros(zero))
}
