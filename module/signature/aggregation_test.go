package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/encoding"
)

func createSigners(t *testing.T, n int) (crypto.PublicKeySet, []*ShareSigner) {
	keys, shares := crypto.GenerateKeySet(crypto.Threshold(n), n, nil)
	signers := make([]*ShareSigner, 0, n)
	for _, s := range shares {
		signer, err := NewShareSigner(keys, s)
		require.NoError(t, err)
		signers = append(signers, signer)
	}
	return keys, signers
}

func TestThresholdAggregator(t *testing.T) {
	n := 7
	keys, signers := createSigners(t, n)
	msg := []byte("online: node 42")
	tagged := encoding.Tagged(encoding.ProposalTag, msg)

	t.Run("happy path", func(t *testing.T) {
		agg := NewThresholdAggregator(0)
		var recovered crypto.Signature
		completions := 0
		for _, signer := range signers {
			share, err := signer.Sign(encoding.ProposalTag, msg)
			require.NoError(t, err)
			sig, done, err := agg.Add(keys, tagged, share, n)
			require.NoError(t, err)
			if done {
				completions++
				recovered = sig
			}
		}
		// shares past the threshold are ignored
		assert.Equal(t, 1, completions)
		require.NoError(t, Verify(keys.PublicKey(), encoding.ProposalTag, msg, recovered))
	})

	t.Run("invalid share", func(t *testing.T) {
		agg := NewThresholdAggregator(0)
		share, err := signers[0].Sign(encoding.ProposalTag, []byte("other"))
		require.NoError(t, err)
		_, _, err = agg.Add(keys, tagged, share, n)
		assert.ErrorIs(t, err, ErrInvalidShare)
	})

	t.Run("share from outside the key holders", func(t *testing.T) {
		agg := NewThresholdAggregator(0)
		share, err := signers[6].Sign(encoding.ProposalTag, msg)
		require.NoError(t, err)
		_, _, err = agg.Add(keys, tagged, share, 5)
		assert.True(t, IsInvalidSignerError(err))
	})

	t.Run("repeated share is a no-op", func(t *testing.T) {
		agg := NewThresholdAggregator(0)
		share, err := signers[0].Sign(encoding.ProposalTag, msg)
		require.NoError(t, err)
		for i := 0; i < keys.Threshold(); i++ {
			_, done, err := agg.Add(keys, tagged, share, n)
			require.NoError(t, err)
			assert.False(t, done)
		}
	})

	t.Run("prune", func(t *testing.T) {
		agg := NewThresholdAggregator(0)
		share, err := signers[0].Sign(encoding.ProposalTag, msg)
		require.NoError(t, err)
		_, _, err = agg.Add(keys, tagged, share, n)
		require.NoError(t, err)
		assert.Equal(t, 1, agg.Len())
		agg.Prune(keys.PublicKey())
		assert.Equal(t, 1, agg.Len())
		agg.Prune()
		assert.Equal(t, 0, agg.Len())
	})
}

func TestNewShareSigner(t *testing.T) {
	keys, _ := crypto.GenerateKeySet(2, 3, nil)
	_, otherShares := crypto.GenerateKeySet(2, 3, nil)

	_, err := NewShareSigner(keys, otherShares[0])
	assert.Error(t, err)
	_, err = NewShareSigner(keys, crypto.SecretKeyShare{})
	assert.ErrorIs(t, err, ErrNoShare)
}
