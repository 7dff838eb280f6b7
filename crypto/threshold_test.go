package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreshold(t *testing.T) {
	cases := map[int]int{0: 0, 1: 1, 2: 2, 3: 3, 4: 3, 5: 4, 6: 5, 7: 5, 8: 6, 10: 7}
	for n, expected := range cases {
		assert.Equal(t, expected, Threshold(n), "n=%d", n)
	}
}

func TestThresholdSignature(t *testing.T) {
	n := 7
	th := Threshold(n)
	keys, shares := GenerateKeySet(th, n, nil)
	require.Equal(t, th, keys.Threshold())
	msg := []byte("agreed membership change")

	sigShares := make([]SignatureShare, 0, n)
	for i, s := range shares {
		require.Equal(t, i, s.Index())
		sig, err := s.Sign(msg)
		require.NoError(t, err)
		require.NoError(t, keys.VerifyShare(sig, msg))
		idx, err := sig.Index()
		require.NoError(t, err)
		require.Equal(t, i, idx)
		assert.Equal(t, keys.PublicKeyShare(i), s.PublicKeyShare())
		sigShares = append(sigShares, sig)
	}

	t.Run("threshold shares recover a group signature", func(t *testing.T) {
		sig, err := keys.Combine(msg, sigShares[:th])
		require.NoError(t, err)
		require.NoError(t, keys.PublicKey().Verify(sig, msg))
	})

	t.Run("any subset of threshold size yields the same signature", func(t *testing.T) {
		first, err := keys.Combine(msg, sigShares[:th])
		require.NoError(t, err)
		second, err := keys.Combine(msg, sigShares[n-th:])
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("too few shares", func(t *testing.T) {
		_, err := keys.Combine(msg, sigShares[:th-1])
		assert.ErrorIs(t, err, ErrInsufficientShares)
	})

	t.Run("duplicates do not count twice", func(t *testing.T) {
		dups := make([]SignatureShare, 0, th)
		for i := 0; i < th; i++ {
			dups = append(dups, sigShares[0])
		}
		_, err := keys.Combine(msg, dups)
		assert.ErrorIs(t, err, ErrInsufficientShares)
	})

	t.Run("invalid shares are skipped", func(t *testing.T) {
		bad, err := shares[0].Sign([]byte("other message"))
		require.NoError(t, err)
		mixed := append([]SignatureShare{bad}, sigShares[1:th+1]...)
		sig, err := keys.Combine(msg, mixed)
		require.NoError(t, err)
		require.NoError(t, keys.PublicKey().Verify(sig, msg))
	})
}

func TestPublicKeySetEncoding(t *testing.T) {
	keys, _ := GenerateKeySet(3, 4, nil)
	b, err := keys.MarshalBinary()
	require.NoError(t, err)

	var decoded PublicKeySet
	require.NoError(t, decoded.UnmarshalBinary(b))
	assert.True(t, keys.Equal(decoded))
	assert.Equal(t, keys.PublicKey(), decoded.PublicKey())

	assert.ErrorIs(t, decoded.UnmarshalBinary(b[:len(b)-1]), ErrInvalidKey)
}

func TestSecretKeyShareEncoding(t *testing.T) {
	keys, shares := GenerateKeySet(2, 3, nil)
	b, err := shares[2].Encode()
	require.NoError(t, err)
	decoded, err := DecodeSecretKeyShare(b)
	require.NoError(t, err)
	assert.Equal(t, 2, decoded.Index())
	assert.Equal(t, keys.PublicKeyShare(2), decoded.PublicKeyShare())
}
