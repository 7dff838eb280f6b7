package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeKey(t *testing.T) {
	key, err := GenerateNodeKey()
	require.NoError(t, err)

	msg := []byte("envelope")
	sig, err := key.Sign(msg)
	require.NoError(t, err)

	raw, err := VerifyNodeSignature(key.PublicKey(), msg, sig)
	require.NoError(t, err)
	assert.Equal(t, key.RawPublicKey(), raw)

	_, err = VerifyNodeSignature(key.PublicKey(), []byte("other"), sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = VerifyNodeSignature([]byte{1, 2}, msg, sig)
	assert.ErrorIs(t, err, ErrInvalidKey)

	encoded, err := key.Encode()
	require.NoError(t, err)
	decoded, err := DecodeNodeKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), decoded.PublicKey())
}
