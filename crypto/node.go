package crypto

import (
	"crypto/rand"
	"fmt"

	lcrypto "github.com/libp2p/go-libp2p/core/crypto"
)

// NodeKey is a node's long-lived Ed25519 identity key. The same key identifies
// the node to the libp2p transport and signs the envelopes it originates.
type NodeKey struct {
	priv lcrypto.PrivKey
}

// GenerateNodeKey creates a new random node key.
func GenerateNodeKey() (NodeKey, error) {
	priv, _, err := lcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return NodeKey{}, fmt.Errorf("could not generate node key: %w", err)
	}
	return NodeKey{priv: priv}, nil
}

// NodeKeyFromLibp2p wraps an existing libp2p private key.
func NodeKeyFromLibp2p(priv lcrypto.PrivKey) NodeKey {
	return NodeKey{priv: priv}
}

// DecodeNodeKey decodes a key produced by NodeKey.Encode.
func DecodeNodeKey(b []byte) (NodeKey, error) {
	priv, err := lcrypto.UnmarshalPrivateKey(b)
	if err != nil {
		return NodeKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return NodeKey{priv: priv}, nil
}

// Encode returns the protobuf encoding of the private key.
func (k NodeKey) Encode() ([]byte, error) {
	return lcrypto.MarshalPrivateKey(k.priv)
}

// Libp2p returns the underlying libp2p key.
func (k NodeKey) Libp2p() lcrypto.PrivKey {
	return k.priv
}

// PublicKey returns the protobuf encoding of the public key, as carried in envelopes.
func (k NodeKey) PublicKey() []byte {
	b, err := lcrypto.MarshalPublicKey(k.priv.GetPublic())
	if err != nil {
		panic(fmt.Sprintf("could not encode node public key: %v", err))
	}
	return b
}

// RawPublicKey returns the raw public key bytes from which the node identifier is derived.
func (k NodeKey) RawPublicKey() []byte {
	raw, err := k.priv.GetPublic().Raw()
	if err != nil {
		panic(fmt.Sprintf("could not read raw node public key: %v", err))
	}
	return raw
}

// Sign signs msg with the node key.
func (k NodeKey) Sign(msg []byte) (Signature, error) {
	sig, err := k.priv.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("could not sign with node key: %w", err)
	}
	return sig, nil
}

// VerifyNodeSignature checks sig over msg under an encoded node public key and
// returns the raw public key bytes on success.
func VerifyNodeSignature(encodedPub []byte, msg []byte, sig Signature) ([]byte, error) {
	pub, err := lcrypto.UnmarshalPublicKey(encodedPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	ok, err := pub.Verify(msg, sig)
	if err != nil || !ok {
		return nil, ErrInvalidSignature
	}
	raw, err := pub.Raw()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return raw, nil
}

// RawNodePublicKey decodes an encoded node public key into its raw bytes.
func RawNodePublicKey(encodedPub []byte) ([]byte, error) {
	pub, err := lcrypto.UnmarshalPublicKey(encodedPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pub.Raw()
}
