// Package crypto provides the BLS primitives used for section authority: single
// keys, threshold key sets and the joint-Feldman building blocks of the DKG. All
// keys live on the G2 group of the bn256 pairing and signatures on G1.
package crypto

import (
	"crypto/cipher"
	"encoding/hex"
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/util/random"
)

var suite = bn256.NewSuite()

// Signature is an encoded BLS signature, either produced by a single key or
// recovered from a threshold of shares.
type Signature []byte

func (s Signature) String() string {
	return hex.EncodeToString(s)
}

// PublicKeyLen is the length of an encoded public key.
func PublicKeyLen() int {
	return suite.G2().PointLen()
}

// PublicKey is an encoded G2 point. It is comparable and can be used as a map key.
// The zero value is the absent key.
type PublicKey struct {
	raw string
}

// PublicKeyFromBytes decodes and validates a public key.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	p := suite.G2().Point()
	if err := p.UnmarshalBinary(b); err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return PublicKey{raw: string(b)}, nil
}

func publicKeyFromPoint(p kyber.Point) PublicKey {
	b, err := p.MarshalBinary()
	if err != nil {
		// marshalling a valid in-memory point cannot fail
		panic(fmt.Sprintf("could not encode point: %v", err))
	}
	return PublicKey{raw: string(b)}
}

// IsZero returns true for the absent key.
func (pk PublicKey) IsZero() bool {
	return pk.raw == ""
}

// Bytes returns the encoding of the key.
func (pk PublicKey) Bytes() []byte {
	return []byte(pk.raw)
}

func (pk PublicKey) String() string {
	return hex.EncodeToString([]byte(pk.raw))
}

// TerminalString is a short form for logs.
func (pk PublicKey) TerminalString() string {
	if len(pk.raw) < 6 {
		return hex.EncodeToString([]byte(pk.raw))
	}
	return hex.EncodeToString([]byte(pk.raw[:6]))
}

func (pk PublicKey) point() (kyber.Point, error) {
	if pk.IsZero() {
		return nil, ErrInvalidKey
	}
	p := suite.G2().Point()
	if err := p.UnmarshalBinary([]byte(pk.raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return p, nil
}

// Verify checks sig over msg. It returns ErrInvalidSignature for any signature
// that does not verify, including malformed ones.
func (pk PublicKey) Verify(sig Signature, msg []byte) error {
	p, err := pk.point()
	if err != nil {
		return err
	}
	if err := bls.Verify(suite, p, msg, sig); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (pk PublicKey) MarshalBinary() ([]byte, error) {
	return []byte(pk.raw), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. An empty input decodes
// to the zero key.
func (pk *PublicKey) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		*pk = PublicKey{}
		return nil
	}
	decoded, err := PublicKeyFromBytes(data)
	if err != nil {
		return err
	}
	*pk = decoded
	return nil
}

// PrivateKey is a single BLS signing key.
type PrivateKey struct {
	x kyber.Scalar
}

// GeneratePrivateKey samples a new key from the given stream, or from
// crypto/rand when stream is nil.
func GeneratePrivateKey(stream cipher.Stream) PrivateKey {
	if stream == nil {
		stream = random.New()
	}
	x, _ := bls.NewKeyPair(suite, stream)
	return PrivateKey{x: x}
}

// PublicKey returns the matching public key.
func (sk PrivateKey) PublicKey() PublicKey {
	return publicKeyFromPoint(suite.G2().Point().Mul(sk.x, nil))
}

// Sign signs msg.
func (sk PrivateKey) Sign(msg []byte) (Signature, error) {
	sig, err := bls.Sign(suite, sk.x, msg)
	if err != nil {
		return nil, fmt.Errorf("could not sign: %w", err)
	}
	return sig, nil
}

// Encode returns the scalar encoding of the key.
func (sk PrivateKey) Encode() ([]byte, error) {
	return sk.x.MarshalBinary()
}

// DecodePrivateKey is the inverse of PrivateKey.Encode.
func DecodePrivateKey(b []byte) (PrivateKey, error) {
	x := suite.G2().Scalar()
	if err := x.UnmarshalBinary(b); err != nil {
		return PrivateKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return PrivateKey{x: x}, nil
}
