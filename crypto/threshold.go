package crypto

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/sign/tbls"
	"go.dedis.ch/kyber/v3/util/random"
)

// Threshold returns the number of shares required to sign for a group of size n:
// the supermajority 1 + 2n/3.
func Threshold(n int) int {
	if n <= 0 {
		return 0
	}
	return 1 + 2*n/3
}

// PublicKeySet is the public side of a threshold key: the commitments to the
// coefficients of the group polynomial. The constant term is the group key.
type PublicKeySet struct {
	poly *share.PubPoly
}

func newPublicKeySet(commits []kyber.Point) PublicKeySet {
	return PublicKeySet{poly: share.NewPubPoly(suite.G2(), nil, commits)}
}

// IsZero returns true for an empty key set.
func (ks PublicKeySet) IsZero() bool {
	return ks.poly == nil
}

// Threshold returns the number of signature shares needed to produce a signature.
func (ks PublicKeySet) Threshold() int {
	if ks.poly == nil {
		return 0
	}
	return ks.poly.Threshold()
}

// PublicKey returns the group key.
func (ks PublicKeySet) PublicKey() PublicKey {
	if ks.poly == nil {
		return PublicKey{}
	}
	return publicKeyFromPoint(ks.poly.Commit())
}

// PublicKeyShare returns the public key matching the secret share with the given index.
func (ks PublicKeySet) PublicKeyShare(index int) PublicKey {
	return publicKeyFromPoint(ks.poly.Eval(index).V)
}

// Equal compares two key sets commitment by commitment.
func (ks PublicKeySet) Equal(other PublicKeySet) bool {
	if ks.poly == nil || other.poly == nil {
		return ks.poly == other.poly
	}
	return ks.poly.Equal(other.poly)
}

// VerifyShare checks a signature share against the public key share of its signer.
func (ks PublicKeySet) VerifyShare(sig SignatureShare, msg []byte) error {
	if ks.poly == nil {
		return ErrInvalidKey
	}
	if err := tbls.Verify(suite, ks.poly, msg, sig); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// Combine recovers the group signature over msg from the given shares. Invalid
// shares are skipped; ErrInsufficientShares is returned if fewer than Threshold
// valid shares with distinct indices remain.
func (ks PublicKeySet) Combine(msg []byte, shares []SignatureShare) (Signature, error) {
	if ks.poly == nil {
		return nil, ErrInvalidKey
	}
	t := ks.Threshold()
	seen := make(map[int]struct{}, len(shares))
	valid := make([][]byte, 0, t)
	for _, s := range shares {
		idx, err := s.Index()
		if err != nil {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		if ks.VerifyShare(s, msg) != nil {
			continue
		}
		seen[idx] = struct{}{}
		valid = append(valid, s)
		if len(valid) == t {
			break
		}
	}
	if len(valid) < t {
		return nil, fmt.Errorf("%w: have %d valid, need %d", ErrInsufficientShares, len(valid), t)
	}
	sig, err := tbls.Recover(suite, ks.poly, msg, valid, t, len(valid))
	if err != nil {
		return nil, fmt.Errorf("could not recover signature: %w", err)
	}
	return sig, nil
}

// Add returns the key set whose commitments are the sum of both sets. Both sets
// must have the same threshold.
func (ks PublicKeySet) Add(other PublicKeySet) (PublicKeySet, error) {
	if ks.poly == nil {
		return other, nil
	}
	sum, err := ks.poly.Add(other.poly)
	if err != nil {
		return PublicKeySet{}, fmt.Errorf("could not add key sets: %w", err)
	}
	return PublicKeySet{poly: sum}, nil
}

// MarshalBinary encodes the set as a two-byte commitment count followed by the
// encoded commitments.
func (ks PublicKeySet) MarshalBinary() ([]byte, error) {
	if ks.poly == nil {
		return []byte{}, nil
	}
	_, commits := ks.poly.Info()
	out := make([]byte, 2, 2+len(commits)*PublicKeyLen())
	binary.BigEndian.PutUint16(out, uint16(len(commits)))
	for _, c := range commits {
		b, err := c.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (ks *PublicKeySet) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		*ks = PublicKeySet{}
		return nil
	}
	if len(data) < 2 {
		return fmt.Errorf("%w: key set too short", ErrInvalidKey)
	}
	count := int(binary.BigEndian.Uint16(data[:2]))
	size := PublicKeyLen()
	if count == 0 || len(data) != 2+count*size {
		return fmt.Errorf("%w: key set of %d bytes does not hold %d commitments", ErrInvalidKey, len(data), count)
	}
	commits := make([]kyber.Point, count)
	for i := range commits {
		p := suite.G2().Point()
		if err := p.UnmarshalBinary(data[2+i*size : 2+(i+1)*size]); err != nil {
			return fmt.Errorf("%w: commitment %d: %v", ErrInvalidKey, i, err)
		}
		commits[i] = p
	}
	*ks = newPublicKeySet(commits)
	return nil
}

// SecretKeyShare is one participant's share of a threshold key.
type SecretKeyShare struct {
	share *share.PriShare
}

// Index returns the participant index of the share.
func (s SecretKeyShare) Index() int {
	return s.share.I
}

// IsZero is true for the absent share.
func (s SecretKeyShare) IsZero() bool {
	return s.share == nil
}

// PublicKeyShare returns the public key of this share.
func (s SecretKeyShare) PublicKeyShare() PublicKey {
	return publicKeyFromPoint(suite.G2().Point().Mul(s.share.V, nil))
}

// Sign produces a signature share over msg.
func (s SecretKeyShare) Sign(msg []byte) (SignatureShare, error) {
	if s.share == nil {
		return nil, ErrInvalidKey
	}
	sig, err := tbls.Sign(suite, s.share, msg)
	if err != nil {
		return nil, fmt.Errorf("could not sign share: %w", err)
	}
	return sig, nil
}

// Encode returns the index-prefixed scalar encoding of the share.
func (s SecretKeyShare) Encode() ([]byte, error) {
	v, err := s.share.V.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 2, 2+len(v))
	binary.BigEndian.PutUint16(out, uint16(s.share.I))
	return append(out, v...), nil
}

// DecodeSecretKeyShare is the inverse of SecretKeyShare.Encode.
func DecodeSecretKeyShare(b []byte) (SecretKeyShare, error) {
	if len(b) < 3 {
		return SecretKeyShare{}, fmt.Errorf("%w: share too short", ErrInvalidKey)
	}
	v := suite.G2().Scalar()
	if err := v.UnmarshalBinary(b[2:]); err != nil {
		return SecretKeyShare{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return SecretKeyShare{share: &share.PriShare{I: int(binary.BigEndian.Uint16(b[:2])), V: v}}, nil
}

// SignatureShare is a signature by a single secret key share, prefixed with the
// index of the share.
type SignatureShare []byte

// Index returns the signer index encoded in the share.
func (s SignatureShare) Index() (int, error) {
	idx, err := tbls.SigShare(s).Index()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return idx, nil
}

// GenerateKeySet creates a threshold key with a trusted dealer: n secret shares,
// any t of which can sign for the returned key set.
func GenerateKeySet(t, n int, stream cipher.Stream) (PublicKeySet, []SecretKeyShare) {
	if stream == nil {
		stream = random.New()
	}
	poly := share.NewPriPoly(suite.G2(), t, nil, stream)
	pub := poly.Commit(nil)
	shares := make([]SecretKeyShare, n)
	for i := range shares {
		shares[i] = SecretKeyShare{share: poly.Eval(i)}
	}
	return PublicKeySet{poly: pub}, shares
}
