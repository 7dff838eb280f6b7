package crypto

import (
	"crypto/cipher"
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/util/random"
)

// Deal is one dealer's contribution to a joint-Feldman key generation: a random
// secret polynomial and its public commitments. Every participant deals, and the
// group key is the sum of all commitments.
type Deal struct {
	poly    *share.PriPoly
	commits PublicKeySet
}

// NewDeal samples a polynomial of degree threshold-1.
func NewDeal(threshold int, stream cipher.Stream) *Deal {
	if stream == nil {
		stream = random.New()
	}
	poly := share.NewPriPoly(suite.G2(), threshold, nil, stream)
	return &Deal{
		poly:    poly,
		commits: PublicKeySet{poly: poly.Commit(nil)},
	}
}

// Commitments returns the public commitments to broadcast.
func (d *Deal) Commitments() PublicKeySet {
	return d.commits
}

// PrivateShare returns the encoded evaluation of the polynomial for the
// participant at index. It must only be sent to that participant.
func (d *Deal) PrivateShare(index int) ([]byte, error) {
	return d.poly.Eval(index).V.MarshalBinary()
}

// DealShare is a private share received from a dealer and checked against the
// dealer's commitments.
type DealShare struct {
	v kyber.Scalar
}

// VerifyPrivateShare decodes a private share sent to the participant at index
// and checks it against the dealer's commitments.
func VerifyPrivateShare(commits PublicKeySet, index int, encoded []byte) (DealShare, error) {
	if commits.IsZero() {
		return DealShare{}, ErrInvalidKey
	}
	v := suite.G2().Scalar()
	if err := v.UnmarshalBinary(encoded); err != nil {
		return DealShare{}, fmt.Errorf("%w: %v", ErrInvalidDeal, err)
	}
	expected := commits.poly.Eval(index).V
	if !expected.Equal(suite.G2().Point().Mul(v, nil)) {
		return DealShare{}, ErrInvalidDeal
	}
	return DealShare{v: v}, nil
}

// CombineCommitments sums the commitments of all dealers into the group key set.
func CombineCommitments(sets []PublicKeySet) (PublicKeySet, error) {
	if len(sets) == 0 {
		return PublicKeySet{}, fmt.Errorf("no commitments to combine")
	}
	var sum PublicKeySet
	for i, s := range sets {
		if s.IsZero() {
			return PublicKeySet{}, fmt.Errorf("missing commitments from dealer %d", i)
		}
		var err error
		sum, err = sum.Add(s)
		if err != nil {
			return PublicKeySet{}, err
		}
	}
	return sum, nil
}

// CombineDealShares sums the verified shares received from all dealers into the
// participant's secret key share.
func CombineDealShares(index int, shares []DealShare) (SecretKeyShare, error) {
	if len(shares) == 0 {
		return SecretKeyShare{}, fmt.Errorf("no shares to combine")
	}
	sum := suite.G2().Scalar().Zero()
	for _, s := range shares {
		if s.v == nil {
			return SecretKeyShare{}, ErrInvalidDeal
		}
		sum = sum.Add(sum, s.v)
	}
	return SecretKeyShare{share: &share.PriShare{I: index, V: sum}}, nil
}
