package keychain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/overlay"
)

func sign(t testing.TB, parent crypto.PrivateKey, prefix overlay.Prefix, child crypto.PublicKey) Link {
	sig, err := parent.Sign(LinkSigningBytes(prefix, child))
	require.NoError(t, err)
	return Link{
		Prefix:    prefix,
		ParentKey: parent.PublicKey(),
		Key:       child,
		Signature: sig,
	}
}

type KeyChainSuite struct {
	suite.Suite
	genesis crypto.PrivateKey
	chain   *KeyChain
}

func TestKeyChain(t *testing.T) {
	suite.Run(t, new(KeyChainSuite))
}

func (s *KeyChainSuite) SetupTest() {
	s.genesis = crypto.GeneratePrivateKey(nil)
	s.chain = New(s.genesis.PublicKey())
}

// extend appends a fresh key under parent and returns its private key.
func (s *KeyChainSuite) extend(parent crypto.PrivateKey, prefix overlay.Prefix) crypto.PrivateKey {
	child := crypto.GeneratePrivateKey(nil)
	s.Require().NoError(s.chain.Append(sign(s.T(), parent, prefix, child.PublicKey())))
	return child
}

func (s *KeyChainSuite) TestAppendAndVerify() {
	k1 := s.extend(s.genesis, overlay.RootPrefix)
	k2 := s.extend(k1, overlay.MustParsePrefix("0"))

	s.True(s.chain.IsTrusted(k2.PublicKey()))
	s.Equal(3, s.chain.Len())

	proof, err := s.chain.ProofTo(k2.PublicKey())
	s.Require().NoError(err)
	s.Require().Len(proof, 2)
	s.NoError(Verify(k2.PublicKey(), proof, s.genesis.PublicKey()))

	// any single-bit mutation of a link signature fails verification
	for i := 0; i < len(proof[1].Signature)*8; i += 5 {
		mutated := make([]Link, len(proof))
		copy(mutated, proof)
		sig := make(crypto.Signature, len(proof[1].Signature))
		copy(sig, proof[1].Signature)
		sig[i/8] ^= 1 << uint(i%8)
		mutated[1].Signature = sig
		s.ErrorIs(Verify(k2.PublicKey(), mutated, s.genesis.PublicKey()), ErrBadAuthority, "bit %d", i)
	}

	s.NoError(Verify(s.genesis.PublicKey(), nil, s.genesis.PublicKey()))
	s.ErrorIs(Verify(k1.PublicKey(), nil, s.genesis.PublicKey()), ErrBadAuthority)
	s.ErrorIs(Verify(k1.PublicKey(), proof, s.genesis.PublicKey()), ErrBadAuthority)
}

func (s *KeyChainSuite) TestAppendErrors() {
	k1 := s.extend(s.genesis, overlay.RootPrefix)

	s.Run("unknown parent", func() {
		stranger := crypto.GeneratePrivateKey(nil)
		err := s.chain.Append(sign(s.T(), stranger, overlay.RootPrefix, crypto.GeneratePrivateKey(nil).PublicKey()))
		s.ErrorIs(err, ErrUnknownParent)
	})

	s.Run("prefix jumps more than one bit", func() {
		err := s.chain.Append(sign(s.T(), k1, overlay.MustParsePrefix("01"), crypto.GeneratePrivateKey(nil).PublicKey()))
		s.ErrorIs(err, ErrInvalidLink)
	})

	s.Run("prefix moves to an unrelated section", func() {
		k0 := s.extend(k1, overlay.MustParsePrefix("0"))
		err := s.chain.Append(sign(s.T(), k0, overlay.MustParsePrefix("1"), crypto.GeneratePrivateKey(nil).PublicKey()))
		s.ErrorIs(err, ErrInvalidLink)
	})

	s.Run("bad signature", func() {
		link := sign(s.T(), k1, overlay.MustParsePrefix("1"), crypto.GeneratePrivateKey(nil).PublicKey())
		link.Key = crypto.GeneratePrivateKey(nil).PublicKey()
		s.ErrorIs(s.chain.Append(link), ErrInvalidLink)
	})

	s.Run("same link twice is a no-op", func() {
		link := sign(s.T(), k1, overlay.MustParsePrefix("1"), crypto.GeneratePrivateKey(nil).PublicKey())
		s.Require().NoError(s.chain.Append(link))
		n := s.chain.Len()
		s.NoError(s.chain.Append(link))
		s.Equal(n, s.chain.Len())
	})
}

func (s *KeyChainSuite) TestForkDetected() {
	k1 := s.extend(s.genesis, overlay.RootPrefix)
	rival := crypto.GeneratePrivateKey(nil)

	err := s.chain.Append(sign(s.T(), s.genesis, overlay.RootPrefix, rival.PublicKey()))
	fork, ok := IsForkError(err)
	s.Require().True(ok)
	s.ErrorIs(err, ErrForkDetected)
	s.Equal(k1.PublicKey(), fork.Retained)
	s.Equal(rival.PublicKey(), fork.Incoming)

	// both are kept, only the existing one stays trusted
	s.True(s.chain.IsTrusted(k1.PublicKey()))
	s.False(s.chain.IsTrusted(rival.PublicKey()))
	s.True(s.chain.Has(rival.PublicKey()))
	s.Len(s.chain.Forks(), 1)

	// the discarded branch cannot be extended into trust
	err = s.chain.Append(sign(s.T(), rival, overlay.RootPrefix, crypto.GeneratePrivateKey(nil).PublicKey()))
	s.ErrorIs(err, ErrDiscardedBranch)

	last, ok := s.chain.LastKey(overlay.RootPrefix)
	s.True(ok)
	s.Equal(k1.PublicKey(), last)
}

func (s *KeyChainSuite) TestSplitIsNotAFork() {
	k1 := s.extend(s.genesis, overlay.RootPrefix)
	k0 := s.extend(k1, overlay.MustParsePrefix("0"))
	k01 := s.extend(k1, overlay.MustParsePrefix("1"))

	for _, k := range []crypto.PrivateKey{k0, k01} {
		proof, err := s.chain.ProofTo(k.PublicKey())
		s.Require().NoError(err)
		s.NoError(Verify(k.PublicKey(), proof, s.genesis.PublicKey()))
		s.True(s.chain.HasAncestor(k.PublicKey(), k1.PublicKey()))
	}
	s.Empty(s.chain.Forks())
}

func (s *KeyChainSuite) TestMergeLongerLineageWins() {
	k1 := s.extend(s.genesis, overlay.RootPrefix)

	// an incoming segment of three links beats the one-link existing branch
	a := crypto.GeneratePrivateKey(nil)
	b := crypto.GeneratePrivateKey(nil)
	c := crypto.GeneratePrivateKey(nil)
	segment := []Link{
		sign(s.T(), s.genesis, overlay.RootPrefix, a.PublicKey()),
		sign(s.T(), a, overlay.RootPrefix, b.PublicKey()),
		sign(s.T(), b, overlay.RootPrefix, c.PublicKey()),
	}
	err := s.chain.Merge(segment)
	fork, ok := IsForkError(err)
	s.Require().True(ok)
	s.Equal(a.PublicKey(), fork.Retained)
	s.False(s.chain.IsTrusted(k1.PublicKey()))
	s.True(s.chain.IsTrusted(c.PublicKey()))

	last, ok := s.chain.LastKey(overlay.RootPrefix)
	s.True(ok)
	s.Equal(c.PublicKey(), last)
}

func (s *KeyChainSuite) TestMergeTieKeepsExisting() {
	k1 := s.extend(s.genesis, overlay.RootPrefix)
	rival := crypto.GeneratePrivateKey(nil)

	err := s.chain.Merge([]Link{sign(s.T(), s.genesis, overlay.RootPrefix, rival.PublicKey())})
	fork, ok := IsForkError(err)
	s.Require().True(ok)
	s.Equal(k1.PublicKey(), fork.Retained)
	s.True(s.chain.IsTrusted(k1.PublicKey()))
	s.False(s.chain.IsTrusted(rival.PublicKey()))
}

func (s *KeyChainSuite) TestMergeExtendsChain() {
	k1 := crypto.GeneratePrivateKey(nil)
	k2 := crypto.GeneratePrivateKey(nil)
	s.Require().NoError(s.chain.Merge([]Link{
		sign(s.T(), s.genesis, overlay.RootPrefix, k1.PublicKey()),
		sign(s.T(), k1, overlay.MustParsePrefix("1"), k2.PublicKey()),
	}))
	s.True(s.chain.IsTrusted(k2.PublicKey()))
	prefix, ok := s.chain.PrefixOf(k2.PublicKey())
	s.True(ok)
	s.Equal(overlay.MustParsePrefix("1"), prefix)

	// merging known links again is a no-op
	s.NoError(s.chain.Merge(s.chain.Links()))
	s.Equal(3, s.chain.Len())
}

// A message signed by a key that was superseded by later rotations is accepted
// with a valid proof, while a proof missing a link is rejected.
func (s *KeyChainSuite) TestVerifyAuthority() {
	k1 := crypto.GeneratePrivateKey(nil)
	k2 := crypto.GeneratePrivateKey(nil)
	k3 := crypto.GeneratePrivateKey(nil)
	l1 := sign(s.T(), s.genesis, overlay.RootPrefix, k1.PublicKey())
	l2 := sign(s.T(), k1, overlay.RootPrefix, k2.PublicKey())
	l3 := sign(s.T(), k2, overlay.RootPrefix, k3.PublicKey())

	s.Run("trusted key", func() {
		s.NoError(s.chain.VerifyAuthority(s.genesis.PublicKey(), nil))
	})

	s.Run("forward proof from a trusted key", func() {
		s.NoError(s.chain.VerifyAuthority(k3.PublicKey(), []Link{l1, l2, l3}))
	})

	s.Run("missing link", func() {
		s.ErrorIs(s.chain.VerifyAuthority(k3.PublicKey(), []Link{l1, l3}), ErrBadAuthority)
	})

	s.Run("proof that does not touch the key", func() {
		s.ErrorIs(s.chain.VerifyAuthority(k3.PublicKey(), []Link{l1}), ErrBadAuthority)
	})

	s.Run("unknown key without proof", func() {
		s.ErrorIs(s.chain.VerifyAuthority(k3.PublicKey(), nil), ErrStaleKey)
	})

	s.Run("valid proof without trusted endpoint", func() {
		s.ErrorIs(s.chain.VerifyAuthority(k3.PublicKey(), []Link{l2, l3}), ErrStaleKey)
	})

	s.Run("superseded key in the chain needs no proof", func() {
		chain := New(s.genesis.PublicKey())
		for _, link := range []Link{l1, l2, l3} {
			s.Require().NoError(chain.Append(link))
		}
		s.NoError(chain.VerifyAuthority(k1.PublicKey(), nil))
	})
}

// An unknown key cannot vouch for itself by signing a link towards a trusted key.
func (s *KeyChainSuite) TestVerifyAuthoritySelfSignedLink() {
	current := s.extend(s.genesis, overlay.RootPrefix)
	attacker := crypto.GeneratePrivateKey(nil)

	forged := sign(s.T(), attacker, overlay.RootPrefix, current.PublicKey())
	s.ErrorIs(s.chain.VerifyAuthority(attacker.PublicKey(), []Link{forged}), ErrBadAuthority)

	// a bootstrapped chain does not learn predecessors of its genesis key either
	chain := New(current.PublicKey())
	s.ErrorIs(chain.VerifyAuthority(attacker.PublicKey(), []Link{forged}), ErrBadAuthority)
	s.False(chain.IsTrusted(attacker.PublicKey()))
}

// A key certified for one half cannot certify keys for the other half.
func (s *KeyChainSuite) TestVerifyAuthorityCrossPrefix() {
	k1 := s.extend(s.genesis, overlay.RootPrefix)
	k0 := s.extend(k1, overlay.MustParsePrefix("0"))

	s.Run("link from a trusted key", func() {
		intruder := crypto.GeneratePrivateKey(nil)
		link := sign(s.T(), k0, overlay.MustParsePrefix("1"), intruder.PublicKey())
		s.ErrorIs(s.chain.VerifyAuthority(intruder.PublicKey(), []Link{link}), ErrBadAuthority)
	})

	s.Run("link inside the segment", func() {
		a := crypto.GeneratePrivateKey(nil)
		b := crypto.GeneratePrivateKey(nil)
		segment := []Link{
			sign(s.T(), k0, overlay.MustParsePrefix("0"), a.PublicKey()),
			sign(s.T(), a, overlay.MustParsePrefix("1"), b.PublicKey()),
		}
		s.ErrorIs(s.chain.VerifyAuthority(b.PublicKey(), segment), ErrBadAuthority)
		s.ErrorIs(Verify(b.PublicKey(), segment, k0.PublicKey()), ErrBadAuthority)
		s.ErrorIs(s.chain.Merge(segment), ErrBadAuthority)
		s.False(s.chain.Has(b.PublicKey()))
	})

	s.Run("one-bit split is accepted", func() {
		half := crypto.GeneratePrivateKey(nil)
		link := sign(s.T(), k0, overlay.MustParsePrefix("01"), half.PublicKey())
		s.NoError(s.chain.VerifyAuthority(half.PublicKey(), []Link{link}))
	})
}

// A proof that competes with a child the chain already trusts is not authority.
func (s *KeyChainSuite) TestVerifyAuthorityRejectsFork() {
	s.extend(s.genesis, overlay.RootPrefix)
	rival := crypto.GeneratePrivateKey(nil)
	link := sign(s.T(), s.genesis, overlay.RootPrefix, rival.PublicKey())
	s.ErrorIs(s.chain.VerifyAuthority(rival.PublicKey(), []Link{link}), ErrBadAuthority)

	// extending a discarded key does not help either
	s.Require().Error(s.chain.Append(link))
	next := crypto.GeneratePrivateKey(nil)
	s.ErrorIs(s.chain.VerifyAuthority(next.PublicKey(), []Link{link, sign(s.T(), rival, overlay.RootPrefix, next.PublicKey())}), ErrBadAuthority)
}

func (s *KeyChainSuite) TestProofBetween() {
	k1 := s.extend(s.genesis, overlay.RootPrefix)
	k2 := s.extend(k1, overlay.RootPrefix)
	k3 := s.extend(k2, overlay.MustParsePrefix("0"))

	proof, err := s.chain.ProofBetween(k1.PublicKey(), k3.PublicKey())
	s.Require().NoError(err)
	s.Len(proof, 2)
	s.NoError(Verify(k3.PublicKey(), proof, k1.PublicKey()))

	empty, err := s.chain.ProofBetween(k2.PublicKey(), k2.PublicKey())
	s.Require().NoError(err)
	s.Empty(empty)

	_, err = s.chain.ProofBetween(k3.PublicKey(), k1.PublicKey())
	s.ErrorIs(err, ErrUnknownKey)
	_, err = s.chain.ProofTo(crypto.GeneratePrivateKey(nil).PublicKey())
	s.ErrorIs(err, ErrUnknownKey)
}

func TestLinksReplay(t *testing.T) {
	genesis := crypto.GeneratePrivateKey(nil)
	chain := New(genesis.PublicKey())
	k1 := crypto.GeneratePrivateKey(nil)
	k2 := crypto.GeneratePrivateKey(nil)
	require.NoError(t, chain.Append(sign(t, genesis, overlay.RootPrefix, k1.PublicKey())))
	require.NoError(t, chain.Append(sign(t, k1, overlay.MustParsePrefix("0"), k2.PublicKey())))

	replayed := New(genesis.PublicKey())
	for _, link := range chain.Links() {
		require.NoError(t, replayed.Append(link))
	}
	assert.Equal(t, chain.Links(), replayed.Links())
	assert.True(t, replayed.IsTrusted(k2.PublicKey()))
}

func TestNewRequiresGenesis(t *testing.T) {
	_, err := NewWithCacheSize(crypto.PublicKey{}, 8)
	assert.ErrorIs(t, err, crypto.ErrInvalidKey)
}
