package unittest

import (
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/keychain"
)

func IdentifierFixture() overlay.Identifier {
	var id overlay.Identifier
	_, _ = rand.Read(id[:])
	return id
}

// IdentifierInPrefixFixture returns a random identifier matched by prefix.
func IdentifierInPrefixFixture(prefix overlay.Prefix) overlay.Identifier {
	return prefix.Substituted(IdentifierFixture())
}

func PeerFixture() overlay.Peer {
	id := IdentifierFixture()
	return overlay.Peer{ID: id, Address: fmt.Sprintf("stub/%s", id.TerminalString())}
}

// PeersFixture returns n random peers sorted by identifier.
func PeersFixture(n int) overlay.PeerList {
	return PeersInPrefixFixture(n, overlay.RootPrefix)
}

// PeersInPrefixFixture returns n random peers matched by prefix, sorted by identifier.
func PeersInPrefixFixture(n int, prefix overlay.Prefix) overlay.PeerList {
	peers := make(overlay.PeerList, 0, n)
	for i := 0; i < n; i++ {
		id := IdentifierInPrefixFixture(prefix)
		peers = append(peers, overlay.Peer{ID: id, Address: fmt.Sprintf("stub/%s", id.TerminalString())})
	}
	return peers.Sorted()
}

// SectionKeys is a section key set together with every elder share, so tests
// can produce section signatures directly.
type SectionKeys struct {
	Keys   crypto.PublicKeySet
	Shares []crypto.SecretKeyShare
}

// SectionKeysFixture creates a key set for n elders with the default threshold.
func SectionKeysFixture(n int) SectionKeys {
	keys, shares := crypto.GenerateKeySet(crypto.Threshold(n), n, nil)
	return SectionKeys{Keys: keys, Shares: shares}
}

func (s SectionKeys) Key() crypto.PublicKey {
	return s.Keys.PublicKey()
}

// Sign produces the section signature over msg from a threshold of shares.
func (s SectionKeys) Sign(t testing.TB, msg []byte) crypto.Signature {
	shares := make([]crypto.SignatureShare, 0, s.Keys.Threshold())
	for _, sk := range s.Shares[:s.Keys.Threshold()] {
		share, err := sk.Sign(msg)
		require.NoError(t, err)
		shares = append(shares, share)
	}
	sig, err := s.Keys.Combine(msg, shares)
	require.NoError(t, err)
	return sig
}

// LinkFixture returns a link certifying child for prefix, signed by parent.
func LinkFixture(t testing.TB, parent SectionKeys, prefix overlay.Prefix, child crypto.PublicKey) keychain.Link {
	return keychain.Link{
		Prefix:    prefix,
		ParentKey: parent.Key(),
		Key:       child,
		Signature: parent.Sign(t, keychain.LinkSigningBytes(prefix, child)),
	}
}

// SignedSectionInfoFixture returns a section info signed by its own keys.
func SignedSectionInfoFixture(t testing.TB, prefix overlay.Prefix, generation uint64, elders overlay.PeerList, keys SectionKeys) overlay.SignedSectionInfo {
	info := overlay.SectionInfo{
		Prefix:     prefix,
		Generation: generation,
		Elders:     elders,
		KeySet:     keys.Keys,
	}
	return overlay.SignedSectionInfo{Info: info, Signature: keys.Sign(t, info.SigningBytes())}
}

// SectionFixture is a section with its keys and signed info.
type SectionFixture struct {
	SectionKeys
	Info overlay.SignedSectionInfo
}

// NewSectionFixture creates a section of n elders within prefix.
func NewSectionFixture(t testing.TB, prefix overlay.Prefix, generation uint64, n int) SectionFixture {
	keys := SectionKeysFixture(n)
	elders := PeersInPrefixFixture(n, prefix)
	return SectionFixture{
		SectionKeys: keys,
		Info:        SignedSectionInfoFixture(t, prefix, generation, elders, keys),
	}
}

// Child creates a section for prefix whose key is linked from s in chain.
func (s SectionFixture) Child(t testing.TB, chain *keychain.KeyChain, prefix overlay.Prefix, n int) SectionFixture {
	child := NewSectionFixture(t, prefix, s.Info.Info.Generation+1, n)
	require.NoError(t, chain.Append(LinkFixture(t, s.SectionKeys, prefix, child.Key())))
	return child
}

// GenesisFixture creates a root section of n elders and a key chain rooted at its key.
func GenesisFixture(t testing.TB, n int) (SectionFixture, *keychain.KeyChain) {
	genesis := NewSectionFixture(t, overlay.RootPrefix, 0, n)
	return genesis, keychain.New(genesis.Key())
}
