package prefixmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/keychain"
	"github.com/onflow/sectionnet/utils/unittest"
)

var (
	p0  = overlay.MustParsePrefix("0")
	p1  = overlay.MustParsePrefix("1")
	p00 = overlay.MustParsePrefix("00")
	p01 = overlay.MustParsePrefix("01")
)

func TestInsertAndLookup(t *testing.T) {
	root, chain := unittest.GenesisFixture(t, 1)
	m := New(chain)

	_, err := m.Lookup(unittest.IdentifierFixture())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.InsertOrUpdate(root.Info))
	info, err := m.Lookup(unittest.IdentifierFixture())
	require.NoError(t, err)
	assert.Equal(t, root.Info.Key(), info.Key())

	// inserting the same info again is a no-op
	require.NoError(t, m.InsertOrUpdate(root.Info))
	assert.Equal(t, 1, m.Len())

	s0 := root.Child(t, chain, p0, 1)
	require.NoError(t, m.InsertOrUpdate(s0.Info))
	assert.True(t, m.IsPrefixFree())
	assert.Equal(t, []overlay.Prefix{p0}, m.Prefixes())

	// the split-off half not yet known resolves to the retained parent
	info, err = m.Lookup(unittest.IdentifierInPrefixFixture(p1))
	require.NoError(t, err)
	assert.Equal(t, overlay.RootPrefix, info.Prefix())

	info, err = m.Lookup(unittest.IdentifierInPrefixFixture(p0))
	require.NoError(t, err)
	assert.Equal(t, p0, info.Prefix())

	// once both halves are known the fallback is dropped
	s1 := root.Child(t, chain, p1, 1)
	require.NoError(t, m.InsertOrUpdate(s1.Info))
	assert.Equal(t, []overlay.Prefix{p0, p1}, m.Prefixes())
	assert.Empty(t, m.fallbacks)
}

func TestInsertOrUpdateErrors(t *testing.T) {
	root, chain := unittest.GenesisFixture(t, 1)
	m := New(chain)
	require.NoError(t, m.InsertOrUpdate(root.Info))
	s0 := root.Child(t, chain, p0, 1)
	require.NoError(t, m.InsertOrUpdate(s0.Info))

	t.Run("untrusted key", func(t *testing.T) {
		stranger := unittest.NewSectionFixture(t, p1, 1, 1)
		assert.ErrorIs(t, m.InsertOrUpdate(stranger.Info), ErrUntrustedKey)
	})

	t.Run("key certified for another prefix", func(t *testing.T) {
		// section 0 signs an info claiming the other half
		claimed := unittest.SignedSectionInfoFixture(t, p1, 2, unittest.PeersInPrefixFixture(1, p1), s0.SectionKeys)
		assert.ErrorIs(t, m.InsertOrUpdate(claimed), ErrUntrustedKey)
		assert.Equal(t, []overlay.Prefix{p0}, m.Prefixes())

		// nor can it claim a descendant it never certified
		narrowed := unittest.SignedSectionInfoFixture(t, p00, 2, unittest.PeersInPrefixFixture(1, p00), s0.SectionKeys)
		assert.ErrorIs(t, m.InsertOrUpdate(narrowed), ErrUntrustedKey)
		_, ok := m.Get(p00)
		assert.False(t, ok)
	})

	t.Run("bad self signature", func(t *testing.T) {
		tampered := s0.Info
		tampered.Info.Generation++
		assert.ErrorIs(t, m.InsertOrUpdate(tampered), ErrUntrustedKey)
	})

	t.Run("ancestor after split is stale", func(t *testing.T) {
		assert.ErrorIs(t, m.InsertOrUpdate(root.Info), ErrStaleKey)
	})

	t.Run("rotation replaces, the older key becomes stale", func(t *testing.T) {
		rotated := s0.Child(t, chain, p0, 1)
		require.NoError(t, m.InsertOrUpdate(rotated.Info))
		current, ok := m.Get(p0)
		require.True(t, ok)
		assert.Equal(t, rotated.Key(), current.Key())

		assert.ErrorIs(t, m.InsertOrUpdate(s0.Info), ErrStaleKey)

		// a child signed by the superseded key is not part of the current lineage
		orphan := s0.Child(t, chain, p01, 1)
		assert.ErrorIs(t, m.InsertOrUpdate(orphan.Info), ErrUnrelatedPrefix)

		child := rotated.Child(t, chain, p00, 1)
		require.NoError(t, m.InsertOrUpdate(child.Info))
		assert.True(t, m.IsPrefixFree())
	})
}

func TestClosest(t *testing.T) {
	root, chain := unittest.GenesisFixture(t, 1)
	m := New(chain)
	_, err := m.Closest(unittest.IdentifierFixture())
	assert.ErrorIs(t, err, ErrNotFound)

	s0 := root.Child(t, chain, p0, 1)
	s00 := s0.Child(t, chain, p00, 1)
	require.NoError(t, m.InsertOrUpdate(s00.Info))

	// an unknown region is reached through the closest known section
	target := unittest.IdentifierInPrefixFixture(p1)
	closest, err := m.Closest(target)
	require.NoError(t, err)
	assert.Equal(t, p00, closest.Prefix())

	closest, err = m.Closest(unittest.IdentifierInPrefixFixture(p00))
	require.NoError(t, err)
	assert.Equal(t, p00, closest.Prefix())
}

func TestRemoveCovered(t *testing.T) {
	root, chain := unittest.GenesisFixture(t, 1)
	m := New(chain)
	s0 := root.Child(t, chain, p0, 1)
	s1 := root.Child(t, chain, p1, 1)
	s00 := s0.Child(t, chain, p00, 1)
	s01 := s0.Child(t, chain, p01, 1)
	for _, s := range []unittest.SectionFixture{s1, s00, s01} {
		require.NoError(t, m.InsertOrUpdate(s.Info))
	}

	removed := m.RemoveCovered(p0)
	require.Len(t, removed, 2)
	assert.Equal(t, p00, removed[0].Prefix())
	assert.Equal(t, p01, removed[1].Prefix())
	assert.Equal(t, []overlay.Prefix{p1}, m.Prefixes())
}

// tree is a pre-built hierarchy of sections, two levels deep with a rotation at
// each prefix, so property tests do not pay for key generation per run.
type tree struct {
	chain    *keychain.KeyChain
	sections []unittest.SectionFixture
}

func buildTree(t *testing.T) tree {
	root, chain := unittest.GenesisFixture(t, 1)
	tr := tree{chain: chain, sections: []unittest.SectionFixture{root}}
	var grow func(parent unittest.SectionFixture, depth int)
	grow = func(parent unittest.SectionFixture, depth int) {
		if depth == 2 {
			return
		}
		for _, bit := range []bool{false, true} {
			child := parent.Child(t, chain, parent.Info.Prefix().Pushed(bit), 1)
			rotated := child.Child(t, chain, child.Info.Prefix(), 1)
			tr.sections = append(tr.sections, child, rotated)
			grow(rotated, depth+1)
		}
	}
	grow(root, 0)
	return tr
}

func TestPrefixFreedomProperty(t *testing.T) {
	tr := buildTree(t)
	rapid.Check(t, func(rt *rapid.T) {
		m := New(tr.chain)
		ops := rapid.SliceOfN(rapid.IntRange(0, len(tr.sections)-1), 1, 12).Draw(rt, "ops")
		for _, i := range ops {
			_ = m.InsertOrUpdate(tr.sections[i].Info)
			if !m.IsPrefixFree() {
				rt.Fatalf("map not prefix-free after inserting %s: %v", tr.sections[i].Info.Prefix().LogString(), m.Prefixes())
			}
		}
		// identifiers inside every stored section resolve to that section
		for _, p := range m.Prefixes() {
			info, err := m.Lookup(unittest.IdentifierInPrefixFixture(p))
			if err != nil || info.Prefix() != p {
				rt.Fatalf("lookup in %s resolved to %s: %v", p.LogString(), info.Prefix().LogString(), err)
			}
		}
	})
}
