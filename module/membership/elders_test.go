package membership

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/keychain"
	"github.com/onflow/sectionnet/utils/unittest"
)

func TestElderCandidates(t *testing.T) {
	f := newTestSection(t, DefaultConfig(), overlay.RootPrefix, unittest.PeersFixture(3), unittest.PeersFixture(6))
	s := f.section

	// the elders are the oldest members
	assert.Equal(t, f.elders, s.ElderCandidates(3, nil))

	candidates := s.ElderCandidates(4, nil)
	require.Len(t, candidates, 4)
	for _, p := range f.elders {
		assert.True(t, candidates.Contains(p.ID))
	}

	// ties between adults are broken by distance to the pivot
	pivot := overlay.HashToIdentifier(s.Info().Key().Bytes())
	closest, ok := f.adults.Closest(pivot)
	require.True(t, ok)
	assert.True(t, candidates.Contains(closest.ID))

	excluded := s.ElderCandidates(3, overlay.IdentifierList{f.elders[0].ID})
	assert.False(t, excluded.Contains(f.elders[0].ID))
	assert.True(t, excluded.Contains(closest.ID))
}

func TestPromoteAndDemote(t *testing.T) {
	config := DefaultConfig()

	t.Run("stable", func(t *testing.T) {
		f := newTestSection(t, config, overlay.RootPrefix, unittest.PeersFixture(7), unittest.PeersFixture(3))
		assert.Empty(t, f.section.PromoteAndDemote(nil))
	})

	t.Run("replaces an excluded elder", func(t *testing.T) {
		f := newTestSection(t, config, overlay.RootPrefix, unittest.PeersFixture(7), unittest.PeersFixture(3))
		candidates := f.section.PromoteAndDemote(overlay.IdentifierList{f.elders[2].ID})
		require.Len(t, candidates, 1)
		assert.Equal(t, overlay.RootPrefix, candidates[0].Prefix)
		assert.Len(t, candidates[0].Elders, 7)
		assert.False(t, candidates[0].Elders.Contains(f.elders[2].ID))
	})

	t.Run("grows towards elder size", func(t *testing.T) {
		f := newTestSection(t, config, overlay.RootPrefix, unittest.PeersFixture(1), unittest.PeersFixture(3))
		candidates := f.section.PromoteAndDemote(nil)
		require.Len(t, candidates, 1)
		assert.Len(t, candidates[0].Elders, 4)
	})

	t.Run("never shrinks below a supermajority", func(t *testing.T) {
		f := newTestSection(t, config, overlay.RootPrefix, unittest.PeersFixture(7), nil)
		require.Equal(t, 5, crypto.Threshold(7))

		candidates := f.section.PromoteAndDemote(f.elders[:2].IDs())
		require.Len(t, candidates, 1)
		assert.Len(t, candidates[0].Elders, 5)

		assert.Empty(t, f.section.PromoteAndDemote(f.elders[:3].IDs()))
	})

	t.Run("degraded section excludes failed participants", func(t *testing.T) {
		f := newTestSection(t, config, overlay.RootPrefix, unittest.PeersFixture(7), unittest.PeersFixture(3))
		f.section.MarkDegraded(f.elders[:1])
		candidates := f.section.PromoteAndDemote(nil)
		require.Len(t, candidates, 1)
		assert.False(t, candidates[0].Elders.Contains(f.elders[0].ID))
	})
}

// balanced returns n peers in each child of the root prefix.
func balanced(n int) overlay.PeerList {
	zero, one := overlay.RootPrefix.Children()
	peers := append(unittest.PeersInPrefixFixture(n, zero), unittest.PeersInPrefixFixture(n, one)...)
	return peers.Sorted()
}

// agreeHalf produces the agreed outcome of a split child: new keys, the child
// info signed by them and the link from the parent keys.
func agreeHalf(t *testing.T, parent unittest.SectionKeys, candidate Candidate, generation uint64) (SplitHalf, unittest.SectionKeys) {
	keys := unittest.SectionKeysFixture(len(candidate.Elders))
	info := unittest.SignedSectionInfoFixture(t, candidate.Prefix, generation, candidate.Elders, keys)
	return SplitHalf{
		Info: info,
		Link: unittest.LinkFixture(t, parent, candidate.Prefix, keys.Key()),
	}, keys
}

func TestRootSplit(t *testing.T) {
	config := DefaultConfig()
	config.ElderSize = 8
	f := newTestSection(t, config, overlay.RootPrefix, balanced(4), balanced(20))
	s := f.section
	require.Equal(t, 48, s.Len())
	chain := keychain.New(f.Key())

	candidates := s.PromoteAndDemote(nil)
	require.Len(t, candidates, 2)
	split, ok := s.TrySplit(nil)
	require.True(t, ok)
	assert.Equal(t, split.Children[:], candidates)

	zero, one := overlay.RootPrefix.Children()
	assert.Equal(t, zero, split.Children[0].Prefix)
	assert.Equal(t, one, split.Children[1].Prefix)
	for _, child := range split.Children {
		require.Len(t, child.Elders, 8)
		for _, p := range child.Elders {
			assert.True(t, child.Prefix.Matches(p.ID))
		}
		// the current elders of the half keep their role
		for _, p := range f.elders {
			if child.Prefix.Matches(p.ID) {
				assert.True(t, child.Elders.Contains(p.ID))
			}
		}
	}

	require.NoError(t, s.StartSplit(s.Generation(), split))
	_, err := s.CommitSplit(f.elders[0].ID)
	assert.ErrorIs(t, err, ErrSplitIncomplete)

	halves := make([]SplitHalf, 2)
	for i, child := range split.Children {
		halves[i], _ = agreeHalf(t, f.SectionKeys, child, s.Generation()+1)
	}
	complete, err := s.RecordSplitHalf(halves[0])
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Equal(t, overlay.RootPrefix, s.Prefix(), "the parent stays authoritative")
	complete, err = s.RecordSplitHalf(halves[1])
	require.NoError(t, err)
	assert.True(t, complete)

	before := s.Members()
	self := f.elders[0].ID
	result, err := s.CommitSplit(self)
	require.NoError(t, err)
	assert.Equal(t, result.Ours.Info.Prefix(), s.Prefix())
	assert.True(t, s.Prefix().Matches(self))
	assert.Nil(t, s.PendingSplit())

	// every former member is in exactly one child
	kept := s.Members()
	assert.Len(t, kept, 24)
	assert.Len(t, result.Moved, 24)
	seen := make(map[overlay.Identifier]int)
	for _, rec := range kept {
		assert.True(t, result.Ours.Info.Prefix().Matches(rec.ID()))
		seen[rec.ID()]++
	}
	for _, rec := range result.Moved {
		assert.True(t, result.Sibling.Info.Prefix().Matches(rec.ID()))
		seen[rec.ID()]++
	}
	for _, rec := range before {
		assert.Equal(t, 1, seen[rec.ID()])
	}

	// both children verify back to the root key
	for _, half := range []SplitHalf{result.Ours, result.Sibling} {
		require.NoError(t, chain.Append(half.Link))
		assert.NoError(t, keychain.Verify(half.Info.Key(), []keychain.Link{half.Link}, f.Key()))
		assert.True(t, chain.IsTrusted(half.Info.Key()))
	}
	assert.Empty(t, chain.Forks())
}

// A split retried at a later generation after one half failed forgets the
// half agreed earlier, and the links of the retried halves extend the parent
// key without forking it.
func TestSplitRetryAfterFailedHalf(t *testing.T) {
	config := DefaultConfig()
	f := newTestSection(t, config, overlay.RootPrefix, balanced(3), balanced(10))
	s := f.section
	chain := keychain.New(f.Key())

	split, ok := s.TrySplit(nil)
	require.True(t, ok)
	generation := s.Generation()
	require.NoError(t, s.StartSplit(generation, split))
	early, _ := agreeHalf(t, f.SectionKeys, split.Children[0], generation+1)
	complete, err := s.RecordSplitHalf(early)
	require.NoError(t, err)
	require.False(t, complete)

	// the other half never completes, the split is computed again
	require.NoError(t, s.StartSplit(generation+1, split))
	_, agreed := s.PendingSplit().Agreed(split.Children[0].Prefix)
	assert.False(t, agreed)

	for _, child := range split.Children {
		half, _ := agreeHalf(t, f.SectionKeys, child, generation+2)
		complete, err = s.RecordSplitHalf(half)
		require.NoError(t, err)
	}
	require.True(t, complete)
	result, err := s.CommitSplit(f.elders[0].ID)
	require.NoError(t, err)

	for _, half := range []SplitHalf{result.Ours, result.Sibling} {
		require.NoError(t, chain.Append(half.Link))
		assert.True(t, chain.IsTrusted(half.Info.Key()))
	}
	assert.Empty(t, chain.Forks())
	assert.False(t, chain.Has(early.Info.Key()))
}

func TestSplitErrors(t *testing.T) {
	config := DefaultConfig()
	f := newTestSection(t, config, overlay.RootPrefix, balanced(3), balanced(10))
	s := f.section

	_, err := s.RecordSplitHalf(SplitHalf{})
	assert.ErrorIs(t, err, ErrNoPendingSplit)
	_, err = s.CommitSplit(f.elders[0].ID)
	assert.ErrorIs(t, err, ErrNoPendingSplit)

	split, ok := s.TrySplit(nil)
	require.True(t, ok)
	require.NoError(t, s.StartSplit(s.Generation(), split))

	t.Run("link from another key", func(t *testing.T) {
		half, _ := agreeHalf(t, unittest.SectionKeysFixture(1), split.Children[0], 2)
		_, err := s.RecordSplitHalf(half)
		assert.ErrorIs(t, err, keychain.ErrInvalidLink)
	})

	t.Run("unexpected prefix", func(t *testing.T) {
		candidate := Candidate{Prefix: overlay.MustParsePrefix("01"), Elders: split.Children[0].Elders}
		half, _ := agreeHalf(t, f.SectionKeys, candidate, 2)
		_, err := s.RecordSplitHalf(half)
		assert.ErrorIs(t, err, ErrWrongSection)
	})

	t.Run("unexpected elders", func(t *testing.T) {
		candidate := Candidate{Prefix: split.Children[0].Prefix, Elders: split.Children[1].Elders}
		half, _ := agreeHalf(t, f.SectionKeys, candidate, 2)
		_, err := s.RecordSplitHalf(half)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("older split is ignored", func(t *testing.T) {
		require.NoError(t, s.StartSplit(0, Split{Parent: overlay.RootPrefix}))
		assert.Equal(t, split, s.PendingSplit().Split)
	})

	t.Run("too small", func(t *testing.T) {
		small := newTestSection(t, config, overlay.RootPrefix, balanced(3), balanced(5))
		_, ok := small.section.TrySplit(nil)
		assert.False(t, ok, "each half needs the recommended size")

		lopsided := newTestSection(t, config, overlay.RootPrefix, balanced(3), unittest.PeersInPrefixFixture(30, overlay.MustParsePrefix("0")))
		_, ok = lopsided.section.TrySplit(nil)
		assert.False(t, ok)
	})
}

func TestPartition(t *testing.T) {
	prefix := overlay.MustParsePrefix("1")
	var records []overlay.MembershipRecord
	for _, p := range balanced(5) {
		records = append(records, overlay.MembershipRecord{Peer: p})
	}
	in, out := Partition(records, prefix)
	assert.Len(t, in, 5)
	assert.Len(t, out, 5)
	for _, rec := range in {
		assert.True(t, prefix.Matches(rec.ID()))
	}
	for _, rec := range out {
		assert.False(t, prefix.Matches(rec.ID()))
	}
}
