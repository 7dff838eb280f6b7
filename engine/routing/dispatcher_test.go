package routing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/onflow/sectionnet/engine/routing"
	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/keychain"
	"github.com/onflow/sectionnet/module/metrics"
	"github.com/onflow/sectionnet/module/prefixmap"
	"github.com/onflow/sectionnet/utils/unittest"
)

// sectionTable is the routing table of a node of one section.
type sectionTable struct {
	prefix   overlay.Prefix
	sections *prefixmap.PrefixMap
	members  overlay.PeerList
}

func (s *sectionTable) Prefix() overlay.Prefix { return s.prefix }
func (s *sectionTable) Closest(id overlay.Identifier) (overlay.SignedSectionInfo, error) {
	return s.sections.Closest(id)
}
func (s *sectionTable) Member(id overlay.Identifier) (overlay.Peer, bool) {
	return s.members.ByID(id)
}

func newDispatcher(t testing.TB, self overlay.Identifier) *routing.Dispatcher {
	d, err := routing.NewDispatcher(self, routing.DefaultSeenCacheSize, metrics.NewNoopCollector())
	require.NoError(t, err)
	return d
}

func envelopeTo(dest messages.Destination) *messages.Envelope {
	return &messages.Envelope{ID: unittest.IdentifierFixture(), Destination: dest}
}

func TestRoute(t *testing.T) {
	genesis, chain := unittest.GenesisFixture(t, 1)
	zero := genesis.Child(t, chain, overlay.MustParsePrefix("0"), 3)
	one := genesis.Child(t, chain, overlay.MustParsePrefix("1"), 3)
	sections := prefixmap.New(chain)
	require.NoError(t, sections.InsertOrUpdate(zero.Info))
	require.NoError(t, sections.InsertOrUpdate(one.Info))

	self := zero.Info.Info.Elders[0]
	adult := unittest.PeersInPrefixFixture(1, zero.Info.Prefix())[0]
	table := &sectionTable{
		prefix:   zero.Info.Prefix(),
		sections: sections,
		members:  append(overlay.PeerList{adult}, zero.Info.Info.Elders...),
	}
	d := newDispatcher(t, self.ID)

	t.Run("section of ours", func(t *testing.T) {
		decision, err := d.Route(table, envelopeTo(messages.Destination{Kind: messages.ToSection, Name: unittest.IdentifierInPrefixFixture(table.prefix)}))
		require.NoError(t, err)
		assert.Equal(t, routing.Local, decision.Kind)
	})

	t.Run("ourselves", func(t *testing.T) {
		decision, err := d.Route(table, envelopeTo(messages.Destination{Kind: messages.ToNode, Name: self.ID}))
		require.NoError(t, err)
		assert.Equal(t, routing.Local, decision.Kind)
	})

	t.Run("member", func(t *testing.T) {
		decision, err := d.Route(table, envelopeTo(messages.Destination{Kind: messages.ToNode, Name: adult.ID}))
		require.NoError(t, err)
		assert.Equal(t, routing.Member, decision.Kind)
		assert.Equal(t, adult, decision.Target)

		_, err = d.Route(table, envelopeTo(messages.Destination{Kind: messages.ToNode, Name: unittest.IdentifierInPrefixFixture(table.prefix)}))
		assert.ErrorIs(t, err, routing.ErrNoRoute)
	})

	t.Run("next hop", func(t *testing.T) {
		dest := unittest.IdentifierInPrefixFixture(one.Info.Prefix())
		decision, err := d.Route(table, envelopeTo(messages.Destination{Kind: messages.ToSection, Name: dest}))
		require.NoError(t, err)
		assert.Equal(t, routing.NextHop, decision.Kind)
		expected, _ := one.Info.Info.Elders.Closest(dest)
		assert.Equal(t, expected, decision.Target, "elder closest to the destination")
	})

	t.Run("duplicate", func(t *testing.T) {
		env := envelopeTo(messages.Destination{Kind: messages.ToNode, Name: self.ID})
		_, err := d.Route(table, env)
		require.NoError(t, err)
		_, err = d.Route(table, env)
		assert.ErrorIs(t, err, routing.ErrDuplicate)
		d.Forget(env.ID)
		_, err = d.Route(table, env)
		assert.NoError(t, err)
	})

	t.Run("hop limit", func(t *testing.T) {
		env := envelopeTo(messages.Destination{Kind: messages.ToNode, Name: self.ID})
		env.Hops = routing.MaxHops + 1
		_, err := d.Route(table, env)
		assert.ErrorIs(t, err, routing.ErrTooManyHops)
	})

	t.Run("no closer section", func(t *testing.T) {
		alone := prefixmap.New(chain)
		require.NoError(t, alone.InsertOrUpdate(zero.Info))
		lonely := &sectionTable{prefix: zero.Info.Prefix(), sections: alone}
		dest := unittest.IdentifierInPrefixFixture(one.Info.Prefix())
		_, err := d.Route(lonely, envelopeTo(messages.Destination{Kind: messages.ToSection, Name: dest}))
		assert.ErrorIs(t, err, routing.ErrNoRoute)
	})
}

// buildTree splits the root section depth times in every branch and returns
// the leaf sections.
func buildTree(t *testing.T, depth int) ([]unittest.SectionFixture, *keychain.KeyChain) {
	genesis, chain := unittest.GenesisFixture(t, 1)
	level := []unittest.SectionFixture{genesis}
	for d := 0; d < depth; d++ {
		var next []unittest.SectionFixture
		for _, s := range level {
			left, right := s.Info.Prefix().Children()
			next = append(next, s.Child(t, chain, left, 2), s.Child(t, chain, right, 2))
		}
		level = next
	}
	return level, chain
}

// matched returns the number of leading bits of id the prefix agrees with.
func matched(prefix overlay.Prefix, id overlay.Identifier) int {
	n := prefix.Name().CommonPrefixLen(id)
	if n > prefix.Len() {
		return prefix.Len()
	}
	return n
}

// Every node knows its own section and, for every bit of its prefix, one
// section across that bit. Greedy routing then extends the common prefix with
// the destination on every hop.
func TestRoutingConvergence(t *testing.T) {
	const depth = 4
	leaves, chain := buildTree(t, depth)
	byPrefix := make(map[overlay.Prefix]unittest.SectionFixture, len(leaves))
	for _, leaf := range leaves {
		byPrefix[leaf.Info.Prefix()] = leaf
	}

	tables := make(map[overlay.Identifier]*sectionTable)
	dispatchers := make(map[overlay.Identifier]*routing.Dispatcher)
	for _, leaf := range leaves {
		prefix := leaf.Info.Prefix()
		sections := prefixmap.New(chain)
		require.NoError(t, sections.InsertOrUpdate(leaf.Info))
		for i := 0; i < prefix.Len(); i++ {
			across := overlay.NewPrefix(prefix.Name().WithBit(i, !prefix.Bit(i)), prefix.Len())
			require.NoError(t, sections.InsertOrUpdate(byPrefix[across].Info))
		}
		for _, elder := range leaf.Info.Info.Elders {
			tables[elder.ID] = &sectionTable{prefix: prefix, sections: sections, members: leaf.Info.Info.Elders}
			dispatchers[elder.ID] = newDispatcher(t, elder.ID)
		}
	}

	rapid.Check(t, func(rt *rapid.T) {
		var dest overlay.Identifier
		copy(dest[:], rapid.SliceOfN(rapid.Byte(), overlay.IdentifierLen, overlay.IdentifierLen).Draw(rt, "dest"))
		start := leaves[rapid.IntRange(0, len(leaves)-1).Draw(rt, "start")]

		env := envelopeTo(messages.Destination{Kind: messages.ToSection, Name: dest})
		node := start.Info.Info.Elders[0].ID
		for {
			decision, err := dispatchers[node].Route(tables[node], env)
			require.NoError(rt, err)
			if decision.Kind == routing.Local {
				break
			}
			require.Equal(rt, routing.NextHop, decision.Kind)
			require.NotEqual(rt, node, decision.Target.ID, "never routes to itself")
			before := matched(tables[node].prefix, dest)
			after := matched(tables[decision.Target.ID].prefix, dest)
			require.Greater(rt, after, before, "every hop gets closer")
			node = decision.Target.ID
			env.Hops++
		}
		assert.True(rt, tables[node].prefix.Matches(dest))
		assert.LessOrEqual(rt, int(env.Hops), depth)
		assert.LessOrEqual(rt, int(env.Hops), routing.MaxHops)
	})
}
