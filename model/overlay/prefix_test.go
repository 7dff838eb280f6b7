package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func prefixGen(maxLen int) *rapid.Generator[Prefix] {
	return rapid.Custom(func(t *rapid.T) Prefix {
		id := identifierGen().Draw(t, "name")
		return NewPrefix(id, rapid.IntRange(0, maxLen).Draw(t, "len"))
	})
}

func TestParsePrefix(t *testing.T) {
	p, err := ParsePrefix("101")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Len())
	assert.Equal(t, "101", p.String())
	assert.Equal(t, "(101)", p.LogString())
	assert.Equal(t, "()", RootPrefix.LogString())

	root, err := ParsePrefix("")
	require.NoError(t, err)
	assert.Equal(t, RootPrefix, root)

	_, err = ParsePrefix("102")
	assert.Error(t, err)
}

func TestPrefixRelations(t *testing.T) {
	p0 := MustParsePrefix("0")
	p01 := MustParsePrefix("01")
	p1 := MustParsePrefix("1")

	assert.True(t, p01.IsExtensionOf(p0))
	assert.True(t, p01.IsExtensionOf(RootPrefix))
	assert.False(t, p0.IsExtensionOf(p01))
	assert.False(t, p0.IsExtensionOf(p0))
	assert.True(t, p0.IsCompatible(p01))
	assert.True(t, p01.IsCompatible(p0))
	assert.False(t, p01.IsCompatible(p1))
	assert.Equal(t, p1, p0.Sibling())
	assert.Equal(t, p0, p01.Popped())
	assert.Equal(t, RootPrefix, RootPrefix.Popped())
	assert.Equal(t, RootPrefix, RootPrefix.Sibling())

	left, right := RootPrefix.Children()
	assert.Equal(t, p0, left)
	assert.Equal(t, p1, right)
	assert.Equal(t, []Prefix{RootPrefix, p0}, p01.Ancestors())

	id := p01.Substituted(ZeroID.Distance(HashToIdentifier([]byte("x"))))
	assert.True(t, p01.Matches(id))
}

func TestPrefixCoverage(t *testing.T) {
	p0 := MustParsePrefix("0")
	p10 := MustParsePrefix("10")
	p11 := MustParsePrefix("11")

	assert.True(t, RootPrefix.IsCoveredBy([]Prefix{p0, p10, p11}))
	assert.False(t, RootPrefix.IsCoveredBy([]Prefix{p0, p10}))
	assert.True(t, p10.IsCoveredBy([]Prefix{RootPrefix}))
	assert.False(t, RootPrefix.IsCoveredBy(nil))
}

func TestPrefixProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := prefixGen(16).Draw(t, "p")
		id := identifierGen().Draw(t, "id")

		// the name of a prefix always matches it
		assert.True(t, p.Matches(p.Name()))
		// substitution moves any identifier into the prefix
		assert.True(t, p.Matches(p.Substituted(id)))

		// every identifier matched by p is matched by exactly one of its children
		if p.Matches(id) {
			left, right := p.Children()
			assert.NotEqual(t, left.Matches(id), right.Matches(id))
		}

		// pushing then popping is the identity
		assert.Equal(t, p, p.Pushed(rapid.Bool().Draw(t, "bit")).Popped())

		if p.Len() > 0 {
			assert.True(t, p.IsExtensionOf(p.Popped()))
			assert.False(t, p.IsCompatible(p.Sibling()))
			assert.Equal(t, p, p.Sibling().Sibling())
		}

		// the textual form round trips
		parsed, err := ParsePrefix(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)

		// the binary form round trips
		b, err := p.MarshalBinary()
		require.NoError(t, err)
		var decoded Prefix
		require.NoError(t, decoded.UnmarshalBinary(b))
		assert.Equal(t, p, decoded)
	})
}

func TestPrefixUnmarshalRejectsStrayBits(t *testing.T) {
	p := MustParsePrefix("1")
	b, err := p.MarshalBinary()
	require.NoError(t, err)
	b[2] |= 0x01

	var decoded Prefix
	assert.Error(t, decoded.UnmarshalBinary(b))
	assert.Error(t, decoded.UnmarshalBinary([]byte{0}))
	assert.Error(t, decoded.UnmarshalBinary([]byte{0xff, 0xff}))
}
