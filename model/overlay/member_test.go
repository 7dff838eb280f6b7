package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleTransitions(t *testing.T) {
	roles := []Role{RoleJoining, RoleAdult, RoleElder, RoleLeaving}
	allowed := map[Role][]Role{
		RoleJoining: {RoleAdult, RoleLeaving},
		RoleAdult:   {RoleElder, RoleLeaving},
		RoleElder:   {RoleAdult, RoleLeaving},
		RoleLeaving: {},
	}
	for _, from := range roles {
		assert.True(t, from.Valid())
		for _, to := range roles {
			expected := false
			for _, a := range allowed[from] {
				if a == to {
					expected = true
				}
			}
			assert.Equal(t, expected, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
	assert.False(t, Role(0).Valid())
	assert.False(t, Role(0).CanTransition(RoleAdult))
}

func TestPeerListClosest(t *testing.T) {
	a := Peer{ID: MustHexStringToIdentifier("00" + zeros(62))}
	b := Peer{ID: MustHexStringToIdentifier("f0" + zeros(62))}
	list := PeerList{a, b}

	closest, ok := list.Closest(MustHexStringToIdentifier("e0" + zeros(62)))
	assert.True(t, ok)
	assert.Equal(t, b, closest)

	_, ok = PeerList{}.Closest(ZeroID)
	assert.False(t, ok)
	assert.Equal(t, 1, list.Index(b.ID))
	assert.Equal(t, PeerList{a, b}, PeerList{b, a}.Sorted())
}

func zeros(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '0'
	}
	return string(b)
}
