package overlay

import (
	"fmt"
	"sort"
)

// Peer is a node reachable on the network.
type Peer struct {
	ID      Identifier
	Address string
}

func (p Peer) String() string {
	return fmt.Sprintf("%s@%s", p.ID.TerminalString(), p.Address)
}

// PeerList is an ordered list of peers.
type PeerList []Peer

// IDs returns the identifiers of the peers, in list order.
func (pl PeerList) IDs() IdentifierList {
	ids := make(IdentifierList, 0, len(pl))
	for _, p := range pl {
		ids = append(ids, p.ID)
	}
	return ids
}

// ByID returns the peer with the given identifier.
func (pl PeerList) ByID(id Identifier) (Peer, bool) {
	for _, p := range pl {
		if p.ID == id {
			return p, true
		}
	}
	return Peer{}, false
}

// Index returns the position of id in the list, or -1.
func (pl PeerList) Index(id Identifier) int {
	for i, p := range pl {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// Contains returns true if a peer with the given identifier is in the list.
func (pl PeerList) Contains(id Identifier) bool {
	return pl.Index(id) >= 0
}

// Sorted returns a copy of the list ordered by identifier.
func (pl PeerList) Sorted() PeerList {
	sorted := make(PeerList, len(pl))
	copy(sorted, pl)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID.Compare(sorted[j].ID) < 0
	})
	return sorted
}

// Closest returns the peer closest to target by XOR distance.
func (pl PeerList) Closest(target Identifier) (Peer, bool) {
	if len(pl) == 0 {
		return Peer{}, false
	}
	best := pl[0]
	for _, p := range pl[1:] {
		if target.Closer(p.ID, best.ID) {
			best = p
		}
	}
	return best, true
}

// Filter returns the peers for which keep returns true.
func (pl PeerList) Filter(keep func(Peer) bool) PeerList {
	filtered := make(PeerList, 0, len(pl))
	for _, p := range pl {
		if keep(p) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}
