package membership

import (
	"sort"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/overlay"
)

// Candidate is an elder set proposed for a prefix. Elders are ordered by
// identifier, which is the key share order of the DKG run for them.
type Candidate struct {
	Prefix overlay.Prefix
	Elders overlay.PeerList
}

// pivot rotates the tie-break between members of equal age with every new
// section key.
func (s *Section) pivot() overlay.Identifier {
	return overlay.HashToIdentifier(s.info.Key().Bytes())
}

func (s *Section) eligible(rec *overlay.MembershipRecord, excluded overlay.IdentifierList) bool {
	return isAgreed(rec) && !excluded.Contains(rec.Peer.ID)
}

// rank orders records oldest first, ties broken by XOR distance to the pivot.
func rank(records []overlay.MembershipRecord, pivot overlay.Identifier) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Age != records[j].Age {
			return records[i].Age > records[j].Age
		}
		return pivot.Closer(records[i].Peer.ID, records[j].Peer.ID)
	})
}

// ElderCandidates returns the n oldest eligible members, ordered by identifier.
func (s *Section) ElderCandidates(n int, excluded overlay.IdentifierList) overlay.PeerList {
	records := make([]overlay.MembershipRecord, 0, len(s.members))
	for _, rec := range s.members {
		if s.eligible(rec, excluded) {
			records = append(records, *rec)
		}
	}
	return s.pick(records, n, nil)
}

// pick ranks records and keeps up to n. Members of first are taken before the
// others regardless of age.
func (s *Section) pick(records []overlay.MembershipRecord, n int, first overlay.IdentifierList) overlay.PeerList {
	rank(records, s.pivot())
	if len(first) > 0 {
		sort.SliceStable(records, func(i, j int) bool {
			return first.Contains(records[i].Peer.ID) && !first.Contains(records[j].Peer.ID)
		})
	}
	if len(records) > n {
		records = records[:n]
	}
	peers := make(overlay.PeerList, 0, len(records))
	for _, rec := range records {
		peers = append(peers, rec.Peer)
	}
	return peers.Sorted()
}

// PromoteAndDemote computes the elder sets the section should move to: two
// candidates when the section should split, one when the elder set changes,
// none otherwise. Members excluded by an earlier failed key generation are
// not considered.
//
// An elder set smaller than a supermajority of the current set is never
// proposed, since the current elders could not hand over their authority to it.
func (s *Section) PromoteAndDemote(excluded overlay.IdentifierList) []Candidate {
	all := append(overlay.IdentifierList{}, excluded...)
	for _, id := range s.excluded {
		if !all.Contains(id) {
			all = append(all, id)
		}
	}

	if split, ok := s.TrySplit(all); ok {
		return split.Children[:]
	}

	elders := s.ElderCandidates(s.config.ElderSize, all)
	current := s.Elders()
	if sameIDs(elders, current) {
		return nil
	}
	if len(elders) < crypto.Threshold(len(current)) {
		return nil
	}
	return []Candidate{{Prefix: s.Prefix(), Elders: elders}}
}

func sameIDs(a, b overlay.PeerList) bool {
	if len(a) != len(b) {
		return false
	}
	lookup := b.IDs().Lookup()
	for _, p := range a {
		if _, ok := lookup[p.ID]; !ok {
			return false
		}
	}
	return true
}
