package membership

import (
	"math/bits"

	"github.com/onflow/sectionnet/model/overlay"
)

// RelocationCandidates returns the adults to relocate after a churn event
// agreed with signature churnSig. A member of age a is picked when the hash of
// the signature and its identifier ends in at least a zero bits, so older
// members move exponentially less often. At most one member is relocated per
// churn event, the oldest first.
func (s *Section) RelocationCandidates(churnSig []byte) []overlay.MembershipRecord {
	if !s.config.RelocationEnabled {
		return nil
	}
	var picked []overlay.MembershipRecord
	for _, rec := range s.members {
		if rec.Role != overlay.RoleAdult {
			continue
		}
		digest := overlay.HashToIdentifier(churnSig, rec.Peer.ID[:])
		if trailingZeros(digest) >= int(rec.Age) {
			picked = append(picked, *rec)
		}
	}
	if len(picked) == 0 {
		return nil
	}
	rank(picked, overlay.HashToIdentifier(churnSig))
	return picked[:1]
}

// RelocationDestination returns the name a relocated node moves towards. The
// destination section is the one whose prefix matches it.
func RelocationDestination(churnSig []byte, id overlay.Identifier) overlay.Identifier {
	return overlay.HashToIdentifier(id[:], churnSig)
}

// RelocatedState returns the node state to agree for relocating rec. The
// node keeps its age plus one in the destination section.
func RelocatedState(rec overlay.MembershipRecord, churnSig []byte) overlay.NodeState {
	age := rec.Age
	if age < ^uint8(0) {
		age++
	}
	return overlay.NodeState{
		Peer:        rec.Peer,
		Age:         age,
		State:       overlay.StateRelocated,
		PreviousID:  rec.PreviousID,
		RelocatedTo: RelocationDestination(churnSig, rec.Peer.ID),
	}
}

func trailingZeros(id overlay.Identifier) int {
	n := 0
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] != 0 {
			return n + bits.TrailingZeros8(id[i])
		}
		n += 8
	}
	return n
}
