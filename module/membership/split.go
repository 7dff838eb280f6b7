package membership

import (
	"fmt"

	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/keychain"
)

// Split is a proposed split of a section into its two children.
type Split struct {
	Parent   overlay.Prefix
	Children [2]Candidate
}

// TrySplit returns the split of the section when it is large enough: more than
// SplitThreshold members, and at least RecommendedSectionSize eligible members
// on each side of the next prefix bit. The elders of a child are the current
// elders within it, supplemented by its oldest members.
func (s *Section) TrySplit(excluded overlay.IdentifierList) (Split, bool) {
	if s.Len() <= s.config.SplitThreshold {
		return Split{}, false
	}
	zero, one := s.Prefix().Children()
	split := Split{Parent: s.Prefix()}
	current := s.Elders().IDs()
	for i, child := range []overlay.Prefix{zero, one} {
		var records []overlay.MembershipRecord
		for _, rec := range s.members {
			if child.Matches(rec.Peer.ID) && s.eligible(rec, excluded) {
				records = append(records, *rec)
			}
		}
		if len(records) < s.config.RecommendedSectionSize {
			return Split{}, false
		}
		split.Children[i] = Candidate{
			Prefix: child,
			Elders: s.pick(records, s.config.ElderSize, current),
		}
	}
	return split, true
}

// SplitHalf is the agreed outcome for one child: its section info signed by
// the child key, and the link from the parent key to the child key.
type SplitHalf struct {
	Info overlay.SignedSectionInfo
	Link keychain.Link
}

// PendingSplit tracks the agreement of both halves of a split. The parent
// section stays authoritative until both are agreed.
type PendingSplit struct {
	Generation uint64
	Split      Split
	agreed     map[overlay.Prefix]SplitHalf
}

// Agreed returns the agreed half for a child prefix.
func (p *PendingSplit) Agreed(prefix overlay.Prefix) (SplitHalf, bool) {
	half, ok := p.agreed[prefix]
	return half, ok
}

// Complete returns true once both halves are agreed.
func (p *PendingSplit) Complete() bool {
	return len(p.agreed) == 2
}

func (p *PendingSplit) child(prefix overlay.Prefix) (Candidate, bool) {
	for _, c := range p.Split.Children {
		if c.Prefix == prefix {
			return c, true
		}
	}
	return Candidate{}, false
}

// StartSplit records a split computed at generation. A pending split of an
// older generation is replaced.
func (s *Section) StartSplit(generation uint64, split Split) error {
	if split.Parent != s.Prefix() {
		return fmt.Errorf("split of %s in section %s: %w", split.Parent.LogString(), s.Prefix().LogString(), ErrWrongSection)
	}
	if s.pending != nil && s.pending.Generation > generation {
		return nil
	}
	s.pending = &PendingSplit{
		Generation: generation,
		Split:      split,
		agreed:     make(map[overlay.Prefix]SplitHalf, 2),
	}
	return nil
}

// PendingSplit returns the split being agreed, or nil.
func (s *Section) PendingSplit() *PendingSplit {
	return s.pending
}

// AbortSplit drops the pending split.
func (s *Section) AbortSplit() {
	s.pending = nil
}

// RecordSplitHalf records an agreed child of the pending split. It returns true
// once both children are agreed.
//
// Expected errors:
//   - ErrNoPendingSplit if no split is pending
//   - ErrWrongSection if the half is not a child of the pending split
//   - keychain.ErrInvalidLink if the link does not certify the child key under the current key
func (s *Section) RecordSplitHalf(half SplitHalf) (bool, error) {
	if s.pending == nil {
		return false, ErrNoPendingSplit
	}
	prefix := half.Info.Prefix()
	candidate, ok := s.pending.child(prefix)
	if !ok {
		return false, fmt.Errorf("half %s of split %s: %w", prefix.LogString(), s.Prefix().LogString(), ErrWrongSection)
	}
	if !sameIDs(candidate.Elders, half.Info.Info.Elders) {
		return false, fmt.Errorf("half %s has unexpected elders: %w", prefix.LogString(), ErrInvalidState)
	}
	link := half.Link
	if link.Prefix != prefix || link.ParentKey != s.info.Key() || link.Key != half.Info.Key() {
		return false, fmt.Errorf("link %s for half %s: %w", link, prefix.LogString(), keychain.ErrInvalidLink)
	}
	if err := link.Verify(); err != nil {
		return false, err
	}
	s.pending.agreed[prefix] = half
	return s.pending.Complete(), nil
}

// SplitResult is the outcome of a committed split.
type SplitResult struct {
	Ours    SplitHalf
	Sibling SplitHalf
	// Moved are the former members now belonging to the sibling.
	Moved []overlay.MembershipRecord
}

// CommitSplit commits the pending split once both halves are agreed. The
// section becomes the child matched by self.
//
// Expected errors:
//   - ErrNoPendingSplit if no split is pending
//   - ErrSplitIncomplete if a half is not agreed yet
func (s *Section) CommitSplit(self overlay.Identifier) (SplitResult, error) {
	if s.pending == nil {
		return SplitResult{}, ErrNoPendingSplit
	}
	if !s.pending.Complete() {
		return SplitResult{}, ErrSplitIncomplete
	}
	var result SplitResult
	for _, half := range s.pending.agreed {
		if half.Info.Prefix().Matches(self) {
			result.Ours = half
		} else {
			result.Sibling = half
		}
	}
	moved, err := s.InstallChild(result.Ours.Info)
	if err != nil {
		return SplitResult{}, err
	}
	result.Moved = moved
	return result, nil
}

// InstallChild moves the section to one of its children, as agreed by the
// parent elders. Members outside the child are removed and returned. Used by
// members that learn about a split through a section update.
func (s *Section) InstallChild(info overlay.SignedSectionInfo) ([]overlay.MembershipRecord, error) {
	prefix := info.Prefix()
	if prefix.Len() != s.Prefix().Len()+1 || !prefix.IsExtensionOf(s.Prefix()) {
		return nil, fmt.Errorf("%s is not a child of section %s: %w", prefix.LogString(), s.Prefix().LogString(), ErrWrongSection)
	}
	_, out := Partition(s.Members(), prefix)
	for _, rec := range out {
		delete(s.members, rec.Peer.ID)
	}
	s.pending = nil
	s.install(info)
	return out, nil
}

// Partition splits records into those matched by prefix and the others.
func Partition(records []overlay.MembershipRecord, prefix overlay.Prefix) (in, out []overlay.MembershipRecord) {
	for _, rec := range records {
		if prefix.Matches(rec.Peer.ID) {
			in = append(in, rec)
		} else {
			out = append(out, rec)
		}
	}
	return in, out
}
