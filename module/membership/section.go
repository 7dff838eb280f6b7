package membership

import (
	"errors"
	"fmt"
	"sort"

	"github.com/onflow/sectionnet/model/overlay"
)

// JoinCandidate is a node asking to join the section.
type JoinCandidate struct {
	Peer overlay.Peer
	Age  uint8
	// PreviousID is set for relocated nodes.
	PreviousID    overlay.Identifier
	ResourceProof []byte
}

// Section is the local view of the membership of one section: its agreed
// members, the candidates admitted by this node, the current signed section
// info, and a pending split when one is being agreed.
//
// Generation counts agreed membership changes. Elder changes and splits are
// keyed by the generation they were computed at.
//
// A Section is owned by the section engine loop and is not safe for
// concurrent use.
type Section struct {
	config     Config
	prover     ResourceProver
	info       overlay.SignedSectionInfo
	members    map[overlay.Identifier]*overlay.MembershipRecord
	generation uint64
	tick       uint64
	pending    *PendingSplit
	degraded   bool
	excluded   overlay.IdentifierList
}

// NewSection creates the membership of a section from its signed info and the
// agreed states of its members. Every elder must be a member.
func NewSection(config Config, prover ResourceProver, info overlay.SignedSectionInfo, members []overlay.SignedNodeState) (*Section, error) {
	s := &Section{
		config:     config,
		prover:     prover,
		info:       info,
		members:    make(map[overlay.Identifier]*overlay.MembershipRecord, len(members)),
		generation: info.Info.Generation,
	}
	for _, signed := range members {
		state := signed.State
		if state.State != overlay.StateJoined {
			return nil, fmt.Errorf("member %s: %w", state.Peer.ID.TerminalString(), ErrInvalidState)
		}
		if !s.Prefix().Matches(state.Peer.ID) {
			return nil, fmt.Errorf("member %s: %w", state.Peer.ID.TerminalString(), ErrWrongSection)
		}
		role := overlay.RoleAdult
		if info.Info.IsElder(state.Peer.ID) {
			role = overlay.RoleElder
		}
		s.members[state.Peer.ID] = &overlay.MembershipRecord{
			Peer:       state.Peer,
			Age:        state.Age,
			Role:       role,
			PreviousID: state.PreviousID,
			Proof:      signed,
		}
	}
	for _, elder := range info.Info.Elders {
		if _, ok := s.members[elder.ID]; !ok {
			return nil, fmt.Errorf("elder %s: %w", elder.ID.TerminalString(), ErrUnknownMember)
		}
	}
	return s, nil
}

func (s *Section) Config() Config                  { return s.config }
func (s *Section) Prefix() overlay.Prefix          { return s.info.Info.Prefix }
func (s *Section) Info() overlay.SignedSectionInfo { return s.info }
func (s *Section) Generation() uint64              { return s.generation }
func (s *Section) Elders() overlay.PeerList        { return s.info.Info.Elders }

// IsElder returns true if id is an elder of the current section info.
func (s *Section) IsElder(id overlay.Identifier) bool {
	return s.info.Info.IsElder(id)
}

// Member returns the record of a member or joining candidate.
func (s *Section) Member(id overlay.Identifier) (overlay.MembershipRecord, bool) {
	rec, ok := s.members[id]
	if !ok {
		return overlay.MembershipRecord{}, false
	}
	return *rec, true
}

// IsMember returns true for agreed members.
func (s *Section) IsMember(id overlay.Identifier) bool {
	rec, ok := s.members[id]
	return ok && isAgreed(rec)
}

// Len returns the number of agreed members.
func (s *Section) Len() int {
	n := 0
	for _, rec := range s.members {
		if isAgreed(rec) {
			n++
		}
	}
	return n
}

// Members returns every record, joining candidates included, ordered by identifier.
func (s *Section) Members() []overlay.MembershipRecord {
	records := make([]overlay.MembershipRecord, 0, len(s.members))
	for _, rec := range s.members {
		records = append(records, *rec)
	}
	sortRecords(records)
	return records
}

// Peers returns the agreed members ordered by identifier.
func (s *Section) Peers() overlay.PeerList {
	peers := make(overlay.PeerList, 0, len(s.members))
	for _, rec := range s.members {
		if isAgreed(rec) {
			peers = append(peers, rec.Peer)
		}
	}
	return peers.Sorted()
}

// NodeStates returns the agreed states of the members ordered by identifier.
func (s *Section) NodeStates() []overlay.SignedNodeState {
	records := s.Members()
	states := make([]overlay.SignedNodeState, 0, len(records))
	for _, rec := range records {
		if isAgreed(&rec) {
			states = append(states, rec.Proof)
		}
	}
	return states
}

func isAgreed(rec *overlay.MembershipRecord) bool {
	return rec.Role == overlay.RoleAdult || rec.Role == overlay.RoleElder
}

func sortRecords(records []overlay.MembershipRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Peer.ID.Compare(records[j].Peer.ID) < 0
	})
}

// Admit checks a join candidate and records it as joining. Rejected candidates
// leave no state behind. Admitting a candidate twice is a no-op.
//
// Expected errors:
//   - ErrWrongSection if the candidate is outside the section prefix
//   - ErrAlreadyMember if the candidate is a member
//   - ErrSectionFull if the section reached its maximum size
//   - ErrResourceProofFailed if the resource proof does not verify
func (s *Section) Admit(candidate JoinCandidate) error {
	id := candidate.Peer.ID
	if !s.Prefix().Matches(id) {
		return fmt.Errorf("candidate %s for section %s: %w", id.TerminalString(), s.Prefix().LogString(), ErrWrongSection)
	}
	if rec, ok := s.members[id]; ok {
		if rec.Role == overlay.RoleJoining {
			return nil
		}
		return fmt.Errorf("candidate %s: %w", id.TerminalString(), ErrAlreadyMember)
	}
	if s.config.MaxSectionSize > 0 && s.Len() >= s.config.MaxSectionSize {
		return fmt.Errorf("%d members: %w", s.Len(), ErrSectionFull)
	}
	if err := s.prover.Verify(id, candidate.ResourceProof); err != nil {
		if errors.Is(err, ErrResourceProofFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrResourceProofFailed, err)
	}
	s.members[id] = &overlay.MembershipRecord{
		Peer:       candidate.Peer,
		Age:        candidate.Age,
		Role:       overlay.RoleJoining,
		LastSeen:   s.tick,
		PreviousID: candidate.PreviousID,
	}
	return nil
}

// Forget drops a joining candidate whose admission was not agreed. It returns
// false if id is not a joining candidate.
func (s *Section) Forget(id overlay.Identifier) bool {
	rec, ok := s.members[id]
	if !ok || rec.Role != overlay.RoleJoining {
		return false
	}
	delete(s.members, id)
	return true
}

// ForgetJoining drops every joining candidate and returns their identifiers.
func (s *Section) ForgetJoining() overlay.IdentifierList {
	var forgotten overlay.IdentifierList
	for id, rec := range s.members {
		if rec.Role == overlay.RoleJoining {
			forgotten = append(forgotten, id)
			delete(s.members, id)
		}
	}
	return forgotten
}

// Joining returns the number of admitted candidates not agreed yet.
func (s *Section) Joining() int {
	n := 0
	for _, rec := range s.members {
		if rec.Role == overlay.RoleJoining {
			n++
		}
	}
	return n
}

// ApplyOnline applies an agreed join. It returns false if the node already is
// a member.
func (s *Section) ApplyOnline(signed overlay.SignedNodeState) (bool, error) {
	state := signed.State
	if state.State != overlay.StateJoined {
		return false, fmt.Errorf("online with state %s: %w", state.State, ErrInvalidState)
	}
	if !s.Prefix().Matches(state.Peer.ID) {
		return false, fmt.Errorf("online node %s: %w", state.Peer.ID.TerminalString(), ErrWrongSection)
	}
	rec, ok := s.members[state.Peer.ID]
	if !ok {
		rec = &overlay.MembershipRecord{Role: overlay.RoleJoining}
		s.members[state.Peer.ID] = rec
	}
	switch rec.Role {
	case overlay.RoleJoining:
		rec.Role = overlay.RoleAdult
	case overlay.RoleAdult, overlay.RoleElder:
		return false, nil
	case overlay.RoleLeaving:
		return false, fmt.Errorf("online node %s is leaving: %w", state.Peer.ID.TerminalString(), ErrInvalidState)
	}
	rec.Peer = state.Peer
	rec.Age = state.Age
	rec.PreviousID = state.PreviousID
	rec.LastSeen = s.tick
	rec.Proof = signed
	if s.info.Info.IsElder(state.Peer.ID) && rec.Role.CanTransition(overlay.RoleElder) {
		rec.Role = overlay.RoleElder
	}
	s.generation++
	return true, nil
}

// ApplyOffline applies an agreed departure. It returns false if the node is
// not a member.
func (s *Section) ApplyOffline(signed overlay.SignedNodeState) (bool, error) {
	return s.leave(signed, overlay.StateLeft)
}

// ApplyRelocated applies an agreed relocation. It returns false if the node is
// not a member.
func (s *Section) ApplyRelocated(signed overlay.SignedNodeState) (bool, error) {
	return s.leave(signed, overlay.StateRelocated)
}

func (s *Section) leave(signed overlay.SignedNodeState, expected overlay.MembershipState) (bool, error) {
	state := signed.State
	if state.State != expected {
		return false, fmt.Errorf("%s with state %s: %w", expected, state.State, ErrInvalidState)
	}
	rec, ok := s.members[state.Peer.ID]
	if !ok || rec.Role == overlay.RoleLeaving {
		return false, nil
	}
	if !rec.Role.CanTransition(overlay.RoleLeaving) {
		return false, fmt.Errorf("member %s cannot leave as %s: %w", state.Peer.ID.TerminalString(), rec.Role, ErrInvalidState)
	}
	rec.Role = overlay.RoleLeaving
	delete(s.members, state.Peer.ID)
	s.generation++
	return true, nil
}

// CommitElders installs the signed info of a new elder set for the section
// prefix and updates the member roles.
func (s *Section) CommitElders(info overlay.SignedSectionInfo) error {
	if info.Prefix() != s.Prefix() {
		return fmt.Errorf("elders for %s in section %s: %w", info.Prefix().LogString(), s.Prefix().LogString(), ErrWrongSection)
	}
	s.install(info)
	return nil
}

func (s *Section) install(info overlay.SignedSectionInfo) {
	s.info = info
	for id, rec := range s.members {
		elder := info.Info.IsElder(id)
		switch {
		case elder && rec.Role.CanTransition(overlay.RoleElder):
			rec.Role = overlay.RoleElder
		case !elder && rec.Role == overlay.RoleElder:
			rec.Role = overlay.RoleAdult
		}
	}
	if info.Info.Generation > s.generation {
		s.generation = info.Info.Generation
	}
	s.degraded = false
	s.excluded = nil
}

// Advance moves the generation forward to at least generation. A joining node
// uses it to catch up with the changes agreed since the section info.
func (s *Section) Advance(generation uint64) {
	if generation > s.generation {
		s.generation = generation
	}
}

// Tick advances the liveness clock.
func (s *Section) Tick() uint64 {
	s.tick++
	return s.tick
}

// Touch records a sign of life from a member.
func (s *Section) Touch(id overlay.Identifier) {
	if rec, ok := s.members[id]; ok {
		rec.LastSeen = s.tick
	}
}

// Unresponsive returns the agreed members silent for longer than ElderTimeout
// ticks, ordered by identifier.
func (s *Section) Unresponsive() []overlay.MembershipRecord {
	var silent []overlay.MembershipRecord
	for _, rec := range s.members {
		if isAgreed(rec) && s.tick-rec.LastSeen > s.config.ElderTimeout {
			silent = append(silent, *rec)
		}
	}
	sortRecords(silent)
	return silent
}

// MarkDegraded records that the key generation for the next elders could not
// complete. The failed participants are excluded from the next election.
func (s *Section) MarkDegraded(failed overlay.PeerList) {
	s.degraded = true
	for _, p := range failed {
		if !s.excluded.Contains(p.ID) {
			s.excluded = append(s.excluded, p.ID)
		}
	}
}

// Degraded returns true while the section runs with an elder set it failed to replace.
func (s *Section) Degraded() bool {
	return s.degraded
}

// Excluded returns the members excluded from elections.
func (s *Section) Excluded() overlay.IdentifierList {
	return s.excluded
}
