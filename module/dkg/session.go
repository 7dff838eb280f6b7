package dkg

import (
	"crypto/cipher"
	"fmt"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
)

// SessionID identifies a DKG session.
type SessionID = messages.DKGSessionID

// Broadcast is the recipient index of messages sent to all other participants.
const Broadcast = -1

// Outgoing is a message a session wants delivered.
type Outgoing struct {
	// To is the participant index of the recipient, or Broadcast.
	To      int
	Message messages.DKGMessage
}

// Outcome is the result of a completed session for the local participant.
type Outcome struct {
	Session      SessionID
	Participants overlay.PeerList
	Index        int
	KeySet       crypto.PublicKeySet
	Share        crypto.SecretKeyShare
}

// Session is one participant's view of a joint-Feldman key generation among an
// ordered list of participants. Every participant deals a polynomial of degree
// t-1. Sessions do no I/O: inputs are fed through Start and Handle, which
// return the messages to send. A Session is not safe for concurrent use.
type Session struct {
	id           SessionID
	participants overlay.PeerList
	self         int
	threshold    int
	stream       cipher.Stream
	state        State

	deal        *crypto.Deal
	commitments []crypto.PublicKeySet
	received    int
	pending     map[int][]byte
	shares      map[int]crypto.DealShare
	digest      overlay.Identifier
	acked       bool
	acks        map[int]overlay.Identifier
	outcome     *Outcome
}

// NewSession creates a session in the Idle state. stream is the randomness
// for the local deal; nil uses a fresh random stream.
func NewSession(id SessionID, participants overlay.PeerList, self overlay.Identifier, stream cipher.Stream) (*Session, error) {
	if len(participants) == 0 {
		return nil, fmt.Errorf("dkg session %s has no participants", id)
	}
	if participants.IDs().Fingerprint() != id.Participants {
		return nil, fmt.Errorf("participants do not match dkg session %s", id)
	}
	index := participants.Index(self)
	if index < 0 {
		return nil, ErrNotParticipant
	}
	n := len(participants)
	return &Session{
		id:           id,
		participants: participants,
		self:         index,
		threshold:    crypto.Threshold(n),
		stream:       stream,
		state:        Idle,
		commitments:  make([]crypto.PublicKeySet, n),
		pending:      make(map[int][]byte),
		shares:       make(map[int]crypto.DealShare),
		acks:         make(map[int]overlay.Identifier),
	}, nil
}

func (s *Session) ID() SessionID                  { return s.id }
func (s *Session) State() State                   { return s.state }
func (s *Session) Participants() overlay.PeerList { return s.participants }
func (s *Session) Index() int                     { return s.self }
func (s *Session) Threshold() int                 { return s.threshold }

// Outcome returns the result of a completed session.
func (s *Session) Outcome() (*Outcome, bool) {
	return s.outcome, s.outcome != nil
}

func (s *Session) transition(to State) error {
	if !s.state.canTransition(to) {
		return NewInvalidStateTransitionError(s.state, to)
	}
	s.state = to
	return nil
}

func (s *Session) message(kind messages.DKGMessageKind) messages.DKGMessage {
	return messages.DKGMessage{
		Session: s.id,
		Sender:  uint16(s.self),
		Kind:    kind,
	}
}

// Start deals the local polynomial and returns the commitment broadcast. A
// single participant session completes immediately.
func (s *Session) Start() ([]Outgoing, error) {
	if err := s.transition(Proposing); err != nil {
		return nil, err
	}
	s.deal = crypto.NewDeal(s.threshold, s.stream)

	msg := s.message(messages.DKGCommitment)
	msg.Commitments = s.deal.Commitments()
	out := []Outgoing{{To: Broadcast, Message: msg}}

	more, err := s.onCommitment(s.self, msg.Commitments)
	if err != nil {
		return nil, err
	}
	return append(out, more...), nil
}

// Handle processes a round message. The caller has checked that the message
// belongs to this session and comes from the participant at msg.Sender.
// Messages that arrive after the session ended are ignored.
//
// Expected errors:
//   - InvalidMessageError for malformed or inconsistent messages
func (s *Session) Handle(msg messages.DKGMessage) ([]Outgoing, error) {
	if msg.Session != s.id {
		return nil, fmt.Errorf("message for session %s handled by %s", msg.Session, s.id)
	}
	sender := int(msg.Sender)
	if sender < 0 || sender >= len(s.participants) {
		return nil, newInvalidMessageError(sender, "sender index out of range [0,%d)", len(s.participants))
	}
	if sender == s.self {
		return nil, newInvalidMessageError(sender, "message from ourselves")
	}
	if s.state.Done() || s.state == Idle {
		return nil, nil
	}

	switch msg.Kind {
	case messages.DKGCommitment:
		return s.onCommitment(sender, msg.Commitments)
	case messages.DKGShare:
		if err := s.onShare(sender, msg.Share); err != nil {
			return nil, err
		}
		if s.state != Acking {
			return nil, nil
		}
		return s.maybeAck()
	case messages.DKGAck:
		return s.onAck(sender, msg.Digest)
	default:
		return nil, newInvalidMessageError(sender, "unknown message kind %s", msg.Kind)
	}
}

func (s *Session) onCommitment(sender int, commits crypto.PublicKeySet) ([]Outgoing, error) {
	if commits.IsZero() || commits.Threshold() != s.threshold {
		return nil, newInvalidMessageError(sender, "commitment of threshold %d, expected %d", commits.Threshold(), s.threshold)
	}
	if existing := s.commitments[sender]; !existing.IsZero() {
		if existing.Equal(commits) {
			return nil, nil
		}
		return nil, newInvalidMessageError(sender, "conflicting commitments")
	}
	s.commitments[sender] = commits
	s.received++

	if encoded, ok := s.pending[sender]; ok {
		delete(s.pending, sender)
		if err := s.onShare(sender, encoded); err != nil {
			return nil, err
		}
	}
	if s.received < len(s.participants) {
		return nil, nil
	}
	return s.startAcking()
}

// startAcking sends the private shares once every commitment is known.
func (s *Session) startAcking() ([]Outgoing, error) {
	if err := s.transition(Acking); err != nil {
		return nil, err
	}
	s.digest = commitmentsDigest(s.commitments)

	var out []Outgoing
	for i := range s.participants {
		encoded, err := s.deal.PrivateShare(i)
		if err != nil {
			return nil, fmt.Errorf("could not compute private share for %d: %w", i, err)
		}
		if i == s.self {
			if err := s.onShare(s.self, encoded); err != nil {
				return nil, fmt.Errorf("own share does not verify: %w", err)
			}
			continue
		}
		msg := s.message(messages.DKGShare)
		msg.Share = encoded
		out = append(out, Outgoing{To: i, Message: msg})
	}
	more, err := s.maybeAck()
	if err != nil {
		return nil, err
	}
	return append(out, more...), nil
}

// onShare verifies a private share, or holds it until the dealer's
// commitment arrives.
func (s *Session) onShare(sender int, encoded []byte) error {
	if _, ok := s.shares[sender]; ok {
		return nil
	}
	commits := s.commitments[sender]
	if commits.IsZero() {
		s.pending[sender] = encoded
		return nil
	}
	share, err := crypto.VerifyPrivateShare(commits, s.self, encoded)
	if err != nil {
		return InvalidMessageError{Sender: sender, Err: err}
	}
	s.shares[sender] = share
	return nil
}

// maybeAck broadcasts our ack once every share verified.
func (s *Session) maybeAck() ([]Outgoing, error) {
	if s.acked || len(s.shares) < len(s.participants) {
		return nil, nil
	}
	s.acked = true
	s.acks[s.self] = s.digest
	msg := s.message(messages.DKGAck)
	msg.Digest = s.digest
	out := []Outgoing{{To: Broadcast, Message: msg}}
	if err := s.maybeComplete(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Session) onAck(sender int, digest overlay.Identifier) ([]Outgoing, error) {
	if existing, ok := s.acks[sender]; ok {
		if existing != digest {
			return nil, newInvalidMessageError(sender, "conflicting acks")
		}
		return nil, nil
	}
	s.acks[sender] = digest
	return nil, s.maybeComplete()
}

func (s *Session) matchingAcks() int {
	count := 0
	for _, d := range s.acks {
		if d == s.digest {
			count++
		}
	}
	return count
}

func (s *Session) maybeComplete() error {
	if !s.acked || s.matchingAcks() < s.threshold {
		return nil
	}
	keys, err := crypto.CombineCommitments(s.commitments)
	if err != nil {
		return fmt.Errorf("could not combine commitments: %w", err)
	}
	shares := make([]crypto.DealShare, 0, len(s.shares))
	for i := range s.participants {
		shares = append(shares, s.shares[i])
	}
	secret, err := crypto.CombineDealShares(s.self, shares)
	if err != nil {
		return fmt.Errorf("could not combine shares: %w", err)
	}
	if err := s.transition(Complete); err != nil {
		return err
	}
	s.outcome = &Outcome{
		Session:      s.id,
		Participants: s.participants,
		Index:        s.self,
		KeySet:       keys,
		Share:        secret,
	}
	s.deal = nil
	return nil
}

// Timeout fails the session and returns the participants that held it up in
// its current round.
func (s *Session) Timeout() (overlay.PeerList, error) {
	phase := s.state
	if err := s.transition(Failed); err != nil {
		return nil, err
	}
	var unresponsive overlay.PeerList
	for i, p := range s.participants {
		if i == s.self {
			continue
		}
		var missing bool
		switch phase {
		case Proposing:
			missing = s.commitments[i].IsZero()
		case Acking:
			_, hasShare := s.shares[i]
			digest, hasAck := s.acks[i]
			missing = !hasShare || !hasAck || digest != s.digest
		}
		if missing {
			unresponsive = append(unresponsive, p)
		}
	}
	return unresponsive, nil
}

// Abort fails the session without blaming anyone.
func (s *Session) Abort() {
	if !s.state.Done() {
		s.state = Failed
	}
}

func commitmentsDigest(sets []crypto.PublicKeySet) overlay.Identifier {
	data := make([][]byte, 0, len(sets))
	for _, set := range sets {
		b, err := set.MarshalBinary()
		if err != nil {
			panic(fmt.Sprintf("could not encode commitments: %v", err))
		}
		data = append(data, b)
	}
	return overlay.HashToIdentifier(data...)
}
