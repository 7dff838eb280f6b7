package dkg

import (
	"crypto/cipher"
	"errors"
	"fmt"
	"time"

	"github.com/ef-ds/deque"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module"
)

// event is the membership event a key generation serves.
type event struct {
	prefix     overlay.Prefix
	generation uint64
}

// election tracks every attempt of the key generation for one event.
type election struct {
	event    event
	original overlay.PeerList
	excluded overlay.PeerList
	attempt  uint32
	session  *Session
	next     overlay.PeerList
	backoff  retry.Backoff
	started  time.Time
	finished bool
}

type backlogged struct {
	from overlay.Identifier
	msg  messages.DKGMessage
}

// Coordinator runs the DKG sessions of the local node. It keeps at most one
// election per prefix lineage: starting a newer generation for a prefix aborts
// all older elections for compatible prefixes. Failed attempts are restarted
// without the unresponsive participants, with exponential backoff.
//
// The coordinator is not safe for concurrent use. It is owned by the section
// engine loop, which also delivers the timers it schedules.
type Coordinator struct {
	log       zerolog.Logger
	self      overlay.Identifier
	config    Config
	broker    Broker
	scheduler Scheduler
	consumer  Consumer
	metrics   module.DKGMetrics
	stream    cipher.Stream

	sessions  map[SessionID]*election
	elections map[event]*election
	backlog   *deque.Deque
}

// NewCoordinator creates a coordinator for the node self.
func NewCoordinator(
	log zerolog.Logger,
	self overlay.Identifier,
	config Config,
	broker Broker,
	scheduler Scheduler,
	consumer Consumer,
	metrics module.DKGMetrics,
) *Coordinator {
	return &Coordinator{
		log:       log.With().Str("component", "dkg_coordinator").Logger(),
		self:      self,
		config:    config,
		broker:    broker,
		scheduler: scheduler,
		consumer:  consumer,
		metrics:   metrics,
		sessions:  make(map[SessionID]*election),
		elections: make(map[event]*election),
		backlog:   deque.New(),
	}
}

// WithStream sets the randomness used for deals. Used for deterministic tests.
func (c *Coordinator) WithStream(stream cipher.Stream) *Coordinator {
	c.stream = stream
	return c
}

// Start starts the key generation for the membership event (prefix,
// generation) among participants, which must include the local node.
//
// Expected errors:
//   - ErrDuplicateSession if an election for the event exists or existed
//   - ErrStaleSession if a newer generation was started for a compatible prefix
//   - ErrNotParticipant if the local node is not among the participants
func (c *Coordinator) Start(prefix overlay.Prefix, generation uint64, participants overlay.PeerList) (SessionID, error) {
	ev := event{prefix: prefix, generation: generation}
	if _, ok := c.elections[ev]; ok {
		return SessionID{}, fmt.Errorf("election %s/%d: %w", prefix.LogString(), generation, ErrDuplicateSession)
	}
	if c.superseded(ev) {
		return SessionID{}, fmt.Errorf("election %s/%d: %w", prefix.LogString(), generation, ErrStaleSession)
	}
	participants = participants.Sorted()
	if !participants.Contains(c.self) {
		return SessionID{}, ErrNotParticipant
	}

	for other, e := range c.elections {
		if other.prefix.IsCompatible(prefix) && other.generation < generation {
			c.abandon(e)
		}
	}

	backoff := retry.NewExponential(c.config.RetryBase)
	backoff = retry.WithCappedDuration(c.config.RetryMax, backoff)
	backoff = retry.WithMaxRetries(c.config.MaxRetries, backoff)

	e := &election{
		event:    ev,
		original: participants,
		backoff:  backoff,
		started:  time.Now(),
	}
	c.elections[ev] = e
	if err := c.startAttempt(e, participants); err != nil {
		return SessionID{}, err
	}
	return e.session.ID(), nil
}

// superseded returns true if a newer generation was started for a compatible prefix.
func (c *Coordinator) superseded(ev event) bool {
	for other := range c.elections {
		if other.prefix.IsCompatible(ev.prefix) && other.generation > ev.generation {
			return true
		}
	}
	return false
}

// abandon drops an election in favour of a newer one.
func (c *Coordinator) abandon(e *election) {
	if e.session != nil {
		delete(c.sessions, e.session.ID())
		if !e.finished {
			e.session.Abort()
			c.metrics.DKGSessionFailed(e.event.prefix.String(), "superseded")
			c.log.Info().
				Str("session", e.session.ID().String()).
				Msg("dkg session superseded")
		}
	}
	delete(c.elections, e.event)
}

func (c *Coordinator) startAttempt(e *election, participants overlay.PeerList) error {
	id := messages.NewDKGSessionID(e.event.prefix, e.event.generation, e.attempt, participants)
	session, err := NewSession(id, participants, c.self, c.stream)
	if err != nil {
		return fmt.Errorf("could not create dkg session %s: %w", id, err)
	}
	e.session = session
	e.next = nil
	c.sessions[id] = e

	c.metrics.DKGSessionStarted(e.event.prefix.String())
	c.log.Info().
		Str("session", id.String()).
		Int("participants", len(participants)).
		Int("threshold", session.Threshold()).
		Msg("dkg session started")

	c.scheduler.Schedule(c.config.RoundTimeout, Timer{Kind: RoundTimer, Session: id, Round: Proposing})
	out, err := session.Start()
	if err != nil {
		return fmt.Errorf("could not start dkg session %s: %w", id, err)
	}
	c.advance(e, Proposing, out)
	c.replay(e)
	return nil
}

// Handle processes a DKG message received from the node from. Messages for
// sessions not started yet are held back until they start.
//
// Expected errors:
//   - ErrStaleSession for messages of finished, failed or superseded sessions
//   - InvalidMessageError for messages that are malformed or do not come from
//     the participant they claim
func (c *Coordinator) Handle(from overlay.Identifier, msg messages.DKGMessage) error {
	e, ok := c.sessions[msg.Session]
	if !ok {
		if c.stale(msg.Session) {
			return ErrStaleSession
		}
		c.hold(from, msg)
		return nil
	}
	return c.handle(e, from, msg)
}

func (c *Coordinator) handle(e *election, from overlay.Identifier, msg messages.DKGMessage) error {
	session := e.session
	participants := session.Participants()
	sender := int(msg.Sender)
	if sender >= len(participants) || participants[sender].ID != from {
		return newInvalidMessageError(sender, "sent by %s", from.TerminalString())
	}
	prev := session.State()
	out, err := session.Handle(msg)
	if err != nil {
		return err
	}
	c.advance(e, prev, out)
	return nil
}

// advance sends the output of a session step, arms the deadline of a new round
// and reports completion.
func (c *Coordinator) advance(e *election, prev State, out []Outgoing) {
	session := e.session
	participants := session.Participants()
	for _, o := range out {
		if o.To == Broadcast {
			others := participants.Filter(func(p overlay.Peer) bool { return p.ID != c.self })
			if len(others) > 0 {
				c.broker.Broadcast(others, o.Message)
			}
			continue
		}
		c.broker.PrivateSend(participants[o.To], o.Message)
	}

	state := session.State()
	if state == Acking && prev != Acking {
		c.scheduler.Schedule(c.config.RoundTimeout, Timer{Kind: RoundTimer, Session: session.ID(), Round: Acking})
	}
	if state != Complete || e.finished {
		return
	}
	outcome, _ := session.Outcome()
	e.finished = true
	delete(c.sessions, session.ID())
	c.metrics.DKGSessionCompleted(e.event.prefix.String(), time.Since(e.started))
	c.log.Info().
		Str("session", session.ID().String()).
		Str("key", outcome.KeySet.PublicKey().TerminalString()).
		Msg("dkg session completed")
	c.consumer.OnComplete(*outcome)
}

// stale returns true for sessions that can never be started again locally.
func (c *Coordinator) stale(id SessionID) bool {
	ev := event{prefix: id.Prefix, generation: id.Generation}
	if c.superseded(ev) {
		return true
	}
	e, ok := c.elections[ev]
	if !ok {
		return false
	}
	return e.finished || id.Attempt <= e.attempt
}

func (c *Coordinator) hold(from overlay.Identifier, msg messages.DKGMessage) {
	if c.config.BacklogSize > 0 && c.backlog.Len() >= c.config.BacklogSize {
		c.backlog.PopFront()
	}
	c.backlog.PushBack(backlogged{from: from, msg: msg})
}

// replay feeds the held back messages of the current session of e.
func (c *Coordinator) replay(e *election) {
	id := e.session.ID()
	var matched []backlogged
	for n := c.backlog.Len(); n > 0; n-- {
		v, _ := c.backlog.PopFront()
		b := v.(backlogged)
		switch {
		case b.msg.Session == id:
			matched = append(matched, b)
		case c.stale(b.msg.Session):
		default:
			c.backlog.PushBack(b)
		}
	}
	for _, b := range matched {
		if e.finished || c.sessions[id] != e {
			return
		}
		if err := c.handle(e, b.from, b.msg); err != nil {
			c.log.Warn().Err(err).
				Str("session", id.String()).
				Msg("invalid backlogged dkg message")
		}
	}
}

// OnTimer processes a timer set through the scheduler.
func (c *Coordinator) OnTimer(timer Timer) {
	switch timer.Kind {
	case RoundTimer:
		e, ok := c.sessions[timer.Session]
		if !ok || e.session.State() != timer.Round {
			return
		}
		c.timeout(e)
	case RetryTimer:
		e, ok := c.elections[event{prefix: timer.Session.Prefix, generation: timer.Session.Generation}]
		if !ok || e.finished || e.next == nil || timer.Session.Attempt != e.attempt+1 {
			return
		}
		e.attempt++
		if err := c.startAttempt(e, e.next); err != nil {
			c.fail(e, err)
		}
	}
}

func (c *Coordinator) timeout(e *election) {
	session := e.session
	unresponsive, err := session.Timeout()
	if err != nil {
		return
	}
	delete(c.sessions, session.ID())
	c.log.Warn().
		Str("session", session.ID().String()).
		Strs("unresponsive", unresponsive.IDs().Strings()).
		Msg("dkg round timed out")

	for _, p := range unresponsive {
		if !e.excluded.Contains(p.ID) {
			e.excluded = append(e.excluded, p)
		}
	}
	remaining := e.original.Filter(func(p overlay.Peer) bool { return !e.excluded.Contains(p.ID) })
	if len(remaining) < crypto.Threshold(len(e.original)) {
		c.fail(e, fmt.Errorf("%d of %d participants left: %w", len(remaining), len(e.original), ErrDKGTimeout))
		return
	}
	delay, stop := e.backoff.Next()
	if stop {
		c.fail(e, fmt.Errorf("no retries left after attempt %d: %w", e.attempt, ErrDKGTimeout))
		return
	}
	e.next = remaining
	next := messages.NewDKGSessionID(e.event.prefix, e.event.generation, e.attempt+1, remaining)
	c.metrics.DKGSessionRetried(e.event.prefix.String())
	c.scheduler.Schedule(delay, Timer{Kind: RetryTimer, Session: next})
}

func (c *Coordinator) fail(e *election, reason error) {
	e.finished = true
	e.next = nil
	err := fmt.Errorf("%w: %w", ErrQuorumUnreachable, reason)
	c.metrics.DKGSessionFailed(e.event.prefix.String(), "quorum_unreachable")
	c.log.Error().Err(err).
		Str("prefix", e.event.prefix.String()).
		Uint64("generation", e.event.generation).
		Msg("dkg given up")
	c.consumer.OnFailure(Failure{
		Prefix:     e.event.prefix,
		Generation: e.event.generation,
		Excluded:   e.excluded,
		Err:        err,
	})
}

// Session returns the current session for a prefix and generation.
func (c *Coordinator) Session(prefix overlay.Prefix, generation uint64) (*Session, bool) {
	e, ok := c.elections[event{prefix: prefix, generation: generation}]
	if !ok || e.session == nil {
		return nil, false
	}
	return e.session, true
}

// Active returns true if a key generation for prefix is running.
func (c *Coordinator) Active(prefix overlay.Prefix) bool {
	for ev, e := range c.elections {
		if ev.prefix == prefix && !e.finished {
			return true
		}
	}
	return false
}

// IsQuorumUnreachable returns true if err reports an election given up.
func IsQuorumUnreachable(err error) bool {
	return errors.Is(err, ErrQuorumUnreachable)
}
