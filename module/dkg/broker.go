package dkg

import (
	"time"

	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
)

// Broker delivers DKG round messages to other participants.
type Broker interface {
	// PrivateSend sends a message to one participant.
	PrivateSend(to overlay.Peer, msg messages.DKGMessage)
	// Broadcast sends a message to every given participant.
	Broadcast(to overlay.PeerList, msg messages.DKGMessage)
}

// TimerKind is the purpose of a scheduled timer.
type TimerKind uint8

const (
	// RoundTimer is the deadline of a session round.
	RoundTimer TimerKind = iota + 1
	// RetryTimer starts the next attempt of a failed session.
	RetryTimer
)

// Timer is a scheduled callback into the coordinator. Round timers carry the
// state the session was in when the timer was set.
type Timer struct {
	Kind    TimerKind
	Session SessionID
	Round   State
}

// Scheduler arranges for Coordinator.OnTimer to be called with timer after
// delay, from the goroutine that owns the coordinator.
type Scheduler interface {
	Schedule(delay time.Duration, timer Timer)
}

// Failure describes a key generation that could not complete.
type Failure struct {
	Prefix     overlay.Prefix
	Generation uint64
	// Excluded are the participants dropped by the retries.
	Excluded overlay.PeerList
	Err      error
}

// Consumer receives the results of key generations.
type Consumer interface {
	OnComplete(outcome Outcome)
	OnFailure(failure Failure)
}
