package dkg

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateSession is returned when a session is started twice for the
	// same prefix and generation.
	ErrDuplicateSession = errors.New("dkg session already exists")
	// ErrStaleSession is returned for sessions or messages of a generation older
	// than the latest one started for the prefix.
	ErrStaleSession = errors.New("dkg session is superseded")
	// ErrNotParticipant is returned when starting a session we take no part in.
	ErrNotParticipant = errors.New("local node is not a dkg participant")
	// ErrDKGTimeout is the failure reason of a session that missed its round deadline.
	ErrDKGTimeout = errors.New("dkg round timed out")
	// ErrQuorumUnreachable is the failure reason once retries are exhausted or too
	// few participants are left.
	ErrQuorumUnreachable = errors.New("dkg quorum unreachable")
)

// InvalidMessageError is returned for DKG messages that are malformed or
// inconsistent with the session.
type InvalidMessageError struct {
	Sender int
	Err    error
}

func (e InvalidMessageError) Error() string {
	return fmt.Sprintf("invalid dkg message from participant %d: %v", e.Sender, e.Err)
}

func (e InvalidMessageError) Unwrap() error {
	return e.Err
}

func newInvalidMessageError(sender int, msg string, args ...interface{}) InvalidMessageError {
	return InvalidMessageError{Sender: sender, Err: fmt.Errorf(msg, args...)}
}

// IsInvalidMessageError returns true if err is an InvalidMessageError.
func IsInvalidMessageError(err error) bool {
	var e InvalidMessageError
	return errors.As(err, &e)
}
