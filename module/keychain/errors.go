package keychain

import (
	"errors"
	"fmt"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/overlay"
)

var (
	// ErrUnknownParent is returned when a link's parent key is not in the chain.
	ErrUnknownParent = errors.New("unknown parent key")
	// ErrInvalidLink is returned for links with a bad signature or an
	// impossible prefix transition.
	ErrInvalidLink = errors.New("invalid key chain link")
	// ErrForkDetected is returned when a parent key signs two different keys for
	// the same prefix.
	ErrForkDetected = errors.New("key chain fork detected")
	// ErrDiscardedBranch is returned when a link extends a branch that lost a fork.
	ErrDiscardedBranch = errors.New("parent key is on a discarded branch")
	// ErrUnknownKey is returned by proof queries for keys not in the chain.
	ErrUnknownKey = errors.New("unknown key")
	// ErrBadAuthority is returned when a signature or proof chain does not verify.
	ErrBadAuthority = errors.New("bad authority")
	// ErrStaleKey is returned when a key cannot be connected to the trusted
	// lineage. The caller should refresh its knowledge of sections.
	ErrStaleKey = errors.New("stale or unknown key lineage")
)

// ForkError describes two children of the same parent key for the same prefix.
// Retained is the key whose branch stays trusted; the other branch is kept for
// diagnostics only.
type ForkError struct {
	Prefix   overlay.Prefix
	Parent   crypto.PublicKey
	Existing crypto.PublicKey
	Incoming crypto.PublicKey
	Retained crypto.PublicKey
}

func (e ForkError) Error() string {
	return fmt.Sprintf("fork under key %s for prefix %s: existing %s, incoming %s, retained %s",
		e.Parent.TerminalString(),
		e.Prefix.LogString(),
		e.Existing.TerminalString(),
		e.Incoming.TerminalString(),
		e.Retained.TerminalString(),
	)
}

func (e ForkError) Unwrap() error {
	return ErrForkDetected
}

// IsForkError returns whether err is a ForkError and the error itself.
func IsForkError(err error) (ForkError, bool) {
	var e ForkError
	ok := errors.As(err, &e)
	return e, ok
}
