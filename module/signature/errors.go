package signature

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidShare       = errors.New("invalid signature share")
	ErrDuplicatedSigner   = errors.New("duplicated signer")
	ErrInsufficientShares = errors.New("insufficient threshold signature shares")
	ErrNoShare            = errors.New("node holds no key share")
)

// InvalidSignerError is returned when a share is signed by an index outside
// the key set.
type InvalidSignerError struct {
	Index int
	Size  int
}

func (e InvalidSignerError) Error() string {
	return fmt.Sprintf("signer index %d is outside the %d key holders", e.Index, e.Size)
}

// IsInvalidSignerError returns whether err is an InvalidSignerError.
func IsInvalidSignerError(err error) bool {
	var e InvalidSignerError
	return errors.As(err, &e)
}
