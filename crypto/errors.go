package crypto

import "errors"

var (
	// ErrInvalidKey is returned for keys, key sets and shares that do not decode.
	ErrInvalidKey = errors.New("invalid key")
	// ErrInvalidSignature is returned when a signature or signature share does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInsufficientShares is returned when fewer valid shares than the
	// threshold are available for recovery.
	ErrInsufficientShares = errors.New("insufficient signature shares")
	// ErrInvalidDeal is returned when a private share does not match its dealer's commitment.
	ErrInvalidDeal = errors.New("share does not match dealer commitment")
)
