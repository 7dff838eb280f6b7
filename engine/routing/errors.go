package routing

import (
	"errors"

	"github.com/onflow/sectionnet/module/keychain"
)

var (
	// ErrPrefixMismatch is returned when the claimed source prefix does not
	// cover the sender.
	ErrPrefixMismatch = errors.New("source prefix does not match sender")

	// ErrBadAuthority is returned for envelopes whose signature or proof chain
	// is invalid. It is the key chain error, so both packages' checks match.
	ErrBadAuthority = keychain.ErrBadAuthority

	// ErrStaleKey is returned for section authorities whose key lineage is not
	// known yet. The sender's section should be synced.
	ErrStaleKey = keychain.ErrStaleKey

	// ErrDuplicate is returned for envelopes that were already routed.
	ErrDuplicate = errors.New("duplicate envelope")

	// ErrNoRoute is returned when no known node can bring an envelope closer
	// to its destination.
	ErrNoRoute = errors.New("no route to destination")

	// ErrTooManyHops is returned for envelopes forwarded more often than the
	// width of the address space.
	ErrTooManyHops = errors.New("envelope exceeded hop limit")
)

const (
	reasonPrefixMismatch = "prefix_mismatch"
	reasonBadAuthority   = "bad_authority"
	reasonStaleKey       = "stale_key"
	reasonMalformed      = "malformed"
)

// reasonOf classifies a validation error for metrics.
func reasonOf(err error) string {
	switch {
	case errors.Is(err, ErrPrefixMismatch):
		return reasonPrefixMismatch
	case errors.Is(err, ErrStaleKey):
		return reasonStaleKey
	case errors.Is(err, ErrBadAuthority):
		return reasonBadAuthority
	default:
		return reasonMalformed
	}
}
