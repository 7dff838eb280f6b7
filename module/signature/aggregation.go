package signature

import (
	"fmt"
	"sync"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/overlay"
)

// ThresholdAggregator collects signature shares from elders and recovers the
// section signature once a threshold of valid shares over the same message and
// key set is available. A message is aggregated at most once: shares arriving
// after the signature was recovered are ignored. It is safe for concurrent use.
type ThresholdAggregator struct {
	mu      sync.Mutex
	pending map[overlay.Identifier]*aggregation
	limit   int
}

type aggregation struct {
	keys   crypto.PublicKeySet
	msg    []byte
	shares map[int]crypto.SignatureShare
	done   bool
}

// NewThresholdAggregator creates an aggregator tracking at most limit
// messages at a time. The oldest incomplete aggregations are not evicted; the
// caller prunes them with Prune when the section key changes.
func NewThresholdAggregator(limit int) *ThresholdAggregator {
	return &ThresholdAggregator{
		pending: make(map[overlay.Identifier]*aggregation),
		limit:   limit,
	}
}

func aggregationID(keys crypto.PublicKeySet, msg []byte) overlay.Identifier {
	return overlay.HashToIdentifier(keys.PublicKey().Bytes(), msg)
}

// Add verifies a share over msg and adds it. It returns the recovered signature
// and true exactly once, when the threshold is reached. Shares are checked
// against the signer's public key share.
//
// Expected errors:
//   - ErrInvalidShare if the share does not verify
//   - ErrDuplicatedSigner if a different share from the same signer was already added
//   - InvalidSignerError if the share index is outside the key set
func (a *ThresholdAggregator) Add(keys crypto.PublicKeySet, msg []byte, share crypto.SignatureShare, holders int) (crypto.Signature, bool, error) {
	index, err := share.Index()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidShare, err)
	}
	if index < 0 || index >= holders {
		return nil, false, InvalidSignerError{Index: index, Size: holders}
	}
	if err := keys.VerifyShare(share, msg); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidShare, err)
	}
	return a.addVerified(keys, msg, index, share)
}

// AddVerified adds a share already checked with VerifyShare, for callers that
// verify on a worker pool.
func (a *ThresholdAggregator) AddVerified(keys crypto.PublicKeySet, msg []byte, share crypto.SignatureShare) (crypto.Signature, bool, error) {
	index, err := share.Index()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidShare, err)
	}
	return a.addVerified(keys, msg, index, share)
}

func (a *ThresholdAggregator) addVerified(keys crypto.PublicKeySet, msg []byte, index int, share crypto.SignatureShare) (crypto.Signature, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := aggregationID(keys, msg)
	agg, ok := a.pending[id]
	if !ok {
		if a.limit > 0 && len(a.pending) >= a.limit {
			a.evictDone()
		}
		agg = &aggregation{
			keys:   keys,
			msg:    msg,
			shares: make(map[int]crypto.SignatureShare),
		}
		a.pending[id] = agg
	}
	if agg.done {
		return nil, false, nil
	}
	if existing, ok := agg.shares[index]; ok {
		if string(existing) == string(share) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("signer %d: %w", index, ErrDuplicatedSigner)
	}
	agg.shares[index] = share
	if len(agg.shares) < keys.Threshold() {
		return nil, false, nil
	}

	shares := make([]crypto.SignatureShare, 0, len(agg.shares))
	for _, s := range agg.shares {
		shares = append(shares, s)
	}
	sig, err := keys.Combine(msg, shares)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInsufficientShares, err)
	}
	agg.done = true
	agg.shares = nil
	return sig, true, nil
}

// evictDone drops completed aggregations.
func (a *ThresholdAggregator) evictDone() {
	for id, agg := range a.pending {
		if agg.done {
			delete(a.pending, id)
		}
	}
}

// Prune drops all aggregations under keys other than the retained keys.
func (a *ThresholdAggregator) Prune(retain ...crypto.PublicKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	keep := make(map[crypto.PublicKey]struct{}, len(retain))
	for _, k := range retain {
		keep[k] = struct{}{}
	}
	for id, agg := range a.pending {
		if _, ok := keep[agg.keys.PublicKey()]; !ok {
			delete(a.pending, id)
		}
	}
}

// Len returns the number of tracked messages.
func (a *ThresholdAggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
