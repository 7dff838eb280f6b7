package storage

import (
	"github.com/onflow/sectionnet/crypto"
)

// SecretShares persists the secret key shares an elder holds, by section key.
//
// CAUTION: shares are confidential.
type SecretShares interface {
	// Store persists the share of key.
	// Expected errors:
	//   - storage.ErrAlreadyExists if a different share is stored for key
	Store(key crypto.PublicKey, share crypto.SecretKeyShare) error

	// ByKey returns the share of key.
	// Expected errors:
	//   - storage.ErrNotFound if no share is stored for key
	ByKey(key crypto.PublicKey) (crypto.SecretKeyShare, error)
}

// Identity persists the node key, so that a restarted node keeps its
// identifier.
type Identity interface {
	// StoreNodeKey persists the node key.
	// Expected errors:
	//   - storage.ErrAlreadyExists if a node key is already stored
	StoreNodeKey(key crypto.NodeKey) error

	// ReplaceNodeKey persists the key a relocated node restarts under.
	ReplaceNodeKey(key crypto.NodeKey) error

	// NodeKey returns the stored node key.
	// Expected errors:
	//   - storage.ErrNotFound if no node key is stored
	NodeKey() (crypto.NodeKey, error)
}
