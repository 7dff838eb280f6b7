package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/storage"
	"github.com/onflow/sectionnet/storage/badger/operation"
)

const shareCacheSize = 16

// SecretShares stores the secret key shares of the node. Recently used shares
// are cached in decoded form.
type SecretShares struct {
	db    *badger.DB
	cache *lru.Cache[crypto.PublicKey, crypto.SecretKeyShare]
}

var _ storage.SecretShares = (*SecretShares)(nil)

func NewSecretShares(db *badger.DB) (*SecretShares, error) {
	cache, err := lru.New[crypto.PublicKey, crypto.SecretKeyShare](shareCacheSize)
	if err != nil {
		return nil, fmt.Errorf("could not create share cache: %w", err)
	}
	return &SecretShares{db: db, cache: cache}, nil
}

func (s *SecretShares) Store(key crypto.PublicKey, share crypto.SecretKeyShare) error {
	encoded, err := share.Encode()
	if err != nil {
		return fmt.Errorf("could not encode share: %w", err)
	}
	err = s.db.Update(operation.InsertSecretShare(key, encoded))
	if errors.Is(err, storage.ErrAlreadyExists) {
		stored, err := s.ByKey(key)
		if err != nil {
			return err
		}
		if stored.Index() == share.Index() && stored.PublicKeyShare() == share.PublicKeyShare() {
			return nil
		}
		return fmt.Errorf("different share stored for %s: %w", key.TerminalString(), storage.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("could not store share: %w", err)
	}
	s.cache.Add(key, share)
	return nil
}

func (s *SecretShares) ByKey(key crypto.PublicKey) (crypto.SecretKeyShare, error) {
	if share, ok := s.cache.Get(key); ok {
		return share, nil
	}
	var encoded []byte
	err := s.db.View(operation.RetrieveSecretShare(key, &encoded))
	if err != nil {
		return crypto.SecretKeyShare{}, fmt.Errorf("could not retrieve share of %s: %w", key.TerminalString(), err)
	}
	share, err := crypto.DecodeSecretKeyShare(encoded)
	if err != nil {
		return crypto.SecretKeyShare{}, fmt.Errorf("could not decode share of %s: %w", key.TerminalString(), err)
	}
	s.cache.Add(key, share)
	return share, nil
}

// Identity stores the node key.
type Identity struct {
	db *badger.DB
}

var _ storage.Identity = (*Identity)(nil)

func NewIdentity(db *badger.DB) *Identity {
	return &Identity{db: db}
}

func (i *Identity) StoreNodeKey(key crypto.NodeKey) error {
	encoded, err := key.Encode()
	if err != nil {
		return fmt.Errorf("could not encode node key: %w", err)
	}
	return i.db.Update(operation.InsertNodeKey(encoded))
}

func (i *Identity) ReplaceNodeKey(key crypto.NodeKey) error {
	encoded, err := key.Encode()
	if err != nil {
		return fmt.Errorf("could not encode node key: %w", err)
	}
	return i.db.Update(operation.UpsertNodeKey(encoded))
}

func (i *Identity) NodeKey() (crypto.NodeKey, error) {
	var encoded []byte
	err := i.db.View(operation.RetrieveNodeKey(&encoded))
	if err != nil {
		return crypto.NodeKey{}, fmt.Errorf("could not retrieve node key: %w", err)
	}
	return crypto.DecodeNodeKey(encoded)
}
