package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/module/keychain"
	"github.com/onflow/sectionnet/storage"
	"github.com/onflow/sectionnet/storage/badger/operation"
)

// sequenceBandwidth is the number of link positions leased from badger at once.
const sequenceBandwidth = 64

// Links stores key chain links in insertion order.
type Links struct {
	db  *badger.DB
	seq *badger.Sequence
}

var _ storage.Links = (*Links)(nil)

func NewLinks(db *badger.DB) (*Links, error) {
	seq, err := db.GetSequence(operation.LinkSequenceKey(), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("could not get link sequence: %w", err)
	}
	return &Links{db: db, seq: seq}, nil
}

func (l *Links) Store(link keychain.Link) error {
	return l.db.Update(func(tx *badger.Txn) error {
		var exists bool
		if err := operation.LinkExists(link, &exists)(tx); err != nil {
			return err
		}
		if exists {
			return nil
		}
		seq, err := l.seq.Next()
		if err != nil {
			return fmt.Errorf("could not get link position: %w", err)
		}
		if err := operation.InsertLink(seq, link)(tx); err != nil {
			return fmt.Errorf("could not insert link: %w", err)
		}
		return nil
	})
}

func (l *Links) All() ([]keychain.Link, error) {
	var links []keychain.Link
	err := l.db.View(operation.RetrieveLinks(&links))
	if err != nil {
		return nil, fmt.Errorf("could not retrieve links: %w", err)
	}
	return links, nil
}

// Close releases the leased sequence positions.
func (l *Links) Close() error {
	return l.seq.Release()
}

// Restore rebuilds a key chain from the genesis key and the stored links.
// Forked links replay as discarded branches.
func Restore(genesis crypto.PublicKey, links storage.Links) (*keychain.KeyChain, error) {
	stored, err := links.All()
	if err != nil {
		return nil, err
	}
	chain := keychain.New(genesis)
	for _, link := range stored {
		err := chain.Append(link)
		if errors.Is(err, keychain.ErrForkDetected) || errors.Is(err, keychain.ErrDiscardedBranch) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("could not replay link %s: %w", link, err)
		}
	}
	return chain, nil
}
