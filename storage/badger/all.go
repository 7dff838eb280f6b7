package badger

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/onflow/sectionnet/storage"
)

// InitAll creates every store on db.
func InitAll(db *badger.DB) (*storage.All, error) {
	links, err := NewLinks(db)
	if err != nil {
		return nil, err
	}
	shares, err := NewSecretShares(db)
	if err != nil {
		return nil, err
	}
	return &storage.All{
		Links:    links,
		Sections: NewSections(db),
		Shares:   shares,
		Identity: NewIdentity(db),
	}, nil
}
