package operation

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/keychain"
)

// LinkSequenceKey is the key of the badger sequence numbering links.
func LinkSequenceKey() []byte {
	return makePrefix(codeLinkSequence)
}

// LinkID identifies a link by its content.
func LinkID(link keychain.Link) overlay.Identifier {
	return overlay.HashToIdentifier(link.ParentKey.Bytes(), link.Key.Bytes(), link.SigningBytes())
}

// InsertLink stores link at position seq and indexes it by content.
func InsertLink(seq uint64, link keychain.Link) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		if err := insert(makePrefix(codeLinkIndex, LinkID(link)), seq)(tx); err != nil {
			return err
		}
		return insert(makePrefix(codeLink, seq), link)(tx)
	}
}

// LinkExists checks whether link is stored.
func LinkExists(link keychain.Link, exists *bool) func(*badger.Txn) error {
	return check(makePrefix(codeLinkIndex, LinkID(link)), exists)
}

// RetrieveLinks returns every stored link ordered by position.
func RetrieveLinks(links *[]keychain.Link) func(*badger.Txn) error {
	var link keychain.Link
	create := func() interface{} {
		link = keychain.Link{}
		return &link
	}
	handle := func() error {
		*links = append(*links, link)
		return nil
	}
	return traverse(makePrefix(codeLink), create, handle)
}
