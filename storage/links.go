package storage

import (
	"github.com/onflow/sectionnet/module/keychain"
)

// Links persists the key chain. Links are returned in the order they were
// stored, so that replaying them always appends a parent before its children.
type Links interface {
	// Store persists a link. Storing a link twice is a no-op.
	Store(link keychain.Link) error

	// All returns every stored link in insertion order.
	All() ([]keychain.Link, error)
}
