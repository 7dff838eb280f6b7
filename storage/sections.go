package storage

import (
	"github.com/onflow/sectionnet/model/overlay"
)

// Sections persists the signed infos of the sections known to the node, one
// per prefix.
type Sections interface {
	// Store inserts or replaces the info stored for its prefix.
	Store(info overlay.SignedSectionInfo) error

	// ByPrefix returns the info stored for prefix.
	// Expected errors:
	//   - storage.ErrNotFound if no info is stored for prefix
	ByPrefix(prefix overlay.Prefix) (overlay.SignedSectionInfo, error)

	// Remove deletes the info of prefix. Removing a missing prefix is a no-op.
	Remove(prefix overlay.Prefix) error

	// All returns every stored info.
	All() ([]overlay.SignedSectionInfo, error)
}
