package badger

import (
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/storage"
	"github.com/onflow/sectionnet/storage/badger/operation"
)

// Sections stores the known section infos by prefix.
type Sections struct {
	db *badger.DB
}

var _ storage.Sections = (*Sections)(nil)

func NewSections(db *badger.DB) *Sections {
	return &Sections{db: db}
}

func (s *Sections) Store(info overlay.SignedSectionInfo) error {
	err := s.db.Update(operation.UpsertSection(info))
	if err != nil {
		return fmt.Errorf("could not store section %s: %w", info.Prefix().LogString(), err)
	}
	return nil
}

func (s *Sections) ByPrefix(prefix overlay.Prefix) (overlay.SignedSectionInfo, error) {
	var info overlay.SignedSectionInfo
	err := s.db.View(operation.RetrieveSection(prefix, &info))
	if err != nil {
		return overlay.SignedSectionInfo{}, fmt.Errorf("could not retrieve section %s: %w", prefix.LogString(), err)
	}
	return info, nil
}

func (s *Sections) Remove(prefix overlay.Prefix) error {
	return s.db.Update(operation.RemoveSection(prefix))
}

func (s *Sections) All() ([]overlay.SignedSectionInfo, error) {
	var infos []overlay.SignedSectionInfo
	err := s.db.View(operation.RetrieveSections(&infos))
	if err != nil {
		return nil, fmt.Errorf("could not retrieve sections: %w", err)
	}
	return infos, nil
}
