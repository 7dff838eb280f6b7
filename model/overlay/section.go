package overlay

import (
	"fmt"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/encoding"
	"github.com/onflow/sectionnet/model/encoding/cbor"
)

// SectionInfo describes a section: the prefix it governs, its elders and the
// threshold key set they jointly hold. Elders are ordered by identifier and the
// position of an elder is the index of its key share.
type SectionInfo struct {
	Prefix     Prefix
	Generation uint64
	Elders     PeerList
	KeySet     crypto.PublicKeySet
}

// Key returns the section authority key.
func (s SectionInfo) Key() crypto.PublicKey {
	return s.KeySet.PublicKey()
}

// IsElder returns true if id is one of the section elders.
func (s SectionInfo) IsElder(id Identifier) bool {
	return s.Elders.Contains(id)
}

// ElderIndex returns the key share index of the elder with the given identifier.
func (s SectionInfo) ElderIndex(id Identifier) (int, bool) {
	i := s.Elders.Index(id)
	return i, i >= 0
}

// Threshold returns the number of elder shares required for a section signature.
func (s SectionInfo) Threshold() int {
	return s.KeySet.Threshold()
}

// SigningBytes returns the bytes signed by the section key to certify the info.
func (s SectionInfo) SigningBytes() []byte {
	return cbor.SigningBytes(encoding.SectionInfoTag, s)
}

func (s SectionInfo) String() string {
	return fmt.Sprintf("section %s gen=%d elders=%d key=%s", s.Prefix.LogString(), s.Generation, len(s.Elders), s.Key().TerminalString())
}

// SignedSectionInfo is a section info signed by its own key.
type SignedSectionInfo struct {
	Info      SectionInfo
	Signature crypto.Signature
}

// Verify checks the signature of the info under its own key.
func (s SignedSectionInfo) Verify() error {
	if s.Info.KeySet.IsZero() {
		return fmt.Errorf("section info %s carries no key set: %w", s.Info.Prefix.LogString(), crypto.ErrInvalidKey)
	}
	return s.Info.Key().Verify(s.Signature, s.Info.SigningBytes())
}

// Key returns the section authority key.
func (s SignedSectionInfo) Key() crypto.PublicKey {
	return s.Info.Key()
}

// Prefix returns the section prefix.
func (s SignedSectionInfo) Prefix() Prefix {
	return s.Info.Prefix
}
