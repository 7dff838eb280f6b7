package keychain

import (
	"fmt"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/encoding"
	"github.com/onflow/sectionnet/model/encoding/cbor"
	"github.com/onflow/sectionnet/model/overlay"
)

// Link certifies Key as the successor of ParentKey for Prefix. The parent is
// either the previous key of the same prefix (rotation) or the key of the
// parent section (split).
type Link struct {
	Prefix    overlay.Prefix
	ParentKey crypto.PublicKey
	Key       crypto.PublicKey
	Signature crypto.Signature
}

type linkBody struct {
	Prefix overlay.Prefix
	Key    crypto.PublicKey
}

// LinkSigningBytes returns the bytes the parent key signs to certify key for prefix.
func LinkSigningBytes(prefix overlay.Prefix, key crypto.PublicKey) []byte {
	return cbor.SigningBytes(encoding.KeyLinkTag, linkBody{Prefix: prefix, Key: key})
}

// SigningBytes returns the bytes signed by the parent key.
func (l Link) SigningBytes() []byte {
	return LinkSigningBytes(l.Prefix, l.Key)
}

// Verify checks the link signature against the parent key.
func (l Link) Verify() error {
	if err := l.ParentKey.Verify(l.Signature, l.SigningBytes()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}
	return nil
}

func (l Link) String() string {
	return fmt.Sprintf("%s: %s -> %s", l.Prefix.LogString(), l.ParentKey.TerminalString(), l.Key.TerminalString())
}

// Verify succeeds iff proof is a sequence of valid links starting at anchor and
// ending at candidate. An empty proof verifies iff candidate equals anchor.
func Verify(candidate crypto.PublicKey, proof []Link, anchor crypto.PublicKey) error {
	key := anchor
	for i, link := range proof {
		if link.ParentKey != key {
			return fmt.Errorf("link %d does not extend key %s: %w", i, key.TerminalString(), ErrBadAuthority)
		}
		if i > 0 && !follows(proof[i-1].Prefix, link.Prefix) {
			return fmt.Errorf("link %d moves from %s to %s: %w", i, proof[i-1].Prefix.LogString(), link.Prefix.LogString(), ErrBadAuthority)
		}
		if err := link.Verify(); err != nil {
			return fmt.Errorf("link %d: %w: %v", i, ErrBadAuthority, err)
		}
		key = link.Key
	}
	if key != candidate {
		return fmt.Errorf("proof ends at %s, not %s: %w", key.TerminalString(), candidate.TerminalString(), ErrBadAuthority)
	}
	return nil
}

// verifySegment checks that the links of proof are valid and consecutive, and
// that every prefix follows the prefix of the link before it.
func verifySegment(proof []Link) error {
	for i, link := range proof {
		if i > 0 && link.ParentKey != proof[i-1].Key {
			return fmt.Errorf("gap between links %d and %d: %w", i-1, i, ErrBadAuthority)
		}
		if i > 0 && !follows(proof[i-1].Prefix, link.Prefix) {
			return fmt.Errorf("link %d moves from %s to %s: %w", i, proof[i-1].Prefix.LogString(), link.Prefix.LogString(), ErrBadAuthority)
		}
		if err := link.Verify(); err != nil {
			return fmt.Errorf("link %d: %w: %v", i, ErrBadAuthority, err)
		}
	}
	return nil
}

// follows returns true if a key certified for parent may certify a key for
// prefix: the same prefix on rotation, or one of its two halves on split.
func follows(parent, prefix overlay.Prefix) bool {
	return prefix == parent || (prefix.Len() == parent.Len()+1 && prefix.IsExtensionOf(parent))
}
