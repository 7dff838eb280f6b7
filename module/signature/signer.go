package signature

import (
	"fmt"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/encoding"
)

// ShareSigner signs domain-tagged messages with an elder's share of a section key.
type ShareSigner struct {
	keys  crypto.PublicKeySet
	share crypto.SecretKeyShare
}

// NewShareSigner binds a secret share to the key set it belongs to.
func NewShareSigner(keys crypto.PublicKeySet, share crypto.SecretKeyShare) (*ShareSigner, error) {
	if share.IsZero() {
		return nil, ErrNoShare
	}
	if keys.PublicKeyShare(share.Index()) != share.PublicKeyShare() {
		return nil, fmt.Errorf("share %d does not belong to key set %s", share.Index(), keys.PublicKey().TerminalString())
	}
	return &ShareSigner{keys: keys, share: share}, nil
}

// Keys returns the key set of the signer.
func (s *ShareSigner) Keys() crypto.PublicKeySet {
	return s.keys
}

// Index returns the share index of the signer.
func (s *ShareSigner) Index() int {
	return s.share.Index()
}

// Share returns the secret share.
func (s *ShareSigner) Share() crypto.SecretKeyShare {
	return s.share
}

// Sign signs msg under the given domain tag.
func (s *ShareSigner) Sign(tag string, msg []byte) (crypto.SignatureShare, error) {
	return s.share.Sign(encoding.Tagged(tag, msg))
}

// SignBytes signs bytes that already carry their domain tag.
func (s *ShareSigner) SignBytes(tagged []byte) (crypto.SignatureShare, error) {
	return s.share.Sign(tagged)
}

// Verify checks a section signature over a tagged message.
func Verify(key crypto.PublicKey, tag string, msg []byte, sig crypto.Signature) error {
	return key.Verify(sig, encoding.Tagged(tag, msg))
}
