package routing

import (
	"crypto/rand"
	"fmt"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module/keychain"
	"github.com/onflow/sectionnet/network"
)

// NewNodeEnvelope wraps message in an envelope signed by the node key. Every
// envelope gets a fresh id, so repeated messages are not suppressed.
func NewNodeEnvelope(codec network.Codec, key crypto.NodeKey, prefix overlay.Prefix, dest messages.Destination, message interface{}) (*messages.Envelope, error) {
	payload, err := codec.Encode(message)
	if err != nil {
		return nil, fmt.Errorf("could not encode payload: %w", err)
	}
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("could not read nonce: %w", err)
	}
	source := overlay.IdentifierFromPublicKey(key.RawPublicKey())
	env := &messages.Envelope{
		ID:           overlay.HashToIdentifier(source[:], nonce, payload),
		Source:       source,
		SourcePrefix: prefix,
		Destination:  dest,
		Payload:      payload,
	}
	sig, err := key.Sign(env.SigningBytes())
	if err != nil {
		return nil, err
	}
	env.Authority = messages.Authority{
		Kind:      messages.AuthorityNode,
		NodeKey:   key.PublicKey(),
		Signature: sig,
	}
	return env, nil
}

// NewSectionEnvelope wraps a section signed message. The id derives from the
// content, so the copies sent by different elders of the section are
// suppressed as duplicates.
func NewSectionEnvelope(
	codec network.Codec,
	prefix overlay.Prefix,
	dest messages.Destination,
	message messages.SectionSignable,
	key crypto.PublicKey,
	sig crypto.Signature,
	proof []keychain.Link,
) (*messages.Envelope, error) {
	payload, err := codec.Encode(message)
	if err != nil {
		return nil, fmt.Errorf("could not encode payload: %w", err)
	}
	source := prefix.Name()
	dst := dest.Name
	return &messages.Envelope{
		ID:           overlay.HashToIdentifier(source[:], []byte{byte(dest.Kind)}, dst[:], payload),
		Source:       source,
		SourcePrefix: prefix,
		Destination:  dest,
		Payload:      payload,
		Authority: messages.Authority{
			Kind:       messages.AuthoritySection,
			SectionKey: key,
			Proof:      proof,
			Signature:  sig,
		},
	}, nil
}
