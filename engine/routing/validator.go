// Package routing validates envelopes and decides where they go next.
package routing

import (
	"fmt"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/messages"
	"github.com/onflow/sectionnet/model/overlay"
	"github.com/onflow/sectionnet/module"
	"github.com/onflow/sectionnet/module/keychain"
	"github.com/onflow/sectionnet/network"
)

// Authorities decides which section keys may speak. It is implemented by
// keychain.KeyChain.
type Authorities interface {
	VerifyAuthority(key crypto.PublicKey, proof []keychain.Link) error
	PrefixOf(key crypto.PublicKey) (overlay.Prefix, bool)
}

// Verified is an envelope whose signatures checked out, with its decoded payload.
type Verified struct {
	Envelope *messages.Envelope
	Payload  interface{}
}

// Validator checks envelopes. VerifySignatures has no side effects and can run
// on any goroutine; CheckAuthority reads the key chain and must run where the
// key chain is owned.
type Validator struct {
	codec   network.Codec
	metrics module.RoutingMetrics
}

func NewValidator(codec network.Codec, metrics module.RoutingMetrics) *Validator {
	return &Validator{codec: codec, metrics: metrics}
}

// Validate runs both validation steps.
func (v *Validator) Validate(authorities Authorities, env *messages.Envelope) (*Verified, error) {
	verified, err := v.VerifySignatures(env)
	if err != nil {
		return nil, err
	}
	if err := v.CheckAuthority(authorities, verified); err != nil {
		return nil, err
	}
	return verified, nil
}

// VerifySignatures decodes the payload and checks the envelope signature.
//
// Expected errors:
//   - ErrPrefixMismatch if the source prefix does not cover the source
//   - ErrBadAuthority if the signature is invalid, the node key does not belong
//     to the source, or a section authority covers a payload that cannot carry one
//   - codec errors for payloads that do not decode
func (v *Validator) VerifySignatures(env *messages.Envelope) (*Verified, error) {
	verified, err := v.verifySignatures(env)
	if err != nil {
		v.metrics.EnvelopeRejected(reasonOf(err))
		return nil, err
	}
	return verified, nil
}

func (v *Validator) verifySignatures(env *messages.Envelope) (*Verified, error) {
	if !env.SourcePrefix.Matches(env.Source) {
		return nil, fmt.Errorf("source %s outside %s: %w", env.Source.TerminalString(), env.SourcePrefix.LogString(), ErrPrefixMismatch)
	}
	payload, err := v.codec.Decode(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("could not decode payload: %w", err)
	}

	auth := env.Authority
	switch auth.Kind {
	case messages.AuthorityNode:
		raw, err := crypto.VerifyNodeSignature(auth.NodeKey, env.SigningBytes(), auth.Signature)
		if err != nil {
			return nil, fmt.Errorf("node signature: %v: %w", err, ErrBadAuthority)
		}
		if overlay.IdentifierFromPublicKey(raw) != env.Source {
			return nil, fmt.Errorf("node key does not belong to %s: %w", env.Source.TerminalString(), ErrBadAuthority)
		}
	case messages.AuthoritySection:
		signable, ok := payload.(messages.SectionSignable)
		if !ok {
			return nil, fmt.Errorf("payload %T cannot carry a section authority: %w", payload, ErrBadAuthority)
		}
		if err := auth.SectionKey.Verify(auth.Signature, signable.SigningBytes()); err != nil {
			return nil, fmt.Errorf("section signature under %s: %v: %w", auth.SectionKey.TerminalString(), err, ErrBadAuthority)
		}
	default:
		return nil, fmt.Errorf("unknown authority kind %s: %w", auth.Kind, ErrBadAuthority)
	}
	return &Verified{Envelope: env, Payload: payload}, nil
}

// CheckAuthority checks that the key of a section authority is trusted, or
// linked to a trusted key by the attached proof, and that it governs the
// claimed source prefix. Node authorities need no key chain check.
//
// Expected errors:
//   - ErrBadAuthority if the proof is broken
//   - ErrStaleKey if the key lineage is unknown
//   - ErrPrefixMismatch if the key governs an unrelated prefix
func (v *Validator) CheckAuthority(authorities Authorities, verified *Verified) error {
	err := v.checkAuthority(authorities, verified.Envelope)
	if err != nil {
		v.metrics.EnvelopeRejected(reasonOf(err))
		return err
	}
	v.metrics.EnvelopeAccepted(verified.Envelope.Authority.Kind.String())
	return nil
}

func (v *Validator) checkAuthority(authorities Authorities, env *messages.Envelope) error {
	auth := env.Authority
	if auth.Kind != messages.AuthoritySection {
		return nil
	}
	if err := authorities.VerifyAuthority(auth.SectionKey, auth.Proof); err != nil {
		return err
	}
	prefix, ok := keyPrefix(authorities, auth.SectionKey, auth.Proof)
	if !ok {
		return fmt.Errorf("no prefix known for key %s: %w", auth.SectionKey.TerminalString(), ErrStaleKey)
	}
	if !prefix.IsCompatible(env.SourcePrefix) {
		return fmt.Errorf("key %s governs %s, not %s: %w", auth.SectionKey.TerminalString(), prefix.LogString(), env.SourcePrefix.LogString(), ErrPrefixMismatch)
	}
	return nil
}

// keyPrefix returns the prefix key was certified for, from the key chain or
// from the proof.
func keyPrefix(authorities Authorities, key crypto.PublicKey, proof []keychain.Link) (overlay.Prefix, bool) {
	if prefix, ok := authorities.PrefixOf(key); ok {
		return prefix, true
	}
	for _, link := range proof {
		if link.Key == key {
			return link.Prefix, true
		}
	}
	return overlay.Prefix{}, false
}
