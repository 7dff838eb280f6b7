package membership

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/onflow/sectionnet/model/overlay"
)

// ResourceProver produces and checks the resource proofs candidates present when
// joining.
type ResourceProver interface {
	Prove(id overlay.Identifier) ([]byte, error)
	Verify(id overlay.Identifier, proof []byte) error
}

// NoopProver accepts every candidate.
type NoopProver struct{}

var _ ResourceProver = NoopProver{}

func (NoopProver) Prove(overlay.Identifier) ([]byte, error) { return nil, nil }
func (NoopProver) Verify(overlay.Identifier, []byte) error  { return nil }

// HashcashProver requires a nonce such that the hash of the candidate
// identifier and the nonce has Difficulty leading zero bits.
type HashcashProver struct {
	Difficulty int
}

var _ ResourceProver = HashcashProver{}

func (p HashcashProver) Prove(id overlay.Identifier) ([]byte, error) {
	if p.Difficulty < 0 || p.Difficulty > 32 {
		return nil, fmt.Errorf("unsupported difficulty %d", p.Difficulty)
	}
	nonce := make([]byte, 8)
	for n := uint64(0); ; n++ {
		binary.BigEndian.PutUint64(nonce, n)
		if leadingZeros(overlay.HashToIdentifier(id[:], nonce)) >= p.Difficulty {
			return nonce, nil
		}
	}
}

func (p HashcashProver) Verify(id overlay.Identifier, proof []byte) error {
	if len(proof) != 8 {
		return fmt.Errorf("%w: nonce of %d bytes", ErrResourceProofFailed, len(proof))
	}
	if leadingZeros(overlay.HashToIdentifier(id[:], proof)) < p.Difficulty {
		return fmt.Errorf("%w: below difficulty %d", ErrResourceProofFailed, p.Difficulty)
	}
	return nil
}

func leadingZeros(id overlay.Identifier) int {
	for i, b := range id {
		if b != 0 {
			return i*8 + bits.LeadingZeros8(b)
		}
	}
	return overlay.IdentifierBits
}
