package operation

import (
	"encoding/binary"
	"fmt"

	"github.com/onflow/sectionnet/crypto"
	"github.com/onflow/sectionnet/model/overlay"
)

const (
	// codes for identity and secrets
	codeNodeKey     = 1
	codeSecretShare = 2

	// codes for the key chain
	codeLinkSequence = 10
	codeLink         = 11
	codeLinkIndex    = 12

	// codes for known sections
	codeSection = 20
)

func makePrefix(code byte, keys ...interface{}) []byte {
	prefix := []byte{code}
	for _, key := range keys {
		prefix = append(prefix, b(key)...)
	}
	return prefix
}

func b(v interface{}) []byte {
	switch i := v.(type) {
	case uint64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, i)
		return b
	case overlay.Identifier:
		return i[:]
	case overlay.Prefix:
		encoded, _ := i.MarshalBinary()
		return encoded
	case crypto.PublicKey:
		return i.Bytes()
	default:
		panic(fmt.Sprintf("unsupported type to convert (%T)", v))
	}
}
