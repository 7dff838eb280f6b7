package overlay

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/bits"

	"golang.org/x/crypto/sha3"
)

// IdentifierLen is the width of an identifier in bytes.
const IdentifierLen = 32

// IdentifierBits is the width of an identifier in bits.
const IdentifierBits = IdentifierLen * 8

// Identifier addresses nodes and content in the overlay. The distance between two
// identifiers is their bitwise XOR interpreted as an unsigned big-endian integer.
type Identifier [IdentifierLen]byte

// ZeroID is the lowest value in the identifier space.
var ZeroID = Identifier{}

// HexStringToIdentifier converts a hex string to an identifier. The input must be
// exactly 64 hex characters.
func HexStringToIdentifier(hexString string) (Identifier, error) {
	var id Identifier
	i, err := hex.Decode(id[:], []byte(hexString))
	if err != nil {
		return id, err
	}
	if i != IdentifierLen {
		return id, fmt.Errorf("malformed input, expected %d bytes (%d hex chars), got %d", IdentifierLen, 2*IdentifierLen, i)
	}
	return id, nil
}

// MustHexStringToIdentifier is HexStringToIdentifier that panics on malformed input.
func MustHexStringToIdentifier(hexString string) Identifier {
	id, err := HexStringToIdentifier(hexString)
	if err != nil {
		panic(err)
	}
	return id
}

// HashToIdentifier returns the sha3-256 digest of the concatenated inputs.
func HashToIdentifier(data ...[]byte) Identifier {
	hasher := sha3.New256()
	for _, d := range data {
		_, _ = hasher.Write(d)
	}
	var id Identifier
	copy(id[:], hasher.Sum(nil))
	return id
}

// IdentifierFromPublicKey derives a node identifier from the raw bytes of its
// public key.
func IdentifierFromPublicKey(raw []byte) Identifier {
	return HashToIdentifier(raw)
}

func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

// TerminalString is a short form for logs.
func (id Identifier) TerminalString() string {
	return hex.EncodeToString(id[:4])
}

// Bit returns the bit at index i, counting from the most significant bit.
// Indices outside [0, IdentifierBits) return false.
func (id Identifier) Bit(i int) bool {
	if i < 0 || i >= IdentifierBits {
		return false
	}
	return id[i/8]&(0x80>>uint(i%8)) != 0
}

// WithBit returns a copy of id with the bit at index i set to value.
func (id Identifier) WithBit(i int, value bool) Identifier {
	if i < 0 || i >= IdentifierBits {
		return id
	}
	mask := byte(0x80 >> uint(i%8))
	if value {
		id[i/8] |= mask
	} else {
		id[i/8] &^= mask
	}
	return id
}

// Distance returns the XOR distance between id and other.
func (id Identifier) Distance(other Identifier) Identifier {
	var d Identifier
	for i := range d {
		d[i] = id[i] ^ other[i]
	}
	return d
}

// CommonPrefixLen returns the number of leading bits id and other share.
func (id Identifier) CommonPrefixLen(other Identifier) int {
	for i := range id {
		x := id[i] ^ other[i]
		if x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return IdentifierBits
}

// Compare orders identifiers as unsigned big-endian integers.
func (id Identifier) Compare(other Identifier) int {
	return bytes.Compare(id[:], other[:])
}

// CompareDistance reports whether a (-1), b (+1), or neither (0) is closer to id.
func (id Identifier) CompareDistance(a, b Identifier) int {
	for i := range id {
		da := a[i] ^ id[i]
		db := b[i] ^ id[i]
		if da != db {
			if da < db {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Closer returns true if a is strictly closer to id than b.
func (id Identifier) Closer(a, b Identifier) bool {
	return id.CompareDistance(a, b) < 0
}

// IdentifierList is a list of identifiers.
type IdentifierList []Identifier

func (il IdentifierList) Len() int           { return len(il) }
func (il IdentifierList) Less(i, j int) bool { return il[i].Compare(il[j]) < 0 }
func (il IdentifierList) Swap(i, j int)      { il[i], il[j] = il[j], il[i] }

// Contains returns true if the list contains id.
func (il IdentifierList) Contains(id Identifier) bool {
	for _, other := range il {
		if other == id {
			return true
		}
	}
	return false
}

// Lookup returns the set form of the list.
func (il IdentifierList) Lookup() map[Identifier]struct{} {
	lookup := make(map[Identifier]struct{}, len(il))
	for _, id := range il {
		lookup[id] = struct{}{}
	}
	return lookup
}

// Fingerprint is an order-sensitive digest of the list.
func (il IdentifierList) Fingerprint() Identifier {
	data := make([][]byte, 0, len(il))
	for i := range il {
		data = append(data, il[i][:])
	}
	return HashToIdentifier(data...)
}

// Strings returns the hex forms of the list entries.
func (il IdentifierList) Strings() []string {
	ss := make([]string, 0, len(il))
	for _, id := range il {
		ss = append(ss, id.String())
	}
	return ss
}
