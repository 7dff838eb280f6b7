package overlay

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Prefix is a bit string of length 0..IdentifierBits identifying a section. The
// root prefix (length 0) matches every identifier. Bits past the length are always
// zero, so two prefixes are equal iff they are == comparable-equal.
type Prefix struct {
	bits   Identifier
	length int
}

// RootPrefix is the empty prefix covering the full address space.
var RootPrefix = Prefix{}

// NewPrefix returns the prefix made of the first length bits of id.
func NewPrefix(id Identifier, length int) Prefix {
	if length < 0 {
		length = 0
	}
	if length > IdentifierBits {
		length = IdentifierBits
	}
	p := Prefix{length: length}
	full := length / 8
	copy(p.bits[:full], id[:full])
	if rem := length % 8; rem != 0 {
		p.bits[full] = id[full] & (0xff << uint(8-rem))
	}
	return p
}

// ParsePrefix parses the canonical textual form: a string of '0' and '1'
// characters, most significant bit first. The empty string is the root prefix.
func ParsePrefix(s string) (Prefix, error) {
	if len(s) > IdentifierBits {
		return Prefix{}, fmt.Errorf("prefix too long: %d bits", len(s))
	}
	p := Prefix{}
	for i, c := range s {
		switch c {
		case '0':
			p = p.Pushed(false)
		case '1':
			p = p.Pushed(true)
		default:
			return Prefix{}, fmt.Errorf("invalid character %q at position %d", c, i)
		}
	}
	return p, nil
}

// MustParsePrefix is ParsePrefix that panics on malformed input.
func MustParsePrefix(s string) Prefix {
	p, err := ParsePrefix(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Len returns the number of bits in the prefix.
func (p Prefix) Len() int {
	return p.length
}

// Bit returns the i-th bit of the prefix.
func (p Prefix) Bit(i int) bool {
	if i >= p.length {
		return false
	}
	return p.bits.Bit(i)
}

// Name returns the lowest identifier covered by the prefix.
func (p Prefix) Name() Identifier {
	return p.bits
}

// Matches returns true if the leading bits of id equal the prefix.
func (p Prefix) Matches(id Identifier) bool {
	return id.CommonPrefixLen(p.bits) >= p.length
}

// IsExtensionOf returns true if other is a proper ancestor of p.
func (p Prefix) IsExtensionOf(other Prefix) bool {
	return p.length > other.length && other.Matches(p.bits)
}

// IsCompatible returns true if one prefix is an ancestor of, or equal to, the other.
func (p Prefix) IsCompatible(other Prefix) bool {
	common := p.bits.CommonPrefixLen(other.bits)
	return common >= p.length || common >= other.length
}

// Pushed returns the prefix extended by one bit.
func (p Prefix) Pushed(bit bool) Prefix {
	if p.length >= IdentifierBits {
		return p
	}
	next := Prefix{bits: p.bits.WithBit(p.length, bit), length: p.length + 1}
	return next
}

// Popped returns the parent prefix. The root prefix is its own parent.
func (p Prefix) Popped() Prefix {
	if p.length == 0 {
		return p
	}
	return NewPrefix(p.bits, p.length-1)
}

// Sibling returns the prefix that differs from p in the last bit only. The root
// prefix has no sibling and is returned unchanged.
func (p Prefix) Sibling() Prefix {
	if p.length == 0 {
		return p
	}
	return Prefix{bits: p.bits.WithBit(p.length-1, !p.Bit(p.length-1)), length: p.length}
}

// Children returns the two prefixes obtained by splitting p on its next bit.
func (p Prefix) Children() (Prefix, Prefix) {
	return p.Pushed(false), p.Pushed(true)
}

// Ancestors returns the proper ancestors of p from the root down.
func (p Prefix) Ancestors() []Prefix {
	ancestors := make([]Prefix, 0, p.length)
	for i := 0; i < p.length; i++ {
		ancestors = append(ancestors, NewPrefix(p.bits, i))
	}
	return ancestors
}

// Substituted returns id with its leading bits replaced by the prefix bits.
func (p Prefix) Substituted(id Identifier) Identifier {
	for i := 0; i < p.length; i++ {
		id = id.WithBit(i, p.Bit(i))
	}
	return id
}

// CompareDistance orders prefixes by the XOR distance of their names to target,
// breaking ties with the longer prefix first.
func (p Prefix) CompareDistance(other Prefix, target Identifier) int {
	if c := target.CompareDistance(p.bits, other.bits); c != 0 {
		return c
	}
	switch {
	case p.length > other.length:
		return -1
	case p.length < other.length:
		return 1
	default:
		return 0
	}
}

func (p Prefix) String() string {
	var sb strings.Builder
	sb.Grow(p.length)
	for i := 0; i < p.length; i++ {
		if p.bits.Bit(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// LogString renders the root prefix visibly in logs.
func (p Prefix) LogString() string {
	if p.length == 0 {
		return "()"
	}
	return "(" + p.String() + ")"
}

// MarshalBinary encodes the prefix as a two-byte length followed by the minimal
// number of bytes holding the bits.
func (p Prefix) MarshalBinary() ([]byte, error) {
	n := (p.length + 7) / 8
	out := make([]byte, 2+n)
	binary.BigEndian.PutUint16(out[:2], uint16(p.length))
	copy(out[2:], p.bits[:n])
	return out, nil
}

// UnmarshalBinary decodes the MarshalBinary form. Stray bits past the length
// are rejected so that decoded prefixes stay canonical.
func (p *Prefix) UnmarshalBinary(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("prefix encoding too short: %d bytes", len(data))
	}
	length := int(binary.BigEndian.Uint16(data[:2]))
	if length > IdentifierBits {
		return fmt.Errorf("prefix length %d exceeds %d bits", length, IdentifierBits)
	}
	n := (length + 7) / 8
	if len(data) != 2+n {
		return fmt.Errorf("prefix encoding has %d bytes, expected %d", len(data), 2+n)
	}
	var id Identifier
	copy(id[:], data[2:])
	decoded := NewPrefix(id, length)
	if decoded.bits != id {
		return fmt.Errorf("prefix encoding has bits set past length %d", length)
	}
	*p = decoded
	return nil
}

// IsCoveredBy returns true if the given prefixes together cover every
// identifier matched by p.
func (p Prefix) IsCoveredBy(prefixes []Prefix) bool {
	hasDescendant := false
	for _, q := range prefixes {
		if q == p || p.IsExtensionOf(q) {
			return true
		}
		if q.IsExtensionOf(p) {
			hasDescendant = true
		}
	}
	if !hasDescendant || p.length >= IdentifierBits {
		return false
	}
	left, right := p.Children()
	return left.IsCoveredBy(prefixes) && right.IsCoveredBy(prefixes)
}
