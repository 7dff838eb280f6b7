// Package cbor holds the canonical CBOR modes of stored and signed values.
// Equal values always encode to equal bytes.
package cbor

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/onflow/sectionnet/model/encoding"
)

// EncMode is the canonical encoding mode shared by signing bytes, storage and
// the network codec.
var EncMode = func() cbor.EncMode {
	options := cbor.CanonicalEncOptions()
	options.Time = cbor.TimeRFC3339Nano
	encMode, err := options.EncMode()
	if err != nil {
		panic(fmt.Sprintf("could not create canonical encoding mode: %v", err))
	}
	return encMode
}()

// DecMode rejects duplicate map keys.
var DecMode = func() cbor.DecMode {
	decMode, err := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("could not create decoding mode: %v", err))
	}
	return decMode
}()

// SigningBytes returns the tagged canonical encoding of val.
func SigningBytes(tag string, val interface{}) []byte {
	b, err := EncMode.Marshal(val)
	if err != nil {
		// all signed types are plain structs of encodable fields
		panic(fmt.Sprintf("could not encode signed value %T: %v", val, err))
	}
	return encoding.Tagged(tag, b)
}
