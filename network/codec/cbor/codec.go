// Package cbor implements the network codec with canonical CBOR. An encoded
// message is its code byte followed by the CBOR encoding of the message.
package cbor

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	cborcodec "github.com/onflow/sectionnet/model/encoding/cbor"
	"github.com/onflow/sectionnet/network"
	"github.com/onflow/sectionnet/network/codec"
)

// Codec encodes messages for the wire.
type Codec struct{}

var _ network.Codec = (*Codec)(nil)

func NewCodec() *Codec {
	return &Codec{}
}

// Encode returns the code of v followed by its CBOR encoding.
func (c *Codec) Encode(v interface{}) ([]byte, error) {
	code, what, err := codec.MessageCodeFromInterface(v)
	if err != nil {
		return nil, fmt.Errorf("could not determine message code: %w", err)
	}
	payload, err := cborcodec.EncMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("could not encode %s: %w", what, err)
	}
	data := make([]byte, 0, len(payload)+1)
	data = append(data, code)
	return append(data, payload...), nil
}

// Decode returns a pointer to the message encoded in data.
//
// Expected errors:
//   - codec.ErrInvalidEncoding for empty input
//   - codec.UnknownCodeError for an unknown code byte
//   - codec.PayloadError for a payload that does not decode
func (c *Codec) Decode(data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty message: %w", codec.ErrInvalidEncoding)
	}
	code := data[0]
	v, what, err := codec.InterfaceFromMessageCode(code)
	if err != nil {
		return nil, err
	}
	if err := cborcodec.DecMode.Unmarshal(data[1:], v); err != nil {
		return nil, codec.PayloadError{Code: code, Type: what, Err: err}
	}
	return v, nil
}

// NewEncoder returns a stream encoder writing framed messages to w.
func (c *Codec) NewEncoder(w io.Writer) *Encoder {
	return &Encoder{codec: c, enc: cborcodec.EncMode.NewEncoder(w)}
}

// NewDecoder returns a stream decoder reading framed messages from r.
func (c *Codec) NewDecoder(r io.Reader) *Decoder {
	return &Decoder{codec: c, dec: cborcodec.DecMode.NewDecoder(r)}
}

// Encoder writes messages to a stream, each one as a CBOR byte string holding
// its codec encoding.
type Encoder struct {
	codec *Codec
	enc   *cbor.Encoder
}

func (e *Encoder) Encode(v interface{}) error {
	data, err := e.codec.Encode(v)
	if err != nil {
		return err
	}
	return e.enc.Encode(data)
}

// EncodeBytes writes a message already encoded with Codec.Encode.
func (e *Encoder) EncodeBytes(data []byte) error {
	return e.enc.Encode(data)
}

// Decoder reads messages written by an Encoder.
type Decoder struct {
	codec *Codec
	dec   *cbor.Decoder
}

// Decode returns the next message of the stream. It returns io.EOF at the end
// of the stream.
func (d *Decoder) Decode() (interface{}, error) {
	data, err := d.DecodeBytes()
	if err != nil {
		return nil, err
	}
	return d.codec.Decode(data)
}

// DecodeBytes returns the codec encoding of the next message of the stream.
func (d *Decoder) DecodeBytes() ([]byte, error) {
	var data []byte
	if err := d.dec.Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}
