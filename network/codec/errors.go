package codec

import (
	"errors"
	"fmt"
)

// ErrInvalidEncoding is returned for input that cannot carry a message at all,
// and for values the codec has no code for.
var ErrInvalidEncoding = errors.New("invalid encoding")

// UnknownCodeError is returned when the leading code byte names no message type.
type UnknownCodeError struct {
	Code uint8
}

func (e UnknownCodeError) Error() string {
	return fmt.Sprintf("unknown message code %d", e.Code)
}

// IsUnknownCode returns true if err is or wraps an UnknownCodeError.
func IsUnknownCode(err error) bool {
	var e UnknownCodeError
	return errors.As(err, &e)
}

// PayloadError is returned when the payload following a known code does not
// decode into the message type of the code.
type PayloadError struct {
	Code uint8
	Type string
	Err  error
}

func (e PayloadError) Error() string {
	return fmt.Sprintf("could not decode %s payload (code %d): %v", e.Type, e.Code, e.Err)
}

func (e PayloadError) Unwrap() error {
	return e.Err
}

// IsPayloadError returns true if err is or wraps a PayloadError.
func IsPayloadError(err error) bool {
	var e PayloadError
	return errors.As(err, &e)
}
