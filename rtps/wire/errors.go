package wire

import (
	"errors"
	"fmt"
)

var (
	ErrShortBuffer        = errors.New("rtps: buffer too short")
	ErrNotRtps            = errors.New("rtps: protocol id is not RTPS")
	ErrUnsupportedVersion = errors.New("rtps: unsupported protocol version")
	ErrBigEndian          = errors.New("rtps: big-endian submessages are not supported")
	ErrLengthMismatch     = errors.New("rtps: submessage length mismatch")
	ErrParameterOverrun   = errors.New("rtps: parameter value overruns its length")
	ErrUnterminatedList   = errors.New("rtps: parameter list has no sentinel")
	ErrInvalidNumBits     = errors.New("rtps: sequence number set is larger than 256 bits")
	ErrInvalidOffset      = errors.New("rtps: invalid octets to inline qos")
)

// ErrSubmessage wraps a decoding failure with the submessage it occurred in.
type ErrSubmessage struct {
	Kind   SubmessageKind
	Offset int
	Err    error
}

func (e ErrSubmessage) Error() string {
	return fmt.Sprintf("rtps: %s submessage at offset %d: %v", e.Kind, e.Offset, e.Err)
}

func (e ErrSubmessage) Unwrap() error {
	return e.Err
}
