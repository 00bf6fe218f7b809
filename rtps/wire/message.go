package wire

import (
	"errors"
	"fmt"
)

var protocolRtps = [4]byte{'R', 'T', 'P', 'S'}

const HeaderLen = 20

// Header starts every RTPS message.
type Header struct {
	Version    ProtocolVersion
	Vendor     VendorId
	GuidPrefix GuidPrefix
}

func NewHeader(prefix GuidPrefix) Header {
	return Header{
		Version:    ProtocolVersion_2_3,
		Vendor:     VendorIdRtpstalk,
		GuidPrefix: prefix,
	}
}

func (h Header) encode(w *writer) {
	w.bytes(protocolRtps[:])
	w.u8(h.Version.Major)
	w.u8(h.Version.Minor)
	w.bytes(h.Vendor[:])
	w.bytes(h.GuidPrefix[:])
}

func (h *Header) decode(r *reader) error {
	var proto [4]byte
	r.read(proto[:])
	if r.err != nil {
		return r.err
	}
	if proto != protocolRtps {
		return ErrNotRtps
	}
	h.Version = ProtocolVersion{Major: r.u8(), Minor: r.u8()}
	h.Vendor = VendorId{r.u8(), r.u8()}
	h.GuidPrefix.decode(r)
	if r.err != nil {
		return r.err
	}
	if h.Version.Major != ProtocolVersion_2_3.Major {
		return fmt.Errorf("%w: %s", ErrUnsupportedVersion, h.Version)
	}
	return nil
}

// Message is a decoded RTPS datagram.
type Message struct {
	Header      Header
	Submessages []Submessage
	// Number of submessages skipped while decoding.
	Skipped int
}

func NewMessage(prefix GuidPrefix, subs ...Submessage) *Message {
	return &Message{Header: NewHeader(prefix), Submessages: subs}
}

func (m *Message) Add(subs ...Submessage) *Message {
	m.Submessages = append(m.Submessages, subs...)
	return m
}

// Encode serializes the message. Every submessage starts 4-byte aligned
// and its declared length covers its padding.
func (m *Message) Encode() ([]byte, error) {
	w := &writer{buf: make([]byte, 0, 256)}
	m.Header.encode(w)
	for _, s := range m.Submessages {
		w.u8(uint8(s.Kind()))
		w.u8(s.Flags() | FlagEndianness)
		lenOff := w.len()
		w.u16(0)
		start := w.len()
		if err := s.encodeBody(w); err != nil {
			return nil, fmt.Errorf("encode %s: %w", s.Kind(), err)
		}
		w.pad(start)
		n := w.len() - start
		if n > 0xffff {
			return nil, fmt.Errorf("encode %s: submessage too long (%d)", s.Kind(), n)
		}
		w.putU16At(lenOff, uint16(n))
	}
	return w.buf, nil
}

// Decode parses a datagram. Unknown submessages are skipped; any malformed
// submessage rejects the whole message.
func Decode(b []byte) (*Message, error) {
	r := newReader(b)
	m := &Message{}
	if err := m.Header.decode(r); err != nil {
		return nil, err
	}

	for r.remaining() > 0 {
		if r.remaining() < submessageHeaderLen {
			return nil, ErrShortBuffer
		}
		start := r.off
		kind := SubmessageKind(r.u8())
		flags := r.u8()
		length := int(r.u16())
		if flags&FlagEndianness == 0 {
			return nil, ErrSubmessage{Kind: kind, Offset: start, Err: ErrBigEndian}
		}
		if length == 0 && kind != KindPad && kind != KindInfoTimestamp {
			length = r.remaining()
		}
		if length > r.remaining() {
			return nil, ErrSubmessage{Kind: kind, Offset: start, Err: ErrShortBuffer}
		}

		body := r.sub(length)
		if dec, ok := submessageDecoders[kind]; ok {
			s, err := dec(flags, body)
			if err == nil && body.remaining() != 0 {
				err = ErrLengthMismatch
			}
			if err != nil {
				return nil, ErrSubmessage{Kind: kind, Offset: start, Err: err}
			}
			m.Submessages = append(m.Submessages, s)
		} else {
			m.Skipped++
		}

		// Realign in case the sender did not pad
		if p := padding(r.off); p > 0 {
			r.skip(min(p, r.remaining()))
		}
	}
	return m, nil
}

// IsUnsupported reports errors a receiver drops without complaint.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupportedVersion) || errors.Is(err, ErrNotRtps)
}
