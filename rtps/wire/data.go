package wire

import "fmt"

// RepresentationId is the encapsulation scheme of a serialized payload.
type RepresentationId uint16

const (
	ReprCdrBe   RepresentationId = 0x0000
	ReprCdrLe   RepresentationId = 0x0001
	ReprPlCdrBe RepresentationId = 0x0002
	ReprPlCdrLe RepresentationId = 0x0003
)

func (r RepresentationId) String() string {
	switch r {
	case ReprCdrBe:
		return "CDR_BE"
	case ReprCdrLe:
		return "CDR_LE"
	case ReprPlCdrBe:
		return "PL_CDR_BE"
	case ReprPlCdrLe:
		return "PL_CDR_LE"
	}
	return fmt.Sprintf("REPR(0x%04x)", uint16(r))
}

// Low two option bits carry the number of padding octets at the end
// of the payload.
const payloadPaddingMask uint16 = 0x0003

// Payload is either RawData or *ParameterList.
type Payload interface {
	Representation() RepresentationId
	encodePayload(w *writer) error
}

// RawData is an opaque CDR_LE encoded sample.
type RawData []byte

func (RawData) Representation() RepresentationId { return ReprCdrLe }

func (d RawData) encodePayload(w *writer) error {
	w.bytes(d)
	return nil
}

func (*ParameterList) Representation() RepresentationId { return ReprPlCdrLe }

func (pl *ParameterList) encodePayload(w *writer) error {
	return pl.encode(w)
}

// SerializedPayload is the encapsulated sample carried by Data.
type SerializedPayload struct {
	Options uint16
	Value   Payload
}

func (p *SerializedPayload) encode(w *writer) error {
	w.u16be(uint16(p.Value.Representation()))
	optOff := w.len()
	w.u16be(0)
	start := w.len()
	if err := p.Value.encodePayload(w); err != nil {
		return err
	}
	pad := w.pad(start)
	opts := p.Options&^payloadPaddingMask | uint16(pad)
	w.buf[optOff] = byte(opts >> 8)
	w.buf[optOff+1] = byte(opts)
	return nil
}

// decodePayload reads the encapsulation header and the rest of r.
// ok is false when the representation is not supported.
func decodePayload(r *reader) (p *SerializedPayload, ok bool, err error) {
	repr := RepresentationId(r.u16be())
	opts := r.u16be()
	if r.err != nil {
		return nil, false, r.err
	}
	body := r.rest()
	if pad := int(opts & payloadPaddingMask); pad <= len(body) {
		body = body[:len(body)-pad]
	}
	p = &SerializedPayload{Options: opts &^ payloadPaddingMask}

	switch repr {
	case ReprCdrLe:
		p.Value = RawData(append([]byte(nil), body...))
	case ReprPlCdrLe:
		pl, err := decodeParameterList(newReader(body), contextProtocol)
		if err != nil {
			return nil, false, err
		}
		p.Value = pl
	default:
		return nil, false, nil
	}
	return p, true, nil
}

// Data carries one change of a writer. A nil Payload means the change has
// only inline QoS, for example a dispose.
type Data struct {
	ExtraFlags uint16
	ReaderId   EntityId
	WriterId   EntityId
	WriterSN   SequenceNumber
	InlineQos  *ParameterList
	Payload    *SerializedPayload
	// Key marks the payload as a serialized key instead of data.
	Key bool
	// PayloadDropped is set when decoding met an unsupported representation.
	PayloadDropped bool
}

// Fixed part after octetsToInlineQos: reader id, writer id, sequence number.
const dataOctetsToInlineQos = 16

func (*Data) Kind() SubmessageKind { return KindData }

func (d *Data) Flags() uint8 {
	var f uint8
	if d.InlineQos != nil {
		f |= FlagInlineQos
	}
	if d.Payload != nil {
		if d.Key {
			f |= FlagKey
		} else {
			f |= FlagData
		}
	}
	return f
}

// StatusInfo returns the inline status info, zero when absent.
func (d *Data) StatusInfo() StatusInfo {
	s, _ := GetAs[StatusInfo](d.InlineQos, PidStatusInfo)
	return s
}

func (d *Data) encodeBody(w *writer) error {
	w.u16(d.ExtraFlags)
	w.u16(dataOctetsToInlineQos)
	w.bytes(d.ReaderId[:])
	w.bytes(d.WriterId[:])
	d.WriterSN.encode(w)
	if d.InlineQos != nil {
		if err := d.InlineQos.encode(w); err != nil {
			return err
		}
	}
	if d.Payload != nil {
		return d.Payload.encode(w)
	}
	return nil
}

func decodeData(flags uint8, r *reader) (Submessage, error) {
	d := &Data{Key: flags&FlagKey != 0}
	d.ExtraFlags = r.u16()
	octets := int(r.u16())
	d.ReaderId.decode(r)
	d.WriterId.decode(r)
	d.WriterSN.decode(r)
	if r.err != nil {
		return nil, r.err
	}
	if octets < dataOctetsToInlineQos {
		return nil, ErrInvalidOffset
	}
	r.skip(octets - dataOctetsToInlineQos)

	if flags&FlagInlineQos != 0 {
		qos, err := decodeParameterList(r, contextInlineQos)
		if err != nil {
			return nil, err
		}
		d.InlineQos = qos
	}
	if flags&(FlagData|FlagKey) != 0 {
		p, ok, err := decodePayload(r)
		if err != nil {
			return nil, err
		}
		d.Payload = p
		d.PayloadDropped = !ok
	}
	return d, r.err
}

// DataFrag carries a fragment of a serialized payload.
type DataFrag struct {
	ExtraFlags        uint16
	ReaderId          EntityId
	WriterId          EntityId
	WriterSN          SequenceNumber
	FragmentStart     uint32
	FragmentsInSubmsg uint16
	FragmentSize      uint16
	SampleSize        uint32
	InlineQos         *ParameterList
	Fragment          []byte
	Key               bool
}

const dataFragOctetsToInlineQos = 28

func (*DataFrag) Kind() SubmessageKind { return KindDataFrag }

func (d *DataFrag) Flags() uint8 {
	var f uint8
	if d.InlineQos != nil {
		f |= FlagInlineQos
	}
	if d.Key {
		f |= FlagFragKey
	}
	return f
}

func (d *DataFrag) encodeBody(w *writer) error {
	w.u16(d.ExtraFlags)
	w.u16(dataFragOctetsToInlineQos)
	w.bytes(d.ReaderId[:])
	w.bytes(d.WriterId[:])
	d.WriterSN.encode(w)
	w.u32(d.FragmentStart)
	w.u16(d.FragmentsInSubmsg)
	w.u16(d.FragmentSize)
	w.u32(d.SampleSize)
	if d.InlineQos != nil {
		if err := d.InlineQos.encode(w); err != nil {
			return err
		}
	}
	w.bytes(d.Fragment)
	return nil
}

// fragmentLen is the number of payload octets the header describes.
func (d *DataFrag) fragmentLen() int {
	total := int(d.FragmentsInSubmsg) * int(d.FragmentSize)
	if d.FragmentStart == 0 {
		return total
	}
	left := int(d.SampleSize) - int(d.FragmentStart-1)*int(d.FragmentSize)
	return max(min(total, left), 0)
}

func decodeDataFrag(flags uint8, r *reader) (Submessage, error) {
	d := &DataFrag{Key: flags&FlagFragKey != 0}
	d.ExtraFlags = r.u16()
	octets := int(r.u16())
	d.ReaderId.decode(r)
	d.WriterId.decode(r)
	d.WriterSN.decode(r)
	d.FragmentStart = r.u32()
	d.FragmentsInSubmsg = r.u16()
	d.FragmentSize = r.u16()
	d.SampleSize = r.u32()
	if r.err != nil {
		return nil, r.err
	}
	if octets < dataFragOctetsToInlineQos {
		return nil, ErrInvalidOffset
	}
	r.skip(octets - dataFragOctetsToInlineQos)

	if flags&FlagInlineQos != 0 {
		qos, err := decodeParameterList(r, contextInlineQos)
		if err != nil {
			return nil, err
		}
		d.InlineQos = qos
	}
	n := d.fragmentLen()
	if n > r.remaining() {
		return nil, ErrLengthMismatch
	}
	d.Fragment = r.copyBytes(n)
	// Trailing alignment octets
	if r.remaining() < 4 {
		r.skip(r.remaining())
	}
	return d, r.err
}
