package wire

// InfoTimestamp sets the source timestamp of the following submessages.
// A nil Timestamp invalidates it.
type InfoTimestamp struct {
	Timestamp *Time
}

func (*InfoTimestamp) Kind() SubmessageKind { return KindInfoTimestamp }

func (i *InfoTimestamp) Flags() uint8 {
	if i.Timestamp == nil {
		return FlagInvalidate
	}
	return 0
}

func (i *InfoTimestamp) encodeBody(w *writer) error {
	if i.Timestamp != nil {
		i.Timestamp.encode(w)
	}
	return nil
}

func decodeInfoTimestamp(flags uint8, r *reader) (Submessage, error) {
	i := &InfoTimestamp{}
	if flags&FlagInvalidate == 0 {
		t := Time{}
		t.decode(r)
		i.Timestamp = &t
	}
	return i, r.err
}

// InfoDestination names the participant the following submessages are for.
type InfoDestination struct {
	GuidPrefix GuidPrefix
}

func (*InfoDestination) Kind() SubmessageKind { return KindInfoDst }
func (*InfoDestination) Flags() uint8         { return 0 }

func (i *InfoDestination) encodeBody(w *writer) error {
	w.bytes(i.GuidPrefix[:])
	return nil
}

func decodeInfoDestination(_ uint8, r *reader) (Submessage, error) {
	i := &InfoDestination{}
	i.GuidPrefix.decode(r)
	return i, r.err
}

// InfoSource overrides the source of the following submessages.
type InfoSource struct {
	Version    ProtocolVersion
	Vendor     VendorId
	GuidPrefix GuidPrefix
}

func (*InfoSource) Kind() SubmessageKind { return KindInfoSource }
func (*InfoSource) Flags() uint8         { return 0 }

func (i *InfoSource) encodeBody(w *writer) error {
	w.u32(0)
	w.u8(i.Version.Major)
	w.u8(i.Version.Minor)
	w.bytes(i.Vendor[:])
	w.bytes(i.GuidPrefix[:])
	return nil
}

func decodeInfoSource(_ uint8, r *reader) (Submessage, error) {
	i := &InfoSource{}
	r.skip(4)
	i.Version = ProtocolVersion{Major: r.u8(), Minor: r.u8()}
	i.Vendor = VendorId{r.u8(), r.u8()}
	i.GuidPrefix.decode(r)
	return i, r.err
}

// Pad carries no information. Length is rounded up to a multiple of four
// when encoded.
type Pad struct {
	Length int
}

func (*Pad) Kind() SubmessageKind { return KindPad }
func (*Pad) Flags() uint8         { return 0 }

func (p *Pad) encodeBody(w *writer) error {
	w.zeros(p.Length)
	return nil
}

func decodePad(_ uint8, r *reader) (Submessage, error) {
	n := r.remaining()
	r.skip(n)
	return &Pad{Length: n}, nil
}
