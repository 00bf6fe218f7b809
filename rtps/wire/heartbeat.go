package wire

// Heartbeat announces the range of sequence numbers a writer has available.
type Heartbeat struct {
	ReaderId   EntityId
	WriterId   EntityId
	FirstSN    SequenceNumber
	LastSN     SequenceNumber
	Count      Count
	Final      bool
	Liveliness bool
}

func (*Heartbeat) Kind() SubmessageKind { return KindHeartbeat }

func (h *Heartbeat) Flags() uint8 {
	var f uint8
	if h.Final {
		f |= FlagFinal
	}
	if h.Liveliness {
		f |= FlagLiveliness
	}
	return f
}

func (h *Heartbeat) encodeBody(w *writer) error {
	w.bytes(h.ReaderId[:])
	w.bytes(h.WriterId[:])
	h.FirstSN.encode(w)
	h.LastSN.encode(w)
	w.i32(int32(h.Count))
	return nil
}

func decodeHeartbeat(flags uint8, r *reader) (Submessage, error) {
	h := &Heartbeat{
		Final:      flags&FlagFinal != 0,
		Liveliness: flags&FlagLiveliness != 0,
	}
	h.ReaderId.decode(r)
	h.WriterId.decode(r)
	h.FirstSN.decode(r)
	h.LastSN.decode(r)
	h.Count = Count(r.i32())
	return h, r.err
}

// AckNack reports the sequence numbers a reader is missing.
// An empty set with Base = n means every change below n was received.
type AckNack struct {
	ReaderId EntityId
	WriterId EntityId
	State    SequenceNumberSet
	Count    Count
	Final    bool
}

func (*AckNack) Kind() SubmessageKind { return KindAckNack }

func (a *AckNack) Flags() uint8 {
	if a.Final {
		return FlagFinal
	}
	return 0
}

func (a *AckNack) encodeBody(w *writer) error {
	w.bytes(a.ReaderId[:])
	w.bytes(a.WriterId[:])
	a.State.encode(w)
	w.i32(int32(a.Count))
	return nil
}

func decodeAckNack(flags uint8, r *reader) (Submessage, error) {
	a := &AckNack{Final: flags&FlagFinal != 0}
	a.ReaderId.decode(r)
	a.WriterId.decode(r)
	if err := a.State.decode(r); err != nil {
		return nil, err
	}
	a.Count = Count(r.i32())
	return a, r.err
}

// Gap marks changes as irrelevant: [Start, List.Base) and the members of List.
type Gap struct {
	ReaderId EntityId
	WriterId EntityId
	Start    SequenceNumber
	List     SequenceNumberSet
}

func (*Gap) Kind() SubmessageKind { return KindGap }
func (*Gap) Flags() uint8         { return 0 }

func (g *Gap) encodeBody(w *writer) error {
	w.bytes(g.ReaderId[:])
	w.bytes(g.WriterId[:])
	g.Start.encode(w)
	g.List.encode(w)
	return nil
}

func decodeGap(_ uint8, r *reader) (Submessage, error) {
	g := &Gap{}
	g.ReaderId.decode(r)
	g.WriterId.decode(r)
	g.Start.decode(r)
	if err := g.List.decode(r); err != nil {
		return nil, err
	}
	return g, r.err
}
