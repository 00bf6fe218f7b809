package wire

import (
	"encoding/binary"
	"fmt"
	"slices"
)

type ParameterId uint16

const (
	PidPad                     ParameterId = 0x0000
	PidSentinel                ParameterId = 0x0001
	PidParticipantLease        ParameterId = 0x0002
	PidTopicName               ParameterId = 0x0005
	PidTypeName                ParameterId = 0x0007
	PidDomainId                ParameterId = 0x000f
	PidProtocolVersion         ParameterId = 0x0015
	PidVendorId                ParameterId = 0x0016
	PidReliability             ParameterId = 0x001a
	PidLiveliness              ParameterId = 0x001b
	PidDurability              ParameterId = 0x001d
	PidUnicastLocator          ParameterId = 0x002f
	PidMulticastLocator        ParameterId = 0x0030
	PidDefaultUnicastLocator   ParameterId = 0x0031
	PidMetatrafficUnicast      ParameterId = 0x0032
	PidMetatrafficMulticast    ParameterId = 0x0033
	PidManualLivelinessCount   ParameterId = 0x0034
	PidHistory                 ParameterId = 0x0040
	PidExpectsInlineQos        ParameterId = 0x0043
	PidDefaultMulticastLocator ParameterId = 0x0048
	PidParticipantGuid         ParameterId = 0x0050
	PidBuiltinEndpointSet      ParameterId = 0x0058
	PidEndpointGuid            ParameterId = 0x005a
	PidEntityName              ParameterId = 0x0062
	PidKeyHash                 ParameterId = 0x0070
	PidStatusInfo              ParameterId = 0x0071

	pidVendorSpecific ParameterId = 0x8000
)

// IsProtocol reports whether the id has a protocol defined value codec.
func (id ParameterId) IsProtocol() bool {
	_, ok := parameterDecoders[id]
	return ok || id == PidPad || id == PidSentinel
}

func (id ParameterId) String() string {
	return fmt.Sprintf("0x%04x", uint16(id))
}

// Parameter is a single entry of a ParameterList. Value holds one of the
// typed values listed in parameterDecoders, or UserData.
type Parameter struct {
	Id    ParameterId
	Value any
}

// ParameterList is an ordered multimap of parameters.
type ParameterList struct {
	Params []Parameter
}

func NewParameterList() *ParameterList {
	return &ParameterList{}
}

// Add appends a parameter and returns the list for chaining.
func (pl *ParameterList) Add(id ParameterId, value any) *ParameterList {
	pl.Params = append(pl.Params, Parameter{Id: id, Value: value})
	return pl
}

// Get returns the first value stored under id.
func (pl *ParameterList) Get(id ParameterId) (any, bool) {
	if pl == nil {
		return nil, false
	}
	for _, p := range pl.Params {
		if p.Id == id {
			return p.Value, true
		}
	}
	return nil, false
}

// All returns every value stored under id in order.
func (pl *ParameterList) All(id ParameterId) []any {
	if pl == nil {
		return nil
	}
	var out []any
	for _, p := range pl.Params {
		if p.Id == id {
			out = append(out, p.Value)
		}
	}
	return out
}

func (pl *ParameterList) Len() int {
	if pl == nil {
		return 0
	}
	return len(pl.Params)
}

// UserParameters returns the application defined entries.
func (pl *ParameterList) UserParameters() []UserParameter {
	if pl == nil {
		return nil
	}
	var out []UserParameter
	for _, p := range pl.Params {
		if v, ok := p.Value.(UserData); ok {
			out = append(out, UserParameter{Id: p.Id, Value: slices.Clone(v)})
		}
	}
	return out
}

// GetAs returns the first value under id if it has type T.
func GetAs[T any](pl *ParameterList, id ParameterId) (T, bool) {
	v, ok := pl.Get(id)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// AllAs returns every value under id having type T.
func AllAs[T any](pl *ParameterList, id ParameterId) []T {
	var out []T
	for _, v := range pl.All(id) {
		if t, ok := v.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// UserParameter is an application defined inline QoS entry.
type UserParameter struct {
	Id    ParameterId
	Value []byte
}

func (u UserParameter) Validate() error {
	if u.Id.IsProtocol() || u.Id&pidVendorSpecific != 0 {
		return fmt.Errorf("parameter id %s is reserved", u.Id)
	}
	if len(u.Value) > 0xffff-8 {
		return fmt.Errorf("parameter %s value too long: %d", u.Id, len(u.Value))
	}
	return nil
}

type parameterContext int

const (
	// Discovery payloads: unknown ids are skipped.
	contextProtocol parameterContext = iota
	// Inline QoS of Data submessages: unknown ids become UserData.
	contextInlineQos
)

type parameterDecoder func(r *reader) any

func decodeString(r *reader) any {
	n := int(r.u32())
	b := r.bytes(n)
	if n > 0 && len(b) == n && b[n-1] == 0 {
		b = b[:n-1]
	}
	return string(b)
}

func decodeLocator(r *reader) any {
	var l Locator
	l.decode(r)
	return l
}

func decodeGuid(r *reader) any {
	var g Guid
	g.decode(r)
	return g
}

func decodeDuration(r *reader) any {
	var d Duration
	d.decode(r)
	return d
}

// Immutable id to decoder table.
var parameterDecoders = map[ParameterId]parameterDecoder{
	PidParticipantLease: decodeDuration,
	PidTopicName:        decodeString,
	PidTypeName:         decodeString,
	PidEntityName:       decodeString,
	PidDomainId:         func(r *reader) any { return DomainId(r.u32()) },
	PidProtocolVersion: func(r *reader) any {
		return ProtocolVersion{Major: r.u8(), Minor: r.u8()}
	},
	PidVendorId: func(r *reader) any {
		return VendorId{r.u8(), r.u8()}
	},
	PidReliability: func(r *reader) any {
		v := Reliability{Kind: ReliabilityKind(r.u32())}
		v.MaxBlockingTime.decode(r)
		return v
	},
	PidLiveliness: func(r *reader) any {
		v := Liveliness{Kind: LivelinessKind(r.u32())}
		v.LeaseDuration.decode(r)
		return v
	},
	PidDurability: func(r *reader) any {
		return Durability{Kind: DurabilityKind(r.u32())}
	},
	PidHistory: func(r *reader) any {
		return History{Kind: HistoryKind(r.u32()), Depth: r.i32()}
	},
	PidUnicastLocator:          decodeLocator,
	PidMulticastLocator:        decodeLocator,
	PidDefaultUnicastLocator:   decodeLocator,
	PidMetatrafficUnicast:      decodeLocator,
	PidMetatrafficMulticast:    decodeLocator,
	PidDefaultMulticastLocator: decodeLocator,
	PidManualLivelinessCount:   func(r *reader) any { return Count(r.i32()) },
	PidExpectsInlineQos:        func(r *reader) any { return r.u8() != 0 },
	PidParticipantGuid:         decodeGuid,
	PidEndpointGuid:            decodeGuid,
	PidBuiltinEndpointSet:      func(r *reader) any { return BuiltinEndpointSet(r.u32()) },
	PidKeyHash: func(r *reader) any {
		var k KeyHash
		r.read(k[:])
		return k
	},
	PidStatusInfo: func(r *reader) any {
		var b [4]byte
		r.read(b[:])
		return StatusInfo(binary.BigEndian.Uint32(b[:]))
	},
}

func encodeParameterValue(w *writer, v any) error {
	switch v := v.(type) {
	case string:
		w.u32(uint32(len(v) + 1))
		w.bytes([]byte(v))
		w.u8(0)
	case Locator:
		v.encode(w)
	case Guid:
		v.encode(w)
	case Duration:
		v.encode(w)
	case DomainId:
		w.u32(uint32(v))
	case ProtocolVersion:
		w.u8(v.Major)
		w.u8(v.Minor)
	case VendorId:
		w.bytes(v[:])
	case Reliability:
		w.u32(uint32(v.Kind))
		v.MaxBlockingTime.encode(w)
	case Liveliness:
		w.u32(uint32(v.Kind))
		v.LeaseDuration.encode(w)
	case Durability:
		w.u32(uint32(v.Kind))
	case History:
		w.u32(uint32(v.Kind))
		w.i32(v.Depth)
	case Count:
		w.i32(int32(v))
	case bool:
		if v {
			w.u8(1)
		} else {
			w.u8(0)
		}
	case BuiltinEndpointSet:
		w.u32(uint32(v))
	case KeyHash:
		w.bytes(v[:])
	case StatusInfo:
		w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
	case UserData:
		w.u32(uint32(len(v)))
		w.bytes(v)
	default:
		return fmt.Errorf("unsupported parameter value type %T", v)
	}
	return nil
}

func (pl *ParameterList) encode(w *writer) error {
	for _, p := range pl.Params {
		w.u16(uint16(p.Id))
		lenOff := w.len()
		w.u16(0)
		start := w.len()
		if err := encodeParameterValue(w, p.Value); err != nil {
			return fmt.Errorf("parameter %s: %w", p.Id, err)
		}
		w.pad(start)
		n := w.len() - start
		if n > 0xffff {
			return fmt.Errorf("parameter %s: value too long", p.Id)
		}
		w.putU16At(lenOff, uint16(n))
	}
	w.u16(uint16(PidSentinel))
	w.u16(0)
	return nil
}

// Encode returns the standalone serialization terminated by the sentinel.
func (pl *ParameterList) Encode() ([]byte, error) {
	w := &writer{}
	if err := pl.encode(w); err != nil {
		return nil, err
	}
	return w.buf, nil
}

func decodeParameterList(r *reader, ctx parameterContext) (*ParameterList, error) {
	pl := NewParameterList()
	for {
		id := ParameterId(r.u16())
		length := int(r.u16())
		if r.err != nil {
			return nil, ErrUnterminatedList
		}
		if id == PidSentinel {
			return pl, nil
		}
		if length > r.remaining() {
			return nil, ErrParameterOverrun
		}
		body := r.sub(length)
		if id == PidPad {
			continue
		}

		if dec, ok := parameterDecoders[id]; ok {
			v := dec(body)
			if body.err != nil {
				return nil, fmt.Errorf("parameter %s: %w", id, ErrParameterOverrun)
			}
			pl.Add(id, v)
			continue
		}

		// Unknown and vendor specific ids
		if ctx != contextInlineQos || id&pidVendorSpecific != 0 {
			continue
		}
		n := int(body.u32())
		v := body.copyBytes(n)
		if body.err != nil {
			continue
		}
		pl.Add(id, UserData(v))
	}
}

// DecodeParameterList decodes a standalone discovery parameter list.
func DecodeParameterList(b []byte) (*ParameterList, error) {
	return decodeParameterList(newReader(b), contextProtocol)
}
