package wire

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// GuidPrefix uniquely identifies a participant.
type GuidPrefix [12]byte

var GuidPrefixUnknown = GuidPrefix{}

// NewGuidPrefix returns a random prefix whose first two bytes carry the vendor.
func NewGuidPrefix(vendor VendorId) GuidPrefix {
	id := uuid.New()
	var p GuidPrefix
	copy(p[:], id[:12])
	p[0], p[1] = vendor[0], vendor[1]
	return p
}

// ParseGuidPrefix parses 24 hex digits.
func ParseGuidPrefix(s string) (GuidPrefix, error) {
	var p GuidPrefix
	b, err := hex.DecodeString(s)
	if err != nil {
		return p, fmt.Errorf("invalid guid prefix %q: %w", s, err)
	}
	if len(b) != len(p) {
		return p, fmt.Errorf("invalid guid prefix %q: need %d bytes, got %d", s, len(p), len(b))
	}
	copy(p[:], b)
	return p, nil
}

func (p GuidPrefix) String() string {
	return hex.EncodeToString(p[:])
}

func (p *GuidPrefix) decode(r *reader) {
	r.read(p[:])
}

// EntityKind is the last octet of an EntityId.
type EntityKind uint8

const (
	EntityKindUnknown            EntityKind = 0x00
	EntityKindUserWriterWithKey  EntityKind = 0x02
	EntityKindUserWriterNoKey    EntityKind = 0x03
	EntityKindUserReaderNoKey    EntityKind = 0x04
	EntityKindUserReaderWithKey  EntityKind = 0x07
	EntityKindParticipant        EntityKind = 0xc1
	EntityKindBuiltinWriterKey   EntityKind = 0xc2
	EntityKindBuiltinWriterNoKey EntityKind = 0xc3
	EntityKindBuiltinReaderNoKey EntityKind = 0xc4
	EntityKindBuiltinReaderKey   EntityKind = 0xc7

	entityKindBuiltinMask EntityKind = 0xc0
	entityKindTypeMask    EntityKind = 0x3f
)

func (k EntityKind) IsBuiltin() bool {
	return k&entityKindBuiltinMask == entityKindBuiltinMask
}

func (k EntityKind) IsWriter() bool {
	t := k & entityKindTypeMask
	return t == 0x02 || t == 0x03
}

func (k EntityKind) IsReader() bool {
	t := k & entityKindTypeMask
	return t == 0x04 || t == 0x07
}

// EntityId is a 3-byte key followed by the kind octet.
// It is always serialized in this byte order.
type EntityId [4]byte

var (
	EntityIdUnknown     = EntityId{0x00, 0x00, 0x00, 0x00}
	EntityIdParticipant = EntityId{0x00, 0x00, 0x01, 0xc1}

	EntityIdSedpPublicationsWriter  = EntityId{0x00, 0x00, 0x03, 0xc2}
	EntityIdSedpPublicationsReader  = EntityId{0x00, 0x00, 0x03, 0xc7}
	EntityIdSedpSubscriptionsWriter = EntityId{0x00, 0x00, 0x04, 0xc2}
	EntityIdSedpSubscriptionsReader = EntityId{0x00, 0x00, 0x04, 0xc7}
	EntityIdSpdpParticipantWriter   = EntityId{0x00, 0x01, 0x00, 0xc2}
	EntityIdSpdpParticipantReader   = EntityId{0x00, 0x01, 0x00, 0xc7}
	EntityIdP2PMessageWriter        = EntityId{0x00, 0x02, 0x00, 0xc2}
	EntityIdP2PMessageReader        = EntityId{0x00, 0x02, 0x00, 0xc7}
)

var entityNames = map[EntityId]string{
	EntityIdUnknown:                 "UNKNOWN",
	EntityIdParticipant:             "PARTICIPANT",
	EntityIdSedpPublicationsWriter:  "SEDP_PUBLICATIONS_WRITER",
	EntityIdSedpPublicationsReader:  "SEDP_PUBLICATIONS_READER",
	EntityIdSedpSubscriptionsWriter: "SEDP_SUBSCRIPTIONS_WRITER",
	EntityIdSedpSubscriptionsReader: "SEDP_SUBSCRIPTIONS_READER",
	EntityIdSpdpParticipantWriter:   "SPDP_PARTICIPANT_WRITER",
	EntityIdSpdpParticipantReader:   "SPDP_PARTICIPANT_READER",
	EntityIdP2PMessageWriter:        "P2P_MESSAGE_WRITER",
	EntityIdP2PMessageReader:        "P2P_MESSAGE_READER",
}

// NewEntityId builds an id from the low 24 bits of key.
func NewEntityId(key uint32, kind EntityKind) EntityId {
	return EntityId{byte(key >> 16), byte(key >> 8), byte(key), byte(kind)}
}

func (e EntityId) Kind() EntityKind {
	return EntityKind(e[3])
}

func (e EntityId) Key() uint32 {
	return uint32(e[0])<<16 | uint32(e[1])<<8 | uint32(e[2])
}

func (e EntityId) String() string {
	if n, ok := entityNames[e]; ok {
		return n
	}
	return hex.EncodeToString(e[:])
}

func (e *EntityId) decode(r *reader) {
	r.read(e[:])
}

// Guid is the globally unique identity of an RTPS entity.
type Guid struct {
	Prefix GuidPrefix
	Entity EntityId
}

func NewGuid(prefix GuidPrefix, entity EntityId) Guid {
	return Guid{Prefix: prefix, Entity: entity}
}

func (g Guid) String() string {
	return g.Prefix.String() + ":" + g.Entity.String()
}

// Bytes returns the 16-byte wire representation.
func (g Guid) Bytes() []byte {
	b := make([]byte, 0, 16)
	b = append(b, g.Prefix[:]...)
	return append(b, g.Entity[:]...)
}

func (g Guid) encode(w *writer) {
	w.bytes(g.Prefix[:])
	w.bytes(g.Entity[:])
}

func (g *Guid) decode(r *reader) {
	g.Prefix.decode(r)
	g.Entity.decode(r)
}
