package wire

import "fmt"

type ReliabilityKind uint32

const (
	ReliabilityBestEffort ReliabilityKind = 1
	ReliabilityReliable   ReliabilityKind = 2
)

func (k ReliabilityKind) String() string {
	switch k {
	case ReliabilityBestEffort:
		return "BEST_EFFORT"
	case ReliabilityReliable:
		return "RELIABLE"
	}
	return fmt.Sprintf("RELIABILITY(%d)", uint32(k))
}

type Reliability struct {
	Kind            ReliabilityKind
	MaxBlockingTime Duration
}

type DurabilityKind uint32

const (
	DurabilityVolatile       DurabilityKind = 0
	DurabilityTransientLocal DurabilityKind = 1
	DurabilityTransient      DurabilityKind = 2
	DurabilityPersistent     DurabilityKind = 3
)

func (k DurabilityKind) String() string {
	switch k {
	case DurabilityVolatile:
		return "VOLATILE"
	case DurabilityTransientLocal:
		return "TRANSIENT_LOCAL"
	case DurabilityTransient:
		return "TRANSIENT"
	case DurabilityPersistent:
		return "PERSISTENT"
	}
	return fmt.Sprintf("DURABILITY(%d)", uint32(k))
}

type Durability struct {
	Kind DurabilityKind
}

type HistoryKind uint32

const (
	HistoryKeepLast HistoryKind = 0
	HistoryKeepAll  HistoryKind = 1
)

type History struct {
	Kind  HistoryKind
	Depth int32
}

type LivelinessKind uint32

const (
	LivelinessAutomatic           LivelinessKind = 0
	LivelinessManualByParticipant LivelinessKind = 1
	LivelinessManualByTopic       LivelinessKind = 2
)

type Liveliness struct {
	Kind          LivelinessKind
	LeaseDuration Duration
}

// QosPolicy is the subset of endpoint QoS exchanged over discovery.
type QosPolicy struct {
	Reliability ReliabilityKind
	Durability  DurabilityKind
}

var (
	QosBestEffort = QosPolicy{Reliability: ReliabilityBestEffort, Durability: DurabilityVolatile}
	QosReliable   = QosPolicy{Reliability: ReliabilityReliable, Durability: DurabilityVolatile}
	QosBuiltin    = QosPolicy{Reliability: ReliabilityReliable, Durability: DurabilityTransientLocal}
)

func (q QosPolicy) IsReliable() bool {
	return q.Reliability == ReliabilityReliable
}

func (q QosPolicy) String() string {
	return q.Reliability.String() + "/" + q.Durability.String()
}

// CompatibleWith reports whether a reader requesting q can be served by
// a writer offering offered.
func (q QosPolicy) CompatibleWith(offered QosPolicy) bool {
	if q.Reliability > offered.Reliability {
		return false
	}
	return q.Durability <= offered.Durability
}

// BuiltinEndpointSet is the bitmask of builtin endpoints a participant has.
type BuiltinEndpointSet uint32

const (
	BuiltinParticipantAnnouncer   BuiltinEndpointSet = 1 << 0
	BuiltinParticipantDetector    BuiltinEndpointSet = 1 << 1
	BuiltinPublicationsAnnouncer  BuiltinEndpointSet = 1 << 2
	BuiltinPublicationsDetector   BuiltinEndpointSet = 1 << 3
	BuiltinSubscriptionsAnnouncer BuiltinEndpointSet = 1 << 4
	BuiltinSubscriptionsDetector  BuiltinEndpointSet = 1 << 5
)

func (s BuiltinEndpointSet) Has(bits BuiltinEndpointSet) bool {
	return s&bits == bits
}

// StatusInfo flags travel as the last octet of a big-endian 4-byte value.
type StatusInfo uint32

const (
	StatusInfoDisposed     StatusInfo = 1 << 0
	StatusInfoUnregistered StatusInfo = 1 << 1
	StatusInfoFiltered     StatusInfo = 1 << 2
)

func (s StatusInfo) IsDisposed() bool {
	return s&StatusInfoDisposed != 0
}

func (s StatusInfo) IsUnregistered() bool {
	return s&StatusInfoUnregistered != 0
}

// KeyHash identifies an instance. Builtin topics use the entity guid.
type KeyHash [16]byte

func KeyHashFromGuid(g Guid) KeyHash {
	return KeyHash(g.Bytes())
}

func (k KeyHash) Guid() Guid {
	var g Guid
	copy(g.Prefix[:], k[:12])
	copy(g.Entity[:], k[12:])
	return g
}

type DomainId uint32

// Count is a monotonically increasing counter value.
type Count int32

// UserData is the opaque value of an application defined parameter.
type UserData []byte
