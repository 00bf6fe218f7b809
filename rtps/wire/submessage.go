package wire

import "fmt"

type SubmessageKind uint8

const (
	KindPad           SubmessageKind = 0x01
	KindAckNack       SubmessageKind = 0x06
	KindHeartbeat     SubmessageKind = 0x07
	KindGap           SubmessageKind = 0x08
	KindInfoTimestamp SubmessageKind = 0x09
	KindInfoSource    SubmessageKind = 0x0c
	KindInfoReplyIp4  SubmessageKind = 0x0d
	KindInfoDst       SubmessageKind = 0x0e
	KindInfoReply     SubmessageKind = 0x0f
	KindNackFrag      SubmessageKind = 0x12
	KindHeartbeatFrag SubmessageKind = 0x13
	KindData          SubmessageKind = 0x15
	KindDataFrag      SubmessageKind = 0x16
)

var submessageNames = map[SubmessageKind]string{
	KindPad:           "PAD",
	KindAckNack:       "ACKNACK",
	KindHeartbeat:     "HEARTBEAT",
	KindGap:           "GAP",
	KindInfoTimestamp: "INFO_TS",
	KindInfoSource:    "INFO_SRC",
	KindInfoReplyIp4:  "INFO_REPLY_IP4",
	KindInfoDst:       "INFO_DST",
	KindInfoReply:     "INFO_REPLY",
	KindNackFrag:      "NACK_FRAG",
	KindHeartbeatFrag: "HEARTBEAT_FRAG",
	KindData:          "DATA",
	KindDataFrag:      "DATA_FRAG",
}

func (k SubmessageKind) String() string {
	if n, ok := submessageNames[k]; ok {
		return n
	}
	return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(k))
}

// Submessage flag bits. Bit 0 is the endianness flag for every kind;
// the meaning of the others depends on the kind.
const (
	FlagEndianness uint8 = 0x01

	FlagInlineQos uint8 = 0x02
	FlagData      uint8 = 0x04
	FlagKey       uint8 = 0x08
	FlagFragKey   uint8 = 0x04

	FlagFinal      uint8 = 0x02
	FlagLiveliness uint8 = 0x04
	FlagInvalidate uint8 = 0x02
)

const submessageHeaderLen = 4

// Submessage is the closed set of submessages this codec understands.
// Unknown kinds are skipped while decoding and never constructed.
type Submessage interface {
	Kind() SubmessageKind
	// Flags excluding the endianness bit.
	Flags() uint8
	encodeBody(w *writer) error
}

type submessageDecoder func(flags uint8, r *reader) (Submessage, error)

var submessageDecoders = map[SubmessageKind]submessageDecoder{
	KindPad:           decodePad,
	KindAckNack:       decodeAckNack,
	KindHeartbeat:     decodeHeartbeat,
	KindGap:           decodeGap,
	KindInfoTimestamp: decodeInfoTimestamp,
	KindInfoSource:    decodeInfoSource,
	KindInfoDst:       decodeInfoDestination,
	KindData:          decodeData,
	KindDataFrag:      decodeDataFrag,
}
