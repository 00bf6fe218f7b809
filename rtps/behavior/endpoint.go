package behavior

import (
	"time"

	"github.com/pinorobotics/rtpstalk/rtps/wire"
)

// ReaderEndpoint receives the writer-to-reader submessages.
type ReaderEndpoint interface {
	Guid() wire.Guid
	OnData(src wire.GuidPrefix, d *wire.Data, ts time.Time)
	OnHeartbeat(src wire.GuidPrefix, hb *wire.Heartbeat)
	OnGap(src wire.GuidPrefix, g *wire.Gap)
}

// WriterEndpoint receives the reader-to-writer submessages.
type WriterEndpoint interface {
	Guid() wire.Guid
	OnAckNack(src wire.GuidPrefix, a *wire.AckNack)
}
