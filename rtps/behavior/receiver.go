package behavior

import (
	"sync"
	"time"

	"github.com/pinorobotics/rtpstalk/rtps/metrics"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
	"github.com/pinorobotics/rtpstalk/std/log"
)

// Receiver decodes datagrams and dispatches their submessages to the
// local readers and writers.
type Receiver struct {
	prefix  wire.GuidPrefix
	metrics *metrics.Metrics

	mu      sync.RWMutex
	readers map[wire.EntityId]ReaderEndpoint
	writers map[wire.EntityId]WriterEndpoint
}

func NewReceiver(prefix wire.GuidPrefix, m *metrics.Metrics) *Receiver {
	return &Receiver{
		prefix:  prefix,
		metrics: m,
		readers: make(map[wire.EntityId]ReaderEndpoint),
		writers: make(map[wire.EntityId]WriterEndpoint),
	}
}

func (r *Receiver) String() string {
	return "receiver (" + r.prefix.String() + ")"
}

func (r *Receiver) AddReader(e ReaderEndpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers[e.Guid().Entity] = e
}

func (r *Receiver) RemoveReader(id wire.EntityId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.readers, id)
}

func (r *Receiver) AddWriter(e WriterEndpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writers[e.Guid().Entity] = e
}

func (r *Receiver) RemoveWriter(id wire.EntityId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.writers, id)
}

// targets returns the readers addressed by readerId.
func (r *Receiver) targets(readerId wire.EntityId) []ReaderEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if readerId != wire.EntityIdUnknown {
		if e, ok := r.readers[readerId]; ok {
			return []ReaderEndpoint{e}
		}
		return nil
	}
	out := make([]ReaderEndpoint, 0, len(r.readers))
	for _, e := range r.readers {
		out = append(out, e)
	}
	return out
}

func (r *Receiver) writer(writerId wire.EntityId) (WriterEndpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.writers[writerId]
	return e, ok
}

// OnFrame handles one datagram. It never fails: bad input is logged
// and dropped.
func (r *Receiver) OnFrame(frame []byte) {
	r.metrics.DatagramReceived()
	msg, err := wire.Decode(frame)
	if err != nil {
		if wire.IsUnsupported(err) {
			r.metrics.DatagramDropped("unsupported")
			log.Trace(r, "Dropped non RTPS datagram", "err", err)
		} else {
			r.metrics.DatagramDropped("malformed")
			log.Debug(r, "Dropped malformed message", "err", err, "size", len(frame))
		}
		return
	}
	if msg.Header.GuidPrefix == r.prefix {
		r.metrics.DatagramDropped("loopback")
		return
	}
	r.metrics.SubmessagesSkipped(msg.Skipped)
	r.dispatch(msg)
}

func (r *Receiver) dispatch(msg *wire.Message) {
	src := msg.Header.GuidPrefix
	dst := wire.GuidPrefixUnknown
	var ts time.Time

	for _, s := range msg.Submessages {
		switch s := s.(type) {
		case *wire.InfoSource:
			src = s.GuidPrefix
		case *wire.InfoDestination:
			dst = s.GuidPrefix
		case *wire.InfoTimestamp:
			if s.Timestamp != nil {
				ts = s.Timestamp.Time()
			} else {
				ts = time.Time{}
			}
		case *wire.Pad:
		default:
			if dst != wire.GuidPrefixUnknown && dst != r.prefix {
				continue
			}
			r.deliver(src, s, ts)
		}
	}
}

func (r *Receiver) deliver(src wire.GuidPrefix, s wire.Submessage, ts time.Time) {
	switch s := s.(type) {
	case *wire.Data:
		for _, e := range r.targets(s.ReaderId) {
			e.OnData(src, s, ts)
		}
	case *wire.Heartbeat:
		for _, e := range r.targets(s.ReaderId) {
			e.OnHeartbeat(src, s)
		}
	case *wire.Gap:
		for _, e := range r.targets(s.ReaderId) {
			e.OnGap(src, s)
		}
	case *wire.AckNack:
		if e, ok := r.writer(s.WriterId); ok {
			e.OnAckNack(src, s)
		} else {
			log.Debug(r, "AckNack for unknown writer", "writer", s.WriterId, "from", src)
		}
	case *wire.DataFrag:
		log.Debug(r, "Fragmented data is not reassembled", "writer", s.WriterId, "sn", s.WriterSN)
		r.metrics.SubmessagesSkipped(1)
	}
}
