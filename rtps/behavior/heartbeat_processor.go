package behavior

import (
	"fmt"
	"sync"

	"github.com/pinorobotics/rtpstalk/rtps/wire"
	"github.com/pinorobotics/rtpstalk/std/log"
)

// heartbeatProcessor answers the heartbeats of one matched writer. Only
// the newest heartbeat is kept between two ack rounds.
type heartbeatProcessor struct {
	reader *StatefulReader
	proxy  *WriterProxy

	mu        sync.Mutex
	lastCount wire.Count
	seen      bool
	pending   *wire.Heartbeat
	ackCount  wire.Count
}

func newHeartbeatProcessor(reader *StatefulReader, proxy *WriterProxy) *heartbeatProcessor {
	return &heartbeatProcessor{reader: reader, proxy: proxy}
}

func (p *heartbeatProcessor) String() string {
	return fmt.Sprintf("heartbeat-processor (%s)", p.proxy.WriterGuid())
}

// addHeartbeat queues hb unless a newer one was already seen. Changes
// below its first sequence number are given up on right away so held
// changes above them are delivered without waiting for the ack round.
func (p *heartbeatProcessor) addHeartbeat(hb *wire.Heartbeat) bool {
	p.mu.Lock()
	if p.seen && hb.Count <= p.lastCount {
		p.mu.Unlock()
		return false
	}
	p.seen = true
	p.lastCount = hb.Count
	p.pending = hb
	p.mu.Unlock()

	if lost := p.proxy.LostChangesUpdate(hb.FirstSN); lost > 0 {
		log.Debug(p, "Changes lost", "count", lost, "first", hb.FirstSN)
		p.reader.opts.Metrics.ChangesLost(lost)
	}
	return true
}

// ack answers the pending heartbeat, if any.
func (p *heartbeatProcessor) ack() {
	p.mu.Lock()
	hb := p.pending
	p.pending = nil
	p.mu.Unlock()
	if hb == nil {
		return
	}

	p.proxy.MissingChangesUpdate(hb.LastSN)

	p.mu.Lock()
	p.ackCount++
	count := p.ackCount
	p.mu.Unlock()

	writer := p.proxy.WriterGuid()
	ack := &wire.AckNack{
		ReaderId: p.reader.guid.Entity,
		WriterId: writer.Entity,
		State:    missingSet(p.proxy),
		Count:    count,
	}
	ack.Final = ack.State.IsEmpty()
	msg := wire.NewMessage(p.reader.out.Prefix(),
		&wire.InfoDestination{GuidPrefix: writer.Prefix},
		ack)
	if err := p.reader.out.SendFirst(p.proxy.Locators(), msg); err != nil {
		log.Warn(p, "AckNack not sent", "err", err)
		return
	}
	log.Trace(p, "AckNack sent", "state", ack.State, "count", count)
}

// missingSet builds the reader state: the missing changes, or an empty
// set based after the last available change when nothing is missing.
func missingSet(proxy *WriterProxy) wire.SequenceNumberSet {
	missing := proxy.MissingChanges()
	if len(missing) == 0 {
		return wire.NewSequenceNumberSet(proxy.AvailableChangesMax()+1, 0)
	}
	base := missing[0]
	span := missing[len(missing)-1] - base + 1
	set := wire.NewSequenceNumberSet(base, uint32(min(span, wire.MaxSetBits)))
	for _, sn := range missing {
		if !set.Add(sn) {
			break
		}
	}
	return set
}
