package behavior

import (
	"fmt"
	"sync"

	"github.com/pinorobotics/rtpstalk/rtps/cache"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
	"github.com/pinorobotics/rtpstalk/std/log"
)

// StatefulWriter is a writer that tracks every matched reader. Reliable
// readers get periodic heartbeats and retransmissions on request.
type StatefulWriter struct {
	guid    wire.Guid
	history *cache.WriterHistory
	out     *Outbound
	opts    Options

	mu      sync.RWMutex
	proxies map[wire.Guid]*ReaderProxy
	hbCount wire.Count

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

func NewStatefulWriter(guid wire.Guid, out *Outbound, opts Options) *StatefulWriter {
	opts = opts.withDefaults()
	history := cache.NewWriterHistory(guid, opts.HistorySize)
	if opts.KeepLastPerKey {
		history = cache.NewKeyedWriterHistory(guid, opts.HistorySize)
	}
	return &StatefulWriter{
		guid:    guid,
		history: history,
		out:     out,
		opts:    opts,
		proxies: make(map[wire.Guid]*ReaderProxy),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (w *StatefulWriter) String() string {
	return fmt.Sprintf("stateful-writer (%s)", w.guid)
}

func (w *StatefulWriter) Guid() wire.Guid {
	return w.guid
}

func (w *StatefulWriter) History() *cache.WriterHistory {
	return w.history
}

// Start runs the heartbeat loop until Close.
func (w *StatefulWriter) Start() {
	w.startOnce.Do(func() {
		ticker := w.opts.Clock.Ticker(w.opts.HeartbeatPeriod)
		go func() {
			defer close(w.done)
			defer ticker.Stop()
			for {
				select {
				case <-w.stop:
					return
				case <-ticker.C:
					for _, p := range w.readers() {
						w.sendHeartbeat(p)
					}
				}
			}
		}()
	})
}

func (w *StatefulWriter) readers() []*ReaderProxy {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*ReaderProxy, 0, len(w.proxies))
	for _, p := range w.proxies {
		out = append(out, p)
	}
	return out
}

// NewChange adds a change to the history and sends it to every reader.
func (w *StatefulWriter) NewChange(kind cache.ChangeKind, payload wire.Payload, inlineQos *wire.ParameterList) *cache.CacheChange {
	change := w.history.NewChange(kind, payload, inlineQos)
	for _, p := range w.readers() {
		if change.SequenceNumber < p.firstSN {
			continue
		}
		w.sendChange(p, change)
	}
	return change
}

func dataFor(reader wire.EntityId, change *cache.CacheChange) *wire.Data {
	d := &wire.Data{
		ReaderId:  reader,
		WriterId:  change.WriterGuid.Entity,
		WriterSN:  change.SequenceNumber,
		InlineQos: change.InlineQos,
	}
	if change.Payload != nil {
		d.Payload = &wire.SerializedPayload{Value: change.Payload}
	}
	return d
}

func (w *StatefulWriter) sendChange(p *ReaderProxy, change *cache.CacheChange) {
	ts := wire.NewTime(change.SourceTimestamp)
	msg := wire.NewMessage(w.out.Prefix(),
		&wire.InfoDestination{GuidPrefix: p.readerGuid.Prefix},
		&wire.InfoTimestamp{Timestamp: &ts},
		dataFor(p.readerGuid.Entity, change))
	if err := w.out.SendFirst(p.locators, msg); err != nil {
		log.Warn(w, "Data not sent", "reader", p.readerGuid, "sn", change.SequenceNumber, "err", err)
	}
}

func (w *StatefulWriter) sendHeartbeat(p *ReaderProxy) {
	if !p.qos.IsReliable() {
		return
	}
	first := max(w.history.FirstSN(), p.firstSN)
	last := w.history.LastSN()

	w.mu.Lock()
	w.hbCount++
	count := w.hbCount
	w.mu.Unlock()

	hb := &wire.Heartbeat{
		ReaderId: p.readerGuid.Entity,
		WriterId: w.guid.Entity,
		FirstSN:  first,
		LastSN:   last,
		Count:    count,
		Final:    p.HighestAcked() >= last,
	}
	msg := wire.NewMessage(w.out.Prefix(),
		&wire.InfoDestination{GuidPrefix: p.readerGuid.Prefix},
		hb)
	if err := w.out.SendFirst(p.locators, msg); err != nil {
		log.Warn(w, "Heartbeat not sent", "reader", p.readerGuid, "err", err)
	}
}

// MatchedReaderAdd starts tracking a reader. Transient local readers
// receive the retained history right away, with Gaps over the holes.
// Other reliable readers get a heartbeat so they learn where to start.
func (w *StatefulWriter) MatchedReaderAdd(reader wire.Guid, locators []wire.Locator, qos wire.QosPolicy) {
	firstSN := w.history.FirstSN()
	if qos.Durability == wire.DurabilityVolatile {
		firstSN = w.history.LastSN() + 1
	}
	p := newReaderProxy(reader, locators, qos, firstSN)

	w.mu.Lock()
	if _, ok := w.proxies[reader]; ok {
		w.mu.Unlock()
		return
	}
	w.proxies[reader] = p
	w.mu.Unlock()

	w.opts.Metrics.EndpointMatched("writer", 1)
	log.Debug(w, "Matched reader", "reader", reader, "qos", qos, "locators", locators)

	if !qos.IsReliable() {
		return
	}
	// The heartbeat goes first so the reader's window starts at firstSN.
	w.sendHeartbeat(p)
	if qos.Durability != wire.DurabilityVolatile {
		w.replay(p, firstSN)
	}
}

// replay sends the retained changes from first in order. Sequence numbers
// no longer held are declared irrelevant before the change following them.
func (w *StatefulWriter) replay(p *ReaderProxy, first wire.SequenceNumber) {
	next := first
	for _, change := range w.history.Changes(first) {
		if change.SequenceNumber > next {
			w.sendGaps(p, [][2]wire.SequenceNumber{{next, change.SequenceNumber}})
		}
		w.sendChange(p, change)
		next = change.SequenceNumber + 1
	}
}

func (w *StatefulWriter) MatchedReaderRemove(reader wire.Guid) {
	w.mu.Lock()
	_, ok := w.proxies[reader]
	delete(w.proxies, reader)
	w.mu.Unlock()
	if ok {
		w.opts.Metrics.EndpointMatched("writer", -1)
		log.Debug(w, "Unmatched reader", "reader", reader)
	}
}

func (w *StatefulWriter) MatchedReaders() []wire.Guid {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]wire.Guid, 0, len(w.proxies))
	for g := range w.proxies {
		out = append(out, g)
	}
	return out
}

func (w *StatefulWriter) readerProxy(reader wire.Guid) (*ReaderProxy, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.proxies[reader]
	return p, ok
}

// IsAckedBy reports whether the reader acknowledged sn.
func (w *StatefulWriter) IsAckedBy(reader wire.Guid, sn wire.SequenceNumber) bool {
	p, ok := w.readerProxy(reader)
	return ok && p.HighestAcked() >= sn
}

// IsAckedByAll reports whether every reliable reader acknowledged sn.
func (w *StatefulWriter) IsAckedByAll(sn wire.SequenceNumber) bool {
	for _, p := range w.readers() {
		if p.qos.IsReliable() && p.HighestAcked() < sn {
			return false
		}
	}
	return true
}

func (w *StatefulWriter) OnAckNack(src wire.GuidPrefix, a *wire.AckNack) {
	reader := wire.NewGuid(src, a.ReaderId)
	p, ok := w.readerProxy(reader)
	if !ok {
		log.Debug(w, "AckNack from unmatched reader ignored", "reader", reader)
		return
	}
	if !p.qos.IsReliable() || !p.onAck(a) {
		return
	}

	var gaps []wire.SequenceNumber
	resent := 0
	for _, sn := range a.State.SequenceNumbers() {
		change, ok := w.history.Get(sn)
		if !ok || sn < p.firstSN {
			gaps = append(gaps, sn)
			continue
		}
		w.sendChange(p, change)
		resent++
	}
	w.opts.Metrics.Retransmitted(resent)
	if len(gaps) > 0 {
		w.sendGaps(p, runs(gaps))
	}
}

// runs groups ascending sns into half open ranges of consecutive numbers.
func runs(sns []wire.SequenceNumber) [][2]wire.SequenceNumber {
	var out [][2]wire.SequenceNumber
	for _, sn := range sns {
		if n := len(out); n > 0 && out[n-1][1] == sn {
			out[n-1][1]++
			continue
		}
		out = append(out, [2]wire.SequenceNumber{sn, sn + 1})
	}
	return out
}

// sendGaps marks each range [start, end) irrelevant for the reader, one
// Gap submessage per range.
func (w *StatefulWriter) sendGaps(p *ReaderProxy, ranges [][2]wire.SequenceNumber) {
	msg := wire.NewMessage(w.out.Prefix(),
		&wire.InfoDestination{GuidPrefix: p.readerGuid.Prefix})
	for _, r := range ranges {
		msg.Add(&wire.Gap{
			ReaderId: p.readerGuid.Entity,
			WriterId: w.guid.Entity,
			Start:    r[0],
			List:     wire.NewSequenceNumberSet(r[1], 0),
		})
	}
	if err := w.out.SendFirst(p.locators, msg); err != nil {
		log.Warn(w, "Gap not sent", "reader", p.readerGuid, "err", err)
		return
	}
	log.Debug(w, "Gap sent", "reader", p.readerGuid, "ranges", ranges)
}

// Close stops the heartbeat loop.
func (w *StatefulWriter) Close() {
	w.closeOnce.Do(func() {
		close(w.stop)
		w.startOnce.Do(func() { close(w.done) })
		<-w.done
	})
}
