package behavior

import (
	"fmt"
	"sync"
	"time"

	"github.com/pinorobotics/rtpstalk/rtps/cache"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
	"github.com/pinorobotics/rtpstalk/std/log"
)

// StatefulReader is a reliable reader. It tracks every matched writer
// and answers heartbeats with AckNacks on a fixed period.
type StatefulReader struct {
	readerBase
	out  *Outbound
	opts Options

	mu      sync.RWMutex
	proxies map[wire.Guid]*heartbeatProcessor

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

func NewStatefulReader(guid wire.Guid, c *cache.HistoryCache, out *Outbound, opts Options) *StatefulReader {
	return &StatefulReader{
		readerBase: readerBase{guid: guid, cache: c},
		out:        out,
		opts:       opts.withDefaults(),
		proxies:    make(map[wire.Guid]*heartbeatProcessor),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (r *StatefulReader) String() string {
	return fmt.Sprintf("stateful-reader (%s)", r.guid)
}

// Start runs the ack loop until Close.
func (r *StatefulReader) Start() {
	r.startOnce.Do(func() {
		ticker := r.opts.Clock.Ticker(r.opts.AckPeriod)
		go func() {
			defer close(r.done)
			defer ticker.Stop()
			for {
				select {
				case <-r.stop:
					return
				case <-ticker.C:
					r.sendAcks()
				}
			}
		}()
	})
}

func (r *StatefulReader) sendAcks() {
	r.mu.RLock()
	procs := make([]*heartbeatProcessor, 0, len(r.proxies))
	for _, p := range r.proxies {
		procs = append(procs, p)
	}
	r.mu.RUnlock()
	for _, p := range procs {
		p.ack()
	}
}

func (r *StatefulReader) MatchedWriterAdd(writer wire.Guid, locators []wire.Locator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.proxies[writer]; ok {
		return
	}
	proxy := NewWriterProxy(r.guid, writer, locators, func(c *cache.CacheChange) {
		r.cache.AddChange(c)
	})
	r.proxies[writer] = newHeartbeatProcessor(r, proxy)
	r.opts.Metrics.EndpointMatched("reader", 1)
	log.Debug(r, "Matched writer", "writer", writer, "locators", locators)
}

func (r *StatefulReader) MatchedWriterRemove(writer wire.Guid) {
	r.mu.Lock()
	_, ok := r.proxies[writer]
	delete(r.proxies, writer)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.cache.RemoveWriter(writer)
	r.opts.Metrics.EndpointMatched("reader", -1)
	log.Debug(r, "Unmatched writer", "writer", writer)
}

func (r *StatefulReader) MatchedWriters() []wire.Guid {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]wire.Guid, 0, len(r.proxies))
	for g := range r.proxies {
		out = append(out, g)
	}
	return out
}

// WriterProxy returns the proxy of a matched writer.
func (r *StatefulReader) WriterProxy(writer wire.Guid) (*WriterProxy, bool) {
	p, ok := r.processor(writer)
	if !ok {
		return nil, false
	}
	return p.proxy, true
}

func (r *StatefulReader) processor(writer wire.Guid) (*heartbeatProcessor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.proxies[writer]
	return p, ok
}

func (r *StatefulReader) OnData(src wire.GuidPrefix, d *wire.Data, ts time.Time) {
	writer := wire.NewGuid(src, d.WriterId)
	p, ok := r.processor(writer)
	if !ok {
		return
	}
	var change *cache.CacheChange
	if d.PayloadDropped {
		log.Debug(r, "Data with unsupported representation ignored", "writer", writer, "sn", d.WriterSN)
	} else {
		change = toChange(writer, d, ts)
	}
	if !p.proxy.ReceivedChangeSet(d.WriterSN, change) {
		log.Trace(r, "Data refused", "writer", writer, "sn", d.WriterSN)
	}
}

func (r *StatefulReader) OnHeartbeat(src wire.GuidPrefix, hb *wire.Heartbeat) {
	writer := wire.NewGuid(src, hb.WriterId)
	p, ok := r.processor(writer)
	if !ok {
		log.Trace(r, "Heartbeat from unmatched writer ignored", "writer", writer)
		return
	}
	if hb.Final && p.proxy.AvailableChangesMax() >= hb.LastSN {
		return
	}
	p.addHeartbeat(hb)
}

func (r *StatefulReader) OnGap(src wire.GuidPrefix, g *wire.Gap) {
	writer := wire.NewGuid(src, g.WriterId)
	p, ok := r.processor(writer)
	if !ok {
		return
	}
	p.proxy.IrrelevantChangeRange(g.Start, g.List.Base)
	for _, sn := range g.List.SequenceNumbers() {
		p.proxy.ReceivedChangeSet(sn, nil)
	}
}

// Close stops the ack loop and the cache.
func (r *StatefulReader) Close() {
	r.closeOnce.Do(func() {
		close(r.stop)
		r.startOnce.Do(func() { close(r.done) })
		<-r.done
		r.cache.Close()
	})
}
