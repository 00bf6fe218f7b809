package behavior

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/pinorobotics/rtpstalk/rtps/cache"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
)

type ChangeStatus int

const (
	ChangeMissing ChangeStatus = iota
	ChangeReceived
)

// proxyWindow bounds how far past the floor a proxy tracks changes.
// It matches what one AckNack can request.
const proxyWindow = wire.MaxSetBits

// WriterProxy is a reliable reader's view of one matched remote writer.
// Received changes are held until every lower sequence number has been
// received or declared irrelevant, then delivered in order.
type WriterProxy struct {
	readerGuid wire.Guid
	writerGuid wire.Guid
	locators   []wire.Locator
	deliver    func(*cache.CacheChange)

	// Serializes delivery so changes leave in sequence order.
	deliverMu sync.Mutex

	mu      sync.Mutex
	changes map[wire.SequenceNumber]ChangeStatus
	held    map[wire.SequenceNumber]*cache.CacheChange
	// Changes below floor are either delivered or lost.
	floor wire.SequenceNumber
	lost  int
}

func NewWriterProxy(reader, writer wire.Guid, locators []wire.Locator, deliver func(*cache.CacheChange)) *WriterProxy {
	return &WriterProxy{
		readerGuid: reader,
		writerGuid: writer,
		locators:   slices.Clone(locators),
		deliver:    deliver,
		changes:    make(map[wire.SequenceNumber]ChangeStatus),
		held:       make(map[wire.SequenceNumber]*cache.CacheChange),
		floor:      1,
	}
}

func (p *WriterProxy) String() string {
	return fmt.Sprintf("writer-proxy (%s)", p.writerGuid)
}

func (p *WriterProxy) WriterGuid() wire.Guid {
	return p.writerGuid
}

func (p *WriterProxy) Locators() []wire.Locator {
	return p.locators
}

// apply runs fn under the proxy lock and delivers whatever became
// contiguous, in order.
func (p *WriterProxy) apply(fn func() []*cache.CacheChange) {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	p.mu.Lock()
	ready := fn()
	ready = append(ready, p.compact()...)
	p.mu.Unlock()

	if p.deliver == nil {
		return
	}
	for _, c := range ready {
		p.deliver(c)
	}
}

// ReceivedChangeSet marks sn as received and holds change until it can be
// delivered in order. A nil change marks sn without delivering anything.
// Sequence numbers already seen or outside the window are refused.
func (p *WriterProxy) ReceivedChangeSet(sn wire.SequenceNumber, change *cache.CacheChange) bool {
	accepted := false
	p.apply(func() []*cache.CacheChange {
		if sn < p.floor || sn >= p.floor+proxyWindow {
			return nil
		}
		if p.changes[sn] == ChangeReceived && p.has(sn) {
			return nil
		}
		accepted = true
		p.changes[sn] = ChangeReceived
		if change != nil {
			p.held[sn] = change
		}
		return nil
	})
	return accepted
}

// IrrelevantChangeRange marks [start, end) irrelevant.
func (p *WriterProxy) IrrelevantChangeRange(start, end wire.SequenceNumber) {
	if end <= start {
		return
	}
	p.apply(func() []*cache.CacheChange {
		if start <= p.floor {
			ready, _ := p.release(end)
			return ready
		}
		for sn := start; sn < min(end, p.floor+proxyWindow); sn++ {
			p.changes[sn] = ChangeReceived
		}
		return nil
	})
}

// release moves the floor up to end. Held changes below end are returned
// in order; the number of missing ones is returned too.
func (p *WriterProxy) release(end wire.SequenceNumber) ([]*cache.CacheChange, int) {
	if end <= p.floor {
		return nil, 0
	}
	var ready []*cache.CacheChange
	for _, sn := range slices.Sorted(maps.Keys(p.held)) {
		if sn >= end {
			break
		}
		ready = append(ready, p.held[sn])
		delete(p.held, sn)
	}
	missing := 0
	for sn, status := range p.changes {
		if sn >= end {
			continue
		}
		if status == ChangeMissing {
			missing++
		}
		delete(p.changes, sn)
	}
	p.floor = end
	return ready, missing
}

// IsReceived reports whether sn was received or is known to be gone.
func (p *WriterProxy) IsReceived(sn wire.SequenceNumber) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sn < p.floor || p.changes[sn] == ChangeReceived && p.has(sn)
}

func (p *WriterProxy) has(sn wire.SequenceNumber) bool {
	_, ok := p.changes[sn]
	return ok
}

// MissingChangesUpdate marks every unknown change up to lastSN missing,
// within the tracking window.
func (p *WriterProxy) MissingChangesUpdate(lastSN wire.SequenceNumber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	lastSN = min(lastSN, p.floor+proxyWindow-1)
	for sn := p.floor; sn <= lastSN; sn++ {
		if !p.has(sn) {
			p.changes[sn] = ChangeMissing
		}
	}
}

// LostChangesUpdate gives up on every change below firstSN. Held changes
// below it are delivered; missing ones are counted as lost and the count
// is returned.
func (p *WriterProxy) LostChangesUpdate(firstSN wire.SequenceNumber) int {
	lost := 0
	p.apply(func() []*cache.CacheChange {
		ready, missing := p.release(firstSN)
		lost = missing
		p.lost += missing
		return ready
	})
	return lost
}

// compact moves the floor over received changes and returns the held
// ones it passed.
func (p *WriterProxy) compact() []*cache.CacheChange {
	var ready []*cache.CacheChange
	for p.changes[p.floor] == ChangeReceived && p.has(p.floor) {
		if c, ok := p.held[p.floor]; ok {
			ready = append(ready, c)
			delete(p.held, p.floor)
		}
		delete(p.changes, p.floor)
		p.floor++
	}
	return ready
}

// MissingChanges returns the missing sequence numbers in order.
func (p *WriterProxy) MissingChanges() []wire.SequenceNumber {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []wire.SequenceNumber
	for _, sn := range slices.Sorted(maps.Keys(p.changes)) {
		if p.changes[sn] == ChangeMissing {
			out = append(out, sn)
		}
	}
	return out
}

// AvailableChangesMax is the highest sequence number such that every
// change up to it has been received or is lost.
func (p *WriterProxy) AvailableChangesMax() wire.SequenceNumber {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.floor - 1
}

// LostChanges is the total number of changes given up on.
func (p *WriterProxy) LostChanges() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lost
}
