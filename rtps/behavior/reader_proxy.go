package behavior

import (
	"fmt"
	"slices"
	"sync"

	"github.com/pinorobotics/rtpstalk/rtps/wire"
)

// ReaderProxy is a writer's view of one matched remote reader.
type ReaderProxy struct {
	readerGuid wire.Guid
	locators   []wire.Locator
	qos        wire.QosPolicy
	// First change the reader is entitled to.
	firstSN wire.SequenceNumber

	mu           sync.Mutex
	highestAcked wire.SequenceNumber
	lastAckCount wire.Count
	acked        bool
}

func newReaderProxy(reader wire.Guid, locators []wire.Locator, qos wire.QosPolicy, firstSN wire.SequenceNumber) *ReaderProxy {
	return &ReaderProxy{
		readerGuid:   reader,
		locators:     slices.Clone(locators),
		qos:          qos,
		firstSN:      firstSN,
		highestAcked: firstSN - 1,
	}
}

func (p *ReaderProxy) String() string {
	return fmt.Sprintf("reader-proxy (%s)", p.readerGuid)
}

func (p *ReaderProxy) ReaderGuid() wire.Guid {
	return p.readerGuid
}

func (p *ReaderProxy) Qos() wire.QosPolicy {
	return p.qos
}

func (p *ReaderProxy) Locators() []wire.Locator {
	return p.locators
}

// HighestAcked is the highest sequence number known to be received.
func (p *ReaderProxy) HighestAcked() wire.SequenceNumber {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.highestAcked
}

// onAck records an AckNack; false means it is stale or a duplicate.
func (p *ReaderProxy) onAck(a *wire.AckNack) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.acked && a.Count <= p.lastAckCount {
		return false
	}
	p.acked = true
	p.lastAckCount = a.Count
	p.highestAcked = max(p.highestAcked, a.State.Base-1)
	return true
}
