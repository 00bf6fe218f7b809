package cache

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/pinorobotics/rtpstalk/rtps/wire"
)

// WriterHistory holds the changes of a local writer. Sequence numbers are
// assigned contiguously from 1 and the oldest changes are dropped once the
// history exceeds its bound.
//
// A keyed history instead keeps the latest change of every instance, so
// retained sequence numbers may have holes. Only disposals count against
// the bound there.
type WriterHistory struct {
	guid    wire.Guid
	maxSize int
	keyed   bool

	mu sync.RWMutex
	// Ascending by sequence number.
	changes []*CacheChange
	latest  map[wire.KeyHash]wire.SequenceNumber
	lastSN  wire.SequenceNumber
}

func NewWriterHistory(guid wire.Guid, maxSize int) *WriterHistory {
	return &WriterHistory{guid: guid, maxSize: maxSize}
}

// NewKeyedWriterHistory keeps the latest change per key hash and at most
// maxDisposed disposals.
func NewKeyedWriterHistory(guid wire.Guid, maxDisposed int) *WriterHistory {
	return &WriterHistory{
		guid:    guid,
		maxSize: maxDisposed,
		keyed:   true,
		latest:  make(map[wire.KeyHash]wire.SequenceNumber),
	}
}

// NewChange appends a change with the next sequence number.
func (h *WriterHistory) NewChange(kind ChangeKind, payload wire.Payload, inlineQos *wire.ParameterList) *CacheChange {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSN++
	change := &CacheChange{
		Kind:            kind,
		WriterGuid:      h.guid,
		SequenceNumber:  h.lastSN,
		Payload:         payload,
		InlineQos:       inlineQos,
		SourceTimestamp: time.Now(),
	}
	if h.keyed {
		h.addKeyed(change)
		return change
	}
	h.changes = append(h.changes, change)
	if h.maxSize > 0 && len(h.changes) > h.maxSize {
		drop := len(h.changes) - h.maxSize
		clear(h.changes[:drop])
		h.changes = h.changes[drop:]
	}
	return change
}

func (h *WriterHistory) addKeyed(change *CacheChange) {
	key, ok := wire.GetAs[wire.KeyHash](change.InlineQos, wire.PidKeyHash)
	if ok {
		if prev, found := h.latest[key]; found {
			h.remove(prev)
		}
		h.latest[key] = change.SequenceNumber
	}
	h.changes = append(h.changes, change)
	if h.maxSize <= 0 {
		return
	}
	disposed := 0
	for _, c := range h.changes {
		if c.Kind != ChangeAlive {
			disposed++
		}
	}
	for i := 0; disposed > h.maxSize && i < len(h.changes); {
		c := h.changes[i]
		if c.Kind == ChangeAlive {
			i++
			continue
		}
		if key, ok := wire.GetAs[wire.KeyHash](c.InlineQos, wire.PidKeyHash); ok && h.latest[key] == c.SequenceNumber {
			delete(h.latest, key)
		}
		h.changes = slices.Delete(h.changes, i, i+1)
		disposed--
	}
}

func (h *WriterHistory) index(sn wire.SequenceNumber) (int, bool) {
	return slices.BinarySearchFunc(h.changes, sn, func(c *CacheChange, sn wire.SequenceNumber) int {
		return cmp.Compare(c.SequenceNumber, sn)
	})
}

func (h *WriterHistory) remove(sn wire.SequenceNumber) {
	if i, ok := h.index(sn); ok {
		h.changes = slices.Delete(h.changes, i, i+1)
	}
}

// FirstSN is the lowest retained sequence number, or LastSN+1 when empty.
func (h *WriterHistory) FirstSN() wire.SequenceNumber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.changes) == 0 {
		return h.lastSN + 1
	}
	return h.changes[0].SequenceNumber
}

func (h *WriterHistory) LastSN() wire.SequenceNumber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastSN
}

func (h *WriterHistory) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.changes)
}

func (h *WriterHistory) Get(sn wire.SequenceNumber) (*CacheChange, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	i, ok := h.index(sn)
	if !ok {
		return nil, false
	}
	return h.changes[i], true
}

// Changes returns a snapshot of the retained changes from sn onwards.
func (h *WriterHistory) Changes(from wire.SequenceNumber) []*CacheChange {
	h.mu.RLock()
	defer h.mu.RUnlock()
	i, _ := h.index(from)
	if i >= len(h.changes) {
		return nil
	}
	return slices.Clone(h.changes[i:])
}
