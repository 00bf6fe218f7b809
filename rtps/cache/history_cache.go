package cache

import (
	"maps"
	"slices"
	"sync"

	"github.com/pinorobotics/rtpstalk/rtps/wire"
)

type AddResult int

const (
	Added AddResult = iota
	Duplicate
	Rejected
)

// Subscriber receives every change added to a cache.
type Subscriber func(*CacheChange)

// HistoryCache stores received changes per writer and fans them out to
// subscribers. Adds are idempotent and delivery is ordered per writer.
type HistoryCache struct {
	name string
	// Changes kept per writer before the oldest are forgotten.
	// Zero keeps everything.
	maxPerWriter int

	mu      sync.RWMutex
	writers map[wire.Guid]*writerChanges
	subs    map[int]Subscriber
	nextSub int
	closed  bool
}

type writerChanges struct {
	mu      sync.Mutex
	changes map[wire.SequenceNumber]*CacheChange
	order   []wire.SequenceNumber
	// Every sequence number at or below floor has been seen and forgotten.
	floor wire.SequenceNumber
	// Forgotten sequence numbers above floor, waiting for the ones below.
	forgotten map[wire.SequenceNumber]struct{}
}

func NewHistoryCache(name string, maxPerWriter int) *HistoryCache {
	return &HistoryCache{
		name:         name,
		maxPerWriter: maxPerWriter,
		writers:      make(map[wire.Guid]*writerChanges),
		subs:         make(map[int]Subscriber),
	}
}

func (c *HistoryCache) String() string {
	return "history-cache (" + c.name + ")"
}

// Subscribe registers a subscriber and returns its cancel function.
func (c *HistoryCache) Subscribe(s Subscriber) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = s
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

func (c *HistoryCache) writer(guid wire.Guid) (*writerChanges, []Subscriber, bool) {
	c.mu.RLock()
	wc, ok := c.writers[guid]
	closed := c.closed
	subs := make([]Subscriber, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.RUnlock()
	if closed {
		return nil, nil, false
	}
	if ok {
		return wc, subs, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if wc, ok = c.writers[guid]; !ok {
		wc = &writerChanges{
			changes:   make(map[wire.SequenceNumber]*CacheChange),
			forgotten: make(map[wire.SequenceNumber]struct{}),
		}
		c.writers[guid] = wc
	}
	return wc, subs, true
}

// AddChange stores the change unless one with the same identity exists.
// Subscribers are called before AddChange returns.
func (c *HistoryCache) AddChange(change *CacheChange) AddResult {
	wc, subs, ok := c.writer(change.WriterGuid)
	if !ok {
		return Rejected
	}

	wc.mu.Lock()
	defer wc.mu.Unlock()
	sn := change.SequenceNumber
	if sn <= wc.floor {
		return Duplicate
	}
	if _, dup := wc.changes[sn]; dup {
		return Duplicate
	}
	if _, gone := wc.forgotten[sn]; gone {
		return Duplicate
	}
	wc.changes[sn] = change
	wc.order = append(wc.order, sn)
	if c.maxPerWriter > 0 && len(wc.order) > c.maxPerWriter {
		wc.forgetOldest(c.maxPerWriter)
	}

	for _, s := range subs {
		s(change)
	}
	return Added
}

// forgetOldest drops the lowest sequence number. The floor only moves
// over contiguous sequence numbers so a late lower one is still accepted.
// At most limit forgotten numbers are remembered above the floor.
func (wc *writerChanges) forgetOldest(limit int) {
	lowest := 0
	for i, sn := range wc.order {
		if sn < wc.order[lowest] {
			lowest = i
		}
	}
	sn := wc.order[lowest]
	wc.order = append(wc.order[:lowest], wc.order[lowest+1:]...)
	delete(wc.changes, sn)
	wc.forgotten[sn] = struct{}{}

	if len(wc.forgotten) > limit {
		wc.floor = max(wc.floor, slices.Min(slices.Collect(maps.Keys(wc.forgotten))))
	}
	for {
		if _, ok := wc.forgotten[wc.floor+1]; !ok {
			break
		}
		delete(wc.forgotten, wc.floor+1)
		wc.floor++
	}
	for f := range wc.forgotten {
		if f <= wc.floor {
			delete(wc.forgotten, f)
		}
	}
}

// Get returns a stored change.
func (c *HistoryCache) Get(writer wire.Guid, sn wire.SequenceNumber) (*CacheChange, bool) {
	c.mu.RLock()
	wc, ok := c.writers[writer]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	wc.mu.Lock()
	defer wc.mu.Unlock()
	ch, ok := wc.changes[sn]
	return ch, ok
}

// Size is the number of changes held across all writers.
func (c *HistoryCache) Size() int {
	c.mu.RLock()
	writers := make([]*writerChanges, 0, len(c.writers))
	for _, wc := range c.writers {
		writers = append(writers, wc)
	}
	c.mu.RUnlock()
	n := 0
	for _, wc := range writers {
		wc.mu.Lock()
		n += len(wc.changes)
		wc.mu.Unlock()
	}
	return n
}

// RemoveWriter forgets every change of an unmatched writer.
func (c *HistoryCache) RemoveWriter(writer wire.Guid) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.writers, writer)
}

// Close rejects further changes and drops all subscribers.
func (c *HistoryCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	clear(c.subs)
	clear(c.writers)
}
