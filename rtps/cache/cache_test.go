package cache_test

import (
	"sync"
	"testing"

	"github.com/pinorobotics/rtpstalk/rtps/cache"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
	"github.com/stretchr/testify/require"
)

var (
	writerA = wire.NewGuid(wire.GuidPrefix{1}, wire.NewEntityId(1, wire.EntityKindUserWriterNoKey))
	writerB = wire.NewGuid(wire.GuidPrefix{2}, wire.NewEntityId(1, wire.EntityKindUserWriterNoKey))
)

func change(w wire.Guid, sn wire.SequenceNumber) *cache.CacheChange {
	return &cache.CacheChange{WriterGuid: w, SequenceNumber: sn, Payload: wire.RawData{byte(sn)}}
}

func TestAddChangeIdempotent(t *testing.T) {
	c := cache.NewHistoryCache("test", 0)
	var delivered []*cache.CacheChange
	c.Subscribe(func(ch *cache.CacheChange) { delivered = append(delivered, ch) })

	require.Equal(t, cache.Added, c.AddChange(change(writerA, 1)))
	require.Equal(t, cache.Duplicate, c.AddChange(change(writerA, 1)))
	require.Equal(t, cache.Added, c.AddChange(change(writerB, 1)))
	require.Equal(t, cache.Added, c.AddChange(change(writerA, 2)))
	require.Equal(t, cache.Duplicate, c.AddChange(change(writerA, 2)))

	require.Len(t, delivered, 3)
	require.Equal(t, 3, c.Size())

	got, ok := c.Get(writerA, 2)
	require.True(t, ok)
	require.Equal(t, wire.RawData{2}, got.Payload)
}

func TestPerWriterOrder(t *testing.T) {
	c := cache.NewHistoryCache("order", 0)
	var mu sync.Mutex
	seen := map[wire.Guid][]wire.SequenceNumber{}
	c.Subscribe(func(ch *cache.CacheChange) {
		mu.Lock()
		defer mu.Unlock()
		seen[ch.WriterGuid] = append(seen[ch.WriterGuid], ch.SequenceNumber)
	})

	var wg sync.WaitGroup
	for _, w := range []wire.Guid{writerA, writerB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sn := wire.SequenceNumber(1); sn <= 100; sn++ {
				c.AddChange(change(w, sn))
			}
		}()
	}
	wg.Wait()

	for _, w := range []wire.Guid{writerA, writerB} {
		require.Len(t, seen[w], 100)
		for i, sn := range seen[w] {
			require.Equal(t, wire.SequenceNumber(i+1), sn)
		}
	}
}

func TestBoundedCacheStaysIdempotent(t *testing.T) {
	c := cache.NewHistoryCache("bounded", 2)
	for sn := wire.SequenceNumber(1); sn <= 4; sn++ {
		require.Equal(t, cache.Added, c.AddChange(change(writerA, sn)))
	}
	require.Equal(t, 2, c.Size())
	// Forgotten changes are still recognised
	require.Equal(t, cache.Duplicate, c.AddChange(change(writerA, 1)))
	require.Equal(t, cache.Duplicate, c.AddChange(change(writerA, 2)))
	require.Equal(t, cache.Duplicate, c.AddChange(change(writerA, 4)))
}

func TestBoundedCacheAcceptsLateLowerChange(t *testing.T) {
	c := cache.NewHistoryCache("late", 3)
	var delivered []wire.SequenceNumber
	c.Subscribe(func(ch *cache.CacheChange) { delivered = append(delivered, ch.SequenceNumber) })

	for sn := wire.SequenceNumber(2); sn <= 5; sn++ {
		require.Equal(t, cache.Added, c.AddChange(change(writerA, sn)))
	}
	// 2 was forgotten but 1 never arrived.
	require.Equal(t, cache.Added, c.AddChange(change(writerA, 1)))
	require.Equal(t, []wire.SequenceNumber{2, 3, 4, 5, 1}, delivered)
	require.Equal(t, 3, c.Size())

	require.Equal(t, cache.Duplicate, c.AddChange(change(writerA, 1)))
	require.Equal(t, cache.Duplicate, c.AddChange(change(writerA, 2)))
	require.Equal(t, cache.Duplicate, c.AddChange(change(writerA, 5)))
	require.Equal(t, cache.Added, c.AddChange(change(writerA, 6)))
}

func TestSubscribeCancelAndClose(t *testing.T) {
	c := cache.NewHistoryCache("cancel", 0)
	count := 0
	cancel := c.Subscribe(func(*cache.CacheChange) { count++ })
	c.AddChange(change(writerA, 1))
	cancel()
	c.AddChange(change(writerA, 2))
	require.Equal(t, 1, count)

	c.RemoveWriter(writerA)
	require.Equal(t, 0, c.Size())

	c.Close()
	require.Equal(t, cache.Rejected, c.AddChange(change(writerA, 3)))
}

func TestWriterHistoryBound(t *testing.T) {
	h := cache.NewWriterHistory(writerA, 3)
	require.Equal(t, wire.SequenceNumber(1), h.FirstSN())
	require.Equal(t, wire.SequenceNumber(0), h.LastSN())

	for i := 1; i <= 5; i++ {
		ch := h.NewChange(cache.ChangeAlive, wire.RawData{byte(i)}, nil)
		require.Equal(t, wire.SequenceNumber(i), ch.SequenceNumber)
		require.Equal(t, writerA, ch.WriterGuid)
	}
	require.Equal(t, 3, h.Size())
	require.Equal(t, wire.SequenceNumber(3), h.FirstSN())
	require.Equal(t, wire.SequenceNumber(5), h.LastSN())

	_, ok := h.Get(2)
	require.False(t, ok)
	ch, ok := h.Get(4)
	require.True(t, ok)
	require.Equal(t, wire.RawData{4}, ch.Payload)

	require.Len(t, h.Changes(1), 3)
	require.Len(t, h.Changes(5), 1)
	require.Empty(t, h.Changes(6))
}

func TestChangeKindOf(t *testing.T) {
	require.Equal(t, cache.ChangeAlive, cache.ChangeKindOf(0))
	require.Equal(t, cache.ChangeDisposed, cache.ChangeKindOf(wire.StatusInfoDisposed|wire.StatusInfoUnregistered))
	require.Equal(t, cache.ChangeUnregistered, cache.ChangeKindOf(wire.StatusInfoUnregistered))
}

func TestKeyedWriterHistory(t *testing.T) {
	key := func(b byte) *wire.ParameterList {
		return wire.NewParameterList().Add(wire.PidKeyHash, wire.KeyHash{b})
	}
	h := cache.NewKeyedWriterHistory(writerA, 1)
	h.NewChange(cache.ChangeAlive, wire.RawData{1}, key(1))
	h.NewChange(cache.ChangeAlive, wire.RawData{2}, key(2))
	h.NewChange(cache.ChangeAlive, wire.RawData{3}, key(1))
	for i := 0; i < 10; i++ {
		h.NewChange(cache.ChangeAlive, wire.RawData{4}, key(3))
		h.NewChange(cache.ChangeDisposed, nil, key(3))
	}
	require.Equal(t, wire.SequenceNumber(23), h.LastSN())
	require.Equal(t, 3, h.Size())
	require.Equal(t, wire.SequenceNumber(2), h.FirstSN())

	var kept []wire.SequenceNumber
	for _, c := range h.Changes(0) {
		kept = append(kept, c.SequenceNumber)
	}
	require.Equal(t, []wire.SequenceNumber{2, 3, 23}, kept)

	_, ok := h.Get(1)
	require.False(t, ok)
	ch, ok := h.Get(3)
	require.True(t, ok)
	require.Equal(t, wire.RawData{3}, ch.Payload)
	require.Len(t, h.Changes(4), 1)

	// Changes without a key are kept like any other.
	h.NewChange(cache.ChangeAlive, wire.RawData{5}, nil)
	require.Equal(t, 4, h.Size())
}
