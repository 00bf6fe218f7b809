package behavior_test

import (
	"net/netip"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pinorobotics/rtpstalk/rtps/behavior"
	"github.com/pinorobotics/rtpstalk/rtps/cache"
	"github.com/pinorobotics/rtpstalk/rtps/transport"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
	tu "github.com/pinorobotics/rtpstalk/std/utils/testutils"
	"github.com/stretchr/testify/require"
)

var (
	writerId = wire.NewEntityId(1, wire.EntityKindUserWriterNoKey)
	readerId = wire.NewEntityId(2, wire.EntityKindUserReaderNoKey)
)

type peer struct {
	prefix wire.GuidPrefix
	loc    wire.Locator
	out    *behavior.Outbound
	recv   *behavior.Receiver
}

func newPeer(t *testing.T, net *transport.MemoryNetwork, addr string) *peer {
	p := &peer{
		prefix: wire.NewGuidPrefix(wire.VendorIdRtpstalk),
		loc:    wire.NewUdpv4Locator(netip.MustParseAddr(addr), 7411),
	}
	p.out = behavior.NewOutbound(p.prefix, net.Factory(), nil)
	p.recv = behavior.NewReceiver(p.prefix, nil)
	r := tu.NoErr(net.Factory().Bind(p.loc, p.recv.OnFrame))
	t.Cleanup(func() {
		r.Close()
		p.out.Close()
	})
	return p
}

// sniffer records every submessage crossing the network and can drop
// selected data frames.
type sniffer struct {
	mu   sync.Mutex
	subs []wire.Submessage
	drop map[wire.SequenceNumber]int
}

func sniff(net *transport.MemoryNetwork) *sniffer {
	s := &sniffer{drop: make(map[wire.SequenceNumber]int)}
	net.SetDrop(func(_ wire.Locator, frame []byte) bool {
		msg, err := wire.Decode(frame)
		if err != nil {
			return false
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, sub := range msg.Submessages {
			if d, ok := sub.(*wire.Data); ok && s.drop[d.WriterSN] > 0 {
				s.drop[d.WriterSN]--
				return true
			}
		}
		s.subs = append(s.subs, msg.Submessages...)
		return false
	})
	return s
}

func (s *sniffer) dropOnce(sn wire.SequenceNumber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop[sn]++
}

func (s *sniffer) acks() []*wire.AckNack {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*wire.AckNack
	for _, sub := range s.subs {
		if a, ok := sub.(*wire.AckNack); ok {
			out = append(out, a)
		}
	}
	return out
}

func (s *sniffer) count(kind wire.SubmessageKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sub := range s.subs {
		if sub.Kind() == kind {
			n++
		}
	}
	return n
}

type collector struct {
	mu  sync.Mutex
	sns []wire.SequenceNumber
}

func (c *collector) add(change *cache.CacheChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sns = append(c.sns, change.SequenceNumber)
}

func (c *collector) get() []wire.SequenceNumber {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := slices.Clone(c.sns)
	slices.Sort(out)
	return out
}

// ordered returns the sequence numbers in delivery order.
func (c *collector) ordered() []wire.SequenceNumber {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sns)
}

type fixture struct {
	net    *transport.MemoryNetwork
	clock  *clock.Mock
	sniff  *sniffer
	a, b   *peer
	writer *behavior.StatefulWriter
	got    *collector
}

func newFixture(t *testing.T, historySize int) *fixture {
	tu.SetT(t)
	f := &fixture{
		net:   transport.NewMemoryNetwork(),
		clock: clock.NewMock(),
		got:   &collector{},
	}
	f.sniff = sniff(f.net)
	f.a = newPeer(t, f.net, "10.0.0.1")
	f.b = newPeer(t, f.net, "10.0.0.2")

	opts := behavior.Options{
		Clock:           f.clock,
		HeartbeatPeriod: time.Second,
		AckPeriod:       100 * time.Millisecond,
		HistorySize:     historySize,
	}
	f.writer = behavior.NewStatefulWriter(wire.NewGuid(f.a.prefix, writerId), f.a.out, opts)
	f.a.recv.AddWriter(f.writer)
	f.writer.Start()
	t.Cleanup(f.writer.Close)
	return f
}

func (f *fixture) reliableReader(t *testing.T, qos wire.QosPolicy) *behavior.StatefulReader {
	c := cache.NewHistoryCache("test", 0)
	c.Subscribe(f.got.add)
	r := behavior.NewStatefulReader(wire.NewGuid(f.b.prefix, readerId), c, f.b.out, behavior.Options{
		Clock:     f.clock,
		AckPeriod: 100 * time.Millisecond,
	})
	f.b.recv.AddReader(r)
	r.MatchedWriterAdd(f.writer.Guid(), []wire.Locator{f.a.loc})
	r.Start()
	t.Cleanup(r.Close)
	f.writer.MatchedReaderAdd(r.Guid(), []wire.Locator{f.b.loc}, qos)
	return r
}

// tick advances the mock clock while waiting for cond.
func (f *fixture) tick(t *testing.T, cond func() bool) {
	require.Eventually(t, func() bool {
		f.clock.Add(100 * time.Millisecond)
		return cond()
	}, 5*time.Second, 5*time.Millisecond)
}

func (f *fixture) write(n int) {
	for i := 0; i < n; i++ {
		f.writer.NewChange(cache.ChangeAlive, wire.RawData{byte(i)}, nil)
	}
}

func sns(v ...int64) []wire.SequenceNumber {
	out := make([]wire.SequenceNumber, len(v))
	for i, x := range v {
		out[i] = wire.SequenceNumber(x)
	}
	return out
}

func TestWriterProxyMissingChanges(t *testing.T) {
	got := &collector{}
	p := behavior.NewWriterProxy(wire.Guid{}, wire.Guid{}, nil, got.add)
	for _, sn := range sns(1, 2, 4) {
		require.True(t, p.ReceivedChangeSet(sn, &cache.CacheChange{SequenceNumber: sn}))
	}
	require.False(t, p.ReceivedChangeSet(2, &cache.CacheChange{SequenceNumber: 2}))
	require.False(t, p.ReceivedChangeSet(4, &cache.CacheChange{SequenceNumber: 4}))
	p.MissingChangesUpdate(5)
	require.Equal(t, sns(3, 5), p.MissingChanges())
	require.Equal(t, wire.SequenceNumber(2), p.AvailableChangesMax())
	require.True(t, p.IsReceived(4))
	require.False(t, p.IsReceived(3))
	// 4 waits for 3.
	require.Equal(t, sns(1, 2), got.ordered())

	require.Equal(t, 1, p.LostChangesUpdate(4))
	require.Equal(t, sns(5), p.MissingChanges())
	require.Equal(t, wire.SequenceNumber(4), p.AvailableChangesMax())
	require.Equal(t, 1, p.LostChanges())
	require.Equal(t, sns(1, 2, 4), got.ordered())

	p.ReceivedChangeSet(5, nil)
	require.Empty(t, p.MissingChanges())
	require.Equal(t, wire.SequenceNumber(5), p.AvailableChangesMax())
	require.Equal(t, sns(1, 2, 4), got.ordered())
}

func TestWriterProxyIrrelevantRange(t *testing.T) {
	got := &collector{}
	p := behavior.NewWriterProxy(wire.Guid{}, wire.Guid{}, nil, got.add)
	p.ReceivedChangeSet(3, &cache.CacheChange{SequenceNumber: 3})
	p.ReceivedChangeSet(6, &cache.CacheChange{SequenceNumber: 6})

	// A range above the floor only marks, nothing is released yet.
	p.IrrelevantChangeRange(4, 6)
	require.Empty(t, got.ordered())
	require.Zero(t, p.AvailableChangesMax())

	p.IrrelevantChangeRange(1, 3)
	require.Equal(t, sns(3, 6), got.ordered())
	require.Equal(t, wire.SequenceNumber(6), p.AvailableChangesMax())
}

func TestWriterProxyWindowIsBounded(t *testing.T) {
	p := behavior.NewWriterProxy(wire.Guid{}, wire.Guid{}, nil, nil)
	huge := wire.SequenceNumber(1) << 50

	p.MissingChangesUpdate(huge)
	require.Len(t, p.MissingChanges(), wire.MaxSetBits)
	require.False(t, p.ReceivedChangeSet(wire.MaxSetBits+1, &cache.CacheChange{}))
	require.True(t, p.ReceivedChangeSet(wire.MaxSetBits, &cache.CacheChange{}))

	p.IrrelevantChangeRange(10, huge)
	require.Equal(t, sns(1, 2, 3, 4, 5, 6, 7, 8, 9), p.MissingChanges())

	p.IrrelevantChangeRange(1, huge)
	require.Empty(t, p.MissingChanges())
	require.Equal(t, huge-1, p.AvailableChangesMax())
}

func TestReliableRecoversDroppedData(t *testing.T) {
	f := newFixture(t, 0)
	r := f.reliableReader(t, wire.QosReliable)

	f.sniff.dropOnce(2)
	f.write(3)
	require.Eventually(t, func() bool {
		return f.sniff.count(wire.KindData) == 2
	}, 2*time.Second, 5*time.Millisecond)
	// 3 is held back until 2 is recovered.
	require.Never(t, func() bool {
		return !slices.Equal(f.got.ordered(), sns(1))
	}, 100*time.Millisecond, 10*time.Millisecond)

	f.tick(t, func() bool { return len(f.got.ordered()) == 3 })
	require.Equal(t, sns(1, 2, 3), f.got.ordered())
	f.tick(t, func() bool { return f.writer.IsAckedBy(r.Guid(), 3) })
	require.True(t, f.writer.IsAckedByAll(3))

	acks := f.sniff.acks()
	require.NotEmpty(t, acks)
	require.Equal(t, sns(2), acks[0].State.SequenceNumbers())
	require.False(t, acks[0].Final)
}

func TestReliableOrderWithBoundedCache(t *testing.T) {
	tu.SetT(t)
	writer := wire.NewGuid(wire.GuidPrefix{9}, writerId)
	got := &collector{}
	c := cache.NewHistoryCache("bounded", 3)
	c.Subscribe(got.add)
	r := behavior.NewStatefulReader(wire.NewGuid(wire.GuidPrefix{8}, readerId), c, nil, behavior.Options{})
	t.Cleanup(r.Close)
	r.MatchedWriterAdd(writer, nil)

	data := func(sn wire.SequenceNumber) *wire.Data {
		return &wire.Data{
			ReaderId: readerId,
			WriterId: writerId,
			WriterSN: sn,
			Payload:  &wire.SerializedPayload{Value: wire.RawData{byte(sn)}},
		}
	}
	for _, sn := range sns(2, 3, 4, 5, 1) {
		r.OnData(writer.Prefix, data(sn), time.Now())
	}
	require.Equal(t, sns(1, 2, 3, 4, 5), got.ordered())

	// Retransmissions are not delivered twice.
	r.OnData(writer.Prefix, data(1), time.Now())
	r.OnData(writer.Prefix, data(4), time.Now())
	require.Len(t, got.ordered(), 5)
}

func TestAckNackCountAndExpectNext(t *testing.T) {
	f := newFixture(t, 0)
	r := f.reliableReader(t, wire.QosReliable)

	f.write(1)
	f.tick(t, func() bool { return f.writer.IsAckedBy(r.Guid(), 1) })
	acks := f.sniff.acks()
	require.Equal(t, wire.Count(1), acks[0].Count)
	require.Equal(t, wire.SequenceNumber(2), acks[0].State.Base)
	require.Zero(t, acks[0].State.NumBits)
	require.True(t, acks[0].Final)

	f.write(1)
	f.tick(t, func() bool { return f.writer.IsAckedBy(r.Guid(), 2) })
	acks = f.sniff.acks()
	for i := 1; i < len(acks); i++ {
		require.Greater(t, acks[i].Count, acks[i-1].Count)
	}
	require.Equal(t, wire.SequenceNumber(3), acks[len(acks)-1].State.Base)
}

func TestTransientLocalReplay(t *testing.T) {
	f := newFixture(t, 0)
	f.write(3)
	f.reliableReader(t, wire.QosBuiltin)
	require.Eventually(t, func() bool {
		return slices.Equal(f.got.get(), sns(1, 2, 3))
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTransientLocalReplayBoundedHistory(t *testing.T) {
	f := newFixture(t, 2)
	f.write(5)
	r := f.reliableReader(t, wire.QosBuiltin)
	require.Eventually(t, func() bool {
		return slices.Equal(f.got.ordered(), sns(4, 5))
	}, 2*time.Second, 5*time.Millisecond)
	f.tick(t, func() bool { return f.writer.IsAckedBy(r.Guid(), 5) })
	require.Equal(t, sns(4, 5), f.got.ordered())
	require.Equal(t, 2, r.Cache().Size())
}

func TestKeyedHistoryReplaysLatestPerKey(t *testing.T) {
	tu.SetT(t)
	f := &fixture{
		net:   transport.NewMemoryNetwork(),
		clock: clock.NewMock(),
		got:   &collector{},
	}
	f.sniff = sniff(f.net)
	f.a = newPeer(t, f.net, "10.0.0.1")
	f.b = newPeer(t, f.net, "10.0.0.2")
	f.writer = behavior.NewStatefulWriter(wire.NewGuid(f.a.prefix, writerId), f.a.out, behavior.Options{
		Clock:          f.clock,
		HistorySize:    1,
		KeepLastPerKey: true,
	})
	f.a.recv.AddWriter(f.writer)
	f.writer.Start()
	t.Cleanup(f.writer.Close)

	key := func(b byte) *wire.ParameterList {
		return wire.NewParameterList().Add(wire.PidKeyHash, wire.KeyHash{b})
	}
	f.writer.NewChange(cache.ChangeAlive, wire.RawData{1}, key(1)) // 1
	f.writer.NewChange(cache.ChangeAlive, wire.RawData{2}, key(2)) // 2
	f.writer.NewChange(cache.ChangeAlive, wire.RawData{3}, key(1)) // 3 replaces 1
	f.writer.NewChange(cache.ChangeAlive, wire.RawData{4}, key(3)) // 4
	f.writer.NewChange(cache.ChangeDisposed, nil, key(3))          // 5 replaces 4
	f.writer.NewChange(cache.ChangeAlive, wire.RawData{6}, key(4)) // 6
	f.writer.NewChange(cache.ChangeDisposed, nil, key(4))          // 7 replaces 6, drops 5
	require.Equal(t, 3, f.writer.History().Size())

	f.reliableReader(t, wire.QosBuiltin)
	require.Eventually(t, func() bool {
		return slices.Equal(f.got.ordered(), sns(2, 3, 7))
	}, 2*time.Second, 5*time.Millisecond)
	require.Positive(t, f.sniff.count(wire.KindGap))
}

func TestVolatileReaderSkipsHistory(t *testing.T) {
	f := newFixture(t, 0)
	f.write(3)
	r := f.reliableReader(t, wire.QosReliable)
	f.write(1)
	require.Eventually(t, func() bool {
		return slices.Equal(f.got.get(), sns(4))
	}, 2*time.Second, 5*time.Millisecond)
	f.tick(t, func() bool { return f.writer.IsAckedBy(r.Guid(), 4) })
	require.Equal(t, sns(4), f.got.get())
}

func TestBestEffortNoRetransmit(t *testing.T) {
	f := newFixture(t, 0)
	c := cache.NewHistoryCache("best-effort", 0)
	c.Subscribe(f.got.add)
	r := behavior.NewStatelessReader(wire.NewGuid(f.b.prefix, readerId), c)
	f.b.recv.AddReader(r)
	r.MatchedWriterAdd(f.writer.Guid())
	f.writer.MatchedReaderAdd(r.Guid(), []wire.Locator{f.b.loc}, wire.QosBestEffort)

	f.sniff.dropOnce(2)
	f.write(3)
	require.Eventually(t, func() bool {
		return slices.Equal(f.got.get(), sns(1, 3))
	}, 2*time.Second, 5*time.Millisecond)
	for i := 0; i < 30; i++ {
		f.clock.Add(100 * time.Millisecond)
	}
	require.Never(t, func() bool { return len(f.got.get()) > 2 }, 200*time.Millisecond, 10*time.Millisecond)
	require.Zero(t, f.sniff.count(wire.KindHeartbeat))
	require.Zero(t, f.sniff.count(wire.KindAckNack))
}

func TestAckNackRetransmitAndGap(t *testing.T) {
	f := newFixture(t, 2)
	// b acts as a hand driven reader.
	reader := wire.NewGuid(f.b.prefix, readerId)
	f.writer.MatchedReaderAdd(reader, []wire.Locator{f.b.loc}, wire.QosBuiltin)
	f.write(3)

	state := wire.NewSequenceNumberSet(1, 2)
	state.Add(1)
	state.Add(2)
	ack := wire.NewMessage(f.b.prefix,
		&wire.InfoDestination{GuidPrefix: f.a.prefix},
		&wire.AckNack{ReaderId: readerId, WriterId: writerId, State: state, Count: 1})
	require.NoError(t, f.b.out.Send(f.a.loc, ack))

	require.Eventually(t, func() bool {
		return f.sniff.count(wire.KindGap) == 1
	}, 2*time.Second, 5*time.Millisecond)
	// 3 original sends plus the retransmission of 2.
	require.Eventually(t, func() bool {
		return f.sniff.count(wire.KindData) == 4
	}, 2*time.Second, 5*time.Millisecond)
	require.True(t, f.writer.IsAckedBy(reader, 0))
	require.False(t, f.writer.IsAckedBy(reader, 1))

	// Same count again is ignored.
	require.NoError(t, f.b.out.Send(f.a.loc, ack))
	require.Never(t, func() bool {
		return f.sniff.count(wire.KindGap) > 1
	}, 200*time.Millisecond, 10*time.Millisecond)
}

func TestHeartbeatCoalescing(t *testing.T) {
	tu.SetT(t)
	net := transport.NewMemoryNetwork()
	s := sniff(net)
	mock := clock.NewMock()
	a := newPeer(t, net, "10.0.0.1")
	b := newPeer(t, net, "10.0.0.2")

	writer := wire.NewGuid(a.prefix, writerId)
	r := behavior.NewStatefulReader(wire.NewGuid(b.prefix, readerId), cache.NewHistoryCache("hb", 0), b.out,
		behavior.Options{Clock: mock, AckPeriod: 100 * time.Millisecond})
	b.recv.AddReader(r)
	r.MatchedWriterAdd(writer, []wire.Locator{a.loc})
	r.Start()
	defer r.Close()

	heartbeat := func(count wire.Count) {
		msg := wire.NewMessage(a.prefix, &wire.Heartbeat{
			ReaderId: readerId, WriterId: writerId, FirstSN: 1, LastSN: 3, Count: count,
		})
		require.NoError(t, a.out.Send(b.loc, msg))
	}
	heartbeat(5)
	heartbeat(3)
	require.Eventually(t, func() bool {
		mock.Add(100 * time.Millisecond)
		return len(s.acks()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, sns(1, 2, 3), s.acks()[0].State.SequenceNumbers())

	heartbeat(4)
	require.Never(t, func() bool {
		mock.Add(100 * time.Millisecond)
		return len(s.acks()) > 1
	}, 200*time.Millisecond, 10*time.Millisecond)

	heartbeat(6)
	require.Eventually(t, func() bool {
		mock.Add(100 * time.Millisecond)
		return len(s.acks()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, wire.Count(2), s.acks()[1].Count)
}
