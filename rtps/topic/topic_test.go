package topic_test

import (
	"net/netip"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pinorobotics/rtpstalk/rtps/behavior"
	"github.com/pinorobotics/rtpstalk/rtps/cache"
	"github.com/pinorobotics/rtpstalk/rtps/discovery"
	"github.com/pinorobotics/rtpstalk/rtps/topic"
	"github.com/pinorobotics/rtpstalk/rtps/transport"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
	tu "github.com/pinorobotics/rtpstalk/std/utils/testutils"
	"github.com/stretchr/testify/require"
)

var (
	group   = wire.NewUdpv4Locator(netip.MustParseAddr("239.255.0.1"), 7400)
	chatter = discovery.TopicId{Name: "chatter", Type: "String"}
)

type node struct {
	prefix wire.GuidPrefix
	loc    wire.Locator
	clock  *clock.Mock
	opts   behavior.Options
	out    *behavior.Outbound
	recv   *behavior.Receiver
	sedp   *discovery.Sedp
	spdp   *discovery.Spdp
	pubs   *topic.Manager[*topic.LocalWriter]
	subs   *topic.Manager[*topic.LocalReader]
}

func newNode(t *testing.T, net *transport.MemoryNetwork, mock *clock.Mock, addr string) *node {
	n := &node{
		prefix: wire.NewGuidPrefix(wire.VendorIdRtpstalk),
		loc:    wire.NewUdpv4Locator(netip.MustParseAddr(addr), 7410),
		clock:  mock,
		opts:   behavior.Options{Clock: mock, HeartbeatPeriod: time.Second, AckPeriod: 100 * time.Millisecond},
	}
	n.out = behavior.NewOutbound(n.prefix, net.Factory(), nil)
	n.recv = behavior.NewReceiver(n.prefix, nil)
	ru := tu.NoErr(net.Factory().Bind(n.loc, n.recv.OnFrame))
	rm := tu.NoErr(net.Factory().Bind(group, n.recv.OnFrame))

	data := &discovery.ParticipantData{
		ProtocolVersion:    wire.ProtocolVersion_2_3,
		VendorId:           wire.VendorIdRtpstalk,
		Guid:               wire.NewGuid(n.prefix, wire.EntityIdParticipant),
		DefaultUnicast:     []wire.Locator{n.loc},
		MetatrafficUnicast: []wire.Locator{n.loc},
		LeaseDuration:      time.Minute,
		BuiltinEndpoints:   discovery.DefaultBuiltinEndpoints,
	}
	n.sedp = discovery.NewSedp(n.out, n.recv, n.opts)
	n.spdp = discovery.NewSpdp(data, n.sedp, n.out, n.recv, discovery.SpdpOptions{
		Clock:            mock,
		AnnouncePeriod:   time.Second,
		LeaseDuration:    time.Minute,
		AnnounceLocators: []wire.Locator{group},
	})
	n.pubs = topic.NewPublisherManager(n.sedp, n.spdp)
	n.subs = topic.NewSubscriberManager(n.sedp, n.spdp)
	n.pubs.Start()
	n.subs.Start()
	n.sedp.Start()
	n.spdp.Start()
	t.Cleanup(func() {
		n.pubs.Close()
		n.subs.Close()
		n.spdp.Close()
		n.sedp.CloseWriters()
		n.sedp.CloseReaders()
		ru.Close()
		rm.Close()
		n.out.Close()
	})
	return n
}

func (n *node) endpoint(id wire.EntityId, qos wire.QosPolicy) *discovery.EndpointData {
	return &discovery.EndpointData{
		Topic:           chatter,
		ParticipantGuid: wire.NewGuid(n.prefix, wire.EntityIdParticipant),
		EndpointGuid:    wire.NewGuid(n.prefix, id),
		UnicastLocators: []wire.Locator{n.loc},
		Qos:             qos,
		ProtocolVersion: wire.ProtocolVersion_2_3,
		VendorId:        wire.VendorIdRtpstalk,
	}
}

func (n *node) publish(t *testing.T, qos wire.QosPolicy) *topic.LocalWriter {
	data := n.endpoint(wire.NewEntityId(1, wire.EntityKindUserWriterNoKey), qos)
	w := behavior.NewStatefulWriter(data.EndpointGuid, n.out, n.opts)
	n.recv.AddWriter(w)
	w.Start()
	lw := topic.NewLocalWriter(data, w, n.sedp, n.clock, 2*time.Second)
	t.Cleanup(lw.Close)
	n.pubs.Add(lw)
	return lw
}

func (n *node) subscribe(t *testing.T, qos wire.QosPolicy, received *atomic.Int32) *behavior.StatefulReader {
	data := n.endpoint(wire.NewEntityId(1, wire.EntityKindUserReaderNoKey), qos)
	c := cache.NewHistoryCache("test", 0)
	c.Subscribe(func(*cache.CacheChange) { received.Add(1) })
	r := behavior.NewStatefulReader(data.EndpointGuid, c, n.out, n.opts)
	n.recv.AddReader(r)
	r.Start()
	lr := topic.NewLocalReader(data, r)
	t.Cleanup(lr.Close)
	n.subs.Add(lr)
	return r
}

func tick(t *testing.T, mock *clock.Mock, cond func() bool) {
	require.Eventually(t, func() bool {
		mock.Add(100 * time.Millisecond)
		return cond()
	}, 5*time.Second, 5*time.Millisecond)
}

func TestRemoteKnownBeforeLocalReader(t *testing.T) {
	tu.SetT(t)
	net := transport.NewMemoryNetwork()
	mock := clock.NewMock()
	a := newNode(t, net, mock, "10.0.0.1")
	b := newNode(t, net, mock, "10.0.0.2")

	w := a.publish(t, wire.QosReliable)
	tick(t, mock, func() bool { return len(b.subs.Remotes(chatter)) == 1 })

	var received atomic.Int32
	r := b.subscribe(t, wire.QosReliable, &received)
	tick(t, mock, func() bool {
		return slices.Contains(r.MatchedWriters(), w.Guid()) &&
			slices.Contains(w.Writer().MatchedReaders(), r.Guid())
	})

	w.Writer().NewChange(cache.ChangeAlive, wire.RawData("hello"), nil)
	tick(t, mock, func() bool { return received.Load() == 1 })
}

func TestIncompatibleQosNotMatched(t *testing.T) {
	tu.SetT(t)
	net := transport.NewMemoryNetwork()
	mock := clock.NewMock()
	a := newNode(t, net, mock, "10.0.0.1")
	b := newNode(t, net, mock, "10.0.0.2")

	var received atomic.Int32
	r := b.subscribe(t, wire.QosReliable, &received)
	w := a.publish(t, wire.QosBestEffort)

	tick(t, mock, func() bool {
		return len(a.pubs.Remotes(chatter)) == 1 && len(b.subs.Remotes(chatter)) == 1
	})
	for i := 0; i < 30; i++ {
		mock.Add(100 * time.Millisecond)
	}
	require.Never(t, func() bool {
		return len(r.MatchedWriters()) > 0 || len(w.Writer().MatchedReaders()) > 0
	}, 300*time.Millisecond, 20*time.Millisecond)
}

func TestRemoteDisposalUnmatches(t *testing.T) {
	tu.SetT(t)
	net := transport.NewMemoryNetwork()
	mock := clock.NewMock()
	a := newNode(t, net, mock, "10.0.0.1")
	b := newNode(t, net, mock, "10.0.0.2")

	var received atomic.Int32
	r := b.subscribe(t, wire.QosBestEffort, &received)
	w := a.publish(t, wire.QosReliable)
	tick(t, mock, func() bool { return slices.Contains(r.MatchedWriters(), w.Guid()) })

	a.pubs.Remove(w.Guid())
	tick(t, mock, func() bool { return len(r.MatchedWriters()) == 0 })
	require.Empty(t, b.subs.Remotes(chatter))
	require.Contains(t, b.subs.Topics(), chatter)
}
