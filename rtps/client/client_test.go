package client_test

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/pinorobotics/rtpstalk/rtps/client"
	"github.com/pinorobotics/rtpstalk/rtps/config"
	"github.com/pinorobotics/rtpstalk/rtps/transport"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
	tu "github.com/pinorobotics/rtpstalk/std/utils/testutils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.SpdpAnnouncePeriod_ms = 100
	cfg.HeartbeatPeriod_ms = 100
	cfg.AckPeriod_ms = 20
	cfg.LeaseDuration_ms = 10000
	cfg.ReaderAckTopicTimeout_ms = 1000
	cfg.ShutdownTimeout_ms = 1000
	return cfg
}

func startClient(t *testing.T, net *transport.MemoryNetwork, addr string, cfg *config.Config) *client.Client {
	c := tu.NoErr(client.NewClient(cfg,
		client.WithTransport(net.Factory(), netip.MustParseAddr(addr)),
		client.WithRegisterer(prometheus.NewRegistry())))
	require.NoError(t, c.Start())
	t.Cleanup(func() { c.Close() })
	return c
}

type inbox struct {
	mu   sync.Mutex
	msgs []client.Message
}

func (i *inbox) add(m client.Message) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, m)
}

func (i *inbox) get() []client.Message {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]client.Message(nil), i.msgs...)
}

func TestLifecycleErrors(t *testing.T) {
	tu.SetT(t)
	net := transport.NewMemoryNetwork()
	c := tu.NoErr(client.NewClient(testConfig(), client.WithTransport(net.Factory(), netip.MustParseAddr("10.0.0.1"))))

	tu.ErrIs(c.Subscribe("chatter", "String", wire.QosReliable, func(client.Message) {}))(client.ErrNotStarted)
	require.NoError(t, c.Start())
	require.ErrorIs(t, c.Start(), client.ErrAlreadyStarted)
	require.ErrorIs(t, c.Unsubscribe(wire.EntityId{1, 2, 3, 4}), client.ErrUnknownEntity)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	tu.ErrIs(c.Publish("chatter", "String", wire.QosReliable))(client.ErrClosed)

	bad := testConfig()
	bad.Endianness = "big"
	tu.Err(client.NewClient(bad))
}

func TestParticipantIdProbing(t *testing.T) {
	tu.SetT(t)
	net := transport.NewMemoryNetwork()
	a := startClient(t, net, "10.0.0.1", testConfig())
	b := startClient(t, net, "10.0.0.1", testConfig())
	require.Equal(t, uint32(0), a.ParticipantId())
	require.Equal(t, uint32(1), b.ParticipantId())

	require.Eventually(t, func() bool {
		return len(a.Participants()) == 1 && len(b.Participants()) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPublishSubscribe(t *testing.T) {
	tu.SetT(t)
	net := transport.NewMemoryNetwork()
	a := startClient(t, net, "10.0.0.1", testConfig())
	b := startClient(t, net, "10.0.0.2", testConfig())

	got := &inbox{}
	_, err := b.Subscribe("chatter", "String", wire.QosReliable, got.add)
	require.NoError(t, err)
	pub := tu.NoErr(a.Publish("chatter", "String", wire.QosReliable))

	param := wire.UserParameter{Id: 0x4000, Value: []byte("meta")}
	require.Eventually(t, func() bool {
		if pub.Write([]byte("hello"), param) != nil {
			return false
		}
		return len(got.get()) > 0
	}, 5*time.Second, 50*time.Millisecond)

	first := got.get()[0]
	require.Equal(t, []byte("hello"), first.Data)
	require.Equal(t, pub.Guid(), first.Writer)
	require.Equal(t, []wire.UserParameter{param}, first.UserParameters)

	for i := 0; i < 10; i++ {
		require.NoError(t, pub.Write([]byte{byte(i)}))
	}
	numbered := func() []client.Message {
		var out []client.Message
		for _, m := range got.get() {
			if len(m.Data) == 1 {
				out = append(out, m)
			}
		}
		return out
	}
	require.Eventually(t, func() bool {
		return len(numbered()) >= 10
	}, 5*time.Second, 10*time.Millisecond)

	tail := numbered()
	require.Len(t, tail, 10)
	for i, m := range tail {
		require.Equal(t, []byte{byte(i)}, m.Data)
		if i > 0 {
			require.Greater(t, m.SequenceNumber, tail[i-1].SequenceNumber)
		}
	}

	require.NoError(t, pub.Close())
	require.ErrorIs(t, pub.Write([]byte("late")), client.ErrClosed)
}

func TestCloseDisposesParticipant(t *testing.T) {
	tu.SetT(t)
	net := transport.NewMemoryNetwork()
	a := tu.NoErr(client.NewClient(testConfig(), client.WithTransport(net.Factory(), netip.MustParseAddr("10.0.0.1"))))
	require.NoError(t, a.Start())
	b := startClient(t, net, "10.0.0.2", testConfig())

	require.Eventually(t, func() bool { return len(b.Participants()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return len(b.Participants()) == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestCloseDisposesEndpoints(t *testing.T) {
	tu.SetT(t)
	net := transport.NewMemoryNetwork()
	a := tu.NoErr(client.NewClient(testConfig(), client.WithTransport(net.Factory(), netip.MustParseAddr("10.0.0.1"))))
	require.NoError(t, a.Start())
	b := startClient(t, net, "10.0.0.2", testConfig())

	// a has a live subscription and publication matched with b.
	_, err := a.Subscribe("chatter", "String", wire.QosReliable, func(client.Message) {})
	require.NoError(t, err)
	aPub := tu.NoErr(a.Publish("status", "String", wire.QosReliable))
	got := &inbox{}
	_, err = b.Subscribe("status", "String", wire.QosReliable, got.add)
	require.NoError(t, err)
	bPub := tu.NoErr(b.Publish("chatter", "String", wire.QosReliable))

	require.Eventually(t, func() bool {
		return len(bPub.MatchedReaders()) == 1 && len(aPub.MatchedReaders()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Participant announcements are lost from here on, so only the SEDP
	// disposals can unmatch a's endpoints before the lease runs out.
	net.SetDrop(func(to wire.Locator, _ []byte) bool { return to.IsMulticast() })
	require.NoError(t, a.Close())
	require.Eventually(t, func() bool {
		return len(bPub.MatchedReaders()) == 0
	}, 5*time.Second, 10*time.Millisecond)
	require.Len(t, b.Participants(), 1)

	require.NoError(t, bPub.Write([]byte("anyone")))
	require.Empty(t, got.get())
}

func TestWriteBeforeMatchIsReplayed(t *testing.T) {
	tu.SetT(t)
	net := transport.NewMemoryNetwork()
	a := startClient(t, net, "10.0.0.1", testConfig())
	b := startClient(t, net, "10.0.0.2", testConfig())
	qos := wire.QosPolicy{Reliability: wire.ReliabilityReliable, Durability: wire.DurabilityTransientLocal}

	const n = 20
	pub := tu.NoErr(a.Publish("chatter", "String", qos))
	for i := 0; i < n; i++ {
		require.NoError(t, pub.Write([]byte{byte(i)}))
	}
	got := &inbox{}
	_, err := b.Subscribe("chatter", "String", qos, got.add)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(got.get()) >= n
	}, 5*time.Second, 10*time.Millisecond)
	require.Never(t, func() bool {
		return len(got.get()) > n
	}, 300*time.Millisecond, 20*time.Millisecond)
	for i, m := range got.get() {
		require.Equal(t, []byte{byte(i)}, m.Data)
		require.Equal(t, wire.SequenceNumber(i+1), m.SequenceNumber)
	}
}

func TestShutdownTimeout(t *testing.T) {
	tu.SetT(t)
	net := transport.NewMemoryNetwork()
	cfg := testConfig()
	cfg.ShutdownTimeout_ms = 50
	a := startClient(t, net, "10.0.0.1", testConfig())
	b := tu.NoErr(client.NewClient(cfg, client.WithTransport(net.Factory(), netip.MustParseAddr("10.0.0.2"))))
	require.NoError(t, b.Start())

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	defer close(release)
	_, err := b.Subscribe("chatter", "String", wire.QosBestEffort, func(client.Message) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	})
	require.NoError(t, err)
	pub := tu.NoErr(a.Publish("chatter", "String", wire.QosReliable))

	require.Eventually(t, func() bool {
		if pub.Write([]byte("block")) != nil {
			return false
		}
		return len(entered) == 1
	}, 5*time.Second, 50*time.Millisecond)

	require.ErrorIs(t, b.Close(), client.ErrShutdownTimeout)
}
