package transport_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/pinorobotics/rtpstalk/rtps/transport"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
	tu "github.com/pinorobotics/rtpstalk/std/utils/testutils"
	"github.com/stretchr/testify/require"
)

func loc(addr string, port uint32) wire.Locator {
	return wire.NewUdpv4Locator(netip.MustParseAddr(addr), port)
}

func collect(frames chan []byte) transport.Handler {
	return func(f []byte) { frames <- f }
}

func recv(t *testing.T, frames chan []byte) []byte {
	select {
	case f := <-frames:
		return f
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no frame received")
		return nil
	}
}

func TestMemoryUnicast(t *testing.T) {
	tu.SetT(t)
	net := transport.NewMemoryNetwork()
	f := net.Factory()

	frames := make(chan []byte, 4)
	r := tu.NoErr(f.Bind(loc("10.0.0.1", 7410), collect(frames)))
	defer r.Close()

	tu.Err(f.Bind(loc("10.0.0.1", 7410), collect(frames)))

	ch := tu.NoErr(f.Connect(loc("10.0.0.1", 7410)))
	require.NoError(t, ch.Send([]byte{1, 2, 3}))
	require.Equal(t, []byte{1, 2, 3}, recv(t, frames))

	require.NoError(t, ch.Close())
	require.ErrorIs(t, ch.Send([]byte{1}), transport.ErrClosed)
	require.Equal(t, int64(1), net.Sent())
}

func TestMemoryMulticastFanOut(t *testing.T) {
	tu.SetT(t)
	net := transport.NewMemoryNetwork()
	f := net.Factory()
	group := loc("239.255.0.1", 7400)

	a := make(chan []byte, 4)
	b := make(chan []byte, 4)
	ra := tu.NoErr(f.Bind(group, collect(a)))
	rb := tu.NoErr(f.Bind(group, collect(b)))
	defer rb.Close()

	ch := tu.NoErr(f.Connect(group))
	require.NoError(t, ch.Send([]byte{7}))
	require.Equal(t, []byte{7}, recv(t, a))
	require.Equal(t, []byte{7}, recv(t, b))

	require.NoError(t, ra.Close())
	require.NoError(t, ch.Send([]byte{8}))
	require.Equal(t, []byte{8}, recv(t, b))
	require.Empty(t, a)
}

func TestMemoryDropAndEphemeralPort(t *testing.T) {
	tu.SetT(t)
	net := transport.NewMemoryNetwork()
	f := net.Factory()

	frames := make(chan []byte, 4)
	r := tu.NoErr(f.Bind(loc("10.0.0.2", 0), collect(frames)))
	defer r.Close()
	require.NotZero(t, r.Locator().Port)

	net.SetDrop(func(wire.Locator, []byte) bool { return true })
	ch := tu.NoErr(f.Connect(r.Locator()))
	require.NoError(t, ch.Send([]byte{1}))
	net.SetDrop(nil)
	require.NoError(t, ch.Send([]byte{2}))
	require.Equal(t, []byte{2}, recv(t, frames))
}

func TestUnsupportedLocator(t *testing.T) {
	tu.SetT(t)
	f := transport.NewMemoryNetwork().Factory()
	v6 := wire.Locator{Kind: wire.LocatorKindUdpv6, Port: 7400}
	tu.ErrIs(f.Connect(v6))(transport.ErrUnsupportedKind)
	tu.ErrIs(transport.NewUdpFactory(nil, 1500).Connect(v6))(transport.ErrUnsupportedKind)
}

func TestUdpLoopback(t *testing.T) {
	tu.SetT(t)
	f := transport.NewUdpFactory(nil, 65536)

	frames := make(chan []byte, 4)
	r := tu.NoErr(f.Bind(loc("127.0.0.1", 0), collect(frames)))
	defer r.Close()

	ch := tu.NoErr(f.Connect(r.Locator()))
	defer ch.Close()
	require.NoError(t, ch.Send([]byte("RTPS")))
	require.Equal(t, []byte("RTPS"), recv(t, frames))
}
