package transport

import (
	"net"
	"net/netip"
	"testing"

	"github.com/pinorobotics/rtpstalk/rtps/wire"
	tu "github.com/pinorobotics/rtpstalk/std/utils/testutils"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestMulticastChannelPerInterface(t *testing.T) {
	tu.SetT(t)
	lo, err := net.InterfaceByName("lo")
	if err != nil {
		t.Skip("no loopback interface")
	}
	addr := netip.MustParseAddr("127.0.0.1")
	ifaces := []Interface{{Iface: lo, Addr: addr}, {Iface: lo, Addr: addr}}
	group := wire.NewUdpv4Locator(netip.MustParseAddr("239.255.0.1"), 7400)

	ch := tu.NoErr(NewUdpFactory(ifaces, 1500).Connect(group))
	mc, ok := ch.(*udpMulticastChannel)
	require.True(t, ok)
	require.Len(t, mc.conns, 2)
	require.Equal(t, group, ch.Locator())

	// Every interface is tried; the error lists each failure.
	for _, conn := range mc.conns {
		conn.Close()
	}
	err = ch.Send([]byte{1})
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 2)

	require.Error(t, ch.Close())
	require.ErrorIs(t, ch.Send([]byte{1}), ErrClosed)

	// Unicast destinations keep a single connected socket.
	uc := tu.NoErr(NewUdpFactory(ifaces, 1500).Connect(wire.NewUdpv4Locator(addr, 7410)))
	_, ok = uc.(*udpChannel)
	require.True(t, ok)
	require.NoError(t, uc.Close())
}
