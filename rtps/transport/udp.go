package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/pinorobotics/rtpstalk/rtps/transport/impl"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
	"github.com/pinorobotics/rtpstalk/std/log"
	"go.uber.org/multierr"
	"golang.org/x/net/ipv4"
)

// UdpFactory is the UDPv4 transport.
type UdpFactory struct {
	ifaces     []Interface
	bufferSize int
}

// NewUdpFactory uses the given interfaces for multicast membership.
func NewUdpFactory(ifaces []Interface, bufferSize int) *UdpFactory {
	return &UdpFactory{ifaces: ifaces, bufferSize: bufferSize}
}

func (f *UdpFactory) String() string {
	return "udp-factory"
}

func (f *UdpFactory) Connect(loc wire.Locator) (DataChannel, error) {
	if loc.Kind != wire.LocatorKindUdpv4 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, loc)
	}
	if loc.IsMulticast() && len(f.ifaces) > 0 {
		return f.connectMulticast(loc)
	}
	conn, err := net.DialUDP("udp4", nil, net.UDPAddrFromAddrPort(loc.AddrPort()))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to %s: %w", loc, err)
	}
	return &udpChannel{conn: conn, loc: loc, maxSize: f.bufferSize}, nil
}

// connectMulticast opens one socket per interface so a group send goes
// out on every interface.
func (f *UdpFactory) connectMulticast(loc wire.Locator) (DataChannel, error) {
	c := &udpMulticastChannel{
		group:   net.UDPAddrFromAddrPort(loc.AddrPort()),
		loc:     loc,
		maxSize: f.bufferSize,
	}
	var errs error
	for _, iface := range f.ifaces {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: iface.Addr.AsSlice()})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", iface.Iface.Name, err))
			continue
		}
		pc := ipv4.NewPacketConn(conn)
		if err := pc.SetMulticastInterface(iface.Iface); err != nil {
			log.Warn(f, "Unable to set multicast interface", "iface", iface.Iface.Name, "err", err)
		}
		if err := pc.SetMulticastLoopback(true); err != nil {
			log.Warn(f, "Unable to enable multicast loopback", "iface", iface.Iface.Name, "err", err)
		}
		c.conns = append(c.conns, conn)
		c.names = append(c.names, iface.Iface.Name)
	}
	if len(c.conns) == 0 {
		return nil, fmt.Errorf("unable to connect to %s on any interface: %w", loc, errs)
	}
	if errs != nil {
		log.Warn(f, "Multicast channel missing interfaces", "group", loc, "err", errs)
	}
	return c, nil
}

func (f *UdpFactory) Bind(loc wire.Locator, h Handler) (Receiver, error) {
	if loc.Kind != wire.LocatorKindUdpv4 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, loc)
	}

	// Only group sockets share their port. A unicast bind must fail when
	// the port is taken so participant ids can be probed.
	listenConfig := &net.ListenConfig{}
	bindAddr := loc.AddrPort()
	if loc.IsMulticast() {
		listenConfig.Control = impl.SyscallReuseAddr
		bindAddr = netip.AddrPortFrom(netip.IPv4Unspecified(), uint16(loc.Port))
	}
	pconn, err := listenConfig.ListenPacket(context.Background(), "udp4", bindAddr.String())
	if err != nil {
		return nil, fmt.Errorf("unable to bind %s: %w", loc, err)
	}
	conn := pconn.(*net.UDPConn)

	if loc.IsMulticast() {
		pc := ipv4.NewPacketConn(conn)
		group := net.UDPAddrFromAddrPort(loc.AddrPort())
		joined := 0
		for _, iface := range f.ifaces {
			if err := pc.JoinGroup(iface.Iface, group); err != nil {
				log.Warn(f, "Unable to join multicast group", "iface", iface.Iface.Name, "group", loc, "err", err)
				continue
			}
			joined++
		}
		if joined == 0 {
			conn.Close()
			return nil, fmt.Errorf("unable to join %s on any interface", loc)
		}
	}

	r := &udpReceiver{conn: conn, loc: loc, handler: h, stopped: make(chan struct{})}
	if loc.Port == 0 {
		r.loc.Port = uint32(conn.LocalAddr().(*net.UDPAddr).Port)
	}
	go r.run(f.bufferSize)
	return r, nil
}

type udpChannel struct {
	conn    *net.UDPConn
	loc     wire.Locator
	maxSize int
	closed  atomic.Bool
}

func (c *udpChannel) String() string {
	return fmt.Sprintf("udp-channel (%s)", c.loc)
}

func (c *udpChannel) Locator() wire.Locator {
	return c.loc
}

func (c *udpChannel) Send(frame []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.maxSize > 0 && len(frame) > c.maxSize {
		return fmt.Errorf("%w: %d", ErrFrameTooLarge, len(frame))
	}
	_, err := c.conn.Write(frame)
	return err
}

func (c *udpChannel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

type udpMulticastChannel struct {
	group   *net.UDPAddr
	loc     wire.Locator
	maxSize int
	conns   []*net.UDPConn
	names   []string
	closed  atomic.Bool
}

func (c *udpMulticastChannel) String() string {
	return fmt.Sprintf("udp-multicast-channel (%s)", c.loc)
}

func (c *udpMulticastChannel) Locator() wire.Locator {
	return c.loc
}

// Send writes the frame on every interface. It fails only when no
// interface could send it.
func (c *udpMulticastChannel) Send(frame []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.maxSize > 0 && len(frame) > c.maxSize {
		return fmt.Errorf("%w: %d", ErrFrameTooLarge, len(frame))
	}
	var errs error
	sent := 0
	for i, conn := range c.conns {
		if _, err := conn.WriteToUDP(frame, c.group); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", c.names[i], err))
			continue
		}
		sent++
	}
	if sent == 0 {
		return errs
	}
	if errs != nil {
		log.Debug(c, "Send failed on some interfaces", "err", errs)
	}
	return nil
}

func (c *udpMulticastChannel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	var errs error
	for _, conn := range c.conns {
		errs = multierr.Append(errs, conn.Close())
	}
	return errs
}

type udpReceiver struct {
	conn    *net.UDPConn
	loc     wire.Locator
	handler Handler
	stopped chan struct{}
	once    sync.Once
}

func (r *udpReceiver) String() string {
	return fmt.Sprintf("udp-receiver (%s)", r.loc)
}

func (r *udpReceiver) Locator() wire.Locator {
	return r.loc
}

func (r *udpReceiver) run(bufferSize int) {
	defer close(r.stopped)

	buf := make([]byte, bufferSize)
	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn(r, "Unable to read from socket", "err", err)
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		r.handler(frame)
	}
}

func (r *udpReceiver) Close() (err error) {
	r.once.Do(func() {
		err = r.conn.Close()
		<-r.stopped
	})
	return err
}
