package wire

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/pinorobotics/rtpstalk/std/log"
)

type LocatorKind int32

const (
	LocatorKindInvalid  LocatorKind = -1
	LocatorKindReserved LocatorKind = 0
	LocatorKindUdpv4    LocatorKind = 1
	LocatorKindUdpv6    LocatorKind = 2
)

const LocatorPortInvalid uint32 = 0

// Locator is a transport address. Encoded as 24 bytes.
type Locator struct {
	Kind    LocatorKind
	Port    uint32
	Address [16]byte
}

var LocatorInvalid = Locator{Kind: LocatorKindInvalid}

// NewUdpv4Locator places the IPv4 address in the last four address octets.
func NewUdpv4Locator(addr netip.Addr, port uint32) Locator {
	l := Locator{Kind: LocatorKindUdpv4, Port: port}
	a4 := addr.Unmap().As4()
	copy(l.Address[12:], a4[:])
	return l
}

// LocatorFromUDPAddr converts a resolved socket address.
func LocatorFromUDPAddr(a *net.UDPAddr) Locator {
	addr, _ := netip.AddrFromSlice(a.IP)
	return NewUdpv4Locator(addr, uint32(a.Port))
}

func (l Locator) IsValid() bool {
	return l.Kind == LocatorKindUdpv4 && l.Port != LocatorPortInvalid
}

func (l Locator) Addr() netip.Addr {
	if l.Kind != LocatorKindUdpv4 {
		return netip.Addr{}
	}
	return netip.AddrFrom4([4]byte(l.Address[12:16]))
}

func (l Locator) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(l.Addr(), uint16(l.Port))
}

func (l Locator) IsMulticast() bool {
	return l.Addr().IsMulticast()
}

func (l Locator) String() string {
	switch l.Kind {
	case LocatorKindUdpv4:
		return "udp4://" + l.AddrPort().String()
	case LocatorKindUdpv6:
		return fmt.Sprintf("udp6://[unsupported]:%d", l.Port)
	default:
		return fmt.Sprintf("locator(%d):%d", l.Kind, l.Port)
	}
}

func (l Locator) encode(w *writer) {
	w.i32(int32(l.Kind))
	w.u32(l.Port)
	w.bytes(l.Address[:])
}

func (l *Locator) decode(r *reader) {
	l.Kind = LocatorKind(r.i32())
	l.Port = r.u32()
	r.read(l.Address[:])
	if l.Kind == LocatorKindUdpv6 {
		log.Debug(nil, "IPv6 locator is not supported, address dropped", "port", l.Port)
		l.Address = [16]byte{}
	}
}
