package transport

import (
	"fmt"
	"net"
	"net/netip"
)

// Interface is a usable IPv4 network interface.
type Interface struct {
	Iface *net.Interface
	Addr  netip.Addr
}

// UsableInterfaces lists up, non point-to-point interfaces with an IPv4
// address. When name is set only that interface is returned.
func UsableInterfaces(name string) ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []Interface
	for i := range ifaces {
		iface := &ifaces[i]
		if name != "" && iface.Name != name {
			continue
		}
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagPointToPoint != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			addr, ok := netip.AddrFromSlice(ipnet.IP)
			if !ok || !addr.Unmap().Is4() {
				continue
			}
			out = append(out, Interface{Iface: iface, Addr: addr.Unmap()})
			break
		}
	}

	if name != "" && len(out) == 0 {
		return nil, fmt.Errorf("network interface %q not found or has no IPv4 address", name)
	}
	return out, nil
}
