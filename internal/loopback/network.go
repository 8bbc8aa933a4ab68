package loopback

import (
	"net/netip"
	"sync"

	"github.com/efibridge/efibridge/efi"
	"github.com/efibridge/efibridge/internal/ipam"
	"github.com/efibridge/efibridge/tcp"
)

// netstack is the process-local network behind the stream protocol:
// the table of bound endpoints, the listeners, the default-address
// pools and the ephemeral port allocator. One lock guards all socket
// state; completions are delivered by writing the token's status cell
// and signaling its event.
type netstack struct {
	mu        sync.Mutex
	fw        *Firmware
	pool4     ipam.Pool
	pool6     ipam.Pool
	listeners map[netip.AddrPort]*socket
	bound     map[netip.AddrPort]*socket
	portMin   uint16
	portMax   uint16
	nextPort  uint16
	window    int
}

func newNetstack(fw *Firmware, prefix4, prefix6 netip.Prefix, config NetworkConfig) (*netstack, error) {
	pool4, err := ipam.NewPool(prefix4)
	if err != nil {
		return nil, err
	}
	pool6, err := ipam.NewPool(prefix6)
	if err != nil {
		return nil, err
	}
	return &netstack{
		fw:        fw,
		pool4:     pool4,
		pool6:     pool6,
		listeners: make(map[netip.AddrPort]*socket),
		bound:     make(map[netip.AddrPort]*socket),
		portMin:   config.PortMin,
		portMax:   config.PortMax,
		nextPort:  config.PortMin,
		window:    config.ReceiveWindow,
	}, nil
}

func (ns *netstack) pool(family tcp.Family) ipam.Pool {
	if family == tcp.IPv6 {
		return ns.pool6
	}
	return ns.pool4
}

// complete writes the token's status cell and signals its event. The
// cell is written exactly once per submitted operation.
func (ns *netstack) complete(ct *efi.CompletionToken, status efi.Status) {
	ct.Status = status
	ns.fw.signal(ct.Event)
}

func (ns *netstack) allocPortLocked(addr netip.Addr) (uint16, bool) {
	span := int(ns.portMax-ns.portMin) + 1
	for i := 0; i < span; i++ {
		port := ns.nextPort
		if ns.nextPort == ns.portMax {
			ns.nextPort = ns.portMin
		} else {
			ns.nextPort++
		}
		if _, used := ns.bound[netip.AddrPortFrom(addr, port)]; !used {
			return port, true
		}
	}
	return 0, false
}

func (ns *netstack) bindLocked(s *socket, ap tcp.AccessPoint) efi.Status {
	addr := ap.StationAddress
	if ap.UseDefaultAddress || !addr.IsValid() || addr.IsUnspecified() {
		a, ok := ns.pool(s.family).Get()
		if !ok {
			return efi.OutOfResources
		}
		addr = a
		s.assigned = true
	}
	if !familyMatches(addr, s.family) {
		return efi.InvalidParameter
	}

	port := ap.StationPort
	if port == 0 {
		p, ok := ns.allocPortLocked(addr)
		if !ok {
			return efi.OutOfResources
		}
		port = p
	} else if _, used := ns.bound[netip.AddrPortFrom(addr, port)]; used {
		return efi.AccessDenied
	}

	s.station = netip.AddrPortFrom(addr, port)
	ns.bound[s.station] = s
	return efi.Success
}

func (ns *netstack) unbindLocked(s *socket) {
	if s.station.IsValid() {
		if ns.bound[s.station] == s {
			delete(ns.bound, s.station)
		}
		if ns.listeners[s.station] == s {
			delete(ns.listeners, s.station)
		}
		if s.assigned {
			ns.pool(s.family).Put(s.station.Addr())
			s.assigned = false
		}
		s.station = netip.AddrPort{}
	}
}

func familyMatches(addr netip.Addr, family tcp.Family) bool {
	if family == tcp.IPv6 {
		return addr.Is6() && !addr.Is4In6()
	}
	return addr.Is4() || addr.Is4In6()
}
