package loopback

import (
	"net/netip"

	"github.com/efibridge/efibridge/efi"
	"github.com/efibridge/efibridge/tcp"
)

// serviceBinding implements efi.ServiceBinding for one stream family:
// it allocates child sockets with the stream protocol installed on a
// fresh handle, and destroys them once they are no longer in use.
type serviceBinding struct {
	ns     *netstack
	family tcp.Family
}

var _ efi.ServiceBinding = (*serviceBinding)(nil)

func (sb *serviceBinding) CreateChild() (efi.Handle, efi.Status) {
	s := &socket{ns: sb.ns, family: sb.family, state: tcp.StateClosed}
	s.handle = sb.ns.fw.install(sb.family.ProtocolGuid(), s)
	return s.handle, efi.Success
}

func (sb *serviceBinding) DestroyChild(h efi.Handle) efi.Status {
	if h.IsNull() {
		return efi.InvalidParameter
	}
	intf, ok := sb.ns.fw.lookup(h, sb.family.ProtocolGuid())
	if !ok {
		return efi.Unsupported
	}
	s, ok := intf.(*socket)
	if !ok {
		return efi.InvalidParameter
	}

	sb.ns.mu.Lock()
	if s.state == tcp.StateListen || s.state == tcp.StateEstablished {
		// Still bound or connected, its services are being used.
		sb.ns.mu.Unlock()
		return efi.AccessDenied
	}
	sb.ns.unbindLocked(s)
	sb.ns.mu.Unlock()

	sb.ns.fw.uninstall(h, sb.family.ProtocolGuid())
	return efi.Success
}

// socket is one stream child. It implements the asynchronous firmware
// stream protocol: calls validate synchronously, data movement and
// connection pairing complete through the submitted tokens.
type socket struct {
	ns     *netstack
	family tcp.Family
	handle efi.Handle

	configured bool
	assigned   bool
	state      tcp.ConnectionState
	cfg        tcp.Config
	station    netip.AddrPort
	remote     netip.AddrPort

	peer  *socket
	rx    []byte
	fin   bool
	reset bool

	backlog       []*socket
	pendingAccept []*tcp.ListenToken
	pendingRecv   []*tcp.IOToken
}

var _ tcp.Protocol = (*socket)(nil)

func (s *socket) Configure(cfg *tcp.Config) efi.Status {
	s.ns.mu.Lock()
	defer s.ns.mu.Unlock()

	if cfg == nil {
		s.ns.unbindLocked(s)
		s.configured = false
		s.state = tcp.StateClosed
		s.cfg = tcp.Config{}
		s.remote = netip.AddrPort{}
		return efi.Success
	}
	if s.configured {
		return efi.AlreadyStarted
	}

	ap := cfg.AccessPoint
	if ap.ActiveFlag {
		if !ap.RemoteAddress.IsValid() || ap.RemoteAddress.IsUnspecified() || ap.RemotePort == 0 {
			return efi.InvalidParameter
		}
		if !familyMatches(ap.RemoteAddress, s.family) {
			return efi.InvalidParameter
		}
	}
	if status := s.ns.bindLocked(s, ap); status.IsError() {
		return status
	}

	s.cfg = *cfg
	s.cfg.AccessPoint.StationAddress = s.station.Addr()
	s.cfg.AccessPoint.StationPort = s.station.Port()
	s.remote = ap.Remote()
	s.configured = true

	if ap.ActiveFlag {
		s.state = tcp.StateClosed
	} else {
		s.state = tcp.StateListen
		s.ns.listeners[s.station] = s
	}
	return efi.Success
}

func (s *socket) Accept(tok *tcp.ListenToken) efi.Status {
	if tok == nil || tok.Token.Event.IsNull() {
		return efi.InvalidParameter
	}

	s.ns.mu.Lock()
	defer s.ns.mu.Unlock()

	if !s.configured {
		return efi.NotStarted
	}
	if s.state != tcp.StateListen {
		return efi.AccessDenied
	}

	if len(s.backlog) > 0 {
		child := s.backlog[0]
		s.backlog = s.backlog[1:]
		tok.NewChild = s.installChildLocked(child)
		s.ns.complete(&tok.Token, efi.Success)
		return efi.Success
	}
	s.pendingAccept = append(s.pendingAccept, tok)
	return efi.Success
}

func (s *socket) installChildLocked(child *socket) efi.Handle {
	child.handle = s.ns.fw.install(s.family.ProtocolGuid(), child)
	return child.handle
}

func (s *socket) Connect(tok *tcp.ConnectToken) efi.Status {
	if tok == nil || tok.Token.Event.IsNull() {
		return efi.InvalidParameter
	}

	s.ns.mu.Lock()
	defer s.ns.mu.Unlock()

	if !s.configured {
		return efi.NotStarted
	}
	if !s.cfg.AccessPoint.ActiveFlag {
		return efi.AccessDenied
	}
	if s.state != tcp.StateClosed {
		return efi.AlreadyStarted
	}

	listener := s.ns.listeners[s.remote]
	if listener == nil || listener.family != s.family {
		s.ns.complete(&tok.Token, efi.ConnectionRefused)
		return efi.Success
	}

	// Pair a server-side socket with this one. The handshake completes
	// immediately; the server side waits in the listener's backlog until
	// an accept token claims it.
	srv := &socket{
		ns:         s.ns,
		family:     s.family,
		configured: true,
		state:      tcp.StateEstablished,
		station:    listener.station,
		remote:     s.station,
		peer:       s,
		cfg: tcp.Config{
			TypeOfService: listener.cfg.TypeOfService,
			TimeToLive:    listener.cfg.TimeToLive,
			AccessPoint: tcp.AccessPoint{
				StationAddress: listener.station.Addr(),
				StationPort:    listener.station.Port(),
				RemoteAddress:  s.station.Addr(),
				RemotePort:     s.station.Port(),
			},
		},
	}
	s.peer = srv
	s.state = tcp.StateEstablished
	s.cfg.AccessPoint.RemoteAddress = s.remote.Addr()
	s.cfg.AccessPoint.RemotePort = s.remote.Port()

	if len(listener.pendingAccept) > 0 {
		atok := listener.pendingAccept[0]
		listener.pendingAccept = listener.pendingAccept[1:]
		atok.NewChild = listener.installChildLocked(srv)
		s.ns.complete(&atok.Token, efi.Success)
	} else {
		listener.backlog = append(listener.backlog, srv)
	}

	s.ns.complete(&tok.Token, efi.Success)
	return efi.Success
}

func (s *socket) Transmit(tok *tcp.IOToken) efi.Status {
	if tok == nil || tok.Tx == nil || tok.Token.Event.IsNull() {
		return efi.InvalidParameter
	}

	s.ns.mu.Lock()
	defer s.ns.mu.Unlock()

	if !s.configured {
		return efi.NotStarted
	}
	if s.state != tcp.StateEstablished {
		return efi.AccessDenied
	}
	if s.reset {
		s.ns.complete(&tok.Token, efi.ConnectionReset)
		return efi.Success
	}
	if s.peer == nil {
		// The remote end is gone, nothing will ever read this.
		s.ns.complete(&tok.Token, efi.ConnectionReset)
		return efi.Success
	}

	td := tok.Tx
	n := int(td.DataLength)
	if n > s.ns.window {
		n = s.ns.window
	}
	remaining := n
	for _, f := range td.Fragments() {
		if remaining == 0 {
			break
		}
		k := int(f.Length)
		if k > remaining {
			k = remaining
		}
		s.peer.rx = append(s.peer.rx, f.Data[:k]...)
		remaining -= k
	}
	td.DataLength = uint32(n)
	s.peer.flushRecvLocked()
	s.ns.complete(&tok.Token, efi.Success)
	return efi.Success
}

func (s *socket) Receive(tok *tcp.IOToken) efi.Status {
	if tok == nil || tok.Rx == nil || tok.Token.Event.IsNull() {
		return efi.InvalidParameter
	}

	s.ns.mu.Lock()
	defer s.ns.mu.Unlock()

	if !s.configured {
		return efi.NotStarted
	}
	if s.state != tcp.StateEstablished {
		return efi.AccessDenied
	}

	s.pendingRecv = append(s.pendingRecv, tok)
	s.flushRecvLocked()
	return efi.Success
}

// flushRecvLocked completes parked receive tokens in order, as long as
// there is buffered data or a terminal condition to report. Buffered
// data always drains before a FIN is surfaced; a reset discards it.
func (s *socket) flushRecvLocked() {
	for len(s.pendingRecv) > 0 {
		tok := s.pendingRecv[0]
		switch {
		case s.reset:
			s.ns.complete(&tok.Token, efi.ConnectionReset)
		case len(s.rx) > 0:
			rd := tok.Rx
			n := 0
			for _, f := range rd.Fragments() {
				if len(s.rx) == 0 {
					break
				}
				k := copy(f.Data[:f.Length], s.rx)
				s.rx = s.rx[k:]
				n += k
			}
			rd.DataLength = uint32(n)
			s.ns.complete(&tok.Token, efi.Success)
		case s.fin:
			s.ns.complete(&tok.Token, efi.ConnectionFin)
		default:
			return
		}
		s.pendingRecv = s.pendingRecv[1:]
	}
}

func (s *socket) Close(tok *tcp.CloseToken) efi.Status {
	if tok == nil || tok.Token.Event.IsNull() {
		return efi.InvalidParameter
	}

	s.ns.mu.Lock()
	defer s.ns.mu.Unlock()

	if !s.configured {
		return efi.NotStarted
	}

	if peer := s.peer; peer != nil {
		if tok.AbortOnClose {
			peer.reset = true
		} else {
			peer.fin = true
		}
		peer.peer = nil
		peer.flushRecvLocked()
		s.peer = nil
	}

	// Whatever this socket still had in flight is torn down with it.
	for _, atok := range s.pendingAccept {
		s.ns.complete(&atok.Token, efi.Aborted)
	}
	s.pendingAccept = nil
	for _, rtok := range s.pendingRecv {
		s.ns.complete(&rtok.Token, efi.Aborted)
	}
	s.pendingRecv = nil
	s.backlog = nil

	if s.ns.listeners[s.station] == s {
		delete(s.ns.listeners, s.station)
	}
	s.state = tcp.StateClosed

	s.ns.complete(&tok.Token, efi.Success)
	return efi.Success
}

func (s *socket) ModeData() (tcp.ModeData, efi.Status) {
	s.ns.mu.Lock()
	defer s.ns.mu.Unlock()

	if !s.configured {
		return tcp.ModeData{}, efi.NotStarted
	}
	return tcp.ModeData{State: s.state, Config: s.cfg}, efi.Success
}
