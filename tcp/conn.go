package tcp

import (
	"errors"
	"net/netip"

	"github.com/efibridge/efibridge/efi"
)

// Quality-of-service constants applied to every child configuration.
// They are chosen once for the whole adapter.
const (
	typeOfService uint8 = 8
	timeToLive    uint8 = 255
)

// State is the adapter-side lifecycle state of a Conn.
type State uint8

const (
	Unconfigured State = iota
	Configured
	Listening
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Configured:
		return "configured"
	case Listening:
		return "listening"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "invalid"
	}
}

// Conn is a stream socket: the synchronous façade over one firmware
// child handle. Each operation allocates a fresh completion token,
// issues the non-blocking firmware call, waits on the token's event and
// translates the completion status.
//
// A Conn exclusively owns its child handle; the protocol interface is
// only valid while the child is alive. Operations on one Conn are
// strictly sequential: the firmware contract does not define
// overlapping in-flight operations in the same direction, and issuing a
// close while another operation is outstanding is undefined.
type Conn struct {
	binding   Binding
	child     efi.Handle
	proto     Protocol
	state     State
	destroyed bool
}

// New creates a fresh unconfigured stream socket: a new child is
// allocated under the binding and the stream protocol is opened on it.
func New(binding Binding) (*Conn, error) {
	child, err := binding.CreateChild()
	if err != nil {
		return nil, err
	}
	conn, err := newConn(binding, child, Unconfigured)
	if err != nil {
		// The child was allocated but cannot be used, release it so the
		// firmware does not leak it.
		_ = binding.DestroyChild(child)
		return nil, err
	}
	return conn, nil
}

func newConn(binding Binding, child efi.Handle, state State) (*Conn, error) {
	proto, err := efi.Open[Protocol](binding.sys.Boot(), child, binding.family.ProtocolGuid())
	if err != nil {
		return nil, err
	}
	return &Conn{binding: binding, child: child, proto: proto, state: state}, nil
}

// Child returns the handle of the owned firmware child.
func (c *Conn) Child() efi.Handle { return c.child }

// State returns the adapter-side lifecycle state.
func (c *Conn) State() State { return c.state }

// Configure issues the firmware configure call with the adapter's fixed
// quality-of-service defaults. Passive use (listen/accept) is selected
// with active=false. Re-configuring an already configured socket is
// firmware-defined and not special-cased here.
func (c *Conn) Configure(useDefaultAddress, active bool, station netip.AddrPort, subnetMask netip.Addr, remote netip.AddrPort) error {
	cfg := &Config{
		TypeOfService: typeOfService,
		TimeToLive:    timeToLive,
		AccessPoint: AccessPoint{
			UseDefaultAddress: useDefaultAddress,
			StationAddress:    station.Addr(),
			StationPort:       station.Port(),
			SubnetMask:        subnetMask,
			RemoteAddress:     remote.Addr(),
			RemotePort:        remote.Port(),
			ActiveFlag:        active,
		},
	}
	if err := c.proto.Configure(cfg).Err(); err != nil {
		return err
	}
	if c.state == Unconfigured {
		c.state = Configured
	}
	return nil
}

// Accept blocks until the firmware delivers the next inbound
// connection and wraps the new child handle as a fresh connected Conn
// sharing the same binding. The listening socket stays listening.
func (c *Conn) Accept() (*Conn, error) {
	event, err := efi.NewEvent(c.binding.sys.Boot(), efi.EventNotifyWait, efi.TPLCallback, nil)
	if err != nil {
		return nil, err
	}
	defer event.Close()

	tok := &ListenToken{Token: efi.NewCompletionToken(event)}
	if err := c.proto.Accept(tok).Err(); err != nil {
		return nil, err
	}
	if err := event.Wait(); err != nil {
		return nil, err
	}
	if err := tok.Token.Status.Err(); err != nil {
		return nil, err
	}
	if c.state == Configured {
		c.state = Listening
	}
	if tok.NewChild.IsNull() {
		// Nominal success with no child is a firmware contract
		// violation, reported rather than dereferenced.
		return nil, errors.New("tcp: accept completed with a null child handle")
	}
	return newConn(c.binding, tok.NewChild, Connected)
}

// Connect performs the active open against the configured remote
// address, by symmetry with Accept: fresh token, issue, wait,
// translate.
func (c *Conn) Connect() error {
	event, err := efi.NewEvent(c.binding.sys.Boot(), efi.EventNotifyWait, efi.TPLCallback, nil)
	if err != nil {
		return err
	}
	defer event.Close()

	tok := &ConnectToken{Token: efi.NewCompletionToken(event)}
	if err := c.proto.Connect(tok).Err(); err != nil {
		return err
	}
	if err := event.Wait(); err != nil {
		return err
	}
	if err := tok.Token.Status.Err(); err != nil {
		return err
	}
	c.state = Connected
	return nil
}

// Transmit sends the buffer and returns the number of bytes the
// firmware reports as sent. Partial sends are legal: the reported
// count, not the requested length, is authoritative.
func (c *Conn) Transmit(buf []byte) (int, error) {
	return c.TransmitVectored(buf)
}

// TransmitVectored sends the regions as one scatter/gather operation.
func (c *Conn) TransmitVectored(bufs ...[]byte) (int, error) {
	td, err := NewTransmitData(true, false, bufs...)
	if err != nil {
		return 0, err
	}

	event, err := efi.NewEvent(c.binding.sys.Boot(), efi.EventNotifyWait, efi.TPLCallback, nil)
	if err != nil {
		return 0, err
	}
	defer event.Close()

	tok := &IOToken{Token: efi.NewCompletionToken(event), Tx: td}
	if err := c.proto.Transmit(tok).Err(); err != nil {
		return 0, err
	}
	// The regions referenced by td stay pinned until this wait returns;
	// the completion signal is the earliest point the firmware is done
	// reading them.
	if err := event.Wait(); err != nil {
		return 0, err
	}
	if err := tok.Token.Status.Err(); err != nil {
		return 0, err
	}
	return int(td.DataLength), nil
}

// Receive fills the buffer and returns the number of bytes actually
// placed into it. Fewer bytes than requested is not an error and not
// end-of-stream.
func (c *Conn) Receive(buf []byte) (int, error) {
	return c.ReceiveVectored(buf)
}

// ReceiveVectored fills the regions in order as one scatter/gather
// operation.
func (c *Conn) ReceiveVectored(bufs ...[]byte) (int, error) {
	rd, err := NewReceiveData(false, bufs...)
	if err != nil {
		return 0, err
	}

	event, err := efi.NewEvent(c.binding.sys.Boot(), efi.EventNotifyWait, efi.TPLCallback, nil)
	if err != nil {
		return 0, err
	}
	defer event.Close()

	tok := &IOToken{Token: efi.NewCompletionToken(event), Rx: rd}
	if err := c.proto.Receive(tok).Err(); err != nil {
		return 0, err
	}
	if err := event.Wait(); err != nil {
		return 0, err
	}
	if err := tok.Token.Status.Err(); err != nil {
		return 0, err
	}
	return int(rd.DataLength), nil
}

// Close issues the firmware close call, aborting the connection when
// abort is set, and waits for completion.
func (c *Conn) Close(abort bool) error {
	event, err := efi.NewEvent(c.binding.sys.Boot(), efi.EventNotifyWait, efi.TPLCallback, nil)
	if err != nil {
		return err
	}
	defer event.Close()

	tok := &CloseToken{Token: efi.NewCompletionToken(event), AbortOnClose: abort}
	if err := c.proto.Close(tok).Err(); err != nil {
		return err
	}
	if err := event.Wait(); err != nil {
		return err
	}
	if err := tok.Token.Status.Err(); err != nil {
		return err
	}
	c.state = Closed
	return nil
}

// RemoteAddr returns the configured remote endpoint from the child's
// mode data. Read-only, does not mutate connection state.
func (c *Conn) RemoteAddr() (netip.AddrPort, error) {
	md, err := c.modeData()
	if err != nil {
		return netip.AddrPort{}, err
	}
	return md.Config.AccessPoint.Remote(), nil
}

// LocalAddr returns the configured station endpoint from the child's
// mode data.
func (c *Conn) LocalAddr() (netip.AddrPort, error) {
	md, err := c.modeData()
	if err != nil {
		return netip.AddrPort{}, err
	}
	return md.Config.AccessPoint.Station(), nil
}

func (c *Conn) modeData() (ModeData, error) {
	md, status := c.proto.ModeData()
	if err := status.Err(); err != nil {
		return ModeData{}, err
	}
	return md, nil
}

// Destroy releases the firmware child: an aborting close followed by
// destruction of the child handle, in that order, always, even when the
// close fails. Both steps are best-effort since there is no caller left
// to report to, and the child is destroyed exactly once no matter how
// many times Destroy runs.
func (c *Conn) Destroy() {
	if c.destroyed {
		return
	}
	c.destroyed = true
	_ = c.Close(true)
	_ = c.binding.DestroyChild(c.child)
	c.state = Closed
}
