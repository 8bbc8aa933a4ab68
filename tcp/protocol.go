// Package tcp provides blocking stream sockets over the asynchronous
// firmware stream protocol. IPv4 and IPv6 children are modeled
// uniformly; a Conn is the synchronous façade over one firmware child
// handle.
package tcp

import (
	"net/netip"

	"github.com/efibridge/efibridge/efi"
)

// Protocol family identifiers of the stream protocol and its service
// binding, per the firmware interface definition.
var (
	ServiceBinding4Guid = efi.MustGuid("00720665-67eb-4a99-baf7-d3c33a1c7cc9")
	Protocol4Guid       = efi.MustGuid("65530bc7-a359-410f-b010-5aadc7ec2b62")
	ServiceBinding6Guid = efi.MustGuid("ec20eb79-6c1a-4664-9a0d-d2e4cc16d664")
	Protocol6Guid       = efi.MustGuid("46e44855-bd60-4ab7-ab0d-a679b9447d77")
)

// Family selects the address family of a stream child.
type Family int

const (
	IPv4 Family = iota + 1
	IPv6
)

func (f Family) String() string {
	switch f {
	case IPv4:
		return "tcp4"
	case IPv6:
		return "tcp6"
	default:
		return "tcp?"
	}
}

// BindingGuid returns the service-binding family identifier.
func (f Family) BindingGuid() efi.Guid {
	if f == IPv6 {
		return ServiceBinding6Guid
	}
	return ServiceBinding4Guid
}

// ProtocolGuid returns the stream-protocol family identifier installed
// on child handles.
func (f Family) ProtocolGuid() efi.Guid {
	if f == IPv6 {
		return Protocol6Guid
	}
	return Protocol4Guid
}

// Protocol is the firmware stream protocol installed on each child
// handle. Every call is non-blocking: operations that carry a token
// complete out-of-band by writing the token's status cell and signaling
// its event. A synchronous error status from the call itself means the
// operation was rejected and no completion will be delivered.
type Protocol interface {
	// Configure applies the configuration to the child. A nil config
	// resets the child to its unconfigured state.
	Configure(cfg *Config) efi.Status

	// Accept submits a listen token. On completion the token carries
	// the handle of a fresh connected child.
	Accept(tok *ListenToken) efi.Status

	// Connect submits an active open against the configured remote
	// address.
	Connect(tok *ConnectToken) efi.Status

	// Transmit submits the token's transmit data. On completion the
	// data's DataLength holds the number of bytes actually sent.
	Transmit(tok *IOToken) efi.Status

	// Receive submits the token's receive data. On completion the
	// data's DataLength holds the number of bytes placed into the
	// fragments.
	Receive(tok *IOToken) efi.Status

	// Close submits a close token, aborting the connection when the
	// token says so.
	Close(tok *CloseToken) efi.Status

	// ModeData returns a read-only snapshot of the child's current
	// state and configuration.
	ModeData() (ModeData, efi.Status)
}

// Config is the stream child configuration handed to Configure.
type Config struct {
	TypeOfService uint8
	TimeToLive    uint8
	AccessPoint   AccessPoint
}

// AccessPoint carries the addressing half of a stream configuration.
// ActiveFlag selects between active (connect) and passive (listen) use.
type AccessPoint struct {
	UseDefaultAddress bool
	StationAddress    netip.Addr
	StationPort       uint16
	SubnetMask        netip.Addr
	RemoteAddress     netip.Addr
	RemotePort        uint16
	ActiveFlag        bool
}

// Station returns the local endpoint of the access point.
func (ap AccessPoint) Station() netip.AddrPort {
	return netip.AddrPortFrom(ap.StationAddress, ap.StationPort)
}

// Remote returns the remote endpoint of the access point.
func (ap AccessPoint) Remote() netip.AddrPort {
	return netip.AddrPortFrom(ap.RemoteAddress, ap.RemotePort)
}

// ConnectionState is the firmware-reported state of a stream child.
type ConnectionState uint8

const (
	StateClosed ConnectionState = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateClosing
	StateTimeWait
	StateCloseWait
	StateLastAck
)

func (s ConnectionState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateListen:
		return "listen"
	case StateSynSent:
		return "syn-sent"
	case StateSynReceived:
		return "syn-received"
	case StateEstablished:
		return "established"
	case StateFinWait1:
		return "fin-wait-1"
	case StateFinWait2:
		return "fin-wait-2"
	case StateClosing:
		return "closing"
	case StateTimeWait:
		return "time-wait"
	case StateCloseWait:
		return "close-wait"
	case StateLastAck:
		return "last-ack"
	default:
		return "unknown"
	}
}

// ModeData is the read-only snapshot returned by Protocol.ModeData.
type ModeData struct {
	State  ConnectionState
	Config Config
}

// ListenToken asks the firmware for the next inbound connection. On
// successful completion NewChild holds the handle of the accepted
// child.
type ListenToken struct {
	Token    efi.CompletionToken
	NewChild efi.Handle
}

// ConnectToken asks the firmware for an active open.
type ConnectToken struct {
	Token efi.CompletionToken
}

// IOToken submits transmit or receive data. Exactly one of Tx and Rx is
// set, matching the direction of the call it is submitted to.
type IOToken struct {
	Token efi.CompletionToken
	Tx    *TransmitData
	Rx    *ReceiveData
}

// CloseToken asks the firmware to close the connection, hard when
// AbortOnClose is set.
type CloseToken struct {
	Token        efi.CompletionToken
	AbortOnClose bool
}
