package loopback

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/efibridge/efibridge/efi"
	"github.com/efibridge/efibridge/internal/assert"
	"github.com/efibridge/efibridge/tcp"
)

var (
	mask4    = netip.MustParseAddr("255.255.255.0")
	station4 = netip.MustParseAddrPort("10.0.2.15:7")
	station6 = netip.MustParseAddrPort("[fd17:625c:f037::2]:7")
)

func newTestNet(t *testing.T, config Config, family tcp.Family) (*Firmware, tcp.Binding) {
	fw, err := New(config)
	assert.OK(t, err)
	binding, err := tcp.LocateBinding(efi.NewSystem(fw), family)
	assert.OK(t, err)
	return fw, binding
}

// establish wires a listener and a connected pair through the loopback
// network: the active open lands in the listener's backlog, so the
// accept that follows completes without a second execution context.
func establish(t *testing.T, binding tcp.Binding, station netip.AddrPort, mask netip.Addr) (client, server, listener *tcp.Conn) {
	listener, err := tcp.New(binding)
	assert.OK(t, err)
	assert.OK(t, listener.Configure(false, false, station, mask, netip.AddrPort{}))

	client, err = tcp.New(binding)
	assert.OK(t, err)
	assert.OK(t, client.Configure(true, true, netip.AddrPort{}, mask, station))
	assert.OK(t, client.Connect())

	server, err = listener.Accept()
	assert.OK(t, err)
	return client, server, listener
}

func statusOf(t *testing.T, err error) efi.Status {
	var se *efi.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected a firmware status error, got %v", err)
	}
	return se.Status
}

func TestConnectAcceptRoundTrip(t *testing.T) {
	_, binding := newTestNet(t, DefaultConfig(), tcp.IPv4)
	client, server, _ := establish(t, binding, station4, mask4)

	n, err := client.Transmit([]byte("ping"))
	assert.OK(t, err)
	assert.Equal(t, n, 4)

	buf := make([]byte, 16)
	n, err = server.Receive(buf)
	assert.OK(t, err)
	assert.EqualAll(t, buf[:n], []byte("ping"))

	n, err = server.Transmit([]byte("pong"))
	assert.OK(t, err)
	assert.Equal(t, n, 4)

	n, err = client.Receive(buf)
	assert.OK(t, err)
	assert.EqualAll(t, buf[:n], []byte("pong"))
}

func TestVectoredTransferCrossesFragmentBoundaries(t *testing.T) {
	_, binding := newTestNet(t, DefaultConfig(), tcp.IPv4)
	client, server, _ := establish(t, binding, station4, mask4)

	// Two regions out, three regions of different sizes in.
	n, err := client.TransmitVectored([]byte("hello "), []byte("world"))
	assert.OK(t, err)
	assert.Equal(t, n, 11)

	b1 := make([]byte, 2)
	b2 := make([]byte, 5)
	b3 := make([]byte, 8)
	n, err = server.ReceiveVectored(b1, b2, b3)
	assert.OK(t, err)
	assert.Equal(t, n, 11)
	assert.EqualAll(t, b1, []byte("he"))
	assert.EqualAll(t, b2, []byte("llo w"))
	assert.EqualAll(t, b3[:4], []byte("orld"))
}

func TestConnectWithoutListenerIsRefused(t *testing.T) {
	_, binding := newTestNet(t, DefaultConfig(), tcp.IPv4)

	client, err := tcp.New(binding)
	assert.OK(t, err)
	assert.OK(t, client.Configure(true, true, netip.AddrPort{}, mask4, station4))

	err = client.Connect()
	assert.Equal(t, statusOf(t, err), efi.ConnectionRefused)
}

func TestGracefulCloseDrainsBeforeFin(t *testing.T) {
	_, binding := newTestNet(t, DefaultConfig(), tcp.IPv4)
	client, server, _ := establish(t, binding, station4, mask4)

	_, err := client.Transmit([]byte("last words"))
	assert.OK(t, err)
	assert.OK(t, client.Close(false))

	// Buffered data survives a graceful close and drains first.
	buf := make([]byte, 16)
	n, err := server.Receive(buf)
	assert.OK(t, err)
	assert.EqualAll(t, buf[:n], []byte("last words"))

	_, err = server.Receive(buf)
	assert.Equal(t, statusOf(t, err), efi.ConnectionFin)
}

func TestAbortiveCloseResetsPeer(t *testing.T) {
	_, binding := newTestNet(t, DefaultConfig(), tcp.IPv4)
	client, server, _ := establish(t, binding, station4, mask4)

	_, err := client.Transmit([]byte("doomed"))
	assert.OK(t, err)
	assert.OK(t, client.Close(true))

	_, err = server.Receive(make([]byte, 16))
	assert.Equal(t, statusOf(t, err), efi.ConnectionReset)
}

func TestTransmitAfterPeerCloseIsReset(t *testing.T) {
	_, binding := newTestNet(t, DefaultConfig(), tcp.IPv4)
	client, server, _ := establish(t, binding, station4, mask4)

	assert.OK(t, server.Close(false))

	_, err := client.Transmit([]byte("nobody home"))
	assert.Equal(t, statusOf(t, err), efi.ConnectionReset)
}

func TestReceiveParksUntilTransmit(t *testing.T) {
	_, binding := newTestNet(t, DefaultConfig(), tcp.IPv4)
	client, server, _ := establish(t, binding, station4, mask4)

	var group errgroup.Group
	buf := make([]byte, 16)
	received := 0
	group.Go(func() error {
		n, err := server.Receive(buf)
		received = n
		return err
	})

	_, err := client.Transmit([]byte("wake up"))
	assert.OK(t, err)
	assert.OK(t, group.Wait())
	assert.EqualAll(t, buf[:received], []byte("wake up"))
}

func TestPartialTransmitReportsWindowedCount(t *testing.T) {
	config := DefaultConfig()
	config.Network.ReceiveWindow = 4
	_, binding := newTestNet(t, config, tcp.IPv4)
	client, server, _ := establish(t, binding, station4, mask4)

	n, err := client.Transmit([]byte("0123456789"))
	assert.OK(t, err)
	assert.Equal(t, n, 4)

	buf := make([]byte, 16)
	n, err = server.Receive(buf)
	assert.OK(t, err)
	assert.EqualAll(t, buf[:n], []byte("0123"))
}

func TestDefaultAddressesAreAssignedFromPool(t *testing.T) {
	_, binding := newTestNet(t, DefaultConfig(), tcp.IPv4)
	prefix := netip.MustParsePrefix(DefaultConfig().Network.IPv4Prefix)

	listener, err := tcp.New(binding)
	assert.OK(t, err)
	assert.OK(t, listener.Configure(false, false, station4, mask4, netip.AddrPort{}))

	var stations []netip.AddrPort
	for i := 0; i < 2; i++ {
		client, err := tcp.New(binding)
		assert.OK(t, err)
		assert.OK(t, client.Configure(true, true, netip.AddrPort{}, mask4, station4))

		local, err := client.LocalAddr()
		assert.OK(t, err)
		assert.True(t, prefix.Contains(local.Addr()), "assigned address outside the configured block: "+local.String())
		assert.True(t, local.Port() >= DefaultConfig().Network.PortMin, "assigned port below the ephemeral range")
		stations = append(stations, local)
	}
	assert.True(t, stations[0].Addr() != stations[1].Addr(), "default addresses must be distinct")
}

func TestStationPortInUseIsDenied(t *testing.T) {
	_, binding := newTestNet(t, DefaultConfig(), tcp.IPv4)

	first, err := tcp.New(binding)
	assert.OK(t, err)
	assert.OK(t, first.Configure(false, false, station4, mask4, netip.AddrPort{}))

	second, err := tcp.New(binding)
	assert.OK(t, err)
	err = second.Configure(false, false, station4, mask4, netip.AddrPort{})
	assert.Error(t, err, efi.ErrPermissionDenied)
}

func TestReconfigureIsRejected(t *testing.T) {
	_, binding := newTestNet(t, DefaultConfig(), tcp.IPv4)

	conn, err := tcp.New(binding)
	assert.OK(t, err)
	assert.OK(t, conn.Configure(false, false, station4, mask4, netip.AddrPort{}))

	err = conn.Configure(false, false, station4, mask4, netip.AddrPort{})
	assert.Equal(t, statusOf(t, err), efi.AlreadyStarted)
}

func TestActiveConfigureRequiresRemote(t *testing.T) {
	_, binding := newTestNet(t, DefaultConfig(), tcp.IPv4)

	conn, err := tcp.New(binding)
	assert.OK(t, err)
	err = conn.Configure(true, true, netip.AddrPort{}, mask4, netip.AddrPort{})
	assert.Error(t, err, efi.ErrInvalidInput)
}

func TestDestroyEstablishedChildIsDenied(t *testing.T) {
	_, binding := newTestNet(t, DefaultConfig(), tcp.IPv4)
	client, server, _ := establish(t, binding, station4, mask4)

	err := binding.DestroyChild(server.Child())
	assert.Error(t, err, efi.ErrPermissionDenied)

	assert.OK(t, server.Close(false))
	assert.OK(t, binding.DestroyChild(server.Child()))
	_ = client
}

func TestDestroyedChildHasNoProtocol(t *testing.T) {
	_, binding := newTestNet(t, DefaultConfig(), tcp.IPv4)

	conn, err := tcp.New(binding)
	assert.OK(t, err)
	child := conn.Child()
	conn.Destroy()

	err = binding.DestroyChild(child)
	assert.Error(t, err, efi.ErrUnsupported)
}

func TestIPv6RoundTrip(t *testing.T) {
	_, binding := newTestNet(t, DefaultConfig(), tcp.IPv6)
	client, server, _ := establish(t, binding, station6, netip.Addr{})

	_, err := client.Transmit([]byte("over six"))
	assert.OK(t, err)

	buf := make([]byte, 16)
	n, err := server.Receive(buf)
	assert.OK(t, err)
	assert.EqualAll(t, buf[:n], []byte("over six"))

	local, err := client.LocalAddr()
	assert.OK(t, err)
	assert.True(t, local.Addr().Is6(), "client station must be an IPv6 address")
}

func TestModeDataReflectsConfiguration(t *testing.T) {
	fw, binding := newTestNet(t, DefaultConfig(), tcp.IPv4)
	client, _, listener := establish(t, binding, station4, mask4)

	local, err := client.LocalAddr()
	assert.OK(t, err)

	remote, err := client.RemoteAddr()
	assert.OK(t, err)
	assert.Equal(t, remote, station4)

	md, err := modeData(fw, binding, client)
	assert.OK(t, err)

	want := tcp.ModeData{
		State: tcp.StateEstablished,
		Config: tcp.Config{
			TypeOfService: 8,
			TimeToLive:    255,
			AccessPoint: tcp.AccessPoint{
				UseDefaultAddress: true,
				StationAddress:    local.Addr(),
				StationPort:       local.Port(),
				SubnetMask:        mask4,
				RemoteAddress:     station4.Addr(),
				RemotePort:        station4.Port(),
				ActiveFlag:        true,
			},
		},
	}
	if diff := cmp.Diff(want, md, cmp.Comparer(func(a, b netip.Addr) bool { return a == b })); diff != "" {
		t.Fatal("mode data mismatch:\n" + diff)
	}

	lmd, err := modeData(fw, binding, listener)
	assert.OK(t, err)
	assert.Equal(t, lmd.State, tcp.StateListen)
}

// modeData reads the raw protocol snapshot behind a connection.
func modeData(fw *Firmware, binding tcp.Binding, conn *tcp.Conn) (tcp.ModeData, error) {
	proto, err := efi.Open[tcp.Protocol](fw, conn.Child(), binding.Family().ProtocolGuid())
	if err != nil {
		return tcp.ModeData{}, err
	}
	md, status := proto.ModeData()
	return md, status.Err()
}
