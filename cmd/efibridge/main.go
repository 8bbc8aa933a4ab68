// Command efibridge exercises the adapter stack end to end over the
// in-memory firmware: it starts an echo listener, connects to it,
// pushes a payload through both directions, and reports the result
// through a redirected stdio stream.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"net/netip"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/efibridge/efibridge/efi"
	"github.com/efibridge/efibridge/internal/loopback"
	"github.com/efibridge/efibridge/pipe"
	"github.com/efibridge/efibridge/stdio"
	"github.com/efibridge/efibridge/tcp"
)

const program = "efibridge"

func main() {
	log.SetFlags(0)
	log.SetPrefix("efibridge: ")

	var (
		configPath string
		listenAddr string
		payload    string
		verbose    bool
	)
	flags := pflag.NewFlagSet(program, pflag.ExitOnError)
	flags.StringVarP(&configPath, "config", "c", "", "path to the firmware configuration file")
	flags.StringVar(&listenAddr, "listen", "10.0.2.15:7", "station address of the echo listener")
	flags.StringVar(&payload, "payload", "hello from the bridge", "payload sent through the echo connection")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log each step")
	_ = flags.Parse(os.Args[1:])

	if err := run(configPath, listenAddr, []byte(payload), verbose); err != nil {
		log.Fatal(err)
	}
}

func run(configPath, listenAddr string, payload []byte, verbose bool) error {
	station, err := netip.ParseAddrPort(listenAddr)
	if err != nil {
		return fmt.Errorf("listen address: %w", err)
	}

	config, err := loopback.LoadConfig(configPath)
	if err != nil {
		return err
	}
	fw, err := loopback.New(config)
	if err != nil {
		return err
	}
	fw.InstallConsole(os.Stdout)

	sys := efi.NewSystem(fw)
	efi.Init(sys)

	family := tcp.IPv4
	if station.Addr().Is6() {
		family = tcp.IPv6
	}
	binding, err := tcp.LocateBinding(sys, family)
	if err != nil {
		return err
	}

	listener, err := tcp.New(binding)
	if err != nil {
		return err
	}
	defer listener.Destroy()
	if err := listener.Configure(false, false, station, netip.Addr{}, netip.AddrPort{}); err != nil {
		return fmt.Errorf("configure listener: %w", err)
	}
	if verbose {
		log.Printf("listening on %s", station)
	}

	var group errgroup.Group
	group.Go(func() error { return echo(listener, verbose) })

	client, err := tcp.New(binding)
	if err != nil {
		return err
	}
	defer client.Destroy()
	if err := client.Configure(true, true, netip.AddrPort{}, netip.Addr{}, station); err != nil {
		return fmt.Errorf("configure client: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if verbose {
		local, _ := client.LocalAddr()
		log.Printf("connected from %s", local)
	}

	if err := transmitAll(client, payload); err != nil {
		return fmt.Errorf("transmit: %w", err)
	}
	reply := make([]byte, 0, len(payload))
	buf := make([]byte, 512)
	for len(reply) < len(payload) {
		n, err := client.Receive(buf)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		reply = append(reply, buf[:n]...)
	}
	if err := client.Close(false); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := group.Wait(); err != nil {
		return err
	}

	if !bytes.Equal(reply, payload) {
		return fmt.Errorf("echo mismatch: sent %q, received %q", payload, reply)
	}
	return report(sys, len(payload))
}

// echo accepts one connection and writes everything it receives back
// to the sender until the remote end closes.
func echo(listener *tcp.Conn, verbose bool) error {
	conn, err := listener.Accept()
	if err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	defer conn.Destroy()
	if verbose {
		remote, _ := conn.RemoteAddr()
		log.Printf("accepted %s", remote)
	}

	buf := make([]byte, 512)
	for {
		n, err := conn.Receive(buf)
		if err != nil {
			if isClosed(err) {
				return nil
			}
			return fmt.Errorf("echo receive: %w", err)
		}
		if err := transmitAll(conn, buf[:n]); err != nil {
			return fmt.Errorf("echo transmit: %w", err)
		}
	}
}

func transmitAll(conn *tcp.Conn, p []byte) error {
	for len(p) > 0 {
		n, err := conn.Transmit(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func isClosed(err error) bool {
	var se *efi.StatusError
	if errors.As(err, &se) {
		return se.Status == efi.ConnectionFin || se.Status == efi.ConnectionReset
	}
	return false
}

// report pushes the summary through a redirected stdout stream and
// drains the backing channel, exercising the stdio convention the
// process-spawn layer uses.
func report(sys *efi.System, n int) error {
	channel, err := pipe.NewBuffered(sys)
	if err != nil {
		return err
	}
	defer channel.Close()

	vars := stdio.MapVars{
		stdio.RedirectKey(program, stdio.Stdout): stdio.RedirectValue(channel.Handle()),
	}
	out := stdio.NewWriter(sys, vars, program, stdio.Stdout)
	if _, err := fmt.Fprintf(out, "echoed %d bytes\n", n); err != nil {
		return err
	}

	captured, err := channel.ReadToEnd(nil)
	if err != nil {
		return err
	}
	log.Print(string(bytes.TrimRight(captured, "\n")))
	return nil
}
