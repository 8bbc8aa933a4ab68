// Package loopback is a complete in-memory firmware: an implementation
// of the boot-services capability table with TCP4 and TCP6 service
// bindings over a process-local network. It is the test double for the
// adapter packages and a usable host for programs that only need to
// talk to themselves.
package loopback

import (
	"sync"

	"golang.org/x/exp/slices"

	"github.com/efibridge/efibridge/efi"
	"github.com/efibridge/efibridge/tcp"
)

// Firmware implements efi.BootServices.
type Firmware struct {
	mu      sync.Mutex
	next    efi.Handle
	handles map[efi.Handle]map[efi.Guid]any
	events  map[efi.Handle]*event
	net     *netstack
}

var _ efi.BootServices = (*Firmware)(nil)

// New builds a firmware instance and installs the TCP4 and TCP6
// service bindings on it.
func New(config Config) (*Firmware, error) {
	prefix4, prefix6, err := config.validate()
	if err != nil {
		return nil, err
	}
	fw := &Firmware{
		handles: make(map[efi.Handle]map[efi.Guid]any),
		events:  make(map[efi.Handle]*event),
	}
	fw.net, err = newNetstack(fw, prefix4, prefix6, config.Network)
	if err != nil {
		return nil, err
	}
	fw.install(tcp.ServiceBinding4Guid, &serviceBinding{ns: fw.net, family: tcp.IPv4})
	fw.install(tcp.ServiceBinding6Guid, &serviceBinding{ns: fw.net, family: tcp.IPv6})
	return fw, nil
}

func (fw *Firmware) newHandleLocked() efi.Handle {
	fw.next++
	return fw.next
}

// install puts a protocol interface on a fresh handle. Internal
// installs cannot fail.
func (fw *Firmware) install(guid efi.Guid, intf any) efi.Handle {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	h := fw.newHandleLocked()
	fw.handles[h] = map[efi.Guid]any{guid: intf}
	return h
}

func (fw *Firmware) uninstall(h efi.Handle, guid efi.Guid) bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	protocols, ok := fw.handles[h]
	if !ok {
		return false
	}
	if _, ok := protocols[guid]; !ok {
		return false
	}
	delete(protocols, guid)
	if len(protocols) == 0 {
		delete(fw.handles, h)
	}
	return true
}

func (fw *Firmware) lookup(h efi.Handle, guid efi.Guid) (any, bool) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	intf, ok := fw.handles[h][guid]
	return intf, ok
}

// signal signals the event behind a token, if it still exists. Used by
// the network to deliver completions.
func (fw *Firmware) signal(h efi.Handle) {
	fw.mu.Lock()
	ev := fw.events[h]
	fw.mu.Unlock()
	if ev != nil {
		ev.signal()
	}
}

func (fw *Firmware) CreateEvent(typ efi.EventType, tpl efi.TPL, notify func()) (efi.Handle, efi.Status) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	h := fw.newHandleLocked()
	fw.events[h] = &event{typ: typ, tpl: tpl, notify: notify, sig: make(chan struct{}, 1)}
	return h, efi.Success
}

func (fw *Firmware) SignalEvent(h efi.Handle) efi.Status {
	fw.mu.Lock()
	ev := fw.events[h]
	fw.mu.Unlock()
	if ev == nil {
		return efi.InvalidParameter
	}
	ev.signal()
	return efi.Success
}

func (fw *Firmware) WaitForEvent(h efi.Handle) efi.Status {
	fw.mu.Lock()
	ev := fw.events[h]
	fw.mu.Unlock()
	if ev == nil {
		return efi.InvalidParameter
	}
	ev.wait()
	return efi.Success
}

func (fw *Firmware) CloseEvent(h efi.Handle) efi.Status {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, ok := fw.events[h]; !ok {
		return efi.InvalidParameter
	}
	delete(fw.events, h)
	return efi.Success
}

func (fw *Firmware) InstallProtocol(guid efi.Guid, intf any) (efi.Handle, efi.Status) {
	if intf == nil || guid.IsZero() {
		return efi.NullHandle, efi.InvalidParameter
	}
	return fw.install(guid, intf), efi.Success
}

func (fw *Firmware) UninstallProtocol(h efi.Handle, guid efi.Guid) efi.Status {
	if !fw.uninstall(h, guid) {
		return efi.NotFound
	}
	return efi.Success
}

func (fw *Firmware) OpenProtocol(h efi.Handle, guid efi.Guid) (any, efi.Status) {
	fw.mu.Lock()
	protocols, ok := fw.handles[h]
	if !ok {
		fw.mu.Unlock()
		return nil, efi.InvalidParameter
	}
	intf, ok := protocols[guid]
	fw.mu.Unlock()
	if !ok {
		return nil, efi.Unsupported
	}
	return intf, efi.Success
}

func (fw *Firmware) LocateHandles(guid efi.Guid) ([]efi.Handle, efi.Status) {
	fw.mu.Lock()
	var handles []efi.Handle
	for h, protocols := range fw.handles {
		if _, ok := protocols[guid]; ok {
			handles = append(handles, h)
		}
	}
	fw.mu.Unlock()
	if len(handles) == 0 {
		return nil, efi.NotFound
	}
	slices.Sort(handles)
	return handles, efi.Success
}

// event is a latching notification primitive: signaling an already
// signaled event is a no-op, waiting consumes the signaled state.
type event struct {
	typ    efi.EventType
	tpl    efi.TPL
	notify func()
	sig    chan struct{}
}

func (ev *event) signal() {
	if ev.typ&efi.EventNotifySignal != 0 && ev.notify != nil {
		ev.notify()
	}
	select {
	case ev.sig <- struct{}{}:
	default:
	}
}

func (ev *event) wait() {
	if ev.typ&efi.EventNotifyWait != 0 && ev.notify != nil {
		ev.notify()
	}
	<-ev.sig
}
