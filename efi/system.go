package efi

import (
	"fmt"
	"sync/atomic"
)

// System wraps a BootServices table and acts as the locator that
// resolves a protocol family to a live handle. Components hold a
// *System explicitly; the package-level default exists for program-wide
// use and is set exactly once at startup.
type System struct {
	boot BootServices
}

func NewSystem(boot BootServices) *System {
	if boot == nil {
		panic("efi: nil boot services")
	}
	return &System{boot: boot}
}

func (s *System) Boot() BootServices { return s.boot }

// LocateHandle resolves the protocol family to the first live handle
// carrying it.
func (s *System) LocateHandle(guid Guid) (Handle, error) {
	handles, err := s.LocateHandles(guid)
	if err != nil {
		return NullHandle, err
	}
	return handles[0], nil
}

// LocateHandles resolves the protocol family to every live handle
// carrying it. It fails with ErrNotFound when no handle does.
func (s *System) LocateHandles(guid Guid) ([]Handle, error) {
	handles, status := s.boot.LocateHandles(guid)
	if err := status.Err(); err != nil {
		return nil, err
	}
	if len(handles) == 0 {
		return nil, NotFound.Err()
	}
	return handles, nil
}

// Open resolves the protocol family on the handle and narrows the
// interface to the requested type. An installed interface of the wrong
// type is a firmware contract violation.
func Open[T any](boot BootServices, handle Handle, guid Guid) (T, error) {
	var zero T
	intf, status := boot.OpenProtocol(handle, guid)
	if err := status.Err(); err != nil {
		return zero, err
	}
	p, ok := intf.(T)
	if !ok {
		return zero, fmt.Errorf("efi: protocol %s on %s has interface type %T, want %T", guid, handle, intf, zero)
	}
	return p, nil
}

var defaultSystem atomic.Pointer[System]

// Init installs the process-wide default system. It must be called
// exactly once, before any adapter call that relies on Default; the
// locator is read-only from then on.
func Init(s *System) {
	if s == nil {
		panic("efi: Init with nil system")
	}
	if !defaultSystem.CompareAndSwap(nil, s) {
		panic("efi: Init called twice")
	}
}

// Default returns the process-wide system installed by Init. It panics
// when called before Init: no adapter call may occur before the
// initialization barrier.
func Default() *System {
	s := defaultSystem.Load()
	if s == nil {
		panic("efi: Default called before Init")
	}
	return s
}
