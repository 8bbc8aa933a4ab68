package tcp

import (
	"fmt"

	"github.com/efibridge/efibridge/efi"
)

// Binding identifies the service-binding factory of one stream family
// on a parent handle. It is an immutable, freely copyable value and
// never owns the children it creates.
//
// Both operations resolve the service-binding protocol on the parent
// handle on every call rather than caching it, trading a lookup for
// safety against stale protocol interfaces.
type Binding struct {
	sys    *efi.System
	family Family
	parent efi.Handle
}

// NewBinding builds a binding over an already resolved parent handle.
func NewBinding(sys *efi.System, family Family, parent efi.Handle) Binding {
	return Binding{sys: sys, family: family, parent: parent}
}

// LocateBinding resolves the family's service binding through the
// locator. The resolved value is meant to be copy-shared for the life
// of the program.
func LocateBinding(sys *efi.System, family Family) (Binding, error) {
	parent, err := sys.LocateHandle(family.BindingGuid())
	if err != nil {
		return Binding{}, fmt.Errorf("tcp: no %s service binding: %w", family, err)
	}
	return NewBinding(sys, family, parent), nil
}

// Family returns the stream family the binding creates children for.
func (b Binding) Family() Family { return b.family }

// CreateChild asks the firmware to allocate a new child of the bound
// family and returns its handle.
func (b Binding) CreateChild() (efi.Handle, error) {
	sb, err := efi.Open[efi.ServiceBinding](b.sys.Boot(), b.parent, b.family.BindingGuid())
	if err != nil {
		return efi.NullHandle, err
	}
	child, status := sb.CreateChild()
	if err := status.Err(); err != nil {
		return efi.NullHandle, err
	}
	if child.IsNull() {
		return efi.NullHandle, fmt.Errorf("tcp: %s service binding returned a null child handle", b.family)
	}
	return child, nil
}

// DestroyChild releases a child previously returned by CreateChild.
func (b Binding) DestroyChild(child efi.Handle) error {
	sb, err := efi.Open[efi.ServiceBinding](b.sys.Boot(), b.parent, b.family.BindingGuid())
	if err != nil {
		return err
	}
	return sb.DestroyChild(child).Err()
}
