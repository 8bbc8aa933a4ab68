// Package ipam implements IP address management for the address blocks
// the in-memory firmware hands out when a stream child is configured
// with use-default-address.
package ipam

import (
	"fmt"
	"net/netip"
)

// Pool hands out addresses from a fixed prefix and takes them back.
type Pool interface {
	// Get obtains the next free address, or reports false when the
	// prefix is exhausted.
	Get() (netip.Addr, bool)

	// Put returns an address to the pool. The address must have been
	// obtained from a previous Get or the method panics.
	Put(netip.Addr)

	// Prefix returns the address block the pool allocates from.
	Prefix() netip.Prefix
}

// NewPool constructs a pool over the given address block. The network
// address itself (offset zero) is never handed out.
func NewPool(prefix netip.Prefix) (Pool, error) {
	prefix = prefix.Masked()
	if !prefix.IsValid() {
		return nil, fmt.Errorf("ipam: invalid prefix %s", prefix)
	}
	if prefix.Addr().Is4() {
		return &pool4{base: prefix.Addr().As4(), bits: prefix.Bits()}, nil
	}
	return &pool6{base: prefix.Addr().As16(), bits: prefix.Bits()}, nil
}
