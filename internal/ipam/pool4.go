package ipam

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

type pool4 struct {
	base [4]byte
	bits int
	used bitset
}

func (p *pool4) Prefix() netip.Prefix {
	return netip.PrefixFrom(netip.AddrFrom4(p.base), p.bits)
}

func (p *pool4) Get() (netip.Addr, bool) {
	// Offset zero is the network address, keep it reserved.
	i := p.used.firstZero()
	if i == 0 {
		p.used.grow(1)
		p.used.set(0)
		i = p.used.firstZero()
	}
	addr := add4(p.base, i)
	if !p.Prefix().Contains(netip.AddrFrom4(addr)) {
		return netip.Addr{}, false
	}
	p.used.grow(i + 1)
	p.used.set(i)
	return netip.AddrFrom4(addr), true
}

func (p *pool4) Put(addr netip.Addr) {
	i := sub4(addr.As4(), p.base)
	if i == 0 || !p.used.has(i) {
		panic(fmt.Sprintf("ipam: address %s returned to pool %s but not allocated from it", addr, p.Prefix()))
	}
	p.used.unset(i)
}

func add4(ip [4]byte, n int) [4]byte {
	u := binary.BigEndian.Uint32(ip[:]) + uint32(n)
	binary.BigEndian.PutUint32(ip[:], u)
	return ip
}

func sub4(ip, base [4]byte) int {
	return int(binary.BigEndian.Uint32(ip[:]) - binary.BigEndian.Uint32(base[:]))
}
