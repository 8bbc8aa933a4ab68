package ipam

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"net/netip"
)

type pool6 struct {
	base [16]byte
	bits int
	used bitset
}

func (p *pool6) Prefix() netip.Prefix {
	return netip.PrefixFrom(netip.AddrFrom16(p.base), p.bits)
}

func (p *pool6) Get() (netip.Addr, bool) {
	i := p.used.firstZero()
	if i == 0 {
		p.used.grow(1)
		p.used.set(0)
		i = p.used.firstZero()
	}
	addr := add16(p.base, i)
	if !p.Prefix().Contains(netip.AddrFrom16(addr)) {
		return netip.Addr{}, false
	}
	p.used.grow(i + 1)
	p.used.set(i)
	return netip.AddrFrom16(addr), true
}

func (p *pool6) Put(addr netip.Addr) {
	i := sub16(addr.As16(), p.base)
	if i == 0 || !p.used.has(i) {
		panic(fmt.Sprintf("ipam: address %s returned to pool %s but not allocated from it", addr, p.Prefix()))
	}
	p.used.unset(i)
}

func add16(ip [16]byte, n int) [16]byte {
	hi := binary.BigEndian.Uint64(ip[:8])
	lo := binary.BigEndian.Uint64(ip[8:])
	x, c := bits.Add64(lo, uint64(n), 0)
	y, _ := bits.Add64(hi, 0, c)
	binary.BigEndian.PutUint64(ip[:8], y)
	binary.BigEndian.PutUint64(ip[8:], x)
	return ip
}

func sub16(ip, base [16]byte) int {
	lo1 := binary.BigEndian.Uint64(ip[8:])
	lo2 := binary.BigEndian.Uint64(base[8:])
	d, _ := bits.Sub64(lo1, lo2, 0)
	return int(d)
}
