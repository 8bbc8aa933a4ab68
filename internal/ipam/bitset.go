package ipam

import "math/bits"

// bitset tracks allocated offsets within a pool's prefix. It grows
// lazily: allocation scans for the first zero bit, so memory use is
// proportional to the number of live addresses, not the prefix size.
type bitset struct {
	words []uint64
}

func (b *bitset) firstZero() int {
	for i, w := range b.words {
		if w != ^uint64(0) {
			return 64*i + bits.TrailingZeros64(^w)
		}
	}
	return 64 * len(b.words)
}

func (b *bitset) grow(n int) {
	if n = (n + 63) / 64; n > len(b.words) {
		words := make([]uint64, n)
		copy(words, b.words)
		b.words = words
	}
}

func (b *bitset) has(i int) bool {
	return i >= 0 && i < 64*len(b.words) && b.words[i/64]&(1<<uint(i%64)) != 0
}

func (b *bitset) set(i int) {
	b.words[i/64] |= 1 << uint(i%64)
}

func (b *bitset) unset(i int) {
	b.words[i/64] &^= 1 << uint(i%64)
}
