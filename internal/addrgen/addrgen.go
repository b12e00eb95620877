// Package addrgen implements the deterministic full-permutation walk over
// the 32-bit IPv4 address space used to pick scan targets.
package addrgen

import "github.com/quartzscan/mcscan/internal/exclude"

// LCG parameters satisfying the Hull-Dobell conditions for modulus 2^32, so
// the recurrence state = a*state + c is a permutation of the full 32-bit
// space with period 2^32.
const (
	lcgA uint32 = 1664525
	lcgC uint32 = 1013904223
)

// Generator yields every IPv4 address not covered by an exclusion set,
// exactly once, in a permuted order, then signals exhaustion forever after.
//
// state is host byte order; Next returns network byte order. The zero state
// is both the LCG seed and the exhaustion sentinel, but that coincidence
// never reaches callers: exhaustion is tracked by an explicit bool, and the
// sentinel at the public interface is an explicit (0, false) return rather
// than the magic address 0.0.0.0.
type Generator struct {
	excl     *exclude.Set
	state    uint32
	finished bool
}

// New constructs a Generator that will skip every address matched by excl.
// excl may be nil, in which case no address is excluded.
func New(excl *exclude.Set) *Generator {
	return &Generator{excl: excl}
}

// Next advances the generator and returns the next non-excluded address in
// network byte order. The second return value is false exactly once the
// walk has returned to its seed, and on every call thereafter.
func (g *Generator) Next() (uint32, bool) {
	if g.finished {
		return 0, false
	}

	for {
		g.state = g.state*lcgA + lcgC
		if g.state == 0 {
			// Returned to the seed: the permutation is exhausted. This is
			// checked before the exclusion test, not after, so that an
			// empty exclusion set still exhausts cleanly without ever
			// yielding the sentinel address.
			g.finished = true
			return 0, false
		}
		if g.excl == nil || !g.excl.Contains(g.state) {
			break
		}
	}

	return networkOrder(g.state), true
}

// networkOrder converts a host-order uint32 address into its network-order
// (big-endian) bit pattern, still represented as a uint32.
func networkOrder(v uint32) uint32 {
	return (v>>24)&0xFF | (v>>8)&0xFF00 | (v<<8)&0xFF0000 | (v << 24)
}
