// Package exclude implements the CIDR bogon/reserved exclusion list consulted
// by internal/addrgen on every candidate address.
package exclude

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// entry is a single (prefix, mask) pair. The invariant prefix & ^mask == 0 is
// enforced at construction by masking the parsed prefix.
type entry struct {
	prefix uint32
	mask   uint32
}

// Set is an immutable list of exclusion entries, queried once per candidate
// address by the enumerator. Linear scan is fine: exclusion lists are short
// (tens of entries for standard bogon coverage).
type Set struct {
	entries []entry
}

// Load reads a CIDR exclusion list from path. Lines that do not match the
// "A.B.C.D/P" grammar are skipped silently. A missing or unreadable file is
// a fatal error, since the pump cannot safely scan without it.
func Load(path string, log zerolog.Logger) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load exclusion list: %w", err)
	}
	defer f.Close()

	var s Set
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if e, ok := parseLine(sc.Text()); ok {
			s.entries = append(s.entries, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("load exclusion list: %w", err)
	}

	log.Info().Str("path", path).Int("entries", len(s.entries)).Msg("loaded exclusion list")
	return &s, nil
}

// parseLine parses a single "A.B.C.D/P" line, masking the prefix on ingest
// so that malformed-but-nonzero host bits cannot defeat matching later (e.g.
// "10.5.3.0/8" and "10.0.0.0/8" must produce identical entries).
func parseLine(line string) (entry, bool) {
	addrPart, prefixPart, ok := strings.Cut(strings.TrimSpace(line), "/")
	if !ok {
		return entry{}, false
	}

	octets := strings.Split(addrPart, ".")
	if len(octets) != 4 {
		return entry{}, false
	}

	var addr uint32
	for _, o := range octets {
		v, err := strconv.Atoi(o)
		if err != nil || v < 0 || v > 255 {
			return entry{}, false
		}
		addr = addr<<8 | uint32(v)
	}

	p, err := strconv.Atoi(prefixPart)
	if err != nil || p < 0 || p > 32 {
		return entry{}, false
	}

	mask := maskForPrefix(p)
	return entry{prefix: addr & mask, mask: mask}, true
}

// maskForPrefix returns the high-p-bits-set 32-bit word for a prefix length
// p in [0, 32]. p=0 yields 0; p=32 yields 0xFFFFFFFF.
func maskForPrefix(p int) uint32 {
	if p == 0 {
		return 0
	}
	return ^uint32(0) << (32 - p)
}

// Contains reports whether addr (host byte order) matches any entry in the
// set.
func (s *Set) Contains(addr uint32) bool {
	for _, e := range s.entries {
		if addr&e.mask == e.prefix {
			return true
		}
	}
	return false
}

// Len returns the number of entries loaded, for reporting purposes.
func (s *Set) Len() int {
	return len(s.entries)
}
