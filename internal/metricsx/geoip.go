package metricsx

import (
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/mmcloughlin/geohash"
	"github.com/pg9182/ip2x"
)

// geoLevel is the number of geohash characters each responder is bucketed
// to. 2 chars (~630 km cells) is coarse enough to keep metric cardinality
// bounded across an Internet-wide scan.
const geoLevel = 2

// GeoIPTracker turns a responder's address into a geohash-bucketed counter,
// using a file-backed IP2Location-format database loaded once at
// construction. Unlike atlas's ip2xMgr, there is no reload support and no
// locking: the pump that owns a GeoIPTracker is single-threaded, the same
// as every other piece of per-scan state.
type GeoIPTracker struct {
	file *os.File
	db   *ip2x.DB

	set  *metrics.Set
	base string
	ctr  map[uint64]*metrics.Counter
	unk  *metrics.Counter
}

func newGeoIPTracker(set *metrics.Set, name, path string) (*GeoIPTracker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}

	db, err := ip2x.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open geoip database: %w", err)
	}

	return &GeoIPTracker{
		file: f,
		db:   db,
		set:  set,
		base: name,
		ctr:  make(map[uint64]*metrics.Counter),
		unk:  set.NewCounter(formatGeoName(name, "")),
	}, nil
}

// Observe increments the counter for the geohash bucket containing addr, or
// the unknown-location counter if no record is found.
func (t *GeoIPTracker) Observe(addr netip.Addr) {
	rec, err := t.db.Lookup(addr)
	if err != nil {
		t.unk.Inc()
		return
	}

	lat32, ok := rec.GetFloat32(ip2x.Latitude)
	if !ok {
		t.unk.Inc()
		return
	}
	lng32, ok := rec.GetFloat32(ip2x.Longitude)
	if !ok {
		t.unk.Inc()
		return
	}

	t.counter(float64(lat32), float64(lng32)).Inc()
}

func (t *GeoIPTracker) counter(lat, lng float64) *metrics.Counter {
	h := geohash.EncodeIntWithPrecision(lat, lng, geoLevel*5)

	c, ok := t.ctr[h]
	if !ok {
		c = t.set.NewCounter(formatGeoName(t.base, geohash.EncodeWithPrecision(lat, lng, geoLevel)))
		t.ctr[h] = c
	}
	return c
}

func formatGeoName(base, geo string) string {
	var b strings.Builder
	b.WriteString(base)
	b.WriteString(`{geohash="`)
	b.WriteString(geo)
	b.WriteString(`"}`)
	return b.String()
}
