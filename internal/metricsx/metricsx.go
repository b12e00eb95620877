// Package metricsx exposes scan-wide counters and an optional geo-bucketed
// view of which responders answered, built on top of
// github.com/VictoriaMetrics/metrics.
package metricsx

import (
	"net/netip"

	"github.com/VictoriaMetrics/metrics"
)

// Set is the full collection of counters the pump reports into. A nil *Set
// is safe to call the reporting methods on; each is a no-op in that case, so
// the pump does not need to branch on whether metrics are enabled.
// EnableGeoIP is the exception and requires a non-nil *Set.
type Set struct {
	set *metrics.Set

	connectAttempts    *metrics.Counter
	connectErrRefused  *metrics.Counter
	connectErrTimeout  *metrics.Counter
	connectErrUnreach  *metrics.Counter
	connectErrOther    *metrics.Counter
	responsesParsed    *metrics.Counter
	responsesGarbled   *metrics.Counter
	rowsPersisted      *metrics.Counter
	rowsPersistFailed  *metrics.Counter
	addressesEnumerate *metrics.Counter

	geo *GeoIPTracker
}

// New creates a Set registered under its own metrics.Set, so the caller can
// choose whether and how to expose it (e.g. via WritePrometheus on a debug
// HTTP server).
func New() *Set {
	s := &Set{set: metrics.NewSet()}
	s.connectAttempts = s.set.NewCounter("mcscan_connect_attempts_total")
	s.connectErrRefused = s.set.NewCounter(`mcscan_connect_errors_total{cause="refused"}`)
	s.connectErrTimeout = s.set.NewCounter(`mcscan_connect_errors_total{cause="timeout"}`)
	s.connectErrUnreach = s.set.NewCounter(`mcscan_connect_errors_total{cause="unreachable"}`)
	s.connectErrOther = s.set.NewCounter(`mcscan_connect_errors_total{cause="other"}`)
	s.responsesParsed = s.set.NewCounter("mcscan_responses_parsed_total")
	s.responsesGarbled = s.set.NewCounter("mcscan_responses_unparseable_total")
	s.rowsPersisted = s.set.NewCounter("mcscan_rows_persisted_total")
	s.rowsPersistFailed = s.set.NewCounter("mcscan_rows_persist_failed_total")
	s.addressesEnumerate = s.set.NewCounter("mcscan_addresses_enumerated_total")
	return s
}

// Metrics returns the underlying *metrics.Set for wiring into a debug HTTP
// handler's WritePrometheus.
func (s *Set) Metrics() *metrics.Set {
	if s == nil {
		return nil
	}
	return s.set
}

// EnableGeoIP loads a GeoIP database and registers a geohash-bucketed
// counter of responders into this set. Call at most once.
func (s *Set) EnableGeoIP(path string) error {
	t, err := newGeoIPTracker(s.set, "mcscan_responders_geo", path)
	if err != nil {
		return err
	}
	s.geo = t
	return nil
}

func (s *Set) ConnectAttempt() {
	if s != nil {
		s.connectAttempts.Inc()
	}
}

// ConnectErrorCause classifies a failed non-blocking connect for the
// mcscan_connect_errors_total{cause=...} counter.
type ConnectErrorCause int

const (
	CauseRefused ConnectErrorCause = iota
	CauseTimeout
	CauseUnreachable
	CauseOther
)

func (s *Set) ConnectError(cause ConnectErrorCause) {
	if s == nil {
		return
	}
	switch cause {
	case CauseRefused:
		s.connectErrRefused.Inc()
	case CauseTimeout:
		s.connectErrTimeout.Inc()
	case CauseUnreachable:
		s.connectErrUnreach.Inc()
	default:
		s.connectErrOther.Inc()
	}
}

func (s *Set) ResponseParsed(addr netip.Addr) {
	if s == nil {
		return
	}
	s.responsesParsed.Inc()
	if s.geo != nil {
		s.geo.Observe(addr)
	}
}

func (s *Set) ResponseUnparseable() {
	if s != nil {
		s.responsesGarbled.Inc()
	}
}

func (s *Set) RowPersisted() {
	if s != nil {
		s.rowsPersisted.Inc()
	}
}

func (s *Set) RowPersistFailed() {
	if s != nil {
		s.rowsPersistFailed.Inc()
	}
}

func (s *Set) AddressEnumerated() {
	if s != nil {
		s.addressesEnumerate.Inc()
	}
}

// LiveConnections registers a gauge callback reading the pump's current
// live-connection count. fn is called each time metrics are scraped.
func (s *Set) LiveConnections(fn func() float64) {
	if s == nil {
		return
	}
	s.set.NewGauge("mcscan_live_connections", fn)
}
