package metricsx

import "testing"

func TestNilSetIsANoOp(t *testing.T) {
	var s *Set
	s.ConnectAttempt()
	s.ConnectError(CauseRefused)
	s.ResponseUnparseable()
	s.RowPersisted()
	s.RowPersistFailed()
	s.AddressEnumerated()
	s.LiveConnections(func() float64 { return 0 })
}

func TestCountersIncrement(t *testing.T) {
	s := New()

	s.ConnectAttempt()
	s.ConnectAttempt()
	s.ConnectError(CauseUnreachable)
	s.ResponseUnparseable()
	s.RowPersisted()
	s.RowPersistFailed()
	s.AddressEnumerated()

	if got := s.connectAttempts.Get(); got != 2 {
		t.Fatalf("connectAttempts = %d, want 2", got)
	}
	if got := s.connectErrUnreach.Get(); got != 1 {
		t.Fatalf("connectErrUnreach = %d, want 1", got)
	}
	if got := s.responsesGarbled.Get(); got != 1 {
		t.Fatalf("responsesGarbled = %d, want 1", got)
	}
	if got := s.rowsPersisted.Get(); got != 1 {
		t.Fatalf("rowsPersisted = %d, want 1", got)
	}
	if got := s.rowsPersistFailed.Get(); got != 1 {
		t.Fatalf("rowsPersistFailed = %d, want 1", got)
	}
	if got := s.addressesEnumerate.Get(); got != 1 {
		t.Fatalf("addressesEnumerate = %d, want 1", got)
	}
}

func TestFormatGeoName(t *testing.T) {
	if got, want := formatGeoName("mcscan_responders_geo", "u4pr"), `mcscan_responders_geo{geohash="u4pr"}`; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got, want := formatGeoName("mcscan_responders_geo", ""), `mcscan_responders_geo{geohash=""}`; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
