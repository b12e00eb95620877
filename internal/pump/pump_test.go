package pump

import (
	"bytes"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// fixedSource yields a fixed list of addresses once each, then exhausts,
// standing in for the enumerator's LCG walk in tests that care about a
// specific target rather than the full permutation.
type fixedSource struct {
	addrs []uint32
	i     int
}

func (f *fixedSource) Next() (uint32, bool) {
	if f.i >= len(f.addrs) {
		return 0, false
	}
	a := f.addrs[f.i]
	f.i++
	return a, true
}

type sinkRow struct {
	addr    string
	ts      int64
	payload string
}

type fakeSink struct {
	rows []sinkRow
}

func (f *fakeSink) Record(addr string, ts int64, payload string) error {
	f.rows = append(f.rows, sinkRow{addr, ts, payload})
	return nil
}

// listenerAddr returns ln's address packed the way the pump expects to
// receive candidate addresses from an AddressSource (network byte order,
// via addrBytes's LSB-first convention), plus the port to target.
func listenerAddr(t *testing.T, ln net.Listener) (uint32, int) {
	t.Helper()
	tcpAddr := ln.Addr().(*net.TCPAddr)
	ip := tcpAddr.IP.To4()
	if ip == nil {
		t.Fatal("listener address is not IPv4")
	}
	addr := uint32(ip[0]) | uint32(ip[1])<<8 | uint32(ip[2])<<16 | uint32(ip[3])<<24
	return addr, tcpAddr.Port
}

func runScenario(t *testing.T, ln net.Listener, handlePeer func(net.Conn)) (*fakeSink, *Pump) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handlePeer(conn)
	}()

	addr, port := listenerAddr(t, ln)
	sink := &fakeSink{}
	p, err := New(Config{Concurrency: 10, LocalPort: 0, TargetPort: port}, zerolog.Nop(),
		&fixedSource{addrs: []uint32{addr}}, sink, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Run(); err != nil {
		t.Fatal(err)
	}
	<-done
	return sink, p
}

func TestScenarioShortBodyPersistsOneRow(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	sink, p := runScenario(t, ln, func(c net.Conn) {
		io.CopyN(io.Discard, c, 24)
		c.Write([]byte{0x01, 0x7B})
	})

	if len(sink.rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(sink.rows))
	}
	if sink.rows[0].payload != "{" {
		t.Fatalf("payload = %q, want %q", sink.rows[0].payload, "{")
	}
	if p.LiveCount() != 0 {
		t.Fatalf("live count = %d, want 0 after drain", p.LiveCount())
	}
}

func TestScenarioLargeBodyPersistsFullPayload(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	body := append([]byte{'{'}, bytes.Repeat([]byte("x"), 4999)...)

	sink, _ := runScenario(t, ln, func(c net.Conn) {
		io.CopyN(io.Discard, c, 24)
		c.Write([]byte{0x88, 0x27}) // varint(5000)
		c.Write(body)
	})

	if len(sink.rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(sink.rows))
	}
	if sink.rows[0].payload != string(body) {
		t.Fatalf("payload length = %d, want %d", len(sink.rows[0].payload), len(body))
	}
}

func TestScenarioZeroLengthRetiresWithoutPersisting(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	sink, p := runScenario(t, ln, func(c net.Conn) {
		io.CopyN(io.Discard, c, 24)
		c.Write([]byte{0x00})
	})

	if len(sink.rows) != 0 {
		t.Fatalf("got %d rows, want 0", len(sink.rows))
	}
	if p.LiveCount() != 0 {
		t.Fatalf("live count = %d, want 0", p.LiveCount())
	}
}

func TestScenarioOverlongLengthRetiresWithoutPersisting(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	sink, _ := runScenario(t, ln, func(c net.Conn) {
		io.CopyN(io.Discard, c, 24)
		c.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F})
	})

	if len(sink.rows) != 0 {
		t.Fatalf("got %d rows, want 0", len(sink.rows))
	}
}

func TestScenarioPeerHangsUpBeforeLengthPrefix(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	sink, p := runScenario(t, ln, func(c net.Conn) {
		io.CopyN(io.Discard, c, 24)
		// Hang up without sending anything.
	})

	if len(sink.rows) != 0 {
		t.Fatalf("got %d rows, want 0", len(sink.rows))
	}
	if p.LiveCount() != 0 {
		t.Fatalf("live count = %d, want 0, no descriptor should leak", p.LiveCount())
	}
}

func TestScenarioEmptyEnumeratorDrainsImmediately(t *testing.T) {
	sink := &fakeSink{}
	p, err := New(Config{Concurrency: 10, LocalPort: 0, TargetPort: 1}, zerolog.Nop(), &fixedSource{}, sink, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Run(); err != nil {
		t.Fatal(err)
	}
	if p.LiveCount() != 0 {
		t.Fatalf("live count = %d, want 0", p.LiveCount())
	}
}

func TestScenarioNoBraceFoundNotPersisted(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	body := []byte(strings.Repeat("y", 10))
	sink, _ := runScenario(t, ln, func(c net.Conn) {
		io.CopyN(io.Discard, c, 24)
		c.Write([]byte{byte(len(body))})
		c.Write(body)
	})

	if len(sink.rows) != 0 {
		t.Fatalf("got %d rows, want 0 (no '{' present)", len(sink.rows))
	}
}
