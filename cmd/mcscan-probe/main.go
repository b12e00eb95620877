// Command mcscan-probe manually probes one or more servers with the status
// handshake and prints whatever status document comes back. Useful for
// checking a single host without spinning up the full scan pump.
package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/quartzscan/mcscan/internal/wire"
)

var opt struct {
	Connections int
	Timeout     time.Duration
	Silent      bool
	Help        bool
}

func init() {
	pflag.IntVarP(&opt.Connections, "connections", "c", 1, "Number of concurrent connections")
	pflag.DurationVarP(&opt.Timeout, "timeout", "t", time.Second*5, "Amount of time to wait for a response")
	pflag.BoolVarP(&opt.Silent, "silent", "s", false, "Don't print the response body")
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() < 1 || opt.Help {
		fmt.Printf("usage: %s [options] ip:port...\n\noptions:\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	addrs, err := parseAddrPorts(pflag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: invalid server address: %v\n", err)
		os.Exit(2)
	}

	queue := make(chan int)
	go func() {
		defer close(queue)
		for i := range addrs {
			queue <- i
		}
	}()

	type result struct {
		idx int
		doc string
		err error
	}
	res := make(chan result)

	var wg sync.WaitGroup
	for n := 0; n < opt.Connections; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				doc, err := probe(addrs[i], opt.Timeout)
				res <- result{i, doc, err}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(res)
	}()

	var fail bool
	for r := range res {
		if r.err != nil {
			fmt.Fprintf(os.Stderr, "%s: error: %v\n", addrs[r.idx], r.err)
			fail = true
			continue
		}
		if opt.Silent {
			fmt.Fprintf(os.Stderr, "%s: ok\n", addrs[r.idx])
		} else {
			fmt.Printf("%s: %s\n", addrs[r.idx], r.doc)
		}
	}
	if fail {
		os.Exit(1)
	}
}

// probe dials addr, sends the handshake and status request, and extracts
// the JSON status document from the response body.
func probe(addr netip.AddrPort, timeout time.Duration) (string, error) {
	conn, err := net.DialTimeout("tcp", addr.String(), timeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	if _, err := conn.Write(wire.HandshakePayload); err != nil {
		return "", err
	}

	r := bufio.NewReader(conn)

	length, err := readVarint(r)
	if err != nil {
		return "", fmt.Errorf("read length: %w", err)
	}
	if length == 0 || length > wire.MaxResponseSize {
		return "", fmt.Errorf("invalid response length %d", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	doc, ok := wire.ExtractStatusDocument(body)
	if !ok {
		return "", fmt.Errorf("no status document found in %d byte body", len(body))
	}
	return string(doc), nil
}

// readVarint decodes one varint from r a byte at a time, since the pump's
// DecodeVarint expects a contiguous buffer and a probe has no reason to
// pre-buffer an unknown number of bytes off a plain net.Conn.
func readVarint(r *bufio.Reader) (uint64, error) {
	var buf [wire.MaxVarintLen]byte
	for n := 0; n < wire.MaxVarintLen; n++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		buf[n] = b
		if v, decoded, ok, err := wire.DecodeVarint(buf[:n+1]); err != nil {
			return 0, err
		} else if ok && decoded == n+1 {
			return v, nil
		}
	}
	return 0, wire.ErrVarintOverlong
}

func parseAddrPorts(a []string) ([]netip.AddrPort, error) {
	r := make([]netip.AddrPort, len(a))
	for i, x := range a {
		v, err := netip.ParseAddrPort(x)
		if err != nil {
			return nil, err
		}
		r[i] = v
	}
	return r, nil
}
