// Package pump implements the connection pump: a single-threaded,
// epoll-driven event loop that maintains a target number of concurrent
// outbound TCP connections, drives each through the status-ping handshake,
// and retires it on completion or error.
package pump

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"golang.org/x/sys/unix"

	"github.com/quartzscan/mcscan/internal/metricsx"
	"github.com/quartzscan/mcscan/internal/wire"
	"github.com/rs/zerolog"
)

// Sink is the external persistence collaborator: a synchronous, fallible
// row writer. A single row's failure must never propagate back into the
// pump's control flow.
type Sink interface {
	Record(address string, unixTime int64, payload string) error
}

// AddressSource yields candidate addresses the same way *addrgen.Generator
// does. Modeled as an interface so the pump doesn't depend on the
// enumerator's concrete implementation, and so tests can substitute a
// fixed, small address list instead of walking the full permutation.
type AddressSource interface {
	Next() (uint32, bool)
}

// Config controls the pump's target concurrency and socket policy.
type Config struct {
	// Concurrency is the target number of live connections, N in the
	// state-machine design.
	Concurrency int
	// LocalPort is the fixed local port every outbound socket binds to.
	LocalPort int
	// TargetPort is the fixed remote port every candidate is probed on.
	TargetPort int
	// StatusLog, if non-nil, receives a snapshot every StatusInterval.
	StatusLog      *SnapshotWriter
	StatusInterval time.Duration
}

type state int

const (
	stateConnecting state = iota
	stateSending
	stateReadingLen
	stateReadingBody
)

// conn is the per-connection record. Exclusively owned by the pump;
// destroyed by retire, which always closes fd and frees the buffer.
type conn struct {
	fd    int
	addr  uint32 // network byte order
	state state

	sendOffset int

	lenBuf  [wire.MaxVarintLen]byte
	lenBufN int

	recvBuf     []byte
	recvFilled  int
	expectedLen int
}

// Pump owns the readiness multiplexer, the live connection table, and the
// handle to the persistence sink. There are no locks: every method here
// runs on the single goroutine that called Run.
type Pump struct {
	cfg Config
	log zerolog.Logger

	gen  AddressSource
	sink Sink
	mx   *metricsx.Set

	epfd      int
	conns     map[int]*conn
	exhausted bool

	addressesEnumerated uint64
	responsesParsed     uint64
	rowsPersisted       uint64
}

// New creates a Pump. The caller retains ownership of gen and sink; Run
// closes what the pump itself allocates (the epoll fd and sockets) and, once
// the scan has drained, cfg.StatusLog if one was given.
func New(cfg Config, log zerolog.Logger, gen AddressSource, sink Sink, mx *metricsx.Set) (*Pump, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("create epoll instance: %w", err)
	}

	return &Pump{
		cfg:   cfg,
		log:   log,
		gen:   gen,
		sink:  sink,
		mx:    mx,
		epfd:  epfd,
		conns: make(map[int]*conn),
	}, nil
}

// Run drives the pump to completion: it exits once the enumerator is
// exhausted and every in-flight connection has retired.
func (p *Pump) Run() error {
	defer unix.Close(p.epfd)

	if p.mx != nil {
		p.mx.LiveConnections(func() float64 { return float64(len(p.conns)) })
	}

	var lastSnapshot time.Time
	timeout := -1
	if p.cfg.StatusLog != nil && p.cfg.StatusInterval > 0 {
		timeout = int(p.cfg.StatusInterval / time.Millisecond)
		if timeout <= 0 {
			timeout = 1000
		}
	}

	events := make([]unix.EpollEvent, 64)
	for {
		p.topUp()

		if len(p.conns) == 0 && p.exhausted {
			break
		}

		n, err := unix.EpollWait(p.epfd, events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			p.service(&events[i])
		}

		if p.cfg.StatusLog != nil && time.Since(lastSnapshot) >= p.cfg.StatusInterval {
			p.writeSnapshot()
			lastSnapshot = time.Now()
		}
	}

	if p.cfg.StatusLog != nil {
		p.writeSnapshot()
		p.cfg.StatusLog.Close()
	}

	return nil
}

// topUp pulls addresses from the enumerator and initiates new connections
// until live_count reaches N or the enumerator is exhausted. Failures to
// initiate don't block top-up: the next address is tried immediately.
func (p *Pump) topUp() {
	for !p.exhausted && len(p.conns) < p.cfg.Concurrency {
		addr, ok := p.gen.Next()
		if !ok {
			p.exhausted = true
			break
		}
		p.addressesEnumerated++
		if p.mx != nil {
			p.mx.AddressEnumerated()
		}
		p.connect(addr)
	}
}

// connect attempts a single non-blocking connect toward addr (network byte
// order). It never blocks top-up on failure.
func (p *Pump) connect(addr uint32) {
	if p.mx != nil {
		p.mx.ConnectAttempt()
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		p.log.Debug().Err(err).Msg("socket creation failed")
		p.classifyAndCount(err)
		return
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		p.log.Debug().Err(err).Msg("setsockopt SO_REUSEADDR failed")
		p.classifyAndCount(err)
		return
	}

	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: p.cfg.LocalPort}); err != nil {
		unix.Close(fd)
		p.log.Debug().Err(err).Msg("bind failed")
		p.classifyAndCount(err)
		return
	}

	sa := &unix.SockaddrInet4{Port: p.cfg.TargetPort, Addr: addrBytes(addr)}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		if err == unix.ENETUNREACH {
			// Per spec this is silent: the common case against
			// IANA-reserved destinations the exclusion list didn't filter.
			return
		}
		ab := addrBytes(addr)
		p.log.Debug().Err(err).Str("addr", net.IP(ab[:]).String()).Msg("connect failed")
		p.classifyAndCount(err)
		return
	}

	c := &conn{fd: fd, addr: addr, state: stateConnecting}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLOUT, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		unix.Close(fd)
		p.log.Debug().Err(err).Msg("epoll_ctl add failed")
		return
	}

	p.conns[fd] = c
}

func (p *Pump) classifyAndCount(err error) {
	if p.mx == nil {
		return
	}
	switch err {
	case unix.ECONNREFUSED:
		p.mx.ConnectError(metricsx.CauseRefused)
	case unix.ETIMEDOUT:
		p.mx.ConnectError(metricsx.CauseTimeout)
	case unix.ENETUNREACH, unix.EHOSTUNREACH:
		p.mx.ConnectError(metricsx.CauseUnreachable)
	default:
		p.mx.ConnectError(metricsx.CauseOther)
	}
}

// service handles one readiness event. Write-side is drained before
// read-side, then hangup is checked last, matching the ordering spec.md
// mandates within a single batch entry.
func (p *Pump) service(ev *unix.EpollEvent) {
	fd := int(ev.Fd)
	c, ok := p.conns[fd]
	if !ok {
		// Already retired earlier in this same batch.
		return
	}

	if ev.Events&unix.EPOLLERR != 0 {
		p.retire(c)
		return
	}

	if ev.Events&unix.EPOLLOUT != 0 {
		if !p.serviceWrite(c) {
			return
		}
	}

	if _, live := p.conns[fd]; !live {
		return
	}

	if ev.Events&unix.EPOLLIN != 0 {
		if !p.serviceRead(c) {
			return
		}
	}

	if ev.Events&unix.EPOLLHUP != 0 {
		if _, live := p.conns[fd]; live {
			p.retire(c)
		}
	}
}

// serviceWrite drains the handshake payload. Returns false if the
// connection was retired.
func (p *Pump) serviceWrite(c *conn) bool {
	if c.state == stateConnecting {
		c.state = stateSending
	}
	if c.state != stateSending {
		return true
	}

	n, err := unix.Write(c.fd, wire.HandshakePayload[c.sendOffset:])
	if err != nil {
		if err == unix.EAGAIN {
			return true
		}
		p.retire(c)
		return false
	}

	c.sendOffset += n
	if c.sendOffset == len(wire.HandshakePayload) {
		c.state = stateReadingLen
	}
	return true
}

// serviceRead drains readable bytes through the length-prefix and body
// phases. Returns false if the connection was retired.
func (p *Pump) serviceRead(c *conn) bool {
	if c.state == stateReadingLen {
		n, err := unix.Read(c.fd, c.lenBuf[c.lenBufN:])
		if err != nil {
			if err == unix.EAGAIN {
				return true
			}
			p.retire(c)
			return false
		}
		if n == 0 {
			// Peer hung up before sending a length prefix.
			p.retire(c)
			return false
		}
		c.lenBufN += n

		value, consumed, ok, err := wire.DecodeVarint(c.lenBuf[:c.lenBufN])
		if err != nil {
			p.retire(c)
			return false
		}
		if !ok {
			// Varint not yet terminated; wait for the next readiness event.
			return true
		}
		if value == 0 || value > wire.MaxResponseSize {
			p.retire(c)
			return false
		}

		c.expectedLen = int(value)
		c.recvBuf = make([]byte, value)

		// A single read can deliver bytes past the declared body length
		// (a misbehaving responder, or just a length-prefix byte sharing a
		// packet with body bytes); recvBuf only has room for expectedLen,
		// so the leftover carried out of lenBuf must be clamped to it, not
		// just to what lenBuf happened to hold.
		leftover := c.lenBufN - consumed
		if leftover > c.expectedLen {
			leftover = c.expectedLen
		}
		copy(c.recvBuf[:leftover], c.lenBuf[consumed:consumed+leftover])
		c.recvFilled = leftover
		c.state = stateReadingBody

		if c.recvFilled == c.expectedLen {
			p.finalize(c)
			return false
		}
	}

	if c.state != stateReadingBody {
		return true
	}

	n, err := unix.Read(c.fd, c.recvBuf[c.recvFilled:c.expectedLen])
	if err != nil {
		if err == unix.EAGAIN {
			return true
		}
		p.retire(c)
		return false
	}
	if n == 0 {
		// Peer hung up mid-body.
		p.retire(c)
		return false
	}

	c.recvFilled += n
	if c.recvFilled == c.expectedLen {
		p.finalize(c)
		return false
	}
	return true
}

// finalize extracts the JSON status document (if any) and forwards it to
// the sink, then always retires the connection.
func (p *Pump) finalize(c *conn) {
	doc, ok := wire.ExtractStatusDocument(c.recvBuf)
	if !ok {
		// Parse-level non-error per spec: retired silently, not logged at
		// error level.
		if p.mx != nil {
			p.mx.ResponseUnparseable()
		}
		p.retire(c)
		return
	}

	p.responsesParsed++
	cAddrBytes := addrBytes(c.addr)
	addrStr := net.IP(cAddrBytes[:]).String()
	if p.mx != nil {
		p.mx.ResponseParsed(netip.AddrFrom4(addrBytes(c.addr)))
	}

	if err := p.sink.Record(addrStr, time.Now().Unix(), string(doc)); err != nil {
		p.log.Warn().Err(err).Str("addr", addrStr).Msg("failed to persist scan result")
		if p.mx != nil {
			p.mx.RowPersistFailed()
		}
	} else {
		p.rowsPersisted++
		if p.mx != nil {
			p.mx.RowPersisted()
		}
	}

	p.retire(c)
}

// retire always closes the fd, unregisters it from epoll, frees the body
// buffer, and removes the record from the live table. Safe to call from
// within iteration over the current readiness batch, since the batch is a
// local slice independent of the conns map.
func (p *Pump) retire(c *conn) {
	unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, c.fd, nil)
	unix.Close(c.fd)
	delete(p.conns, c.fd)
}

// LiveCount returns the number of connections currently registered with
// the readiness multiplexer.
func (p *Pump) LiveCount() int {
	return len(p.conns)
}

func addrBytes(addr uint32) [4]byte {
	return [4]byte{byte(addr), byte(addr >> 8), byte(addr >> 16), byte(addr >> 24)}
}
