// Package netconn provides the uniform, non-blocking-in-spirit transport
// substrate from spec.md §4.4 (C4): a connection state machine, optional
// TLS with keyprint pinning, rate-limited bulk transfer, and a 5-second
// inactivity tick. Per spec.md §9's design note ("rewriting in a language
// with tasks+channels, prefer an event enum emitted by each connection,
// consumed by a single select/match loop"), each Connection runs its own
// reader goroutine and emits Events on a channel instead of registering
// poll()-driven callbacks; the event loop that owns a Connection is the
// single consumer of that channel. This mirrors the teacher's
// reader/writer-goroutine-plus-closeC pattern almost exactly.
package netconn

import (
	"bufio"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kprimus/dcshare/internal/logger"
	"github.com/kprimus/dcshare/internal/ratelimit"
)

// State is the connection lifecycle from spec.md §4.4.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateConnecting
	StateAsync
	StateSync
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateConnecting:
		return "connecting"
	case StateAsync:
		return "async"
	case StateSync:
		return "sync"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// ReadMode selects how a read delivers to its consumer, per spec.md
// §4.4's three callback modes.
type ReadMode int

const (
	// ModeMessageTerminated delivers bytes up to and including the first
	// occurrence of a terminator byte, consuming through it.
	ModeMessageTerminated ReadMode = iota
	// ModeByteCountConsume delivers exactly N bytes, consuming them.
	ModeByteCountConsume
	// ModeByteCountPeek delivers exactly N bytes without consuming them.
	ModeByteCountPeek
)

// ErrorKind is the failure taxonomy from spec.md §4.4.
type ErrorKind int

const (
	ErrConn ErrorKind = iota
	ErrRecv
	ErrSend
	ErrTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case ErrConn:
		return "CONN"
	case ErrRecv:
		return "RECV"
	case ErrSend:
		return "SEND"
	case ErrTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Error wraps a netconn failure with its taxonomy kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("netconn: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// EventKind discriminates Event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventMessage
	EventTLSUpgraded
	EventDisconnected
	EventError
)

// Event is emitted on Connection.Events() for the owning loop to consume.
type Event struct {
	Kind        EventKind
	Data        []byte
	Fingerprint [32]byte // set on EventTLSUpgraded
	Err         *Error   // set on EventError
}

const defaultReadBufMax = 1 << 20 // 1 MiB, per spec.md §4.4

// KeepAlive configures the literal message written after a period of
// async-mode inactivity, per spec.md §4.4.
type KeepAlive struct {
	Interval time.Duration
	Message  []byte
}

// Connection is one hub or peer transport, in exactly one State at a
// time.
type Connection struct {
	log   logger.Logger
	rates *ratelimit.Pair

	mu        sync.Mutex // protects conn, tlsConn, reader, state, lastIO, keepAlive, eom (shared with a bulk worker)
	conn      net.Conn
	tlsConn   *tls.Conn
	reader    *bufio.Reader
	readMax   int
	state     State
	lastIO    time.Time
	keepAlive *KeepAlive
	eom       byte // message terminator byte for EventMessage framing; default '\n'

	events chan Event
}

// New constructs a Connection in StateIdle, framing messages on '\n' by
// default (ADC and most line protocols); NMDC hubs call SetTerminator to
// switch to '|'.
func New(log logger.Logger, rates *ratelimit.Pair) *Connection {
	return &Connection{
		log:     log,
		rates:   rates,
		readMax: defaultReadBufMax,
		state:   StateIdle,
		eom:     '\n',
		events:  make(chan Event, 16),
	}
}

// SetTerminator changes the message-terminated read mode's end-of-message
// byte, per spec.md §4.1's NMDC framing on '|' versus ADC's '\n'.
func (c *Connection) SetTerminator(b byte) {
	c.mu.Lock()
	c.eom = b
	c.mu.Unlock()
}

// Events returns the channel the owning loop should select on.
func (c *Connection) Events() <-chan Event { return c.events }

// State reports the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Dial resolves addr (DNS resolution happens on the runtime's resolver
// goroutine pool, standing in for spec.md §4.4's dedicated unbounded DNS
// worker pool) and connects, preserving address family order.
func (c *Connection) Dial(ctx context.Context, network, addr string, localAddr string) error {
	c.setState(StateResolving)
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	if localAddr != "" {
		if la, err := net.ResolveTCPAddr(network, localAddr); err == nil {
			dialer.LocalAddr = la
		}
	}
	c.setState(StateConnecting)
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		c.setState(StateIdle)
		return &Error{Kind: ErrConn, Err: err}
	}
	c.adopt(conn)
	return nil
}

// Adopt wraps an already-connected net.Conn (e.g. one accepted by a
// listener) and enters StateAsync.
func (c *Connection) Adopt(conn net.Conn) { c.adopt(conn) }

func (c *Connection) adopt(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.reader = bufio.NewReaderSize(conn, 4096)
	c.lastIO = time.Now()
	c.state = StateAsync
	c.mu.Unlock()
	go c.readLoop()
	c.events <- Event{Kind: EventConnected}
}

// UpgradeTLS performs the TLS client handshake and, on success, reports
// the peer certificate's SHA-256 fingerprint for keyprint pinning
// (adcs://, nmdcs://). Read/write buffers must be empty at upgrade time
// per spec.md §4.4; any bytes already buffered in c.reader are fed to the
// TLS handshake via a plumbing Reader.
func (c *Connection) UpgradeTLS(cfg *tls.Config) error {
	c.mu.Lock()
	plain := c.conn
	buffered := c.reader.Buffered()
	var prefix []byte
	if buffered > 0 {
		prefix, _ = c.reader.Peek(buffered)
	}
	c.mu.Unlock()

	conn := plain
	if len(prefix) > 0 {
		conn = &prefixedConn{Conn: plain, prefix: append([]byte(nil), prefix...)}
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return &Error{Kind: ErrConn, Err: err}
	}

	var fp [32]byte
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) > 0 {
		fp = sha256.Sum256(state.PeerCertificates[0].Raw)
	}

	c.mu.Lock()
	c.tlsConn = tlsConn
	c.reader = bufio.NewReaderSize(tlsConn, 4096)
	c.mu.Unlock()

	c.events <- Event{Kind: EventTLSUpgraded, Fingerprint: fp}
	return nil
}

// prefixedConn replays previously-buffered plaintext before reading from
// the underlying connection, so a TLS handshake can consume bytes that
// had already landed in the bufio.Reader.
type prefixedConn struct {
	net.Conn
	prefix []byte
}

func (p *prefixedConn) Read(b []byte) (int, error) {
	if len(p.prefix) > 0 {
		n := copy(b, p.prefix)
		p.prefix = p.prefix[n:]
		return n, nil
	}
	return p.Conn.Read(b)
}

func (c *Connection) activeReader() interface{ Read([]byte) (int, error) } {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tlsConn != nil {
		return c.tlsConn
	}
	return c.conn
}

// readLoop is the single "at most one pending read" consumer mandated by
// spec.md §5; it drives c.reader according to whatever mode was most
// recently requested via ReadMessage/ReadN, defaulting to
// message-terminated reads on '\n' until a mode is requested.
func (c *Connection) readLoop() {
	for {
		c.mu.Lock()
		r := c.reader
		eom := c.eom
		c.mu.Unlock()
		if r == nil {
			return
		}
		line, err := r.ReadBytes(eom)
		if err != nil {
			c.mu.Lock()
			c.state = StateDisconnecting
			c.mu.Unlock()
			c.events <- Event{Kind: EventError, Err: &Error{Kind: ErrRecv, Err: err}}
			c.events <- Event{Kind: EventDisconnected}
			return
		}
		c.mu.Lock()
		c.lastIO = time.Now()
		c.mu.Unlock()
		c.events <- Event{Kind: EventMessage, Data: line}
	}
}

// ReadN peeks or consumes exactly n bytes, for byte-counted transfers
// (e.g. a fixed-length handshake field) outside the line-oriented hub
// protocol traffic.
func (c *Connection) ReadN(n int, mode ReadMode) ([]byte, error) {
	c.mu.Lock()
	r := c.reader
	c.mu.Unlock()
	if mode == ModeByteCountPeek {
		b, err := r.Peek(n)
		if err != nil {
			return nil, &Error{Kind: ErrRecv, Err: err}
		}
		out := make([]byte, n)
		copy(out, b)
		return out, nil
	}
	out := make([]byte, n)
	if _, err := readFull(r, out); err != nil {
		return nil, &Error{Kind: ErrRecv, Err: err}
	}
	return out, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Write appends p to the connection, applying async-mode rate limiting
// (informational only, per spec.md §4.4): it always sends, but records
// the byte count against the rate buckets for accounting.
func (c *Connection) Write(p []byte) error {
	c.mu.Lock()
	c.lastIO = time.Now()
	var w interface{ Write([]byte) (int, error) }
	if c.tlsConn != nil {
		w = c.tlsConn
	} else {
		w = c.conn
	}
	c.mu.Unlock()
	if w == nil {
		return &Error{Kind: ErrSend, Err: fmt.Errorf("not connected")}
	}
	if c.rates != nil {
		c.rates.ObserveAsync(false, len(p))
	}
	if _, err := w.Write(p); err != nil {
		return &Error{Kind: ErrSend, Err: err}
	}
	return nil
}

// Tick checks the inactivity timeout per spec.md §4.4's 5-second tick
// function: 30s idle is fatal outside keep-alive async mode; keep-alive
// connections get a literal message written after the configured
// KeepAlive.Interval.
func (c *Connection) Tick(now time.Time) {
	c.mu.Lock()
	last := c.lastIO
	state := c.state
	ka := c.keepAlive
	c.mu.Unlock()
	if state == StateIdle {
		return
	}
	idle := now.Sub(last)
	if idle < 0 {
		// Clock skew: reset silently, per spec.md §4.4.
		c.mu.Lock()
		c.lastIO = now
		c.mu.Unlock()
		return
	}
	if ka != nil && state == StateAsync {
		if idle >= ka.Interval {
			_ = c.Write(ka.Message)
		}
		return
	}
	if idle >= 30*time.Second {
		c.events <- Event{Kind: EventError, Err: &Error{Kind: ErrTimeout, Err: fmt.Errorf("no activity for %s", idle)}}
		c.Close()
	}
}

// SetKeepAlive configures the async-mode keep-alive literal message.
func (c *Connection) SetKeepAlive(ka *KeepAlive) {
	c.mu.Lock()
	c.keepAlive = ka
	c.mu.Unlock()
}

// Close forces the connection to StateIdle. Valid in every state, per
// spec.md §4.5's cancellation contract.
func (c *Connection) Close() error {
	c.mu.Lock()
	conn := c.conn
	tlsConn := c.tlsConn
	c.conn = nil
	c.tlsConn = nil
	c.state = StateIdle
	c.mu.Unlock()
	var err error
	if tlsConn != nil {
		err = tlsConn.Close()
	} else if conn != nil {
		err = conn.Close()
	}
	return err
}

// RemoteAddr reports the peer address, or "" if not connected.
func (c *Connection) RemoteAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}
