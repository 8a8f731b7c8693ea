package netconn

import (
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/kprimus/dcshare/internal/logger"
)

// udpQueueDepth bounds the outgoing datagram queue; a search-result
// storm beyond this is dropped rather than let the sender goroutine's
// queue grow without bound.
const udpQueueDepth = 256

// udpRetries is how many times a single datagram is retried after an
// EAGAIN/EWOULDBLOCK transient send error before being dropped.
const udpRetries = 3

// Datagram is one inbound or outbound UDP packet.
type Datagram struct {
	Addr *net.UDPAddr
	Data []byte
}

// UDPConn is the active-search transport from spec.md §4.1/§4.4: a
// single bound socket shared by every outgoing $SR/RES datagram and the
// one listener that receives them back, with retry-on-EAGAIN on the
// send side per spec.md §4.4's "dedicated unbounded worker pool"
// treatment of UDP sends as a best-effort queue rather than a blocking
// write.
type UDPConn struct {
	log  logger.Logger
	conn *net.UDPConn

	outC   chan Datagram
	inC    chan Datagram
	closeC chan struct{}
}

// NewUDP constructs an unbound UDPConn; call Listen to bind and start
// its worker goroutines.
func NewUDP(log logger.Logger) *UDPConn {
	return &UDPConn{
		log:    log,
		outC:   make(chan Datagram, udpQueueDepth),
		inC:    make(chan Datagram, udpQueueDepth),
		closeC: make(chan struct{}),
	}
}

// Listen binds addr (e.g. ":412") and starts the send and receive
// worker goroutines.
func (u *UDPConn) Listen(addr string) error {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return err
	}
	u.conn = conn
	go u.sendLoop()
	go u.recvLoop()
	return nil
}

// Datagrams returns the channel inbound packets arrive on.
func (u *UDPConn) Datagrams() <-chan Datagram { return u.inC }

// Send enqueues data for addr. It never blocks the caller: if the
// outgoing queue is full the datagram is dropped and logged, matching
// SUDP/active-search replies' best-effort delivery semantics (spec.md
// §4.1 treats a lost search reply as unremarkable).
func (u *UDPConn) Send(addr *net.UDPAddr, data []byte) {
	select {
	case u.outC <- Datagram{Addr: addr, Data: data}:
	default:
		u.log.Warningln("udp send queue full, dropping datagram to", addr)
	}
}

// Close stops both worker goroutines and closes the socket.
func (u *UDPConn) Close() error {
	close(u.closeC)
	if u.conn != nil {
		return u.conn.Close()
	}
	return nil
}

// sendLoop drains the outgoing queue, retrying a transient EAGAIN-class
// error up to udpRetries times with a short backoff before dropping the
// datagram, per spec.md §4.4's "UDP outgoing queue with retry".
func (u *UDPConn) sendLoop() {
	for {
		select {
		case <-u.closeC:
			return
		case dg := <-u.outC:
			u.sendOne(dg)
		}
	}
}

func (u *UDPConn) sendOne(dg Datagram) {
	for attempt := 0; attempt <= udpRetries; attempt++ {
		_, err := u.conn.WriteToUDP(dg.Data, dg.Addr)
		if err == nil {
			return
		}
		if !isEAGAIN(err) {
			u.log.Debugf("udp send to %s failed: %v", dg.Addr, err)
			return
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	u.log.Warningf("udp send to %s dropped after %d EAGAIN retries", dg.Addr, udpRetries)
}

// isEAGAIN reports whether err is the transient "resource temporarily
// unavailable" send error a full kernel socket buffer produces.
func isEAGAIN(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

// recvLoop reads datagrams until the socket closes, delivering each to
// Datagrams().
func (u *UDPConn) recvLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-u.closeC:
			default:
				u.log.Debugf("udp receive failed: %v", err)
			}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case u.inC <- Datagram{Addr: addr, Data: data}:
		case <-u.closeC:
			return
		}
	}
}
