package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/kprimus/dcshare/internal/huburl"
	"github.com/kprimus/dcshare/internal/hubproto"
	"github.com/kprimus/dcshare/internal/logger"
	"github.com/kprimus/dcshare/internal/netconn"
)

// reconnectBackoff is the default hub reconnect delay from spec.md §4.1
// ("configurable, default 30 s").
const reconnectBackoff = 30 * time.Second

// Hub owns one logical session with one hub, per spec.md §4.1 (C1). It
// speaks NMDC or ADC depending on the hub URL's scheme but exposes only
// hubproto's dialect-neutral events and commands to the rest of the
// system.
type Hub struct {
	ID      string
	url     huburl.HubURL
	core    *Core
	conn    *netconn.Connection
	codec   hubCodec
	state   hubproto.State
	log     logger.Logger
	nick    string

	autoReconnect bool
	stopC         chan struct{}
	stoppedC      chan struct{}

	// pendingDialUID is the uid of the EXP user most recently asked (via
	// dialPeer's $RevConnectToMe) to connect back to us on this hub, so a
	// failed inbound dial in peerconn.go's connectAndTransfer can demote
	// the right DLUser to WAI. 0 means none outstanding; best-effort only
	// since a dialect's $ConnectToMe response does not always name its
	// sender (NMDC never does), per spec.md §4.1.
	pendingDialUID uint64
}

// hubCodec is satisfied by both dialect codecs; it is intentionally
// narrower than hubproto.Codec because the session package drives framing
// itself through netconn's message-terminated read mode.
type hubCodec interface {
	DecodeFrame(frame []byte) ([]hubproto.HubEvent, error)
	EncodeCommand(cmd hubproto.HubCommand) ([]byte, error)
}

// NewHub parses rawURL and prepares (but does not dial) a Hub session.
func NewHub(core *Core, rawURL string) (*Hub, error) {
	u, err := huburl.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	h := &Hub{
		ID:            rawURL,
		url:           u,
		core:          core,
		log:           logger.New("hub"),
		nick:          core.config.Nick,
		autoReconnect: true,
		stopC:         make(chan struct{}),
		stoppedC:      make(chan struct{}),
	}
	switch u.Dialect {
	case huburl.DialectADC:
		h.codec = newADCCodec(h)
	default:
		h.codec = newNMDCCodec(h)
	}
	h.conn = netconn.New(h.log, core.rates)
	if u.Dialect != huburl.DialectADC {
		h.conn.SetTerminator('|')
	}
	return h, nil
}

// Stop disconnects the hub and prevents further reconnect attempts.
func (h *Hub) Stop() {
	h.autoReconnect = false
	close(h.stopC)
	<-h.stoppedC
}

// run is the per-hub event loop from spec.md §9's design note: a single
// select over the connection's events, the reconnect timer, and the
// explicit stop signal.
func (h *Hub) run() {
	defer close(h.stoppedC)
	for {
		if err := h.connect(); err != nil {
			h.log.Warningf("connect to %s failed: %v", h.url.Host, err)
			if !h.waitReconnect() {
				return
			}
			continue
		}
		if h.loopUntilDisconnect() {
			return
		}
		if !h.waitReconnect() {
			return
		}
	}
}

func (h *Hub) connect() error {
	addr := fmt.Sprintf("%s:%d", stripBrackets(h.url.Host), h.url.Port)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := h.conn.Dial(ctx, "tcp", addr, ""); err != nil {
		return err
	}
	if h.url.TLS {
		cfg := &tls.Config{InsecureSkipVerify: h.url.KeyprintValue != ""}
		if err := h.conn.UpgradeTLS(cfg); err != nil {
			return err
		}
	}
	h.state = hubproto.StateProtocol
	return nil
}

// loopUntilDisconnect consumes connection events until disconnection;
// it returns true if the Hub should stop entirely (explicit Stop call).
func (h *Hub) loopUntilDisconnect() bool {
	for {
		select {
		case <-h.stopC:
			h.conn.Close()
			return true
		case ev, ok := <-h.conn.Events():
			if !ok {
				return false
			}
			switch ev.Kind {
			case netconn.EventMessage:
				h.handleFrame(ev.Data)
			case netconn.EventDisconnected:
				return false
			case netconn.EventError:
				h.log.Errorln(ev.Err)
				return false
			}
		}
	}
}

func (h *Hub) handleFrame(frame []byte) {
	events, err := h.codec.DecodeFrame(frame)
	if err != nil {
		h.log.Debugf("dropping malformed frame: %v", err)
		return
	}
	for _, ev := range events {
		h.core.dispatchHubEvent(h, ev)
	}
}

// Send serializes and writes a HubCommand.
func (h *Hub) Send(cmd hubproto.HubCommand) error {
	frame, err := h.codec.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return h.conn.Write(frame)
}

func (h *Hub) waitReconnect() bool {
	if !h.autoReconnect {
		return false
	}
	t := time.NewTimer(reconnectBackoff)
	defer t.Stop()
	select {
	case <-h.stopC:
		return false
	case <-t.C:
		return true
	}
}

func stripBrackets(host string) string {
	if len(host) >= 2 && host[0] == '[' && host[len(host)-1] == ']' {
		return host[1 : len(host)-1]
	}
	return host
}

// newADCCodec/newNMDCCodec are declared in adccodec.go/nmdccodec.go to
// keep each dialect's translation self-contained.
