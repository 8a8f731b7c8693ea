// Package session owns the single-threaded cooperative event loop that
// is the heart of spec.md §5: a Core value holding every piece of
// mutable state (hub table, user table, DLItem table, rate buckets) that
// every subsystem reads and mutates by explicit reference rather than
// through process globals, per spec.md §9's "global mutable state"
// design note.
package session

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"

	"github.com/kprimus/dcshare/internal/dlerr"
	"github.com/kprimus/dcshare/internal/dlresumer"
	"github.com/kprimus/dcshare/internal/filelist"
	"github.com/kprimus/dcshare/internal/logger"
	"github.com/kprimus/dcshare/internal/netconn"
	"github.com/kprimus/dcshare/internal/ratelimit"
	"github.com/kprimus/dcshare/internal/sudp"
)

// Core aggregates the four maps spec.md §9 calls out as the system's
// inherent global mutable state: hubs keyed by id, users keyed by uid,
// DLItems keyed by TTH, and the global rate buckets. It is constructed
// once per process and passed explicitly into every subsystem.
type Core struct {
	config Config
	log    logger.Logger

	resumer *dlresumer.Resumer
	rates   *ratelimit.Pair

	hubs    map[string]*Hub              // keyed by hub id (canonical URL)
	users   map[uint64]*DLUser           // keyed by uid
	dlitems map[string]*DLItem           // keyed by TTH.String()
	share   *filelist.Node               // local share root

	scheduler *scheduler
	searches  *searchRegistry
	persister *persistDebouncer

	// udp/sudpKeys back active search (spec.md §4.1/§4.4): udp is nil when
	// Config.SearchUDPAddr is empty, in which case StartSearch falls back
	// to passive (hub-routed) search only.
	udp      *netconn.UDPConn
	sudpKeys *sudp.KeyRegistry

	closeC chan struct{}
}

// New constructs a Core: it opens the resume database, loads any
// previously queued DLItems, and adds the configured hubs, each of which
// starts connecting in its own goroutine (see AddHub).
func New(cfg Config) (*Core, error) {
	var err error
	cfg.DataDir, err = homedir.Expand(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	cfg.Database, err = homedir.Expand(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0750); err != nil {
		return nil, err
	}

	res, err := dlresumer.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	c := &Core{
		config:  cfg,
		log:     logger.New("core"),
		resumer: res,
		rates: &ratelimit.Pair{
			GlobalIn:  ratelimit.NewBucket(cfg.RateLimitIn, cfg.RateLimitIn*2),
			GlobalOut: ratelimit.NewBucket(cfg.RateLimitOut, cfg.RateLimitOut*2),
			ConnIn:    ratelimit.Unlimited(),
			ConnOut:   ratelimit.Unlimited(),
		},
		hubs:    make(map[string]*Hub),
		users:   make(map[uint64]*DLUser),
		dlitems: make(map[string]*DLItem),
		share:    filelist.NewRoot(),
		searches: newSearchRegistry(),
		closeC:   make(chan struct{}),
	}
	c.scheduler = newScheduler(c, c.dialUser, c.startTransfer)
	c.persister = newPersistDebouncer(res, logger.New("persist"))

	if cfg.SearchUDPAddr != "" {
		c.sudpKeys = sudp.NewKeyRegistry()
		udpConn := netconn.NewUDP(logger.New("udp"))
		if err := udpConn.Listen(cfg.SearchUDPAddr); err != nil {
			c.log.Warningf("active search disabled: %v", err)
		} else {
			c.udp = udpConn
			go c.udpRecvLoop()
		}
	}

	if err := c.loadPersistedDLItems(); err != nil {
		res.Close()
		return nil, err
	}
	for _, rawURL := range cfg.Hubs {
		if _, err := c.AddHub(rawURL); err != nil {
			c.log.Warningf("skipping hub %q: %v", rawURL, err)
		}
	}
	go c.scheduler.loop(c.closeC)
	go c.persister.loop(c.closeC)
	return c, nil
}

func (c *Core) loadPersistedDLItems() error {
	recs, err := c.resumer.ListDLs()
	if err != nil {
		return err
	}
	for _, r := range recs {
		item := NewDLItem(r.TTH, r.Size, r.Dest, false)
		item.Priority = dlerr.Priority(r.Priority)
		item.ItemErr = r.ErrCode
		item.ItemMsg = r.ErrMsg
		item.persist = c.persister
		if len(r.TTHL) > 0 {
			item.TTHL = r.TTHL
		}
		if len(r.Bitmap) > 0 {
			item.RestoreBitmap(r.BlockSize, r.Bitmap)
		}
		c.dlitems[r.TTH.String()] = item
	}
	return nil
}

// AddHub registers and starts connecting to a hub identified by its URL
// (dchub://, adc://, etc., per spec.md §6).
func (c *Core) AddHub(rawURL string) (*Hub, error) {
	h, err := NewHub(c, rawURL)
	if err != nil {
		return nil, err
	}
	if _, exists := c.hubs[h.ID]; exists {
		return nil, errors.New("session: hub already added: " + h.ID)
	}
	c.hubs[h.ID] = h
	go h.run()
	return h, nil
}

// RemoveHub disconnects and forgets a hub by id.
func (c *Core) RemoveHub(id string) error {
	h, ok := c.hubs[id]
	if !ok {
		return errors.New("session: unknown hub: " + id)
	}
	h.Stop()
	delete(c.hubs, id)
	return nil
}

// Close shuts down every hub, the active-search UDP listener, and the
// resume database.
func (c *Core) Close() error {
	close(c.closeC)
	for _, h := range c.hubs {
		h.Stop()
	}
	if c.udp != nil {
		c.udp.Close()
	}
	return c.resumer.Close()
}

// countActive returns the number of users currently in StateACT, used by
// the scheduler to compute free_slots per spec.md §4.2.
func (c *Core) countActive() int {
	n := 0
	for _, u := range c.users {
		if u.State == StateACT {
			n++
		}
	}
	return n
}

// dialUser is handed to the scheduler as its dial callback; the concrete
// peer-connection dial happens in peerconn.go.
func (c *Core) dialUser(u *DLUser) {
	go c.dialPeer(u)
}

// startTransfer is handed to the scheduler as its start callback; it
// assumes the user already has an established connection, per spec.md
// §4.2's "already-connected" IDL state.
func (c *Core) startTransfer(u *DLUser, s *DLSource) {
	if u.Conn == nil {
		c.scheduler.EnterWait(u)
		return
	}
	go c.runTransfer(u, s, u.Conn)
}

// Tick runs the periodic housekeeping spec.md calls out at 500ms
// (scheduler debounce, already timer-driven) and at coarser granularity
// (WAI expiry, connection inactivity); intended to be invoked by the
// process entrypoint's own ticker.
func (c *Core) Tick(now time.Time) {
	c.scheduler.TickWait(now)
	for _, h := range c.hubs {
		h.conn.Tick(now)
	}
}
