package session

import (
	"strings"
	"sync"

	uuid "github.com/satori/go.uuid"

	"github.com/kprimus/dcshare/internal/hubproto"
	"github.com/kprimus/dcshare/internal/nmdc"
	"github.com/kprimus/dcshare/internal/sudp"
)

// SearchCallback receives results for a SearchQuery for the life of its
// result tab, per spec.md §3.
type SearchCallback func(hub *Hub, reply *hubproto.SearchReply)

// searchRegistry tracks outstanding user-initiated searches so inbound
// RES/$SR traffic can be routed back to the tab that issued them. Real
// dialects correlate by token (ADC TO) or by the requester's own address
// (NMDC), both folded here to a single string key.
type searchRegistry struct {
	mu   sync.Mutex
	subs map[string]SearchCallback
}

func newSearchRegistry() *searchRegistry {
	return &searchRegistry{subs: make(map[string]SearchCallback)}
}

// Register adds cb under key, returning an unregister function. Per
// spec.md §3, a SearchQuery is "registered for the life of its result
// tab" — callers invoke the returned function when the tab closes.
func (r *searchRegistry) Register(key string, cb SearchCallback) func() {
	r.mu.Lock()
	r.subs[key] = cb
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.subs, key)
		r.mu.Unlock()
	}
}

func (r *searchRegistry) dispatch(key string, hub *Hub, reply *hubproto.SearchReply) bool {
	r.mu.Lock()
	cb, ok := r.subs[key]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cb(hub, reply)
	return true
}

// StartSearch issues pattern as a search on every connected hub and
// registers cb for the life of the result tab, returning an unregister
// function. The token keying this tab (and its SUDP key, if one is
// minted) is a fresh UUID rather than a counter, since a search tab may
// outlive any single hub session and a restarted client must never reuse
// a token a still-open remote peer might reply to. The search commands
// sent to the hubs do not carry the token, so hub-routed results are not
// matched to it: routeSearchResult hands them to every open tab.
//
// When the Core has an active-search UDP listener (spec.md §4.1's "prefer"
// SUDP policy), StartSearch also mints a fresh 16-byte key and registers it
// in c.sudpKeys so a reply arriving directly over UDP (rather than routed
// through the hub) can be trial-decrypted and matched back to this tab.
// Note: NMDC's wire format for $Search carries no field to announce that
// key to the peer (see SPEC_FULL.md's supplemented-features notes) so this
// closes the inbound half of SUDP end-to-end but not yet the outbound
// key-announcement half.
func (c *Core) StartSearch(pattern string, cb SearchCallback) func() {
	token := uuid.NewV4().String()
	unregisterSearch := c.searches.Register(token, cb)

	req := &hubproto.SearchRequest{Pattern: pattern, FromToken: token}
	var unregisterKey func()
	if c.udp != nil && c.sudpKeys != nil {
		if key, err := sudp.NewKey(); err == nil {
			unregisterKey = c.sudpKeys.Register(key, token)
			req.Active = true
			req.FromAddr = c.config.SearchUDPAddr
		}
	}
	for _, h := range c.hubs {
		_ = h.Send(hubproto.HubCommand{Kind: hubproto.CommandSearch, Nick: h.nick, Search: req})
	}
	return func() {
		unregisterSearch()
		if unregisterKey != nil {
			unregisterKey()
		}
	}
}

// routeSearchResult hands an inbound search reply to every registered
// SearchQuery: no correlation key is checked here, so results from either
// dialect and from any hub are broadcast to all open tabs, matching real
// clients' best-effort behavior for passive search routing.
func (c *Core) routeSearchResult(h *Hub, reply *hubproto.SearchReply) {
	if c.searches == nil {
		return
	}
	c.searches.mu.Lock()
	defer c.searches.mu.Unlock()
	for _, cb := range c.searches.subs {
		cb(h, reply)
	}
}

// udpRecvLoop drains direct-UDP search replies (spec.md §4.1's active
// search), trial-decrypting each against every outstanding SUDP key before
// falling back to treating it as plaintext, and routes whatever parses as
// an $SR back to its owning search tab.
func (c *Core) udpRecvLoop() {
	for dg := range c.udp.Datagrams() {
		c.handleInboundDatagram(dg.Data)
	}
}

func (c *Core) handleInboundDatagram(data []byte) {
	token := ""
	if c.sudpKeys != nil {
		if plain, tok, ok := c.sudpKeys.TryDecryptAny(data); ok {
			data = plain
			token = tok
		}
	}
	reply, ok := decodeSR(data)
	if !ok {
		return
	}
	if token != "" && c.searches.dispatch(token, nil, reply) {
		return
	}
	c.routeSearchResult(nil, reply)
}

// decodeSR parses a raw "$SR ...|" datagram (the same wire form as a
// hub-routed search reply, but received directly rather than framed by
// netconn's terminator-splitting reader).
func decodeSR(data []byte) (*hubproto.SearchReply, bool) {
	s := strings.TrimSuffix(string(data), string(nmdc.Terminator))
	if !strings.HasPrefix(s, nmdc.CmdSR+" ") {
		return nil, false
	}
	res, err := nmdc.ParseSR(strings.TrimPrefix(s, nmdc.CmdSR+" "))
	if err != nil {
		return nil, false
	}
	return &hubproto.SearchReply{
		Path: res.Path, IsDir: res.IsDir, Size: res.Size, TTH: res.TTH, HasTTH: res.HasTTH,
		FreeSlots: res.FreeSlots, TotalSlots: res.TotalSlots, HubName: res.HubName,
	}, true
}
