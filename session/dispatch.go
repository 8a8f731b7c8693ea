package session

import (
	"encoding/binary"
	"strings"

	"github.com/direct-connect/go-dc/tiger"

	"github.com/kprimus/dcshare/internal/hubproto"
	"github.com/kprimus/dcshare/internal/search"
)

// maxSearchResults caps the replies a single inbound search produces, per
// spec.md §4.5.
const maxSearchResults = 5

// dispatchHubEvent ripples hub events to the user table and the download
// scheduler, per spec.md §4.1 ("joins, info updates, and quits produce
// change events that ripple to peer-message tabs and the download
// scheduler").
func (c *Core) dispatchHubEvent(h *Hub, ev hubproto.HubEvent) {
	switch ev.Kind {
	case hubproto.EventUserJoin, hubproto.EventUserUpdate:
		c.handleUserPresence(h, ev.User)
	case hubproto.EventUserQuit:
		if ev.User != nil {
			c.handleUserQuit(uid(h.ID, ev.User))
		}
	case hubproto.EventSearchRequest:
		c.handleInboundSearch(h, ev.Search)
	case hubproto.EventSearchResult:
		c.handleSearchResult(h, ev.Result)
	case hubproto.EventConnectRequest:
		c.handleConnectRequest(h, ev.Recipient)
	case hubproto.EventTerminal:
		// Per spec.md §9's open question (a): a terminal QUI disables the
		// hub rather than entering the scheduler's WAI state.
		h.autoReconnect = false
		h.log.Warningf("hub terminated session: %s", ev.Reason)
	}
}

func (c *Core) handleUserPresence(h *Hub, info *hubproto.UserInfo) {
	if info == nil {
		return
	}
	id := uid(h.ID, info)
	u, ok := c.users[id]
	if !ok {
		u = NewDLUser(id, info.Nick, h.ID)
		c.users[id] = u
	}
	if u.State == StateNCO {
		c.requestScanIfQueued(u)
	}
}

// requestScanIfQueued asks the scheduler to re-scan when a user we
// have queued sources for comes online.
func (c *Core) requestScanIfQueued(u *DLUser) {
	for _, item := range c.dlitems {
		if _, ok := item.Sources[u.UID]; ok {
			c.scheduler.RequestScan()
			return
		}
	}
}

func (c *Core) handleUserQuit(id uint64) {
	u, ok := c.users[id]
	if !ok {
		return
	}
	c.scheduler.EnterWait(u)
}

// handleInboundSearch compiles an inbound search request into a
// search.Query against the local share and sends back up to
// maxSearchResults replies, per spec.md §4.5.
func (c *Core) handleInboundSearch(h *Hub, req *hubproto.SearchRequest) {
	if req == nil || c.share == nil {
		return
	}
	kind := search.Kind(req.Kind)
	if req.HasTTH {
		kind = search.KindTTH
	}
	terms := strings.Fields(req.Pattern)
	q, err := search.Compile(kind, search.SizeOp(req.SizeOp), req.Size, terms, nil, maxSearchResults)
	if err != nil {
		return
	}
	q.TTH = req.TTH

	for _, r := range q.Match(c.share) {
		reply := &hubproto.SearchReply{
			Path:       r.Path,
			IsDir:      r.Node.IsDir,
			Size:       r.Node.Size,
			TTH:        r.Node.TTH,
			HasTTH:     r.Node.HasTTH,
			FreeSlots:  c.config.DownloadSlots - c.countActive(),
			TotalSlots: c.config.DownloadSlots,
			HubName:    h.ID,
		}
		cmd := hubproto.HubCommand{Kind: hubproto.CommandSearchResult, Recipient: req.FromNick, Result: reply}
		if req.FromToken != "" {
			cmd.Search = req
		}
		_ = h.Send(cmd)
	}
}

func (c *Core) handleSearchResult(h *Hub, reply *hubproto.SearchReply) {
	if reply == nil {
		return
	}
	// Routed to whichever SearchQuery registered the matching pattern;
	// the registration table lives in session/search.go.
	c.routeSearchResult(h, reply)
}

// uid derives the 8-byte user identifier from spec.md §4.1: first 8 bytes
// of tiger(hub_id || CID) on ADC, tiger(hub_id || nick) on NMDC.
func uid(hubID string, info *hubproto.UserInfo) uint64 {
	key := info.ClientID
	if key == "" {
		key = info.Nick
	}
	h := tiger.New()
	h.Write([]byte(hubID))
	h.Write([]byte(key))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}
