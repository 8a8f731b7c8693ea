package session

import (
	"bytes"
	"strings"

	"github.com/kprimus/dcshare/internal/hubproto"
	"github.com/kprimus/dcshare/internal/nmdc"
)

// nmdcCodec translates between NMDC wire frames and hubproto's
// dialect-neutral sum types, per spec.md §9.
type nmdcCodec struct {
	hub *Hub
	lock []byte
	// legacyCharset is true until the hub's $Supports line advertises
	// UTF8, per spec.md §4.1: older hubs send nicks and chat as
	// Windows-1252, and internal/nmdc.DecodeLegacy converts them.
	legacyCharset bool
}

func newNMDCCodec(h *Hub) *nmdcCodec { return &nmdcCodec{hub: h, legacyCharset: true} }

func (c *nmdcCodec) DecodeFrame(frame []byte) ([]hubproto.HubEvent, error) {
	body := bytes.TrimSuffix(frame, []byte{nmdc.Terminator})
	s := string(body)

	switch {
	case strings.HasPrefix(s, nmdc.CmdLock+" "):
		c.lock = []byte(strings.Fields(strings.TrimPrefix(s, nmdc.CmdLock+" "))[0])
		return []hubproto.HubEvent{{Kind: hubproto.EventHandshakeOK}}, nil
	case strings.HasPrefix(s, nmdc.CmdHello+" "):
		nick := strings.TrimPrefix(s, nmdc.CmdHello+" ")
		if c.legacyCharset {
			nick = nmdc.DecodeLegacy(nick)
		}
		return []hubproto.HubEvent{{Kind: hubproto.EventUserJoin, User: &hubproto.UserInfo{Nick: nick}}}, nil
	case strings.HasPrefix(s, nmdc.CmdSupports+" "):
		if strings.Contains(s, "UTF8") {
			c.legacyCharset = false
		}
		return nil, nil
	case strings.HasPrefix(s, nmdc.CmdGetPass):
		return []hubproto.HubEvent{{Kind: hubproto.EventPasswordRequest}}, nil
	case strings.HasPrefix(s, nmdc.CmdForceMove) || strings.HasPrefix(s, nmdc.CmdValidateDenide):
		return []hubproto.HubEvent{{Kind: hubproto.EventTerminal, Reason: s}}, nil
	case strings.HasPrefix(s, nmdc.CmdConnectToMe+" "):
		fields := strings.Fields(strings.TrimPrefix(s, nmdc.CmdConnectToMe+" "))
		if len(fields) < 2 {
			return nil, nil
		}
		return []hubproto.HubEvent{{Kind: hubproto.EventConnectRequest, Recipient: fields[1]}}, nil
	case strings.HasPrefix(s, nmdc.CmdRevConnectToMe+" "):
		return []hubproto.HubEvent{{Kind: hubproto.EventRevConnectRequest}}, nil
	case strings.HasPrefix(s, nmdc.CmdSR+" "):
		res, err := nmdc.ParseSR(strings.TrimPrefix(s, nmdc.CmdSR+" "))
		if err != nil {
			return nil, err
		}
		return []hubproto.HubEvent{{Kind: hubproto.EventSearchResult, Result: &hubproto.SearchReply{
			Path: res.Path, IsDir: res.IsDir, Size: res.Size, TTH: res.TTH, HasTTH: res.HasTTH,
			FreeSlots: res.FreeSlots, TotalSlots: res.TotalSlots, HubName: res.HubName,
		}}}, nil
	case strings.HasPrefix(s, "<"):
		if idx := strings.Index(s, "> "); idx != -1 {
			msg := nmdc.Unescape(s[idx+2:])
			if c.legacyCharset {
				msg = nmdc.DecodeLegacy(msg)
			}
			return []hubproto.HubEvent{{Kind: hubproto.EventChatMessage, Message: msg}}, nil
		}
		return nil, nil
	default:
		return nil, nil // unknown commands are ignored, per spec.md §4.1
	}
}

func (c *nmdcCodec) EncodeCommand(cmd hubproto.HubCommand) ([]byte, error) {
	var body string
	switch cmd.Kind {
	case hubproto.CommandHello:
		body = nmdc.CmdMyNick + " " + cmd.Nick
	case hubproto.CommandChatMessage:
		msg := cmd.Message
		if c.legacyCharset {
			msg = nmdc.EncodeLegacy(msg)
		}
		body = "<" + cmd.Nick + "> " + nmdc.Escape(msg)
	case hubproto.CommandSearch:
		addrOrNick := cmd.Nick
		if cmd.Search.Active && cmd.Search.FromAddr != "" {
			addrOrNick = cmd.Search.FromAddr
		}
		body = nmdc.FormatSearch(addrOrNick, cmd.Search.Active && cmd.Search.FromAddr != "", nmdc.SizeNone, 0, nmdc.TypeAny, cmd.Search.Pattern)
	case hubproto.CommandPassword:
		body = nmdc.CmdMyPass + " " + nmdc.Escape(cmd.Password)
	case hubproto.CommandQuit:
		body = nmdc.CmdQuit
	case hubproto.CommandRevConnectToMe:
		body = nmdc.CmdRevConnectToMe + " " + c.hub.nick + " " + cmd.Recipient
	case hubproto.CommandConnectToMe:
		body = nmdc.CmdConnectToMe + " " + cmd.Recipient
	case hubproto.CommandSearchResult:
		res := cmd.Result
		body = nmdc.FormatSR(c.hub.nick, &nmdc.Result{
			Path: res.Path, IsDir: res.IsDir, Size: res.Size, TTH: res.TTH, HasTTH: res.HasTTH,
			FreeSlots: res.FreeSlots, TotalSlots: res.TotalSlots, HubName: res.HubName,
			HubAddr: c.hub.url.Host,
		}, cmd.Recipient)
	default:
		body = ""
	}
	return nmdc.Frame(body), nil
}
