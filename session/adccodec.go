package session

import (
	"strconv"

	"github.com/kprimus/dcshare/internal/adc"
	"github.com/kprimus/dcshare/internal/hubproto"
)

// adcCodec translates between ADC wire frames and hubproto's
// dialect-neutral HubEvent/HubCommand sum types, per spec.md §9.
type adcCodec struct {
	hub *Hub
	sid adc.SID
}

func newADCCodec(h *Hub) *adcCodec { return &adcCodec{hub: h} }

func (c *adcCodec) DecodeFrame(frame []byte) ([]hubproto.HubEvent, error) {
	line := trimTerminator(frame, '\n')
	m, err := adc.Parse(string(line))
	if err != nil {
		return nil, err
	}
	switch m.Cmd {
	case adc.CmdSID:
		if len(m.Params) > 0 {
			sid, err := adc.ParseSID(m.Params[0])
			if err == nil {
				c.sid = sid
			}
		}
		return nil, nil
	case adc.CmdINF:
		nick, _ := m.GetFirst(adc.ParamNick)
		return []hubproto.HubEvent{{
			Kind: hubproto.EventUserJoin,
			User: &hubproto.UserInfo{SID: m.Source.String(), Nick: nick},
		}}, nil
	case adc.CmdMSG:
		if len(m.Params) == 0 {
			return nil, nil
		}
		return []hubproto.HubEvent{{Kind: hubproto.EventChatMessage, Message: m.Params[0]}}, nil
	case adc.CmdGPA:
		return []hubproto.HubEvent{{Kind: hubproto.EventPasswordRequest}}, nil
	case adc.CmdQUI:
		reason, _ := m.GetFirst("MS")
		return []hubproto.HubEvent{{Kind: hubproto.EventTerminal, Reason: reason}}, nil
	case adc.CmdSCH:
		return []hubproto.HubEvent{{Kind: hubproto.EventSearchRequest, Search: decodeADCSearch(m)}}, nil
	case adc.CmdRES:
		return []hubproto.HubEvent{{Kind: hubproto.EventSearchResult, Result: decodeADCResult(m)}}, nil
	case adc.CmdCTM:
		if len(m.Params) < 2 {
			return nil, nil
		}
		return []hubproto.HubEvent{{Kind: hubproto.EventConnectRequest, Recipient: m.Params[1]}}, nil
	case adc.CmdRCM:
		return []hubproto.HubEvent{{Kind: hubproto.EventRevConnectRequest}}, nil
	default:
		return nil, nil // unknown commands are ignored, per spec.md §4.1
	}
}

func decodeADCSearch(m *adc.Message) *hubproto.SearchRequest {
	req := &hubproto.SearchRequest{}
	if pat, ok := m.GetFirst("AN"); ok {
		req.Pattern = pat
	}
	req.FromToken, _ = m.GetFirst(adc.ParamToken)
	return req
}

func decodeADCResult(m *adc.Message) *hubproto.SearchReply {
	reply := &hubproto.SearchReply{}
	if fn, ok := m.GetFirst(adc.ParamFileName); ok {
		reply.Path = fn
	}
	return reply
}

func encodeADCResult(r *hubproto.SearchReply, req *hubproto.SearchRequest) []string {
	if r == nil {
		return nil
	}
	params := []string{adc.ParamFileName + adc.Escape(r.Path)}
	if !r.IsDir {
		params = append(params, "SI"+strconv.FormatUint(r.Size, 10))
	}
	if r.HasTTH {
		params = append(params, "TR"+r.TTH.String())
	}
	params = append(params, "SL"+strconv.Itoa(r.FreeSlots))
	if req != nil && req.FromToken != "" {
		params = append(params, adc.ParamToken+adc.Escape(req.FromToken))
	}
	return params
}

func trimTerminator(frame []byte, term byte) []byte {
	if len(frame) > 0 && frame[len(frame)-1] == term {
		return frame[:len(frame)-1]
	}
	return frame
}

func (c *adcCodec) EncodeCommand(cmd hubproto.HubCommand) ([]byte, error) {
	var m adc.Message
	switch cmd.Kind {
	case hubproto.CommandChatMessage:
		m = adc.Message{Type: 'B', Cmd: adc.CmdMSG, Source: c.sid, Params: []string{cmd.Message}}
	case hubproto.CommandSearch:
		m = adc.Message{Type: 'B', Cmd: adc.CmdSCH, Source: c.sid, Params: []string{"AN" + adc.Escape(cmd.Search.Pattern)}}
	case hubproto.CommandPassword:
		m = adc.Message{Type: 'H', Cmd: adc.CmdPAS, Params: []string{adc.Escape(cmd.Password)}}
	case hubproto.CommandQuit:
		m = adc.Message{Type: 'H', Cmd: adc.CmdQUI}
	case hubproto.CommandRevConnectToMe:
		m = adc.Message{Type: 'D', Cmd: adc.CmdRCM, Source: c.sid}
	case hubproto.CommandSearchResult:
		m = adc.Message{Type: 'D', Cmd: adc.CmdRES, Source: c.sid, Params: encodeADCResult(cmd.Result, cmd.Search)}
	case hubproto.CommandConnectToMe:
		m = adc.Message{Type: 'D', Cmd: adc.CmdCTM, Source: c.sid, Params: []string{cmd.Recipient}}
	default:
		m = adc.Message{Type: 'H', Cmd: adc.CmdSUP}
	}
	return append([]byte(m.Serialize()), '\n'), nil
}
