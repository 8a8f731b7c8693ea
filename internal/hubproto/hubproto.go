// Package hubproto defines the dialect-neutral event and command sum
// types that bridge NMDC (internal/nmdc) and ADC (internal/adc) into one
// dispatch surface, per spec.md §9's "dual protocol dispatch" design
// note: the two wire formats are too divergent to share a parse tree, so
// each dialect's codec translates to and from these common shapes instead.
package hubproto

import (
	"time"

	"github.com/kprimus/dcshare/internal/tth"
)

// Dialect names which wire format a Session is speaking.
type Dialect int

const (
	DialectNMDC Dialect = iota
	DialectADC
)

// State is the session state machine from spec.md §4.1, shared in concept
// (not wire value) between both dialects.
type State int

const (
	StateProtocol State = iota
	StateIdentify
	StateVerify
	StateNormal
)

// EventKind discriminates the HubEvent sum type.
type EventKind int

const (
	EventHandshakeOK EventKind = iota
	EventUserJoin
	EventUserUpdate
	EventUserQuit
	EventChatMessage
	EventPrivateMessage
	EventSearchRequest
	EventSearchResult
	EventConnectRequest  // peer wants us to connect to it
	EventRevConnectRequest
	EventPasswordRequest
	EventTerminal // QUI / $ForceMove / $ValidateDenide
	EventProtocolError
)

// UserInfo is the dialect-neutral projection of a hub user record, keyed
// per spec.md §4.1's uid derivation (first 8 bytes of
// tiger(hub_id || CID) for ADC, tiger(hub_id || nick) for NMDC).
type UserInfo struct {
	UID         uint64
	Nick        string
	SID         string // ADC session id; empty on NMDC
	ShareSize   uint64
	Slots       int
	IsOperator  bool
	IsBot       bool
	ClientID    string // ADC CID, base32; empty on NMDC
	Description string
}

// SearchRequest is an inbound search, normalized from either dialect's
// wire form (the NMDC $Search parameters or the ADC SCH parameters).
type SearchRequest struct {
	FromNick  string // requester's routing address for passive replies
	FromAddr  string // requester's UDP address for active replies, if any
	FromToken string // ADC TO token, empty on NMDC
	Active    bool
	SizeOp    int // 0=none,1=atmost,2=atleast
	Size      uint64
	Kind      int
	TTH       tth.Hash
	HasTTH    bool
	Pattern   string
}

// SearchReply is an outbound search result ready for dialect-specific
// formatting and transport selection (hub-routed vs. direct UDP vs. SUDP).
type SearchReply struct {
	Path       string
	IsDir      bool
	Size       uint64
	TTH        tth.Hash
	HasTTH     bool
	FreeSlots  int
	TotalSlots int
	HubName    string
}

// HubEvent is the sum type every dialect codec emits toward the session
// event loop (spec.md §9).
type HubEvent struct {
	Kind      EventKind
	Time      time.Time
	User      *UserInfo
	Message   string // chat/private message body, or protocol error text
	Search    *SearchRequest
	Result    *SearchReply
	Reason    string // QUI reason, e.g. "ban"
	Recipient string // ConnectRequest/RevConnectRequest target address
}

// CommandKind discriminates the HubCommand sum type.
type CommandKind int

const (
	CommandHello CommandKind = iota
	CommandMyINFO
	CommandChatMessage
	CommandPrivateMessage
	CommandSearch
	CommandSearchResult
	CommandConnectToMe
	CommandRevConnectToMe
	CommandPassword
	CommandGetNickList
	CommandQuit
)

// HubCommand is the sum type every dialect codec consumes to serialize an
// outbound command on the wire, per spec.md §9.
type HubCommand struct {
	Kind      CommandKind
	Nick      string
	Info      *UserInfo
	Message   string
	Recipient string
	Search    *SearchRequest
	Result    *SearchReply
	Password  string
}

// Codec is implemented by internal/nmdc and internal/adc's per-session
// translators: Decode turns a raw wire frame into zero or more HubEvents
// (zero for ignored/unknown commands, per spec.md §4.1's failure
// semantics), and Encode renders a HubCommand as a wire frame.
type Codec interface {
	Decode(frame []byte) ([]HubEvent, error)
	Encode(cmd HubCommand) ([]byte, error)
	State() State
}
