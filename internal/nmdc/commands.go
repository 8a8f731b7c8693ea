package nmdc

// Command name constants for the NMDC subset implemented per spec.md §6:
// presence, chat, slot requests, search, connect requests, validation, and
// the lock/key and password handshakes.
const (
	CmdLock            = "$Lock"
	CmdKey             = "$Key"
	CmdMyNick          = "$MyNick"
	CmdMyINFO          = "$MyINFO"
	CmdValidateNick    = "$ValidateNick"
	CmdValidateDenide  = "$ValidateDenide"
	CmdGetPass         = "$GetPass"
	CmdMyPass          = "$MyPass"
	CmdQuit            = "$Quit"
	CmdHello           = "$Hello"
	CmdForceMove       = "$ForceMove"
	CmdSearch          = "$Search"
	CmdSR              = "$SR"
	CmdConnectToMe     = "$ConnectToMe"
	CmdRevConnectToMe  = "$RevConnectToMe"
	CmdGetNickList     = "$GetNickList"
	CmdNickList        = "$NickList"
	CmdOpList          = "$OpList"
	CmdBotList         = "$BotList"
	CmdLogedIn         = "$LogedIn"
	CmdHubName         = "$HubName"
	CmdHubTopic        = "$HubTopic"
	CmdSupports        = "$Supports"
)

// Session states from spec.md §4.1's state machine, shared in spirit (not
// wire value) with ADC's.
type State int

const (
	StateProtocol State = iota
	StateIdentify
	StateVerify
	StateNormal
)
