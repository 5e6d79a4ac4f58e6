package at

const (
	// Terminal Control
	CRLF   = "\r\n"
	Prompt = "> "
	CtrlZ  = 0x1A

	// Response Codes
	OK       = "OK"
	ERROR    = "ERROR"
	CmeError = "+CME ERROR: "
	CmsError = "+CMS ERROR: "

	// URCs (Unsolicited Result Codes)
	UrcReady       = "RDY"
	UrcPowerDown   = "NORMAL POWER DOWN"
	UrcSimStatus   = "+CPIN: "
	UrcRegistered  = "+CREG: "
	UrcPDPDeact    = "+PDP: DEACT"
	UrcReceive     = "+RECEIVE,"
	UrcNetworkTime = "*PSUTTZ: "
	UrcIndicator   = "+CIEV: "
	UrcClosed      = ", CLOSED"

	// Intermediate responses
	SimReady       = "READY"
	RespSignal     = "+CSQ: "
	RespRegistered = "+CREG: "
	RespAttached   = "+CGATT: "
	RespResolve    = "+CDNSGIP: "
	ConnectOK      = ", CONNECT OK"
	ConnectFail    = ", CONNECT FAIL"
	AlreadyConnect = ", ALREADY CONNECT"
	SendOK         = ", SEND OK"
	SendFail       = ", SEND FAIL"
	CloseOK        = ", CLOSE OK"
	RevisionPrefix = "Revision:"

	// Commands
	CmdAt            = "AT"
	CmdEchoOff       = "ATE0"
	CmdSimStatus     = "AT+CPIN?"
	CmdManufacturer  = "AT+CGMI"
	CmdModel         = "AT+CGMM"
	CmdRevision      = "AT+CGMR"
	CmdIMEI          = "AT+CGSN"
	CmdSignalQuality = "AT+CSQ"
	CmdRegistration  = "AT+CREG?"
	CmdAttached      = "AT+CGATT?"
	CmdMultiplex     = "AT+CIPMUX=1"
	CmdBringUp       = "AT+CIICR"
	CmdLocalIP       = "AT+CIFSR"
)
