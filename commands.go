package relaynet

import "github.com/luciancaetano/relaynet/internal/protocol"

// Reserved payload commands. A command is CommandPrefix followed by its name.
const (
	CommandPrefix = protocol.CommandPrefix
	CmdJoin       = protocol.CmdJoin
	CmdQuit       = protocol.CmdQuit
	CmdShutdown   = protocol.CmdShutdown
)

// System notice formats broadcast by the dispatcher.
const (
	JoinedFormat         = "*%s joined*"
	QuitFormat           = "*%s quit*"
	UnknownCommandFormat = "unknown command %q"
	TooLargeFormat       = "message dropped: %d bytes exceeds the %d byte limit"
)

// Standard error messages
const (
	// Lifecycle errors
	ErrMsgConstructionFailed = "construction failed"
	ErrMsgAlreadyActive      = "already active"
	ErrMsgNotActive          = "not active"

	// Connection errors
	ErrMsgPeerNotFound     = "peer not found"
	ErrMsgInvalidJoin      = "invalid join announcement"
	ErrMsgFailedToEncode   = "failed to encode message"
	ErrMsgServerShutdown   = "server shut down"
	ErrMsgConnectionLost   = "connection to server lost"
	ErrMsgUnknownTransport = "unknown transport"

	// Message errors
	ErrMsgMessageTooLarge = "message too large"
	ErrMsgReservedPayload = "payload is reserved for the server"
)
