package relaynet

import "errors"

var (
	// ErrConstructionFailed is returned by Activate on an instance whose
	// listener could not bind or whose connection could not be dialed. The
	// returned error also wraps the underlying cause.
	ErrConstructionFailed = errors.New(ErrMsgConstructionFailed)
	ErrAlreadyActive      = errors.New(ErrMsgAlreadyActive)
	ErrNotActive          = errors.New(ErrMsgNotActive)

	ErrPeerNotFound     = errors.New(ErrMsgPeerNotFound)
	ErrInvalidJoin      = errors.New(ErrMsgInvalidJoin)
	ErrUnknownTransport = errors.New(ErrMsgUnknownTransport)

	ErrMessageTooLarge = errors.New(ErrMsgMessageTooLarge)
	ErrReservedPayload = errors.New(ErrMsgReservedPayload)

	// ErrServerShutdown is surfaced to the presentation layer when the server
	// broadcasts its shutdown sentinel.
	ErrServerShutdown = errors.New(ErrMsgServerShutdown)
	// ErrConnectionLost is surfaced when the connection drops without a
	// shutdown sentinel.
	ErrConnectionLost = errors.New(ErrMsgConnectionLost)
)
