package channel

import "errors"

// Channel manager error types
var (
	ErrEmptyUserID        = errors.New("user ID cannot be empty")
	ErrAlreadyConnecting  = errors.New("connection attempt already in progress")
	ErrConnectAborted     = errors.New("connection attempt aborted by disconnect")
	ErrNotConnected       = errors.New("channel is not connected")
	ErrTransport          = errors.New("transport error")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrMalformedMessage   = errors.New("malformed inbound message")

	errClosedDuringOpen = errors.New("connection closed during open")
)

// reconnectExhaustedMessage is the error event text UI code matches on.
const reconnectExhaustedMessage = "Failed to reconnect after multiple attempts"
