package relay

import "errors"

// Relay error types
var (
	ErrNilPeer            = errors.New("peer cannot be nil")
	ErrPeerClosed         = errors.New("peer connection closed")
	ErrWriteTimeout       = errors.New("write timeout")
	ErrHubAlreadyRunning  = errors.New("hub is already running")
	ErrHubNotRunning      = errors.New("hub is not running")
	ErrInboundChannelFull = errors.New("inbound channel is full")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrRecipientNotFound  = errors.New("recipient not connected")
	ErrUnroutable         = errors.New("envelope kind cannot be relayed")
)
