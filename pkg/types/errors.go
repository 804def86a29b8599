package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types let transports and the channel
// manager tell malformed input apart from programming errors
var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrUnknownKind       = errors.New("unknown envelope kind")
	ErrKindMismatch      = errors.New("payload kind does not match envelope kind")
	ErrNilPayload        = errors.New("envelope payload cannot be nil")
	ErrInvalidUserID     = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen/dot/@ only")
	ErrInvalidUserStatus = errors.New("user status must be one of online, away, offline")
)
