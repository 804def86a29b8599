package transport

import "errors"

// ErrUnknownDriver is returned for a websocket.driver value with no implementation.
var ErrUnknownDriver = errors.New("unknown websocket driver")
