package dispatch

import "errors"

// ErrHandlerFailure wraps a panic recovered from a subscriber.
var ErrHandlerFailure = errors.New("event handler failed")
