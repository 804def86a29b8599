package interfaces

import "context"

// ReadyState mirrors the readiness of an underlying socket.
type ReadyState int

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseEvent describes why a connection ended.
type CloseEvent struct {
	Code   int
	Reason string
	Clean  bool // true for normal closure or a close we initiated
}

// Sink receives everything a connection observes. Calls for one connection
// come from a single goroutine, in arrival order.
type Sink interface {
	// HandleFrame is called with each inbound frame, unparsed
	HandleFrame(data []byte)

	// HandleError reports a transport failure that did not (yet) close the connection
	HandleError(err error)

	// HandleClose is called exactly once when the connection ends
	HandleClose(ev CloseEvent)
}

// Conn is one open logical channel.
// ARCHITECTURAL DISCOVERY: Same contract for socket-backed and mock connections,
// so the channel manager never branches on the transport kind
type Conn interface {
	// WriteFrame queues an encoded envelope for transmission (thread-safe)
	WriteFrame(data []byte) error

	// ReadyState reports the current socket readiness
	ReadyState() ReadyState

	// Close ends the connection; safe to call multiple times
	Close() error
}

// Transport opens connections for a user.
type Transport interface {
	// Dial blocks until the connection is open or has failed. The sink is
	// attached before any frame can arrive.
	Dial(ctx context.Context, userID string, sink Sink) (Conn, error)

	// Mock reports whether this transport substitutes for a missing endpoint
	Mock() bool
}
