// Package nhooyr is an alternative socket driver built on nhooyr.io/websocket.
// Writes are safe for concurrent use in that library, so no writer goroutine
// is needed; a read loop and a ping loop run per connection.
package nhooyr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"studylink/internal/transport/wsurl"
	"studylink/pkg/interfaces"
)

// Driver errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrConnectionLost   = errors.New("connection lost")
	ErrPingTimeout      = errors.New("ping timeout")
)

// Options configure the driver.
type Options struct {
	URL          string
	PingInterval time.Duration
	ReadTimeout  time.Duration // bounds each ping round trip
	WriteTimeout time.Duration
	ReadLimit    int64
}

// DefaultOptions mirrors the gorilla driver defaults.
func DefaultOptions(url string) Options {
	return Options{
		URL:          url,
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		ReadLimit:    1 << 20,
	}
}

// Transport dials the configured endpoint.
type Transport struct {
	opts   Options
	logger *zap.Logger
}

// New creates an nhooyr transport.
func New(opts Options, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{opts: opts, logger: logger}
}

// Mock reports false.
func (t *Transport) Mock() bool { return false }

// Dial opens a socket for userID.
func (t *Transport) Dial(ctx context.Context, userID string, sink interfaces.Sink) (interfaces.Conn, error) {
	endpoint, err := wsurl.Build(t.opts.URL, userID)
	if err != nil {
		return nil, err
	}

	ws, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if t.opts.ReadLimit > 0 {
		ws.SetReadLimit(t.opts.ReadLimit)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:     ws,
		sink:   sink,
		opts:   t.opts,
		logger: t.logger.With(zap.String("user_id", userID)),
		ctx:    connCtx,
		cancel: cancel,
	}
	c.state.Store(int32(interfaces.StateOpen))

	go c.readLoop()
	if t.opts.PingInterval > 0 {
		go c.pingLoop()
	}

	return c, nil
}

// Conn wraps one nhooyr socket.
type Conn struct {
	ws     *websocket.Conn
	sink   interfaces.Sink
	opts   Options
	logger *zap.Logger
	state  atomic.Int32

	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	closedByUs atomic.Bool
	pingErr    atomic.Pointer[error]
}

// WriteFrame sends data as one text message.
func (c *Conn) WriteFrame(data []byte) error {
	if c.ReadyState() != interfaces.StateOpen {
		return ErrConnectionClosed
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.WriteTimeout)
	defer cancel()

	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		if c.ctx.Err() != nil {
			return ErrConnectionClosed
		}
		return err
	}
	return nil
}

// ReadyState reports socket readiness.
func (c *Conn) ReadyState() interfaces.ReadyState {
	return interfaces.ReadyState(c.state.Load())
}

// Close performs the closing handshake.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closedByUs.Store(true)
		c.state.CompareAndSwap(int32(interfaces.StateOpen), int32(interfaces.StateClosing))
		err = c.ws.Close(websocket.StatusNormalClosure, "client disconnect")
		c.cancel()
	})
	return err
}

func (c *Conn) readLoop() {
	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			c.finish(err)
			return
		}
		if typ == websocket.MessageText || typ == websocket.MessageBinary {
			c.sink.HandleFrame(data)
		}
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, c.opts.ReadTimeout)
			err := c.ws.Ping(ctx)
			cancel()
			if err != nil {
				if c.ctx.Err() != nil {
					return
				}
				err = fmt.Errorf("%w: %v", ErrPingTimeout, err)
				c.pingErr.Store(&err)
				c.logger.Warn("ping failed", zap.Error(err))
				_ = c.ws.Close(websocket.StatusPolicyViolation, "ping timeout")
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// finish runs once, on the read goroutine.
func (c *Conn) finish(err error) {
	c.state.Store(int32(interfaces.StateClosed))
	c.cancel()

	if p := c.pingErr.Load(); p != nil {
		err = *p
	}

	ev := interfaces.CloseEvent{Code: int(websocket.StatusAbnormalClosure), Reason: err.Error()}
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		ev.Code = int(closeErr.Code)
		ev.Reason = closeErr.Reason
	}

	status := websocket.CloseStatus(err)
	ev.Clean = c.pingErr.Load() == nil && (c.closedByUs.Load() ||
		status == websocket.StatusNormalClosure ||
		status == websocket.StatusGoingAway)

	if !ev.Clean {
		c.logger.Warn("socket lost", zap.Int("code", ev.Code), zap.Error(err))
		c.sink.HandleError(fmt.Errorf("%w: %v", ErrConnectionLost, err))
	}
	c.sink.HandleClose(ev)
}
