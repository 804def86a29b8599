// Package gorilla is the default socket driver, built on gorilla/websocket.
package gorilla

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"studylink/internal/transport/wsurl"
	"studylink/pkg/interfaces"
)

// Driver errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrConnectionLost   = errors.New("connection lost")
)

// Options configure the driver.
type Options struct {
	URL          string
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// DefaultOptions returns timeouts suited to classroom networks.
func DefaultOptions(url string) Options {
	return Options{
		URL:          url,
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   100,
	}
}

// Transport dials the configured endpoint.
type Transport struct {
	opts   Options
	dialer *websocket.Dialer
	logger *zap.Logger
}

// New creates a gorilla transport.
func New(opts Options, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100
	}
	dialer := *websocket.DefaultDialer
	return &Transport{opts: opts, dialer: &dialer, logger: logger}
}

// Mock reports false.
func (t *Transport) Mock() bool { return false }

// Dial opens a socket for userID and starts its read and write pumps.
func (t *Transport) Dial(ctx context.Context, userID string, sink interfaces.Sink) (interfaces.Conn, error) {
	endpoint, err := wsurl.Build(t.opts.URL, userID)
	if err != nil {
		return nil, err
	}

	ws, _, err := t.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := newConn(ws, sink, t.opts, t.logger.With(zap.String("user_id", userID)))
	go c.writeLoop()
	go c.readLoop()

	return c, nil
}

// Conn wraps one gorilla socket.
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized, so every frame
// and ping goes through the single writer goroutine
type Conn struct {
	ws      *websocket.Conn
	sink    interfaces.Sink
	opts    Options
	logger  *zap.Logger
	writeCh chan []byte
	state   atomic.Int32

	ctx        context.Context
	cancel     context.CancelFunc
	closing    chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
}

func newConn(ws *websocket.Conn, sink interfaces.Sink, opts Options, logger *zap.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:         ws,
		sink:       sink,
		opts:       opts,
		logger:     logger,
		writeCh:    make(chan []byte, opts.BufferSize),
		ctx:        ctx,
		cancel:     cancel,
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	c.state.Store(int32(interfaces.StateOpen))
	return c
}

// WriteFrame queues data for the writer goroutine.
func (c *Conn) WriteFrame(data []byte) error {
	select {
	case <-c.closing:
		return ErrConnectionClosed
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.opts.WriteTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// ReadyState reports socket readiness.
func (c *Conn) ReadyState() interfaces.ReadyState {
	return interfaces.ReadyState(c.state.Load())
}

// Close flushes queued frames, sends a normal close and tears the socket down.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.CompareAndSwap(int32(interfaces.StateOpen), int32(interfaces.StateClosing))
		close(c.closing)

		select {
		case <-c.writerDone:
		case <-time.After(c.opts.WriteTimeout):
		}

		c.cancel()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) writeLoop() {
	defer close(c.writerDone)

	var pings <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(data); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}

		case <-pings:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}

		case <-c.closing:
			c.flush()
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout))
			return

		case <-c.ctx.Done():
			return
		}
	}
}

// flush writes whatever was queued before Close.
func (c *Conn) flush() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) readLoop() {
	if c.opts.ReadTimeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		})
	}

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		if c.opts.ReadTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			c.sink.HandleFrame(data)
		}
	}
}

// finish runs once, on the read goroutine, when the socket is gone.
func (c *Conn) finish(err error) {
	local := c.ctx.Err() != nil

	select {
	case <-c.closing:
		local = true
	default:
	}

	c.state.Store(int32(interfaces.StateClosed))
	c.cancel()
	_ = c.ws.Close()

	ev := interfaces.CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		ev.Code = closeErr.Code
		ev.Reason = closeErr.Text
	}
	ev.Clean = local || ev.Code == websocket.CloseNormalClosure || ev.Code == websocket.CloseGoingAway

	if !ev.Clean {
		c.logger.Warn("socket lost", zap.Int("code", ev.Code), zap.Error(err))
		c.sink.HandleError(fmt.Errorf("%w: %v", ErrConnectionLost, err))
	}
	c.sink.HandleClose(ev)
}
