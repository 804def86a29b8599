package relay

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options tune relay sockets.
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// DefaultOptions uses a 30s heartbeat and a 60s read deadline.
func DefaultOptions() Options {
	return Options{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   100,
	}
}

// Peer is one connected client.
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions,
// so frames and pings share one writer goroutine
type Peer struct {
	ws      *websocket.Conn
	userID  string
	opts    Options
	logger  *zap.Logger
	writeCh chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewPeer wraps an upgraded socket and starts its writer.
func NewPeer(ws *websocket.Conn, userID string, opts Options, logger *zap.Logger) *Peer {
	p := newPeer(ws, userID, opts, logger)
	go p.writeLoop()
	return p
}

func newPeer(ws *websocket.Conn, userID string, opts Options, logger *zap.Logger) *Peer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Peer{
		ws:      ws,
		userID:  userID,
		opts:    opts,
		logger:  logger.With(zap.String("user_id", userID)),
		writeCh: make(chan []byte, opts.BufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// UserID returns the identifier the peer connected with.
func (p *Peer) UserID() string { return p.userID }

// Done is closed once the peer is closed.
func (p *Peer) Done() <-chan struct{} { return p.ctx.Done() }

// Send queues an encoded envelope.
func (p *Peer) Send(data []byte) error {
	select {
	case <-p.ctx.Done():
		return ErrPeerClosed
	default:
	}

	select {
	case p.writeCh <- data:
		return nil
	case <-time.After(p.opts.WriteTimeout):
		return ErrWriteTimeout
	case <-p.ctx.Done():
		return ErrPeerClosed
	}
}

// Close stops the writer and closes the socket.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.cancel()
		if p.ws != nil {
			err = p.ws.Close()
		}
	})
	return err
}

func (p *Peer) writeLoop() {
	var pings <-chan time.Time
	if p.opts.PingInterval > 0 {
		ticker := time.NewTicker(p.opts.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case data := <-p.writeCh:
			if err := p.ws.SetWriteDeadline(time.Now().Add(p.opts.WriteTimeout)); err != nil {
				p.logger.Debug("set write deadline failed", zap.Error(err))
				_ = p.Close()
				return
			}
			if err := p.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				p.logger.Debug("write failed", zap.Error(err))
				_ = p.Close()
				return
			}

		case <-pings:
			if err := p.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.opts.WriteTimeout)); err != nil {
				_ = p.Close()
				return
			}

		case <-p.ctx.Done():
			return
		}
	}
}
