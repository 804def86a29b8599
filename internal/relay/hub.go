package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"studylink/pkg/types"
)

// Inbound is one frame read from a peer, or the peer leaving when Leave is set.
// Both travel on the same channel so a peer's last frames are routed before
// its departure.
type Inbound struct {
	Peer       *Peer
	Data       []byte
	Leave      bool
	ReceivedAt time.Time
}

// Hub serializes routing on one goroutine.
// ARCHITECTURAL DISCOVERY: Central coordination point for all message flow
type Hub struct {
	inbound  chan *Inbound // TECHNICAL DISCOVERY: 1000 buffer handles classroom message bursts
	shutdown chan struct{}
	stopped  chan struct{} // closed when run returns

	registry *Registry
	router   *Router
	logger   *zap.Logger

	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub over registry and router.
func NewHub(registry *Registry, router *Router, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		inbound:  make(chan *Inbound, 1000),
		shutdown: make(chan struct{}),
		stopped:  make(chan struct{}),
		registry: registry,
		router:   router,
		logger:   logger,
	}
}

// Start begins hub processing.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	h.logger.Info("starting relay hub")
	go h.run(ctx)
	return nil
}

// Stop ends hub processing.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	select {
	case <-h.shutdown:
	default:
		close(h.shutdown)
	}
	h.logger.Info("stopping relay hub")
	return nil
}

// Running reports whether the hub loop is active.
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Register adds peer to the registry.
func (h *Hub) Register(peer *Peer) error {
	if !h.Running() {
		return ErrHubNotRunning
	}
	if err := h.registry.Register(peer); err != nil {
		return err
	}
	h.logger.Info("peer registered", zap.String("user_id", peer.UserID()))
	return nil
}

// Submit queues a frame read from peer.
func (h *Hub) Submit(peer *Peer, data []byte) error {
	return h.enqueue(&Inbound{Peer: peer, Data: data, ReceivedAt: time.Now()})
}

// Unregister queues peer's departure behind its pending frames. Unlike frames
// a departure is never dropped: it waits for room in the queue, and when the
// hub is not running the peer is removed directly and ErrHubNotRunning returned.
func (h *Hub) Unregister(peer *Peer) error {
	if !h.Running() {
		h.registry.Unregister(peer)
		return ErrHubNotRunning
	}

	select {
	case h.inbound <- &Inbound{Peer: peer, Leave: true, ReceivedAt: time.Now()}:
		return nil
	case <-h.shutdown:
	case <-h.stopped:
	}
	h.registry.Unregister(peer)
	return ErrHubNotRunning
}

func (h *Hub) enqueue(in *Inbound) error {
	if !h.Running() {
		return ErrHubNotRunning
	}

	// TECHNICAL DISCOVERY: Non-blocking send with error handling prevents hub lockup
	select {
	case h.inbound <- in:
		return nil
	default:
		return ErrInboundChannelFull
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.stopped)
	defer h.logger.Info("relay hub stopped")

	for {
		select {
		case in := <-h.inbound:
			if in.Leave {
				h.handleLeave(in.Peer)
			} else {
				h.handleFrame(ctx, in)
			}

		case <-h.shutdown:
			return

		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handleFrame(ctx context.Context, in *Inbound) {
	env, err := types.Decode(in.Data)
	if err != nil {
		h.logger.Warn("malformed envelope", zap.String("user_id", in.Peer.UserID()), zap.Error(err))
		h.router.SendError(in.Peer, err)
		return
	}

	if err := h.router.Route(ctx, in.Peer, env); err != nil {
		h.logger.Warn("routing failed",
			zap.String("user_id", in.Peer.UserID()),
			zap.String("kind", string(env.Kind)),
			zap.Error(err))
		h.router.SendError(in.Peer, fmt.Errorf("%s not delivered: %w", env.Kind, err))
		return
	}

	h.logger.Debug("envelope routed", zap.String("user_id", in.Peer.UserID()), zap.String("kind", string(env.Kind)))
}

// handleLeave drops peer and announces the user offline unless a newer
// connection has replaced it.
func (h *Hub) handleLeave(peer *Peer) {
	if !h.registry.Unregister(peer) {
		return
	}
	h.logger.Info("peer unregistered", zap.String("user_id", peer.UserID()))
	h.router.PublishStatus(peer.UserID(), types.StatusOffline)
}
