package relay

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"studylink/internal/transport/wsurl"
	"studylink/pkg/types"
)

// Handler upgrades /ws requests and pumps frames into the hub.
type Handler struct {
	hub      *Hub
	opts     Options
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates a websocket handler feeding hub.
func NewHandler(hub *Hub, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub:  hub,
		opts: opts,
		upgrader: websocket.Upgrader{
			// FUNCTIONAL DISCOVERY: Allow all origins for development
			CheckOrigin:      func(*http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// ServeHTTP validates the userId query parameter, upgrades and reads until
// the socket closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get(wsurl.UserIDParam)
	if !types.IsValidUserID(userID) {
		http.Error(w, "missing or invalid userId", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	peer := NewPeer(ws, userID, h.opts, h.logger)
	if err := h.hub.Register(peer); err != nil {
		h.logger.Error("failed to register peer", zap.String("user_id", userID), zap.Error(err))
		_ = peer.Close()
		return
	}

	h.readPump(peer)
}

// readPump runs on the request goroutine until the socket fails.
func (h *Handler) readPump(peer *Peer) {
	defer func() {
		if err := h.hub.Unregister(peer); err != nil {
			h.logger.Warn("failed to queue unregister", zap.String("user_id", peer.UserID()), zap.Error(err))
		}
		_ = peer.Close()
	}()

	// TECHNICAL DISCOVERY: Read deadline extended by every pong and every frame
	extend := func() error {
		if h.opts.ReadTimeout <= 0 {
			return nil
		}
		return peer.ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	}
	if err := extend(); err != nil {
		return
	}
	peer.ws.SetPongHandler(func(string) error { return extend() })

	for {
		messageType, data, err := peer.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Info("peer connection lost", zap.String("user_id", peer.UserID()), zap.Error(err))
			}
			return
		}
		_ = extend()

		if messageType != websocket.TextMessage {
			continue
		}
		if err := h.hub.Submit(peer, data); err != nil {
			h.logger.Warn("dropping inbound frame", zap.String("user_id", peer.UserID()), zap.Error(err))
		}
	}
}
