package relay

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"studylink/pkg/types"
)

// Router decides who receives each inbound envelope.
// ARCHITECTURAL DISCOVERY: Pure routing logic; connection lifecycle stays in Hub and Handler
type Router struct {
	registry    *Registry
	rateLimiter *RateLimiter
	clock       clockwork.Clock
	logger      *zap.Logger
}

// NewRouter creates a router over registry.
func NewRouter(registry *Registry, rateLimiter *RateLimiter, clock clockwork.Clock, logger *zap.Logger) *Router {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		registry:    registry,
		rateLimiter: rateLimiter,
		clock:       clock,
		logger:      logger,
	}
}

// Route delivers env from sender.
//   - connection: updates presence and broadcasts user_status
//   - user_status: records and broadcasts the sender's status
//   - message: stamped with a server id and time, delivered to To (or everyone
//     else), and acknowledged to the sender with status "sent"
//   - notification: delivered to To, or everyone else
//   - anything else: broadcast to everyone else
//
// Only message, notification and broadcast kinds count against the rate limit.
func (r *Router) Route(ctx context.Context, sender *Peer, env *types.Envelope) error {
	senderID := sender.UserID()

	if !env.Kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnroutable, env.Kind)
	}

	switch p := env.Payload.(type) {
	case types.ConnectionPayload:
		switch p.Action {
		case types.ActionConnect:
			r.PublishStatus(senderID, types.StatusOnline)
		case types.ActionDisconnect:
			r.PublishStatus(senderID, types.StatusOffline)
		}
		return nil

	case types.UserStatusPayload:
		if err := p.Validate(); err != nil {
			return err
		}
		r.PublishStatus(senderID, p.Status)
		return nil

	case types.ErrorPayload:
		return fmt.Errorf("%w: %s", ErrUnroutable, env.Kind)
	}

	// TECHNICAL DISCOVERY: Rate limiting applied per user before any fan-out
	if r.rateLimiter != nil && !r.rateLimiter.Allow(senderID) {
		return ErrRateLimitExceeded
	}

	switch p := env.Payload.(type) {
	case types.MessagePayload:
		return r.routeMessage(sender, p)

	case types.NotificationPayload:
		if p.From == "" {
			p.From = senderID
		}
		if p.To != "" {
			return r.deliverTo(p.To, senderID, p)
		}
		r.broadcast(senderID, p)
		return nil

	default:
		r.broadcast(senderID, env.Payload)
		return nil
	}
}

// FUNCTIONAL DISCOVERY: Server-side ID generation prevents client tampering
func (r *Router) routeMessage(sender *Peer, msg types.MessagePayload) error {
	senderID := sender.UserID()

	msg.ID = uuid.NewString()
	msg.From = senderID
	msg.Timestamp = r.clock.Now()
	msg.Status = ""

	var deliverErr error
	if msg.To != "" {
		deliverErr = r.deliverTo(msg.To, senderID, msg)
	} else {
		r.broadcast(senderID, msg)
	}

	ack := msg
	ack.Status = types.MessageStatusSent
	if err := r.send(sender, senderID, ack); err != nil {
		r.logger.Warn("failed to acknowledge message", zap.String("user_id", senderID), zap.Error(err))
	}

	return deliverErr
}

// PublishStatus records status for userID and tells everyone else when it changed.
func (r *Router) PublishStatus(userID string, status types.UserStatus) {
	if !r.registry.SetStatus(userID, status) {
		return
	}
	r.broadcast(userID, types.UserStatusPayload{
		UserID:    userID,
		Status:    status,
		Timestamp: r.clock.Now(),
	})
}

func (r *Router) deliverTo(recipientID, originID string, payload types.Payload) error {
	peer, ok := r.registry.Get(recipientID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecipientNotFound, recipientID)
	}
	return r.send(peer, originID, payload)
}

// FUNCTIONAL DISCOVERY: Continue delivery to other recipients even if one fails
func (r *Router) broadcast(originID string, payload types.Payload) {
	for _, peer := range r.registry.Others(originID) {
		if err := r.send(peer, originID, payload); err != nil {
			r.logger.Warn("failed to deliver envelope",
				zap.String("to", peer.UserID()),
				zap.String("kind", string(payload.Kind())),
				zap.Error(err))
		}
	}
}

func (r *Router) send(peer *Peer, originID string, payload types.Payload) error {
	data, err := types.Encode(types.NewEnvelope(payload, originID, r.clock.Now()))
	if err != nil {
		return err
	}
	return peer.Send(data)
}

// SendError tells peer that one of its envelopes was rejected.
func (r *Router) SendError(peer *Peer, cause error) {
	if err := r.send(peer, "", types.ErrorPayload{Error: cause.Error()}); err != nil {
		r.logger.Debug("failed to report error to sender", zap.String("user_id", peer.UserID()), zap.Error(err))
	}
}
