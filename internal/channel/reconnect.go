package channel

import (
	"context"
	"time"

	"go.uber.org/zap"

	"studylink/pkg/types"
)

// ReconnectPolicy bounds recovery after an unexpected close.
type ReconnectPolicy struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

// DefaultReconnectPolicy retries five times starting at three seconds.
var DefaultReconnectPolicy = ReconnectPolicy{
	BaseDelay:   3 * time.Second,
	MaxAttempts: 5,
}

// Delay returns the wait before the given attempt: BaseDelay * 2^attempt.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return p.BaseDelay << uint(attempt)
}

// handleUnexpectedClose runs the reconnection algorithm after the current
// connection dropped or a dial failed.
// ARCHITECTURAL DISCOVERY: At most one pending timer, so overlapping close and
// error signals never start two reconnection chains
func (m *Manager) handleUnexpectedClose() {
	m.registry.Emit(types.KindConnection, types.ConnectionPayload{Status: types.ConnectionDisconnected})

	m.mu.Lock()
	if m.attempts >= m.policy.MaxAttempts {
		attempts := m.attempts
		m.mu.Unlock()

		m.logger.Error("giving up on reconnect",
			zap.Int("attempts", attempts),
			zap.Error(ErrReconnectExhausted))
		m.emitError(reconnectExhaustedMessage)
		return
	}

	if m.reconnectTimer != nil {
		m.mu.Unlock()
		return
	}

	delay := m.policy.Delay(m.attempts)
	pending := m.attempts
	userID := m.userID

	// timer is assigned before the lock is released and read only under it
	var timer reconnectTimer
	timer = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.reconnectTimer != timer {
			m.mu.Unlock()
			return
		}
		m.reconnectTimer = nil
		m.attempts++
		attempt := m.attempts
		m.mu.Unlock()

		m.logger.Info("reconnecting", zap.String("user_id", userID), zap.Int("attempt", attempt))
		if err := m.connect(context.Background(), userID, false); err != nil {
			m.logger.Debug("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
	})
	m.reconnectTimer = timer
	m.mu.Unlock()

	m.logger.Info("reconnect scheduled", zap.Duration("delay", delay), zap.Int("attempts", pending))
}

// stopReconnectLocked cancels a pending reconnection. Callers hold m.mu.
func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// reconnectTimer is the part of clockwork.Timer the manager needs.
type reconnectTimer interface {
	Stop() bool
}
