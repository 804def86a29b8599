// Package presence turns local user activity into online, away and offline
// status updates.
package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"studylink/pkg/types"
)

// Presence monitor errors
var (
	ErrAlreadyStarted = errors.New("presence monitor already started")
	ErrNotStarted     = errors.New("presence monitor not started")
)

// StatusUpdater publishes the local user's status. *channel.Manager satisfies it.
type StatusUpdater interface {
	UpdateUserStatus(status types.UserStatus) error
}

// Monitor announces online on Start, away after IdleThreshold without Touch,
// online again on the next Touch, and offline on Stop.
type Monitor struct {
	updater       StatusUpdater
	clock         clockwork.Clock
	logger        *zap.Logger
	idleThreshold time.Duration
	checkInterval time.Duration

	publishMu sync.Mutex // orders transitions and updater calls

	mu           sync.Mutex
	status       types.UserStatus
	lastActivity time.Time
	cancel       context.CancelFunc
	done         chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the clock used for idle detection.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Monitor) { m.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithIdleThreshold sets how long without activity counts as away.
func WithIdleThreshold(d time.Duration) Option {
	return func(m *Monitor) { m.idleThreshold = d }
}

// WithCheckInterval sets how often idleness is evaluated.
func WithCheckInterval(d time.Duration) Option {
	return func(m *Monitor) { m.checkInterval = d }
}

// NewMonitor creates a monitor publishing through updater.
func NewMonitor(updater StatusUpdater, opts ...Option) *Monitor {
	m := &Monitor{
		updater:       updater,
		clock:         clockwork.NewRealClock(),
		logger:        zap.NewNop(),
		idleThreshold: 2 * time.Minute,
		checkInterval: 15 * time.Second,
		status:        types.StatusOffline,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start announces online and begins idle detection until ctx ends or Stop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.lastActivity = m.clock.Now()
	ticker := m.clock.NewTicker(m.checkInterval)
	done := m.done
	m.mu.Unlock()

	m.publish(types.StatusOnline)

	go m.run(ctx, ticker, done)
	return nil
}

func (m *Monitor) run(ctx context.Context, ticker clockwork.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			m.check()
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) check() {
	m.transition(types.StatusAway, func() bool {
		return m.status == types.StatusOnline && m.clock.Since(m.lastActivity) >= m.idleThreshold
	})
}

// Touch records user activity; an away user comes back online.
func (m *Monitor) Touch() {
	m.mu.Lock()
	m.lastActivity = m.clock.Now()
	back := m.cancel != nil && m.status == types.StatusAway
	m.mu.Unlock()

	if back {
		m.transition(types.StatusOnline, func() bool {
			return m.cancel != nil && m.status == types.StatusAway
		})
	}
}

// Stop ends idle detection and announces offline.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return ErrNotStarted
	}
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	<-done

	m.publish(types.StatusOffline)
	return nil
}

// Status returns the last status published.
func (m *Monitor) Status() types.UserStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Monitor) publish(status types.UserStatus) {
	m.transition(status, func() bool { return true })
}

// transition sets and publishes status if allowed, evaluated under mu, holds.
// The decision and the updater call happen under publishMu, so updates reach
// the updater in decision order.
func (m *Monitor) transition(status types.UserStatus, allowed func() bool) {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	if !allowed() {
		m.mu.Unlock()
		return
	}
	if status == types.StatusAway {
		m.logger.Debug("user idle", zap.Duration("idle", m.clock.Since(m.lastActivity)))
	}
	m.status = status
	m.mu.Unlock()

	if err := m.updater.UpdateUserStatus(status); err != nil {
		m.logger.Warn("failed to publish status", zap.String("status", string(status)), zap.Error(err))
	}
}
