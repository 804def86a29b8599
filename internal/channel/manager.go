package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"studylink/internal/dispatch"
	"studylink/pkg/interfaces"
	"studylink/pkg/types"
)

// State is the manager's connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Values returned by ConnectionState.
const (
	ConnStateMock         = "mock"
	ConnStateDisconnected = "disconnected"
	ConnStateConnecting   = "connecting"
	ConnStateConnected    = "connected"
	ConnStateClosing      = "closing"
	ConnStateUnknown      = "unknown"
)

// Manager owns one logical channel per session and its lifecycle: connect,
// receive, error, close, reconnect and explicit disconnect.
// ARCHITECTURAL DISCOVERY: Transport-agnostic state machine, mock substitution is
// the injected Transport rather than branches in here
type Manager struct {
	transport interfaces.Transport
	registry  *dispatch.Registry
	clock     clockwork.Clock
	logger    *zap.Logger
	policy    ReconnectPolicy

	mu             sync.Mutex
	state          State
	userID         string
	conn           interfaces.Conn
	gen            uint64 // bumped by every dial and every Disconnect
	closedEarly    bool   // the dial for gen closed before connect() committed it
	attempts       int
	reconnectTimer reconnectTimer
	standby        interfaces.Conn // mock-mode conn serving Send outside a session
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock replaces the clock used for timestamps and reconnect timers.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithReconnectPolicy overrides DefaultReconnectPolicy.
func WithReconnectPolicy(policy ReconnectPolicy) Option {
	return func(m *Manager) {
		m.policy = policy
	}
}

// NewManager creates a manager that dials through transport and delivers
// inbound events to registry.
func NewManager(transport interfaces.Transport, registry *dispatch.Registry, opts ...Option) *Manager {
	m := &Manager{
		transport: transport,
		registry:  registry,
		clock:     clockwork.NewRealClock(),
		logger:    zap.NewNop(),
		policy:    DefaultReconnectPolicy,
		state:     StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens the channel for userID and blocks until the transport is open.
// A second call while an attempt is outstanding fails with ErrAlreadyConnecting.
// Transport failures are also reported as error events and start reconnection.
func (m *Manager) Connect(ctx context.Context, userID string) error {
	return m.connect(ctx, userID, true)
}

func (m *Manager) connect(ctx context.Context, userID string, explicit bool) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	m.mu.Lock()
	if m.state == StateConnecting {
		m.mu.Unlock()
		return ErrAlreadyConnecting
	}
	if m.state == StateConnected && m.conn != nil && m.conn.ReadyState() == interfaces.StateOpen {
		m.mu.Unlock()
		return nil
	}
	if explicit {
		// FUNCTIONAL DISCOVERY: An explicit connect restarts the backoff ladder,
		// including after reconnects were exhausted
		m.stopReconnectLocked()
		m.attempts = 0
	}
	m.state = StateConnecting
	m.userID = userID
	m.gen++
	m.closedEarly = false
	gen := m.gen
	m.mu.Unlock()

	m.logger.Info("connecting", zap.String("user_id", userID), zap.Bool("mock", m.transport.Mock()))

	conn, err := m.transport.Dial(ctx, userID, &connSink{m: m, gen: gen})
	if err == nil && conn.ReadyState() != interfaces.StateOpen {
		err = errClosedDuringOpen
	}

	m.mu.Lock()
	if gen != m.gen {
		// Disconnect ran while dialing; a late open is discarded
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrConnectAborted
	}

	// a close reported while connecting is deferred to here
	if err == nil && m.closedEarly {
		err = errClosedDuringOpen
	}
	m.closedEarly = false

	if err != nil {
		m.state = StateDisconnected
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}

		m.logger.Warn("connect failed", zap.String("user_id", userID), zap.Error(err))
		m.emitError(err.Error())
		m.handleUnexpectedClose()
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	m.conn = conn
	m.state = StateConnected
	m.attempts = 0
	m.stopReconnectLocked()
	standby := m.standby
	m.standby = nil
	mock := m.transport.Mock()
	m.mu.Unlock()

	if standby != nil {
		_ = standby.Close()
	}

	if err := m.write(conn, userID, types.ConnectionPayload{UserID: userID, Action: types.ActionConnect}); err != nil {
		m.logger.Warn("failed to announce connection", zap.Error(err))
	}

	m.logger.Info("connected", zap.String("user_id", userID), zap.Bool("mock", mock))
	m.registry.Emit(types.KindConnection, types.ConnectionPayload{
		Status: types.ConnectionConnected,
		UserID: userID,
		Mock:   mock,
	})
	return nil
}

// Disconnect cancels any pending reconnection, announces and closes an open
// connection, and always emits a disconnected event.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopReconnectLocked()
	m.gen++
	gen := m.gen
	conn := m.conn
	userID := m.userID
	m.conn = nil
	standby := m.standby
	m.standby = nil
	m.state = StateClosing
	m.mu.Unlock()

	if standby != nil {
		_ = standby.Close()
	}
	if conn != nil {
		if conn.ReadyState() == interfaces.StateOpen {
			if err := m.write(conn, userID, types.ConnectionPayload{UserID: userID, Action: types.ActionDisconnect}); err != nil {
				m.logger.Debug("failed to announce disconnect", zap.Error(err))
			}
		}
		if err := conn.Close(); err != nil {
			m.logger.Debug("close failed", zap.Error(err))
		}
		m.logger.Info("disconnected", zap.String("user_id", userID))
	}

	m.mu.Lock()
	if m.gen == gen {
		m.state = StateDisconnected
	}
	m.mu.Unlock()

	m.registry.Emit(types.KindConnection, types.ConnectionPayload{Status: types.ConnectionDisconnected})
}

// Send wraps payload in an envelope and transmits it. It never panics; when no
// connection is open the failure is logged and ErrNotConnected returned.
// A mock transport is always connected: outside a session Send goes through a
// standby mock connection, so messages still echo.
func (m *Manager) Send(payload types.Payload) error {
	if payload == nil {
		return types.ErrNilPayload
	}

	m.mu.Lock()
	conn := m.conn
	userID := m.userID
	m.mu.Unlock()

	if (conn == nil || conn.ReadyState() != interfaces.StateOpen) && m.transport.Mock() {
		var err error
		if conn, err = m.mockStandby(); err != nil {
			m.logger.Warn("mock standby unavailable", zap.Error(err))
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
	}

	if conn == nil || conn.ReadyState() != interfaces.StateOpen {
		m.logger.Warn("cannot send, not connected",
			zap.String("kind", string(payload.Kind())),
			zap.Error(ErrNotConnected))
		return ErrNotConnected
	}

	return m.write(conn, userID, payload)
}

// mockStandby returns the open standby conn, dialing one if needed.
func (m *Manager) mockStandby() (interfaces.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.standby != nil && m.standby.ReadyState() == interfaces.StateOpen {
		return m.standby, nil
	}
	conn, err := m.transport.Dial(context.Background(), m.userID, standbySink{m: m})
	if err != nil {
		return nil, err
	}
	m.standby = conn
	return conn, nil
}

func (m *Manager) write(conn interfaces.Conn, originID string, payload types.Payload) error {
	env := types.NewEnvelope(payload, originID, m.clock.Now())
	data, err := types.Encode(env)
	if err != nil {
		m.logger.Error("failed to encode envelope", zap.String("kind", string(env.Kind)), zap.Error(err))
		return err
	}
	if err := conn.WriteFrame(data); err != nil {
		m.logger.Warn("failed to send envelope", zap.String("kind", string(env.Kind)), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// Subscribe registers handler for kind; see dispatch.Registry.Subscribe.
func (m *Manager) Subscribe(kind types.Kind, handler dispatch.Handler) func() {
	return m.registry.Subscribe(kind, handler)
}

// IsConnected reports whether the real connection is open or mock mode is active.
func (m *Manager) IsConnected() bool {
	if m.transport.Mock() {
		return true
	}
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	return conn != nil && conn.ReadyState() == interfaces.StateOpen
}

// ConnectionState reports transport readiness as one of the ConnState values.
func (m *Manager) ConnectionState() string {
	if m.transport.Mock() {
		return ConnStateMock
	}

	m.mu.Lock()
	state := m.state
	conn := m.conn
	m.mu.Unlock()

	switch {
	case state == StateConnecting:
		return ConnStateConnecting
	case state == StateClosing:
		return ConnStateClosing
	case conn == nil:
		return ConnStateDisconnected
	}

	switch conn.ReadyState() {
	case interfaces.StateConnecting:
		return ConnStateConnecting
	case interfaces.StateOpen:
		return ConnStateConnected
	case interfaces.StateClosing:
		return ConnStateClosing
	case interfaces.StateClosed:
		return ConnStateDisconnected
	default:
		return ConnStateUnknown
	}
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// UserID returns the identifier of the current or last session.
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// SendNotification sends a notification envelope.
func (m *Manager) SendNotification(n types.NotificationPayload) error {
	if n.From == "" {
		n.From = m.UserID()
	}
	return m.Send(n)
}

// SendMessage sends a chat message envelope.
func (m *Manager) SendMessage(msg types.MessagePayload) error {
	if msg.From == "" {
		msg.From = m.UserID()
	}
	return m.Send(msg)
}

// UpdateUserStatus announces a presence change for the connected user.
func (m *Manager) UpdateUserStatus(status types.UserStatus) error {
	payload := types.UserStatusPayload{
		UserID:    m.UserID(),
		Status:    status,
		Timestamp: m.clock.Now(),
	}
	if err := payload.Validate(); err != nil {
		return err
	}
	return m.Send(payload)
}

// SendActivity records a user activity.
func (m *Manager) SendActivity(a types.ActivityPayload) error {
	if a.UserID == "" {
		a.UserID = m.UserID()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = m.clock.Now()
	}
	return m.Send(a)
}

func (m *Manager) emitError(description string) {
	m.registry.Emit(types.KindError, types.ErrorPayload{Error: description})
}

// connSink routes transport callbacks for one dial. Callbacks from a dial
// superseded by a later dial or a Disconnect are ignored.
type connSink struct {
	m   *Manager
	gen uint64
}

func (s *connSink) current() bool {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.gen == s.m.gen
}

func (s *connSink) HandleFrame(data []byte) {
	if !s.current() {
		return
	}
	s.m.dispatchFrame(data)
}

func (s *connSink) HandleError(err error) {
	if !s.current() {
		return
	}
	s.m.logger.Warn("transport error", zap.Error(err))
	s.m.emitError(err.Error())
}

func (s *connSink) HandleClose(ev interfaces.CloseEvent) {
	m := s.m
	m.mu.Lock()
	if s.gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.state == StateConnecting {
		// connect() has not committed this conn yet and fails it on return
		m.closedEarly = true
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	m.logger.Warn("connection closed unexpectedly",
		zap.Int("code", ev.Code),
		zap.String("reason", ev.Reason),
		zap.Bool("clean", ev.Clean))
	m.handleUnexpectedClose()
}

// standbySink delivers frames from the mock standby conn. Its close needs no
// recovery: the next Send dials again.
type standbySink struct {
	m *Manager
}

func (s standbySink) HandleFrame(data []byte) { s.m.dispatchFrame(data) }

func (s standbySink) HandleError(err error) {
	s.m.logger.Warn("mock transport error", zap.Error(err))
	s.m.emitError(err.Error())
}

func (s standbySink) HandleClose(interfaces.CloseEvent) {}

func (m *Manager) dispatchFrame(data []byte) {
	env, err := types.Decode(data)
	if err != nil {
		m.logger.Warn("dropping inbound frame",
			zap.Int("bytes", len(data)),
			zap.Error(fmt.Errorf("%w: %v", ErrMalformedMessage, err)))
		return
	}
	m.registry.Emit(env.Kind, env.Payload)
}
