// Package mock substitutes for a realtime endpoint when none is configured.
// Connections open instantly, echo chat messages back after a short delay and
// periodically generate synthetic notification and presence events.
package mock

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"studylink/pkg/interfaces"
	"studylink/pkg/types"
)

// ErrConnectionClosed is returned when writing to a closed mock connection.
var ErrConnectionClosed = errors.New("mock connection closed")

// Options tune the simulated endpoint.
type Options struct {
	EchoDelay            time.Duration
	NotificationInterval time.Duration // zero disables the generator
	StatusInterval       time.Duration // zero disables the generator
	NotificationChance   float64
	StatusChance         float64
}

// DefaultOptions matches the development defaults.
func DefaultOptions() Options {
	return Options{
		EchoDelay:            100 * time.Millisecond,
		NotificationInterval: 30 * time.Second,
		StatusInterval:       15 * time.Second,
		NotificationChance:   0.3,
		StatusChance:         0.2,
	}
}

// Transport implements interfaces.Transport without any network I/O.
type Transport struct {
	opts   Options
	clock  clockwork.Clock
	logger *zap.Logger
	roll   func() float64
}

// Option configures a Transport.
type Option func(*Transport)

// WithClock sets the clock driving echo timers and generators.
func WithClock(clock clockwork.Clock) Option {
	return func(t *Transport) { t.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New creates a mock transport.
func New(opts Options, options ...Option) *Transport {
	t := &Transport{
		opts:   opts,
		clock:  clockwork.NewRealClock(),
		logger: zap.NewNop(),
		roll:   rand.Float64,
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// Mock always reports true.
func (t *Transport) Mock() bool { return true }

// Dial returns an open connection immediately.
func (t *Transport) Dial(ctx context.Context, userID string, sink interfaces.Sink) (interfaces.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &Conn{
		transport: t,
		userID:    userID,
		sink:      sink,
		inbound:   make(chan []byte, 64),
		done:      make(chan struct{}),
		echoes:    make(map[clockwork.Timer]struct{}),
	}
	c.state.Store(int32(interfaces.StateOpen))

	go c.deliverLoop()
	if t.opts.NotificationInterval > 0 {
		go c.generate(t.clock.NewTicker(t.opts.NotificationInterval), t.opts.NotificationChance, c.syntheticNotification)
	}
	if t.opts.StatusInterval > 0 {
		go c.generate(t.clock.NewTicker(t.opts.StatusInterval), t.opts.StatusChance, c.syntheticStatus)
	}

	t.logger.Info("mock connection opened", zap.String("user_id", userID))
	return c, nil
}

// Conn is a loopback connection.
type Conn struct {
	transport *Transport
	userID    string
	sink      interfaces.Sink
	state     atomic.Int32
	inbound   chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	echoes map[clockwork.Timer]struct{}
}

// WriteFrame accepts an outbound envelope. Only chat messages produce a
// response: a local echo marked as sent. Everything else is dropped.
func (c *Conn) WriteFrame(data []byte) error {
	if c.ReadyState() != interfaces.StateOpen {
		return ErrConnectionClosed
	}

	env, err := types.Decode(data)
	if err != nil {
		return err
	}

	msg, ok := env.Payload.(types.MessagePayload)
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var timer clockwork.Timer
	timer = c.transport.clock.AfterFunc(c.transport.opts.EchoDelay, func() {
		c.mu.Lock()
		delete(c.echoes, timer)
		c.mu.Unlock()

		echo := msg
		echo.ID = uuid.NewString()
		echo.Timestamp = c.transport.clock.Now()
		echo.Status = types.MessageStatusSent
		c.emit(echo)
	})
	c.echoes[timer] = struct{}{}

	return nil
}

// ReadyState reports open until Close.
func (c *Conn) ReadyState() interfaces.ReadyState {
	return interfaces.ReadyState(c.state.Load())
}

// Close stops generators and pending echoes.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(interfaces.StateClosed))

		c.mu.Lock()
		for timer := range c.echoes {
			timer.Stop()
		}
		c.echoes = make(map[clockwork.Timer]struct{})
		c.mu.Unlock()

		close(c.done)
		c.transport.logger.Info("mock connection closed", zap.String("user_id", c.userID))
	})
	return nil
}

// deliverLoop hands frames to the sink from a single goroutine.
func (c *Conn) deliverLoop() {
	for {
		select {
		case frame := <-c.inbound:
			c.sink.HandleFrame(frame)
		case <-c.done:
			c.sink.HandleClose(interfaces.CloseEvent{Code: 1000, Reason: "closed", Clean: true})
			return
		}
	}
}

func (c *Conn) emit(payload types.Payload) {
	data, err := types.Encode(types.NewEnvelope(payload, c.userID, c.transport.clock.Now()))
	if err != nil {
		c.transport.logger.Error("failed to encode synthetic event", zap.Error(err))
		return
	}
	select {
	case c.inbound <- data:
	case <-c.done:
	}
}

func (c *Conn) generate(ticker clockwork.Ticker, chance float64, build func() types.Payload) {
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if c.transport.roll() < chance {
				c.emit(build())
			}
		case <-c.done:
			return
		}
	}
}

var sampleNotifications = []types.NotificationPayload{
	{Title: "Homework reminder", Message: "Math worksheet is due tomorrow", Level: "info"},
	{Title: "New feedback", Message: "Your tutor left feedback on your essay", Level: "info"},
	{Title: "Streak", Message: "You studied three days in a row", Level: "success"},
	{Title: "Quiz ready", Message: "A new science quiz is available", Level: "info"},
}

var sampleUsers = []string{"parent-1", "tutor-ada", "classmate-sam"}

var sampleStatuses = []types.UserStatus{types.StatusOnline, types.StatusAway, types.StatusOffline}

func (c *Conn) syntheticNotification() types.Payload {
	n := sampleNotifications[rand.Intn(len(sampleNotifications))]
	n.ID = uuid.NewString()
	n.From = "system"
	n.To = c.userID
	n.Timestamp = c.transport.clock.Now()
	return n
}

func (c *Conn) syntheticStatus() types.Payload {
	return types.UserStatusPayload{
		UserID:    sampleUsers[rand.Intn(len(sampleUsers))],
		Status:    sampleStatuses[rand.Intn(len(sampleStatuses))],
		Timestamp: c.transport.clock.Now(),
	}
}
