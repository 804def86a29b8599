// Package app wires the development relay: the server a studylink client
// connects to when a realtime endpoint is configured.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"studylink/internal/config"
	"studylink/internal/relay"
)

// RateWindow is the window relay.rate_limit applies to.
const RateWindow = time.Minute

// Application coordinates all relay components.
// ARCHITECTURAL DISCOVERY: Clean dependency injection pattern with proper initialization order
type Application struct {
	config      *config.Config
	logger      *zap.Logger
	clock       clockwork.Clock
	registry    *relay.Registry
	rateLimiter *relay.RateLimiter
	router      *relay.Router
	hub         *relay.Hub
	apiServer   *relay.Server
	httpServer  *http.Server

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}
}

// FUNCTIONAL DISCOVERY: Component initialization follows strict dependency order
// Registry → RateLimiter → Router → Hub → API → WebSocket handler → HTTP
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	clock := clockwork.NewRealClock()

	// STEP 1: Connection and presence tracking
	registry := relay.NewRegistry(logger.Named("registry"))

	// STEP 2: Per-user rate limiting
	rateLimiter := relay.NewRateLimiter(cfg.Relay.RateLimit, RateWindow, clock)

	// STEP 3: Routing over the registry
	router := relay.NewRouter(registry, rateLimiter, clock, logger.Named("router"))

	// STEP 4: Hub serializes routing
	hub := relay.NewHub(registry, router, logger.Named("hub"))

	// STEP 5: Health API
	apiServer := relay.NewServer(registry, hub, clock)

	// STEP 6: WebSocket handler sharing the client's socket tuning
	wsHandler := relay.NewHandler(hub, relay.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
	}, logger.Named("handler"))

	// STEP 7: HTTP server with both API and WebSocket endpoints
	mux := http.NewServeMux()
	mux.Handle("/health", apiServer)
	mux.Handle("/ws", wsHandler)

	httpServer := &http.Server{
		Addr:         cfg.Relay.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.Relay.ReadTimeout,
		WriteTimeout: cfg.Relay.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		logger:      logger,
		clock:       clock,
		registry:    registry,
		rateLimiter: rateLimiter,
		router:      router,
		hub:         hub,
		apiServer:   apiServer,
		httpServer:  httpServer,
	}, nil
}

// Start starts the hub, binds the listener and serves in the background.
// Bind failures are returned directly.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.listener != nil {
		return errors.New("application already started")
	}

	app.logger.Info("starting studylink relay", zap.String("addr", app.httpServer.Addr))

	runCtx, cancel := context.WithCancel(ctx)

	// STEP 1: Start message hub (background message processing)
	if err := app.hub.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	// STEP 2: Bind before serving so address errors surface here
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.hub.Stop()
		cancel()
		return fmt.Errorf("HTTP server error: %w", err)
	}

	app.listener = ln
	app.cancel = cancel
	app.done = make(chan struct{})

	go func() {
		defer close(app.done)
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	go app.cleanupLoop(runCtx)

	app.logger.Info("studylink relay started", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener == nil {
		return ""
	}
	return app.listener.Addr().String()
}

// FUNCTIONAL DISCOVERY: Rate limiter state is swept once per window
func (app *Application) cleanupLoop(ctx context.Context) {
	ticker := app.clock.NewTicker(RateWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			app.rateLimiter.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// FUNCTIONAL DISCOVERY: Shutdown coordination ensures proper resource cleanup
// Reverse dependency order: HTTP → Peers → Hub
func (app *Application) Stop(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.listener == nil {
		return nil
	}

	app.logger.Info("shutting down studylink relay")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	// STEP 2: Hijacked sockets outlive Shutdown
	app.registry.CloseAll()

	// STEP 3: Stop message processing
	if err := app.hub.Stop(); err != nil {
		app.logger.Warn("message hub shutdown error", zap.Error(err))
	}
	app.cancel()

	select {
	case <-app.done:
	case <-ctx.Done():
	}
	app.listener = nil

	app.logger.Info("studylink relay shutdown complete")
	return nil
}
