// Package transport selects the socket driver for the channel manager.
package transport

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"studylink/internal/config"
	"studylink/internal/transport/gorilla"
	"studylink/internal/transport/mock"
	"studylink/internal/transport/nhooyr"
	"studylink/pkg/interfaces"
)

// New returns the mock driver when no endpoint is configured, otherwise the
// configured socket driver.
func New(cfg *config.Config, logger *zap.Logger, clock clockwork.Clock) (interfaces.Transport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if cfg.MockMode() {
		logger.Info("no realtime endpoint configured, using mock transport")
		return mock.New(mock.Options{
			EchoDelay:            cfg.Mock.EchoDelay,
			NotificationInterval: cfg.Mock.NotificationInterval,
			StatusInterval:       cfg.Mock.StatusInterval,
			NotificationChance:   cfg.Mock.NotificationChance,
			StatusChance:         cfg.Mock.StatusChance,
		}, mock.WithClock(clock), mock.WithLogger(logger.Named("mock"))), nil
	}

	ws := cfg.WebSocket
	switch ws.Driver {
	case config.DriverGorilla, "":
		return gorilla.New(gorilla.Options{
			URL:          ws.URL,
			PingInterval: ws.PingInterval,
			ReadTimeout:  ws.ReadTimeout,
			WriteTimeout: ws.WriteTimeout,
			BufferSize:   ws.BufferSize,
		}, logger.Named("gorilla")), nil
	case config.DriverNhooyr:
		opts := nhooyr.DefaultOptions(ws.URL)
		opts.PingInterval = ws.PingInterval
		opts.ReadTimeout = ws.ReadTimeout
		opts.WriteTimeout = ws.WriteTimeout
		return nhooyr.New(opts, logger.Named("nhooyr")), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, ws.Driver)
	}
}
