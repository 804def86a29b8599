// Command studylink is an interactive client for the realtime channel. It runs
// against the built-in mock when no endpoint is configured.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"studylink/internal/channel"
	"studylink/internal/config"
	"studylink/internal/dispatch"
	"studylink/internal/logging"
	"studylink/internal/presence"
	"studylink/internal/transport"
	"studylink/pkg/types"
)

func main() {
	if err := run(os.Stdin, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(in io.Reader, out io.Writer) error {
	cfg, err := config.LoadConfigWithPrecedence(os.Getenv("STUDYLINK_CONFIG_FILE"), ".env")
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.UserID == "" {
		return errors.New("STUDYLINK_USER_ID is required")
	}
	if !types.IsValidUserID(cfg.UserID) {
		return types.ErrInvalidUserID
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	clock := clockwork.NewRealClock()

	tr, err := transport.New(cfg, logging.Named(logger, "transport"), clock)
	if err != nil {
		return err
	}

	registry := dispatch.NewRegistry(logging.Named(logger, "dispatch"))
	manager := channel.NewManager(tr, registry,
		channel.WithLogger(logging.Named(logger, "channel")),
		channel.WithClock(clock),
		channel.WithReconnectPolicy(channel.ReconnectPolicy{
			BaseDelay:   cfg.Reconnect.BaseDelay,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
		}),
	)

	show := func(payload types.Payload) { fmt.Fprintln(out, describe(payload)) }
	for _, kind := range types.Kinds {
		defer manager.Subscribe(kind, show)()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Connect(ctx, cfg.UserID); err != nil {
		// reconnection is already scheduled; keep running
		logger.Warn("initial connect failed", zap.Error(err))
	}
	defer manager.Disconnect()

	monitor := presence.NewMonitor(manager,
		presence.WithClock(clock),
		presence.WithLogger(logging.Named(logger, "presence")),
		presence.WithIdleThreshold(cfg.Presence.IdleThreshold),
		presence.WithCheckInterval(cfg.Presence.CheckInterval),
	)
	if err := monitor.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = monitor.Stop() }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			monitor.Touch()

			payload, err := parseLine(line)
			if errors.Is(err, errEmptyLine) {
				continue
			}
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			if err := send(manager, payload); err != nil {
				fmt.Fprintf(out, "not sent: %v\n", err)
			}
		}
	}
}

func send(manager *channel.Manager, payload types.Payload) error {
	switch p := payload.(type) {
	case types.MessagePayload:
		return manager.SendMessage(p)
	case types.UserStatusPayload:
		return manager.UpdateUserStatus(p.Status)
	case types.ActivityPayload:
		return manager.SendActivity(p)
	case types.NotificationPayload:
		return manager.SendNotification(p)
	default:
		return manager.Send(payload)
	}
}
