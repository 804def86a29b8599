package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studylink/internal/channel"
	"studylink/internal/config"
	"studylink/internal/dispatch"
	"studylink/internal/relay"
	"studylink/internal/transport/gorilla"
	"studylink/pkg/types"
)

func startRelay(t *testing.T) *Application {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Relay.Host = "127.0.0.1"
	cfg.Relay.Port = 0

	app, err := NewApplication(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, app.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Stop(ctx)
	})
	return app
}

type inbox struct {
	mu       sync.Mutex
	messages []types.MessagePayload
	statuses []types.UserStatusPayload
}

func (in *inbox) onMessage(m types.MessagePayload) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.messages = append(in.messages, m)
}

func (in *inbox) onStatus(s types.UserStatusPayload) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.statuses = append(in.statuses, s)
}

func (in *inbox) snapshot() ([]types.MessagePayload, []types.UserStatusPayload) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]types.MessagePayload(nil), in.messages...), append([]types.UserStatusPayload(nil), in.statuses...)
}

func connectClient(t *testing.T, app *Application, userID string) (*channel.Manager, *inbox) {
	t.Helper()
	registry := dispatch.NewRegistry(nil)
	received := &inbox{}
	dispatch.On(registry, types.KindMessage, received.onMessage)
	dispatch.On(registry, types.KindUserStatus, received.onStatus)

	transport := gorilla.New(gorilla.DefaultOptions("http://"+app.Addr()+"/ws"), nil)
	manager := channel.NewManager(transport, registry)
	require.NoError(t, manager.Connect(context.Background(), userID))
	t.Cleanup(manager.Disconnect)
	return manager, received
}

func TestApplication_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Relay.RateLimit = 0

	_, err := NewApplication(cfg, nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestApplication_StartFailsOnBusyPort(t *testing.T) {
	first := startRelay(t)

	cfg := config.DefaultConfig()
	cfg.Relay.Host = "127.0.0.1"
	cfg.Relay.Port = first.listener.Addr().(*net.TCPAddr).Port

	second, err := NewApplication(cfg, nil)
	require.NoError(t, err)
	assert.Error(t, second.Start(context.Background()))
	assert.Empty(t, second.Addr())
}

func TestApplication_RelaysBetweenClients(t *testing.T) {
	app := startRelay(t)

	student, studentInbox := connectClient(t, app, "student-1")
	require.True(t, student.IsConnected())

	_, tutorInbox := connectClient(t, app, "tutor-7")

	// the tutor's connect announcement reaches the student once both are registered
	require.Eventually(t, func() bool {
		_, statuses := studentInbox.snapshot()
		for _, s := range statuses {
			if s.UserID == "tutor-7" && s.Status == types.StatusOnline {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, student.SendMessage(types.MessagePayload{Text: "is question 4 a trick?", To: "tutor-7"}))

	require.Eventually(t, func() bool {
		messages, _ := tutorInbox.snapshot()
		return len(messages) == 1
	}, 2*time.Second, 10*time.Millisecond)
	messages, _ := tutorInbox.snapshot()
	assert.Equal(t, "is question 4 a trick?", messages[0].Text)
	assert.Equal(t, "student-1", messages[0].From)
	assert.NotEmpty(t, messages[0].ID)

	require.Eventually(t, func() bool {
		acks, _ := studentInbox.snapshot()
		return len(acks) == 1
	}, 2*time.Second, 10*time.Millisecond)
	acks, _ := studentInbox.snapshot()
	assert.Equal(t, types.MessageStatusSent, acks[0].Status)
	assert.Equal(t, messages[0].ID, acks[0].ID)

	require.NoError(t, student.UpdateUserStatus(types.StatusAway))
	require.Eventually(t, func() bool {
		_, statuses := tutorInbox.snapshot()
		for _, s := range statuses {
			if s.UserID == "student-1" && s.Status == types.StatusAway {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	student.Disconnect()
	require.Eventually(t, func() bool {
		_, statuses := tutorInbox.snapshot()
		last := statuses[len(statuses)-1]
		return last.UserID == "student-1" && last.Status == types.StatusOffline
	}, 2*time.Second, 10*time.Millisecond)
}

func TestApplication_Health(t *testing.T) {
	app := startRelay(t)
	connectClient(t, app, "student-1")

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + app.Addr() + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		var health relay.HealthResponse
		if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&health) != nil {
			return false
		}
		return health.Status == "healthy" && health.Connections["online"] == 1
	}, 2*time.Second, 20*time.Millisecond)
}
