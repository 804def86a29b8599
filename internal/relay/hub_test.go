package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studylink/pkg/types"
)

func newTestHub(t *testing.T) (*Hub, *Registry) {
	t.Helper()
	registry := NewRegistry(nil)
	router := NewRouter(registry, NewRateLimiter(100, time.Second, nil), nil, nil)
	hub := NewHub(registry, router, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, hub.Start(ctx))
	t.Cleanup(func() { _ = hub.Stop() })
	return hub, registry
}

func encode(t *testing.T, payload types.Payload, from string) []byte {
	t.Helper()
	data, err := types.Encode(types.NewEnvelope(payload, from, time.Now()))
	require.NoError(t, err)
	return data
}

// receive waits for the next envelope queued on p.
func receive(t *testing.T, p *Peer) *types.Envelope {
	t.Helper()
	select {
	case data := <-p.writeCh:
		env, err := types.Decode(data)
		require.NoError(t, err)
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("nothing delivered to %s", p.UserID())
		return nil
	}
}

func TestHub_Lifecycle(t *testing.T) {
	registry := NewRegistry(nil)
	hub := NewHub(registry, NewRouter(registry, nil, nil, nil), nil)

	assert.ErrorIs(t, hub.Stop(), ErrHubNotRunning)
	assert.ErrorIs(t, hub.Register(testPeer("a")), ErrHubNotRunning)
	assert.ErrorIs(t, hub.Submit(testPeer("a"), []byte("{}")), ErrHubNotRunning)

	require.NoError(t, hub.Start(context.Background()))
	assert.True(t, hub.Running())
	assert.ErrorIs(t, hub.Start(context.Background()), ErrHubAlreadyRunning)

	require.NoError(t, hub.Stop())
	assert.False(t, hub.Running())
}

func TestHub_RoutesFrames(t *testing.T) {
	hub, _ := newTestHub(t)
	student, tutor := testPeer("student-1"), testPeer("tutor-7")
	require.NoError(t, hub.Register(student))
	require.NoError(t, hub.Register(tutor))

	require.NoError(t, hub.Submit(student, encode(t, types.MessagePayload{Text: "hi", To: "tutor-7"}, "student-1")))

	env := receive(t, tutor)
	assert.Equal(t, types.KindMessage, env.Kind)
	assert.Equal(t, "hi", env.Payload.(types.MessagePayload).Text)

	ack := receive(t, student)
	assert.Equal(t, types.MessageStatusSent, ack.Payload.(types.MessagePayload).Status)
}

func TestHub_RejectedFramesReportError(t *testing.T) {
	hub, _ := newTestHub(t)
	student := testPeer("student-1")
	require.NoError(t, hub.Register(student))

	require.NoError(t, hub.Submit(student, []byte("not json")))
	env := receive(t, student)
	require.Equal(t, types.KindError, env.Kind)
	assert.Contains(t, env.Payload.(types.ErrorPayload).Error, "malformed envelope")

	require.NoError(t, hub.Submit(student, encode(t, types.MessagePayload{Text: "x", To: "ghost"}, "student-1")))
	assert.Equal(t, types.KindMessage, receive(t, student).Kind, "ack first")
	env = receive(t, student)
	require.Equal(t, types.KindError, env.Kind)
	assert.Contains(t, env.Payload.(types.ErrorPayload).Error, "recipient not connected")
}

func TestHub_LeaveAnnouncesOffline(t *testing.T) {
	hub, registry := newTestHub(t)
	student, tutor := testPeer("student-1"), testPeer("tutor-7")
	require.NoError(t, hub.Register(student))
	require.NoError(t, hub.Register(tutor))

	require.NoError(t, hub.Submit(student, encode(t, types.ConnectionPayload{Action: types.ActionConnect}, "student-1")))
	assert.Equal(t, types.StatusOnline, receive(t, tutor).Payload.(types.UserStatusPayload).Status)

	require.NoError(t, hub.Unregister(student))
	env := receive(t, tutor)
	assert.Equal(t, types.UserStatusPayload{
		UserID:    "student-1",
		Status:    types.StatusOffline,
		Timestamp: env.Payload.(types.UserStatusPayload).Timestamp,
	}, env.Payload)

	_, ok := registry.Get("student-1")
	assert.False(t, ok)
}

func TestHub_ReplacedPeerLeavingIsSilent(t *testing.T) {
	hub, registry := newTestHub(t)
	first, tutor := testPeer("student-1"), testPeer("tutor-7")
	require.NoError(t, hub.Register(first))
	require.NoError(t, hub.Register(tutor))
	require.NoError(t, hub.Submit(first, encode(t, types.ConnectionPayload{Action: types.ActionConnect}, "student-1")))
	receive(t, tutor)

	second := testPeer("student-1")
	require.NoError(t, hub.Register(second))
	require.NoError(t, hub.Unregister(first))

	require.Eventually(t, func() bool { return len(hub.inbound) == 0 }, time.Second, 5*time.Millisecond)
	select {
	case <-tutor.writeCh:
		t.Fatal("replaced peer must not announce offline")
	case <-time.After(50 * time.Millisecond):
	}

	got, ok := registry.Get("student-1")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, types.StatusOnline, registry.Status("student-1"))
}

// fillInbound queues rejected frames from a closed peer until the queue is full.
func fillInbound(t *testing.T, hub *Hub) {
	t.Helper()
	filler := testPeer("filler")
	_ = filler.Close()
	for i := 0; i < cap(hub.inbound); i++ {
		require.NoError(t, hub.Submit(filler, []byte("not json")))
	}
	require.ErrorIs(t, hub.Submit(filler, []byte("not json")), ErrInboundChannelFull)
}

func TestHub_LeaveWaitsForRoomInQueue(t *testing.T) {
	registry := NewRegistry(nil)
	hub := NewHub(registry, NewRouter(registry, nil, nil, nil), nil)

	// running without the loop, so the queue stays full
	hub.mu.Lock()
	hub.running = true
	hub.mu.Unlock()

	student, tutor := testPeer("student-1"), testPeer("tutor-7")
	require.NoError(t, registry.Register(student))
	require.NoError(t, registry.Register(tutor))
	registry.SetStatus("student-1", types.StatusOnline)

	fillInbound(t, hub)

	left := make(chan error, 1)
	go func() { left <- hub.Unregister(student) }()

	select {
	case err := <-left:
		t.Fatalf("unregister returned %v while the queue was full", err)
	case <-time.After(50 * time.Millisecond):
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.run(ctx)

	select {
	case err := <-left:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("unregister never queued")
	}

	env := receive(t, tutor)
	require.Equal(t, types.KindUserStatus, env.Kind)
	assert.Equal(t, types.StatusOffline, env.Payload.(types.UserStatusPayload).Status)
	_, ok := registry.Get("student-1")
	assert.False(t, ok)
}

func TestHub_LeaveAfterLoopEndsRemovesPeer(t *testing.T) {
	registry := NewRegistry(nil)
	hub := NewHub(registry, NewRouter(registry, nil, nil, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, hub.Start(ctx))

	student := testPeer("student-1")
	require.NoError(t, hub.Register(student))

	cancel()
	select {
	case <-hub.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub loop did not stop")
	}
	fillInbound(t, hub)

	assert.ErrorIs(t, hub.Unregister(student), ErrHubNotRunning)
	_, ok := registry.Get("student-1")
	assert.False(t, ok)

	require.NoError(t, hub.Stop())
	late := testPeer("tutor-7")
	require.NoError(t, registry.Register(late))
	assert.ErrorIs(t, hub.Unregister(late), ErrHubNotRunning)
	_, ok = registry.Get("tutor-7")
	assert.False(t, ok)
}
