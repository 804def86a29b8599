package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studylink/pkg/types"
)

// drain decodes everything queued on peer so far.
func drain(t *testing.T, p *Peer) []*types.Envelope {
	t.Helper()
	var out []*types.Envelope
	for {
		select {
		case data := <-p.writeCh:
			env, err := types.Decode(data)
			require.NoError(t, err)
			out = append(out, env)
		default:
			return out
		}
	}
}

type routerFixture struct {
	router   *Router
	registry *Registry
	clock    clockwork.FakeClock
	peers    map[string]*Peer
}

func newRouterFixture(t *testing.T, limit int, userIDs ...string) *routerFixture {
	t.Helper()
	fc := clockwork.NewFakeClockAt(time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC))
	registry := NewRegistry(nil)
	f := &routerFixture{
		router:   NewRouter(registry, NewRateLimiter(limit, time.Second, fc), fc, nil),
		registry: registry,
		clock:    fc,
		peers:    make(map[string]*Peer),
	}
	for _, id := range userIDs {
		p := testPeer(id)
		require.NoError(t, registry.Register(p))
		f.peers[id] = p
	}
	return f
}

func (f *routerFixture) route(from string, payload types.Payload) error {
	return f.router.Route(context.Background(), f.peers[from], types.NewEnvelope(payload, from, f.clock.Now()))
}

func TestRouter_DirectMessage(t *testing.T) {
	f := newRouterFixture(t, 100, "student-1", "tutor-7", "parent-3")

	require.NoError(t, f.route("student-1", types.MessagePayload{ID: "client-id", Text: "question 4?", To: "tutor-7", From: "spoofed"}))

	delivered := drain(t, f.peers["tutor-7"])
	require.Len(t, delivered, 1)
	msg := delivered[0].Payload.(types.MessagePayload)
	assert.Equal(t, "question 4?", msg.Text)
	assert.Equal(t, "student-1", msg.From)
	assert.NotEqual(t, "client-id", msg.ID)
	assert.NotEmpty(t, msg.ID)
	assert.Empty(t, msg.Status)
	assert.True(t, f.clock.Now().Equal(msg.Timestamp))
	assert.Equal(t, "student-1", delivered[0].OriginID)

	acks := drain(t, f.peers["student-1"])
	require.Len(t, acks, 1)
	ack := acks[0].Payload.(types.MessagePayload)
	assert.Equal(t, types.MessageStatusSent, ack.Status)
	assert.Equal(t, msg.ID, ack.ID)

	assert.Empty(t, drain(t, f.peers["parent-3"]))
}

func TestRouter_BroadcastMessage(t *testing.T) {
	f := newRouterFixture(t, 100, "student-1", "tutor-7", "parent-3")

	require.NoError(t, f.route("student-1", types.MessagePayload{Text: "hello class"}))

	assert.Len(t, drain(t, f.peers["tutor-7"]), 1)
	assert.Len(t, drain(t, f.peers["parent-3"]), 1)
	assert.Len(t, drain(t, f.peers["student-1"]), 1, "sender only gets the ack")
}

func TestRouter_UnknownRecipientStillAcks(t *testing.T) {
	f := newRouterFixture(t, 100, "student-1")

	err := f.route("student-1", types.MessagePayload{Text: "anyone?", To: "ghost"})
	assert.ErrorIs(t, err, ErrRecipientNotFound)
	assert.Len(t, drain(t, f.peers["student-1"]), 1)
}

func TestRouter_Presence(t *testing.T) {
	f := newRouterFixture(t, 100, "student-1", "tutor-7")

	require.NoError(t, f.route("student-1", types.ConnectionPayload{Action: types.ActionConnect}))
	got := drain(t, f.peers["tutor-7"])
	require.Len(t, got, 1)
	assert.Equal(t, types.UserStatusPayload{
		UserID:    "student-1",
		Status:    types.StatusOnline,
		Timestamp: f.clock.Now(),
	}, got[0].Payload)

	require.NoError(t, f.route("student-1", types.UserStatusPayload{Status: types.StatusOnline}))
	assert.Empty(t, drain(t, f.peers["tutor-7"]), "unchanged status is not rebroadcast")

	require.NoError(t, f.route("student-1", types.UserStatusPayload{Status: types.StatusAway}))
	got = drain(t, f.peers["tutor-7"])
	require.Len(t, got, 1)
	assert.Equal(t, types.StatusAway, got[0].Payload.(types.UserStatusPayload).Status)

	assert.ErrorIs(t, f.route("student-1", types.UserStatusPayload{Status: "busy"}), types.ErrInvalidUserStatus)

	require.NoError(t, f.route("student-1", types.ConnectionPayload{Action: types.ActionDisconnect}))
	assert.Equal(t, types.StatusOffline, f.registry.Status("student-1"))
	assert.Len(t, drain(t, f.peers["tutor-7"]), 1)
	assert.Empty(t, drain(t, f.peers["student-1"]), "presence is never echoed to its owner")
}

func TestRouter_NotificationAndActivity(t *testing.T) {
	f := newRouterFixture(t, 100, "tutor-7", "student-1", "parent-3")

	require.NoError(t, f.route("tutor-7", types.NotificationPayload{Message: "quiz graded", To: "student-1"}))
	got := drain(t, f.peers["student-1"])
	require.Len(t, got, 1)
	assert.Equal(t, "tutor-7", got[0].Payload.(types.NotificationPayload).From)
	assert.Empty(t, drain(t, f.peers["parent-3"]))

	require.NoError(t, f.route("student-1", types.ActivityPayload{Action: "homework_opened"}))
	assert.Len(t, drain(t, f.peers["tutor-7"]), 1)
	assert.Len(t, drain(t, f.peers["parent-3"]), 1)
	assert.Empty(t, drain(t, f.peers["student-1"]))
}

func TestRouter_Rejects(t *testing.T) {
	f := newRouterFixture(t, 2, "student-1", "tutor-7")

	err := f.route("student-1", types.ErrorPayload{Error: "client side"})
	assert.ErrorIs(t, err, ErrUnroutable)

	err = f.router.Route(context.Background(), f.peers["student-1"], &types.Envelope{Kind: "grade_update", Payload: types.RawPayload{K: "grade_update"}})
	assert.ErrorIs(t, err, ErrUnroutable)

	require.NoError(t, f.route("student-1", types.ActivityPayload{Action: "opened_homework"}))
	require.NoError(t, f.route("student-1", types.MessagePayload{Text: "hi", To: "tutor-7"}))
	drain(t, f.peers["student-1"])
	drain(t, f.peers["tutor-7"])

	err = f.route("student-1", types.NotificationPayload{Title: "x"})
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	err = f.route("student-1", types.MessagePayload{Text: "again", To: "tutor-7"})
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Empty(t, drain(t, f.peers["tutor-7"]))
}

func TestRouter_PresenceIsNotRateLimited(t *testing.T) {
	f := newRouterFixture(t, 1, "student-1", "tutor-7")

	for i := 0; i < 3; i++ {
		require.NoError(t, f.route("student-1", types.ConnectionPayload{Action: types.ActionConnect}))
		require.NoError(t, f.route("student-1", types.UserStatusPayload{UserID: "student-1", Status: types.StatusAway}))
		require.NoError(t, f.route("student-1", types.ConnectionPayload{Action: types.ActionDisconnect}))
	}
	assert.Equal(t, types.StatusOffline, f.registry.Status("student-1"))
	drain(t, f.peers["tutor-7"])

	require.NoError(t, f.route("student-1", types.MessagePayload{Text: "still allowed", To: "tutor-7"}), "presence traffic consumed no quota")
	assert.ErrorIs(t, f.route("student-1", types.MessagePayload{Text: "over", To: "tutor-7"}), ErrRateLimitExceeded)

	delivered := drain(t, f.peers["tutor-7"])
	require.Len(t, delivered, 1)
	assert.Equal(t, "still allowed", delivered[0].Payload.(types.MessagePayload).Text)
}

func TestRouter_SendError(t *testing.T) {
	f := newRouterFixture(t, 100, "student-1")

	f.router.SendError(f.peers["student-1"], errors.New("message not delivered"))
	got := drain(t, f.peers["student-1"])
	require.Len(t, got, 1)
	assert.Equal(t, types.ErrorPayload{Error: "message not delivered"}, got[0].Payload)
}
