package server

import (
	"context"
	"testing"
	"time"

	"github.com/npezzotti/go-relay/internal/database"
	"github.com/npezzotti/go-relay/internal/stats"
	"github.com/npezzotti/go-relay/internal/testutil"
	"github.com/npezzotti/go-relay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// newTestChatServer creates a new ChatServer instance for testing purposes
func newTestChatServer(t *testing.T, store database.MessageStore, opts Options) *ChatServer {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return().Times(4)
	su.On("Incr", mock.Anything).Return().Maybe()
	su.On("Decr", mock.Anything).Return().Maybe()
	su.On("Add", mock.Anything, mock.Anything).Return().Maybe()

	cs, err := NewChatServer(testutil.TestLogger(t), store, su, opts)
	require.NoError(t, err, "failed to create test ChatServer")
	return cs
}

// newTestClient registers a client without a websocket connection. Events
// sent to it pile up in its send channel.
func newTestClient(t *testing.T, cs *ChatServer) *Client {
	c := NewClient(nil, cs, cs.log)
	_, err := cs.RegisterClient(c, "")
	require.NoError(t, err)
	return c
}

// drain returns every event queued for c so far.
func drain(c *Client) []*ServerMessage {
	var msgs []*ServerMessage
	for {
		select {
		case msg := <-c.send:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func eventsNamed(msgs []*ServerMessage, name string) []*ServerMessage {
	var named []*ServerMessage
	for _, msg := range msgs {
		if msg.Event == name {
			named = append(named, msg)
		}
	}
	return named
}

// lastRoster returns the data of the last room_users event in msgs.
func lastRoster(t *testing.T, msgs []*ServerMessage) []types.PresenceUser {
	t.Helper()
	rosters := eventsNamed(msgs, EventRoomUsers)
	require.NotEmpty(t, rosters, "expected a room_users event")
	users, ok := rosters[len(rosters)-1].Data.([]types.PresenceUser)
	require.True(t, ok, "expected room_users data to be a user list")
	return users
}

func usernames(users []types.PresenceUser) []string {
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Username
	}
	return names
}

func TestNewChatServer(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", stats.ActiveConnections).Once()
	su.On("RegisterMetric", stats.MessagesSent).Once()
	su.On("RegisterMetric", stats.ReactionsChanged).Once()
	su.On("RegisterMetric", stats.PresenceEvictions).Once()

	store := database.NewMemoryStore()
	logger := testutil.TestLogger(t)
	cs, err := NewChatServer(logger, store, su, Options{})
	assert.NoError(t, err, "expected no error creating ChatServer")
	assert.NotNil(t, cs, "expected ChatServer to be non-nil")
	assert.Equal(t, logger, cs.log, "expected logger to be set")
	assert.Equal(t, store, cs.store, "expected store to be set")
	assert.Equal(t, DefaultSweepInterval, cs.sweepInterval)
	assert.Equal(t, DefaultPresenceTTL, cs.presenceTTL)
	assert.Equal(t, ReactionsMulti, cs.reactionPolicy)
	assert.NotNil(t, cs.presence, "expected presence registry to be initialized")
	assert.NotNil(t, cs.clients, "expected clients map to be initialized")
	assert.NotNil(t, cs.subs, "expected subscriptions map to be initialized")
	assert.NotNil(t, cs.stop, "expected stop channel to be initialized")
}

func TestNewConnectionID(t *testing.T) {
	cs := newTestChatServer(t, database.NewMemoryStore(), Options{})

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := cs.NewConnectionID()
		require.NoError(t, err)
		assert.NotContains(t, id, "-", "connection ids must not contain the DM room separator")
		assert.False(t, seen[id], "expected unique connection id, got duplicate %q", id)
		seen[id] = true
	}
}

func TestRegisterClient(t *testing.T) {
	t.Run("assigns a fresh id", func(t *testing.T) {
		cs := newTestChatServer(t, database.NewMemoryStore(), Options{})
		c := NewClient(nil, cs, cs.log)

		id, err := cs.RegisterClient(c, "")
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.Equal(t, id, c.ConnId())
		assert.True(t, cs.IsLive(id))
	})

	t.Run("resumes an id that is not live", func(t *testing.T) {
		cs := newTestChatServer(t, database.NewMemoryStore(), Options{})
		c := NewClient(nil, cs, cs.log)

		id, err := cs.RegisterClient(c, "previous")
		require.NoError(t, err)
		assert.Equal(t, "previous", id)
	})

	t.Run("does not take over a live id", func(t *testing.T) {
		cs := newTestChatServer(t, database.NewMemoryStore(), Options{})
		first := newTestClient(t, cs)
		second := NewClient(nil, cs, cs.log)

		id, err := cs.RegisterClient(second, first.ConnId())
		require.NoError(t, err)
		assert.NotEqual(t, first.ConnId(), id)
		assert.True(t, cs.IsLive(first.ConnId()))
	})
}

func TestDisconnect(t *testing.T) {
	cs := newTestChatServer(t, database.NewMemoryStore(), Options{})
	alice := newTestClient(t, cs)
	bob := newTestClient(t, cs)
	cs.JoinRoom(alice, JoinRoomRequest{Room: "room1", Username: "alice"})
	cs.JoinRoom(bob, JoinRoomRequest{Room: "room1", Username: "bob"})
	drain(alice)

	cs.Disconnect(bob)

	assert.False(t, cs.IsLive(bob.ConnId()))
	assert.Equal(t, []string{"alice"}, usernames(lastRoster(t, drain(alice))))
	assert.Empty(t, bob.rooms, "expected disconnected client to have no subscriptions")

	// late events for the room no longer reach bob
	drain(bob)
	cs.emitToRoom("room1", EventChatCleared, ChatCleared{Room: "room1"}, nil)
	assert.Empty(t, drain(bob))

	assert.NotPanics(t, func() { cs.Disconnect(bob) }, "expected a second disconnect to be a no-op")
}

func TestDisconnect_NotJoined(t *testing.T) {
	cs := newTestChatServer(t, database.NewMemoryStore(), Options{})
	alice := newTestClient(t, cs)
	watcher := newTestClient(t, cs)
	cs.JoinRoom(watcher, JoinRoomRequest{Room: types.DefaultRoom, Username: "watcher"})
	drain(watcher)

	cs.Disconnect(alice)

	assert.Empty(t, drain(watcher), "expected no roster for a session that never joined")
}

func TestEmitToRoom(t *testing.T) {
	cs := newTestChatServer(t, database.NewMemoryStore(), Options{})
	alice := newTestClient(t, cs)
	bob := newTestClient(t, cs)
	carol := newTestClient(t, cs)
	cs.JoinRoom(alice, JoinRoomRequest{Room: "room1", Username: "alice"})
	cs.JoinRoom(bob, JoinRoomRequest{Room: "room1", Username: "bob"})
	cs.JoinRoom(carol, JoinRoomRequest{Room: "room2", Username: "carol"})
	drain(alice)
	drain(bob)
	drain(carol)

	cs.emitToRoom("room1", EventChatCleared, ChatCleared{Room: "room1"}, alice)

	assert.Empty(t, drain(alice), "expected skipped client to receive nothing")
	assert.Len(t, eventsNamed(drain(bob), EventChatCleared), 1)
	assert.Empty(t, drain(carol), "expected other rooms to receive nothing")
}

func TestReap(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cs := newTestChatServer(t, database.NewMemoryStore(), Options{})
	cs.presence.Now = func() time.Time { return now }

	alice := newTestClient(t, cs)
	bob := newTestClient(t, cs)
	cs.JoinRoom(alice, JoinRoomRequest{Room: "room1", Username: "alice"})
	cs.JoinRoom(bob, JoinRoomRequest{Room: "room1", Username: "bob"})

	now = now.Add(30 * time.Second)
	cs.UserActivity(alice)
	drain(alice)
	drain(bob)

	now = now.Add(31 * time.Second)
	cs.reap()

	assert.Equal(t, []string{"alice"}, usernames(lastRoster(t, drain(alice))))
	assert.Equal(t, []string{"alice"}, usernames(lastRoster(t, drain(bob))),
		"expected a reaped session to keep receiving room events")

	now = now.Add(time.Second)
	cs.reap()
	assert.Empty(t, drain(alice), "expected no roster when nothing was evicted")

	cs.JoinRoom(bob, JoinRoomRequest{Room: "room1", Username: "bob"})
	assert.Equal(t, []string{"alice", "bob"}, usernames(lastRoster(t, drain(alice))))
}

func TestReap_DropsEmptyRoom(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cs := newTestChatServer(t, database.NewMemoryStore(), Options{})
	cs.presence.Now = func() time.Time { return now }

	alice := newTestClient(t, cs)
	cs.JoinRoom(alice, JoinRoomRequest{Room: "room1", Username: "alice"})
	drain(alice)

	now = now.Add(2 * time.Minute)
	cs.reap()

	assert.Empty(t, lastRoster(t, drain(alice)))
	assert.NotContains(t, cs.presence.Rooms(), "room1")
}

func TestChatServerRun_Reaps(t *testing.T) {
	cs := newTestChatServer(t, database.NewMemoryStore(), Options{
		SweepInterval: 10 * time.Millisecond,
		PresenceTTL:   20 * time.Millisecond,
	})
	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	alice := newTestClient(t, cs)
	cs.JoinRoom(alice, JoinRoomRequest{Room: "room1", Username: "alice"})

	assert.Eventually(t, func() bool {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		return cs.presence.Count("room1") == 0
	}, time.Second, 5*time.Millisecond, "expected idle entry to be evicted")
}

func TestChatServerShutdown(t *testing.T) {
	t.Run("successful shutdown", func(t *testing.T) {
		cs := newTestChatServer(t, database.NewMemoryStore(), Options{})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		go func() {
			select {
			case req := <-cs.stop:
				assert.NotNil(t, req.done, "expected done channel in stop request")
				close(req.done)
			case <-time.After(100 * time.Millisecond):
				t.Error("expected signal on stop chan")
			}
		}()

		err := cs.Shutdown(ctx)
		assert.NoError(t, err, "expected successful shutdown without error")
	})

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		cs := newTestChatServer(t, database.NewMemoryStore(), Options{})

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		go func() {
			select {
			case <-cs.stop:
				// do not close done to simulate a hang
			case <-time.After(100 * time.Millisecond):
				t.Error("expected signal on stop chan")
			}
		}()

		err := cs.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "expected context deadline exceeded error, got %v", err)
	})
}

func TestChatServerShutdown_Integration(t *testing.T) {
	cs := newTestChatServer(t, database.NewMemoryStore(), Options{})
	go cs.Run()

	alice := newTestClient(t, cs)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, cs.Shutdown(ctx), "expected successful shutdown")

	select {
	case <-alice.stop:
	default:
		t.Error("expected live clients to be stopped")
	}
}

func TestDefaults(t *testing.T) {
	assert.Equal(t, "fallback", orDefault("  ", "fallback"))
	assert.Equal(t, "value", orDefault("value", "fallback"))
	assert.Equal(t, "room1", defaultRoom("room1", "current"))
	assert.Equal(t, "current", defaultRoom("", "current"))
	assert.Equal(t, types.DefaultRoom, defaultRoom("", ""))
}
