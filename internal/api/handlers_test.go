package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-relay/internal/config"
	"github.com/npezzotti/go-relay/internal/database"
	"github.com/npezzotti/go-relay/internal/server"
	"github.com/npezzotti/go-relay/internal/session"
	"github.com/npezzotti/go-relay/internal/stats"
	"github.com/npezzotti/go-relay/internal/testutil"
	"github.com/npezzotti/go-relay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func newTestChatServer(t *testing.T, store database.MessageStore) *server.ChatServer {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return().Times(4)
	su.On("Incr", mock.Anything).Return().Maybe()
	su.On("Decr", mock.Anything).Return().Maybe()
	su.On("Add", mock.Anything, mock.Anything).Return().Maybe()

	cs, err := server.NewChatServer(testutil.TestLogger(t), store, su, server.Options{})
	require.NoError(t, err, "failed to create chat server")
	return cs
}

// newTestApp starts the full HTTP stack on an httptest server backed by a
// memory store.
func newTestApp(t *testing.T) (*httptest.Server, *server.ChatServer, *database.MemoryStore) {
	store := database.NewMemoryStore()
	cs := newTestChatServer(t, store)
	go cs.Run()

	app := NewGoChatApp(http.NewServeMux(), testutil.TestLogger(t), cs, store,
		session.NewIssuer([]byte("test-signing-key"), time.Hour),
		&config.Config{AllowedOrigins: []string{"http://allowed.test"}})

	srv := httptest.NewServer(app.mux.Handler)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})
	return srv, cs, store
}

type wireEvent struct {
	Id    int             `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent reads from conn until an event called name arrives.
func readEvent(t *testing.T, conn *websocket.Conn, name string) wireEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev wireEvent
		require.NoError(t, conn.ReadJSON(&ev), "waiting for %q", name)
		if ev.Event == name {
			return ev
		}
	}
}

func emit(t *testing.T, conn *websocket.Conn, id int, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(server.ClientMessage{Id: id, Event: event, Data: raw}))
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			store := &database.MockMessageStore{}
			defer store.AssertExpectations(t)
			store.On("Ping", mock.Anything).Return(tc.mockErr).Once()

			app := NewGoChatApp(http.NewServeMux(), testutil.TestLogger(t), nil, store, nil, &config.Config{})
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			app.healthCheck(rr, req)

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusServiceUnavailable, rr.Code, "expected status code to be 503")
				return
			}
			assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
			assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
		})
	}
}

func Test_getMessages(t *testing.T) {
	t.Run("returns room history", func(t *testing.T) {
		store := database.NewMemoryStore()
		cs := newTestChatServer(t, store)
		ctx := context.Background()
		_, err := cs.SendMessage(ctx, server.SendMessageRequest{Room: "room1", User: "alice", Message: "hello"})
		require.NoError(t, err)
		_, err = cs.SendMessage(ctx, server.SendMessageRequest{Room: "room2", User: "bob", Message: "elsewhere"})
		require.NoError(t, err)

		app := NewGoChatApp(http.NewServeMux(), testutil.TestLogger(t), cs, store, nil, &config.Config{})
		rr := httptest.NewRecorder()
		app.getMessages(rr, httptest.NewRequest(http.MethodGet, "/api/messages?room=room1", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		var msgs []types.Message
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msgs))
		require.Len(t, msgs, 1)
		assert.Equal(t, "hello", msgs[0].Message)
		assert.Equal(t, "alice", msgs[0].User)
	})

	t.Run("store failure", func(t *testing.T) {
		store := &database.MockMessageStore{}
		defer store.AssertExpectations(t)
		store.On("ListMessages", mock.Anything, types.DefaultRoom).Return(nil, errors.New("boom")).Once()

		cs := newTestChatServer(t, store)
		app := NewGoChatApp(http.NewServeMux(), testutil.TestLogger(t), cs, store, nil, &config.Config{})
		rr := httptest.NewRecorder()
		app.getMessages(rr, httptest.NewRequest(http.MethodGet, "/api/messages", nil))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		var apiErr ApiError
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &apiErr))
		assert.Equal(t, "internal server error", apiErr.Message)
	})
}

func Test_serveWs(t *testing.T) {
	srv, _, store := newTestApp(t)

	alice := dial(t, srv, "")
	bob := dial(t, srv, "")

	var aliceSession server.SessionInfo
	require.NoError(t, json.Unmarshal(readEvent(t, alice, server.EventSession).Data, &aliceSession))
	assert.NotEmpty(t, aliceSession.Id)
	assert.NotEmpty(t, aliceSession.Token)
	readEvent(t, bob, server.EventSession)

	emit(t, alice, 0, server.EventJoinRoom, server.JoinRoomRequest{Room: "room1", Username: "alice"})
	readEvent(t, alice, server.EventRoomJoined)
	emit(t, bob, 0, server.EventJoinRoom, server.JoinRoomRequest{Room: "room1", Username: "bob"})

	var joined server.RoomJoined
	require.NoError(t, json.Unmarshal(readEvent(t, bob, server.EventRoomJoined).Data, &joined))
	assert.Equal(t, server.RoomJoined{Room: "room1", Users: 2}, joined)

	var users []types.PresenceUser
	require.NoError(t, json.Unmarshal(readEvent(t, alice, server.EventRoomUsers).Data, &users))
	require.Len(t, users, 2)
	assert.Equal(t, aliceSession.Id, users[0].Id)

	emit(t, bob, 0, server.EventSendMessage, server.SendMessageRequest{Room: "room1", User: "bob", Message: "hi alice"})

	var msg types.Message
	require.NoError(t, json.Unmarshal(readEvent(t, alice, server.EventReceiveMessage).Data, &msg))
	assert.Equal(t, "hi alice", msg.Message)
	readEvent(t, bob, server.EventReceiveMessage)

	emit(t, alice, 9, server.EventAddReaction, server.ReactionRequest{MessageId: msg.Id, User: "alice", Emoji: "👍"})
	ack := readEvent(t, alice, server.EventAck)
	assert.Equal(t, 9, ack.Id)
	assert.JSONEq(t, `{"ok":true,"count":1}`, string(ack.Data))

	stored, err := store.GetMessage(context.Background(), msg.Id)
	require.NoError(t, err)
	assert.Len(t, stored.Reactions, 1)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
	errEvent := readEvent(t, alice, server.EventError)
	assert.JSONEq(t, `{"ok":false,"error":"invalid_input"}`, string(errEvent.Data))

	alice.Close()
	require.NoError(t, json.Unmarshal(readEvent(t, bob, server.EventRoomUsers).Data, &users))
	assert.Len(t, users, 1, "expected disconnect to update the roster")
}

func Test_serveWs_Resume(t *testing.T) {
	srv, cs, _ := newTestApp(t)

	first := dial(t, srv, "")
	var info server.SessionInfo
	require.NoError(t, json.Unmarshal(readEvent(t, first, server.EventSession).Data, &info))
	first.Close()

	require.Eventually(t, func() bool { return !cs.IsLive(info.Id) }, 2*time.Second, 10*time.Millisecond)

	second := dial(t, srv, "?session="+url.QueryEscape(info.Token))
	var resumed server.SessionInfo
	require.NoError(t, json.Unmarshal(readEvent(t, second, server.EventSession).Data, &resumed))
	assert.Equal(t, info.Id, resumed.Id, "expected the connection id to survive a reconnect")

	third := dial(t, srv, "?session="+url.QueryEscape(info.Token))
	var fresh server.SessionInfo
	require.NoError(t, json.Unmarshal(readEvent(t, third, server.EventSession).Data, &fresh))
	assert.NotEqual(t, info.Id, fresh.Id, "expected a live id not to be taken over")

	fourth := dial(t, srv, "?session=garbage")
	require.NoError(t, json.Unmarshal(readEvent(t, fourth, server.EventSession).Data, &fresh))
	assert.NotEmpty(t, fresh.Id)
}

func Test_serveWs_Origin(t *testing.T) {
	srv, _, _ := newTestApp(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	header := http.Header{}
	header.Set("Origin", "http://evil.test")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	assert.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "http://allowed.test")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	conn.Close()
}
