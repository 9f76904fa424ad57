package server

import (
	"strings"

	"github.com/npezzotti/go-relay/internal/presence"
	"github.com/npezzotti/go-relay/internal/types"
)

// JoinRoom moves the session of c into req.Room under the name
// req.Username. If c was in another room it leaves that room first, and
// both rooms get a fresh roster.
func (cs *ChatServer) JoinRoom(c *Client, req JoinRoomRequest) RoomJoined {
	room := req.Room
	if room == "" {
		room = types.DefaultRoom
	}
	username := orDefault(strings.TrimSpace(req.Username), types.DefaultUsername)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if c.joined && c.room != room {
		cs.log.Printf("%q leaving room %q", c.username, c.room)
		cs.unsubscribeLocked(c.room, c)
		cs.presence.Leave(c.room, c.connId)
		cs.emitRoomUsersLocked(c.room)
	}

	c.room = room
	c.username = username
	c.joined = true

	cs.subscribeLocked(room, c)
	cs.presence.Join(room, c.connId, username)
	cs.emitRoomUsersLocked(room)

	joined := RoomJoined{Room: room, Users: cs.presence.Count(room)}
	c.queueMessage(Event(EventRoomJoined, joined))
	cs.log.Printf("%q joined room %q", username, room)

	return joined
}

// Typing records the typing flag of c and tells everyone else in the room.
// A session without a presence entry in the room still notifies the room.
func (cs *ChatServer) Typing(c *Client, req TypingRequest) {
	room := defaultRoom(req.Room, c.room)
	username := req.Username
	if username == "" {
		username = c.username
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.presence.SetTyping(room, c.connId, req.Flag) {
		cs.emitRoomUsersLocked(room)
	}

	cs.emitToRoomLocked(room, EventUserTyping, UserTyping{Username: username, Flag: req.Flag}, c)
}

// UserActivity refreshes the activity clock of c in its current room.
func (cs *ChatServer) UserActivity(c *Client) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.presence.Touch(c.room, c.connId) {
		cs.emitRoomUsersLocked(c.room)
	}
}

// RoomUsers broadcasts the current roster of room and returns it.
func (cs *ChatServer) RoomUsers(room string) []types.PresenceUser {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	users := presence.Dedupe(cs.presence.Snapshot(room))
	cs.emitToRoomLocked(room, EventRoomUsers, users, nil)
	return users
}
