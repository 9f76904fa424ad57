package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-relay/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one live connection and its session state. Events from a
// client are handled one at a time, in the order they arrive.
type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	send       chan *ServerMessage
	stop       chan struct{}
	stopOnce   sync.Once

	connId   string
	room     string
	username string
	joined   bool
	// rooms the client receives events for, guarded by chatServer.mu
	rooms map[string]struct{}
}

func NewClient(conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		send:       make(chan *ServerMessage, 256),
		stop:       make(chan struct{}),
		room:       types.DefaultRoom,
		username:   types.DefaultUsername,
		rooms:      make(map[string]struct{}),
	}
}

func (c *Client) ConnId() string {
	return c.connId
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		c.handle(&msg)
	}
}

// handle runs one inbound event to completion. Store calls are not tied to
// the connection, so a result that arrives after disconnect is dropped
// rather than cancelled.
func (c *Client) handle(msg *ClientMessage) {
	ctx := context.Background()
	cs := c.chatServer

	switch msg.Event {
	case EventJoinRoom:
		var req JoinRoomRequest
		if err := decodeData(msg, &req); err != nil {
			c.queueMessage(ErrInvalidMessage(msg.Id))
			return
		}
		cs.JoinRoom(c, req)

	case EventGetMessages:
		room, err := roomArg(msg)
		if err != nil {
			c.queueMessage(ErrInvalidMessage(msg.Id))
			return
		}
		msgs, err := cs.History(ctx, defaultRoom(room, c.room))
		if err != nil {
			c.log.Println("get messages:", err)
			return
		}
		c.queueMessage(Event(EventChatHistory, msgs))

	case EventTyping:
		var req TypingRequest
		if err := decodeData(msg, &req); err != nil {
			return
		}
		cs.Typing(c, req)

	case EventSendMessage:
		var req SendMessageRequest
		if err := decodeData(msg, &req); err != nil {
			return
		}
		if _, err := cs.SendMessage(ctx, req); err != nil {
			c.log.Println("send message:", err)
		}

	case EventEditMessage:
		var req EditMessageRequest
		if err := decodeData(msg, &req); err != nil {
			c.queueMessage(ErrResult(msg.Id, err))
			return
		}
		if _, err := cs.EditMessage(ctx, req); err != nil {
			c.queueMessage(ErrResult(msg.Id, err))
			return
		}
		c.queueMessage(NoErrOK(msg.Id, nil))

	case EventDeleteMessage:
		var req DeleteMessageRequest
		if err := decodeData(msg, &req); err != nil {
			c.queueMessage(ErrResult(msg.Id, err))
			return
		}
		if err := cs.DeleteMessage(ctx, req); err != nil {
			c.queueMessage(ErrResult(msg.Id, err))
			return
		}
		c.queueMessage(NoErrOK(msg.Id, nil))

	case EventAddReaction, EventRemoveReaction:
		var req ReactionRequest
		if err := decodeData(msg, &req); err != nil {
			c.queueMessage(ErrResult(msg.Id, err))
			return
		}

		op := cs.AddReaction
		if msg.Event == EventRemoveReaction {
			op = cs.RemoveReaction
		}
		count, err := op(ctx, req)
		if err != nil {
			c.queueMessage(ErrResult(msg.Id, err))
			return
		}
		c.queueMessage(NoErrCount(msg.Id, count))

	case EventGetRoomUsers:
		room, err := roomArg(msg)
		if err != nil {
			c.queueMessage(ErrInvalidMessage(msg.Id))
			return
		}
		cs.RoomUsers(defaultRoom(room, c.room))

	case EventClearMessages:
		room, err := roomArg(msg)
		if err != nil {
			return
		}
		if _, err := cs.ClearRoom(ctx, defaultRoom(room, c.room)); err != nil {
			c.log.Println("clear messages:", err)
		}

	case EventUserActivity:
		cs.UserActivity(c)

	case EventStartDM:
		var req StartDMRequest
		if err := decodeData(msg, &req); err != nil {
			c.queueMessage(ErrResult(msg.Id, err))
			return
		}
		dmRoom, err := cs.StartDirect(c, req)
		if err != nil {
			c.queueMessage(ErrResult(msg.Id, err))
			return
		}
		c.queueMessage(NoErrOK(msg.Id, dmRoom))

	case EventSendDM:
		var req SendDMRequest
		if err := decodeData(msg, &req); err != nil {
			return
		}
		if req.SenderId == "" {
			req.SenderId = c.connId
		}
		if req.SenderUsername == "" {
			req.SenderUsername = c.username
		}
		if _, err := cs.SendDirect(ctx, req); err != nil {
			c.log.Println("send dm:", err)
		}

	case EventGetDMConversations:
		rooms, err := cs.DMConversations(ctx, c.connId)
		if err != nil {
			c.queueMessage(ErrResult(msg.Id, err))
			return
		}
		c.queueMessage(NoErrOK(msg.Id, rooms))

	case EventGetDMHistory:
		var req DMHistoryRequest
		if err := decodeData(msg, &req); err != nil {
			c.queueMessage(ErrResult(msg.Id, err))
			return
		}
		dms, err := cs.DMHistory(ctx, c.connId, req)
		if err != nil {
			c.queueMessage(ErrResult(msg.Id, err))
			return
		}
		c.queueMessage(NoErrOK(msg.Id, dms))

	default:
		c.log.Printf("unknown event %q", msg.Event)
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

// QueueEvent sends an unacknowledged event to this client only.
func (c *Client) QueueEvent(event string, data any) bool {
	return c.queueMessage(Event(event, data))
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("failed to send message to %q, channel is full", c.connId)
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.chatServer.Disconnect(c)
	c.stopClient()
}
