package server

import (
	"encoding/json"
	"time"
)

// client -> server
const (
	EventJoinRoom           = "join_room"
	EventGetMessages        = "get_messages"
	EventTyping             = "typing"
	EventSendMessage        = "send_message"
	EventEditMessage        = "edit_message"
	EventDeleteMessage      = "delete_message"
	EventAddReaction        = "add_reaction"
	EventRemoveReaction     = "remove_reaction"
	EventGetRoomUsers       = "get_room_users"
	EventClearMessages      = "clear_messages"
	EventUserActivity       = "user_activity"
	EventStartDM            = "start_dm"
	EventSendDM             = "send_dm"
	EventGetDMConversations = "get_dm_conversations"
	EventGetDMHistory       = "get_dm_history"
)

// server -> client
const (
	EventAck            = "ack"
	EventError          = "error"
	EventSession        = "session"
	EventRoomUsers      = "room_users"
	EventRoomJoined     = "room_joined"
	EventChatHistory    = "chat_history"
	EventUserTyping     = "user_typing"
	EventReceiveMessage = "receive_message"
	EventMessageDeleted = "message_deleted"
	EventChatCleared    = "chat_cleared"
	EventReceiveDM      = "receive_dm"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is an inbound event. Id is set by clients that want an
// acknowledgement.
type ClientMessage struct {
	Id    int             `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ServerMessage struct {
	BaseMessage
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type Ack struct {
	Ok    bool   `json:"ok"`
	Count *int   `json:"count,omitempty"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

type JoinRoomRequest struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

type TypingRequest struct {
	Room     string `json:"room"`
	Username string `json:"username"`
	Flag     bool   `json:"flag"`
}

type SendMessageRequest struct {
	Room    string `json:"room"`
	User    string `json:"user"`
	Message string `json:"message" validate:"notblank,max=500"`
}

type EditMessageRequest struct {
	MessageId  string `json:"messageId" validate:"required"`
	Room       string `json:"room"`
	User       string `json:"user"`
	NewMessage string `json:"newMessage" validate:"notblank,max=500"`
}

type DeleteMessageRequest struct {
	MessageId string `json:"messageId" validate:"required"`
	Room      string `json:"room"`
	User      string `json:"user"`
}

type ReactionRequest struct {
	MessageId string `json:"messageId" validate:"required"`
	Room      string `json:"room"`
	User      string `json:"user"`
	Emoji     string `json:"emoji" validate:"required,max=64"`
}

type ClearMessagesRequest struct {
	Room string `json:"room"`
}

type StartDMRequest struct {
	RecipientId string `json:"recipientId" validate:"required"`
}

type SendDMRequest struct {
	DMRoomId       string `json:"dmRoomId" validate:"required"`
	Text           string `json:"text" validate:"notblank,max=500"`
	SenderUsername string `json:"senderUsername"`
	SenderId       string `json:"senderId"`
}

type DMHistoryRequest struct {
	DMRoomId string `json:"dmRoomId" validate:"required"`
}

type SessionInfo struct {
	Id    string `json:"id"`
	Token string `json:"token,omitempty"`
}

type RoomJoined struct {
	Room  string `json:"room"`
	Users int    `json:"users"`
}

type UserTyping struct {
	Username string `json:"username"`
	Flag     bool   `json:"flag"`
}

type MessageDeleted struct {
	Room      string `json:"room"`
	MessageId string `json:"messageId"`
}

type ChatCleared struct {
	Room string `json:"room"`
}

// Event builds an unacknowledged server event.
func Event(name string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Event:       name,
		Data:        data,
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Event: EventAck,
		Data:  &Ack{Ok: true, Data: data},
	}
}

func NoErrCount(id int, count int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Event: EventAck,
		Data:  &Ack{Ok: true, Count: &count},
	}
}

// ErrResult acknowledges a failed operation with the kind of err.
func ErrResult(id int, err error) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Event: EventAck,
		Data:  &Ack{Error: ErrorKind(err)},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Event: EventError,
		Data:  &Ack{Error: KindInvalidInput},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// decodeData unmarshals the payload of msg into v. An empty payload leaves
// v untouched.
func decodeData(msg *ClientMessage, v any) error {
	if len(msg.Data) == 0 || string(msg.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return invalidInput(err)
	}
	return nil
}

// roomArg reads a payload that is either a bare room name or {"room": ...}.
func roomArg(msg *ClientMessage) (string, error) {
	if len(msg.Data) == 0 || string(msg.Data) == "null" {
		return "", nil
	}

	var room string
	if err := json.Unmarshal(msg.Data, &room); err == nil {
		return room, nil
	}

	var req ClearMessagesRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return "", invalidInput(err)
	}
	return req.Room, nil
}
