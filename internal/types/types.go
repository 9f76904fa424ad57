package types

import (
	"time"
)

const (
	DefaultRoom     = "global"
	DefaultUsername = "Anonymous"
)

type Reaction struct {
	User  string    `json:"user" bson:"user"`
	Emoji string    `json:"emoji" bson:"emoji"`
	At    time.Time `json:"at" bson:"at"`
}

type Message struct {
	Id        string     `json:"_id"`
	Room      string     `json:"room"`
	User      string     `json:"user"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"createdAt"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	Reactions []Reaction `json:"reactions"`
}

// HasReaction reports whether user already reacted to the message with emoji.
func (m *Message) HasReaction(user, emoji string) bool {
	for _, r := range m.Reactions {
		if r.User == user && r.Emoji == emoji {
			return true
		}
	}
	return false
}

type DirectMessage struct {
	Id             string    `json:"_id"`
	DMRoomId       string    `json:"dmRoomId"`
	SenderId       string    `json:"senderId"`
	SenderUsername string    `json:"senderUsername"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
	Read           bool      `json:"read"`
}

type DMRoom struct {
	Id          string `json:"_id"`
	Type        string `json:"type"`
	OtherUserId string `json:"otherUserId"`
}

type PresenceUser struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	IsOnline bool   `json:"isOnline"`
	IsTyping bool   `json:"isTyping"`
}
