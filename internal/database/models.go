package database

import (
	"time"

	"github.com/npezzotti/go-relay/internal/types"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	messagesCollection       = "messages"
	directMessagesCollection = "direct_messages"
)

// MessageDocument is the shape of a message in the messages collection.
type MessageDocument struct {
	Id        primitive.ObjectID `bson:"_id,omitempty"`
	Room      string             `bson:"room"`
	User      string             `bson:"user"`
	Message   string             `bson:"message"`
	CreatedAt time.Time          `bson:"createdAt"`
	EditedAt  *time.Time         `bson:"editedAt,omitempty"`
	Reactions []types.Reaction   `bson:"reactions"`
}

func (doc *MessageDocument) ToMessage() *types.Message {
	reactions := doc.Reactions
	if reactions == nil {
		reactions = []types.Reaction{}
	}

	return &types.Message{
		Id:        doc.Id.Hex(),
		Room:      doc.Room,
		User:      doc.User,
		Message:   doc.Message,
		CreatedAt: doc.CreatedAt,
		EditedAt:  doc.EditedAt,
		Reactions: reactions,
	}
}

type DirectMessageDocument struct {
	Id             primitive.ObjectID `bson:"_id,omitempty"`
	DMRoomId       string             `bson:"dmRoomId"`
	Participants   []string           `bson:"participants"`
	SenderId       string             `bson:"senderId"`
	SenderUsername string             `bson:"senderUsername"`
	Text           string             `bson:"text"`
	CreatedAt      time.Time          `bson:"createdAt"`
	Read           bool               `bson:"read"`
}

func (doc *DirectMessageDocument) ToDirectMessage() types.DirectMessage {
	return types.DirectMessage{
		Id:             doc.Id.Hex(),
		DMRoomId:       doc.DMRoomId,
		SenderId:       doc.SenderId,
		SenderUsername: doc.SenderUsername,
		Text:           doc.Text,
		CreatedAt:      doc.CreatedAt,
		Read:           doc.Read,
	}
}
