package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/npezzotti/go-relay/internal/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoStore struct {
	log      *log.Logger
	client   *mongo.Client
	messages *mongo.Collection
	dms      *mongo.Collection
	timeout  time.Duration
}

// NewMongoStore connects to uri, verifies the connection and makes sure the
// indexes used for history scans exist.
func NewMongoStore(logger *log.Logger, uri, dbName string, timeout time.Duration) (*MongoStore, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}

	db := client.Database(dbName)
	s := &MongoStore{
		log:      logger,
		client:   client,
		messages: db.Collection(messagesCollection),
		dms:      db.Collection(directMessagesCollection),
		timeout:  timeout,
	}

	if err := s.createIndexes(ctx); err != nil {
		return nil, err
	}

	logger.Printf("connected to mongodb database %q", dbName)
	return s, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "room", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create message index: %w", err)
	}

	_, err = s.dms.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "dmRoomId", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "participants", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create direct message indexes: %w", err)
	}

	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

func objectId(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, ErrInvalidID
	}
	return oid, nil
}

func (s *MongoStore) CreateMessage(ctx context.Context, msg *types.Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Reactions == nil {
		msg.Reactions = []types.Reaction{}
	}

	res, err := s.messages.InsertOne(ctx, MessageDocument{
		Room:      msg.Room,
		User:      msg.User,
		Message:   msg.Message,
		CreatedAt: msg.CreatedAt,
		Reactions: msg.Reactions,
	})
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		msg.Id = oid.Hex()
	}
	return nil
}

func (s *MongoStore) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	oid, err := objectId(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var doc MessageDocument
	if err := s.messages.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find message: %w", err)
	}

	return doc.ToMessage(), nil
}

// updateMessage applies update to the message matching filter and returns the
// updated document. When nothing matched, it tells a missing message apart
// from a failed condition.
func (s *MongoStore) updateMessage(ctx context.Context, oid primitive.ObjectID, filter bson.M, update bson.M) (*types.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	filter["_id"] = oid
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc MessageDocument
	err := s.messages.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.ToMessage(), nil
	}

	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("update message: %w", err)
	}

	n, err := s.messages.CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		return nil, fmt.Errorf("count message: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return nil, ErrAlreadyExists
}

func (s *MongoStore) UpdateMessageText(ctx context.Context, id, text string, editedAt time.Time) (*types.Message, error) {
	oid, err := objectId(id)
	if err != nil {
		return nil, err
	}

	return s.updateMessage(ctx, oid, bson.M{}, bson.M{
		"$set": bson.M{"message": text, "editedAt": editedAt},
	})
}

func (s *MongoStore) DeleteMessage(ctx context.Context, id string) error {
	oid, err := objectId(id)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.messages.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) ListMessages(ctx context.Context, room string) ([]types.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.messages.Find(ctx, bson.M{"room": room}, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cursor.Close(ctx)

	messages := make([]types.Message, 0)
	for cursor.Next(ctx) {
		var doc MessageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		messages = append(messages, *doc.ToMessage())
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor: %w", err)
	}
	return messages, nil
}

func (s *MongoStore) DeleteRoomMessages(ctx context.Context, room string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.messages.DeleteMany(ctx, bson.M{"room": room})
	if err != nil {
		return 0, fmt.Errorf("delete room messages: %w", err)
	}
	return res.DeletedCount, nil
}

// AddReaction pushes the reaction only if no element with the same user and
// emoji is present, so two concurrent adds can never both succeed.
func (s *MongoStore) AddReaction(ctx context.Context, id string, reaction types.Reaction) (*types.Message, error) {
	oid, err := objectId(id)
	if err != nil {
		return nil, err
	}

	filter := bson.M{
		"reactions": bson.M{
			"$not": bson.M{"$elemMatch": bson.M{"user": reaction.User, "emoji": reaction.Emoji}},
		},
	}
	return s.updateMessage(ctx, oid, filter, bson.M{
		"$push": bson.M{"reactions": reaction},
	})
}

func (s *MongoStore) RemoveReaction(ctx context.Context, id, user, emoji string) (*types.Message, error) {
	oid, err := objectId(id)
	if err != nil {
		return nil, err
	}

	return s.updateMessage(ctx, oid, bson.M{}, bson.M{
		"$pull": bson.M{"reactions": bson.M{"user": user, "emoji": emoji}},
	})
}

func (s *MongoStore) ReplaceReactions(ctx context.Context, id string, reactions []types.Reaction) (*types.Message, error) {
	oid, err := objectId(id)
	if err != nil {
		return nil, err
	}

	if reactions == nil {
		reactions = []types.Reaction{}
	}
	return s.updateMessage(ctx, oid, bson.M{}, bson.M{
		"$set": bson.M{"reactions": reactions},
	})
}

func (s *MongoStore) CreateDirectMessage(ctx context.Context, dm *types.DirectMessage) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if dm.CreatedAt.IsZero() {
		dm.CreatedAt = time.Now().UTC()
	}

	res, err := s.dms.InsertOne(ctx, DirectMessageDocument{
		DMRoomId:       dm.DMRoomId,
		Participants:   Participants(dm.DMRoomId),
		SenderId:       dm.SenderId,
		SenderUsername: dm.SenderUsername,
		Text:           dm.Text,
		CreatedAt:      dm.CreatedAt,
		Read:           dm.Read,
	})
	if err != nil {
		return fmt.Errorf("insert direct message: %w", err)
	}

	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		dm.Id = oid.Hex()
	}
	return nil
}

func (s *MongoStore) ListDirectMessages(ctx context.Context, dmRoomId string) ([]types.DirectMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := s.dms.Find(ctx, bson.M{"dmRoomId": dmRoomId}, opts)
	if err != nil {
		return nil, fmt.Errorf("find direct messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []DirectMessageDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode direct messages: %w", err)
	}

	dms := make([]types.DirectMessage, 0, len(docs))
	for _, doc := range docs {
		dms = append(dms, doc.ToDirectMessage())
	}
	return dms, nil
}

func (s *MongoStore) ListDirectRooms(ctx context.Context, participant string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	values, err := s.dms.Distinct(ctx, "dmRoomId", bson.M{"participants": participant})
	if err != nil {
		return nil, fmt.Errorf("distinct direct rooms: %w", err)
	}

	rooms := make([]string, 0, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok {
			rooms = append(rooms, id)
		}
	}
	return rooms, nil
}
