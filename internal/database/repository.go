package database

import (
	"context"
	"errors"
	"time"

	"github.com/npezzotti/go-relay/internal/types"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidID     = errors.New("invalid id")
)

const DefaultTimeout = 5 * time.Second

// MessageStore persists room messages and direct messages.
//
// AddReaction and RemoveReaction must be applied as a single conditional
// update by the implementation; callers never read the reaction list and
// write it back.
type MessageStore interface {
	Ping(ctx context.Context) error
	CreateMessage(ctx context.Context, msg *types.Message) error
	GetMessage(ctx context.Context, id string) (*types.Message, error)
	UpdateMessageText(ctx context.Context, id, text string, editedAt time.Time) (*types.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	ListMessages(ctx context.Context, room string) ([]types.Message, error)
	DeleteRoomMessages(ctx context.Context, room string) (int64, error)
	AddReaction(ctx context.Context, id string, reaction types.Reaction) (*types.Message, error)
	RemoveReaction(ctx context.Context, id, user, emoji string) (*types.Message, error)
	ReplaceReactions(ctx context.Context, id string, reactions []types.Reaction) (*types.Message, error)
	CreateDirectMessage(ctx context.Context, dm *types.DirectMessage) error
	ListDirectMessages(ctx context.Context, dmRoomId string) ([]types.DirectMessage, error)
	ListDirectRooms(ctx context.Context, participant string) ([]string, error)
	Close(ctx context.Context) error
}

var (
	_ MessageStore = (*MemoryStore)(nil)
	_ MessageStore = (*MongoStore)(nil)
	_ MessageStore = (*PostgresStore)(nil)
	_ MessageStore = (*MockMessageStore)(nil)
)
