package database

import (
	"context"
	"time"

	"github.com/npezzotti/go-relay/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockMessageStore struct {
	mock.Mock
}

func messageOrNil(args mock.Arguments) (*types.Message, error) {
	if msg, ok := args.Get(0).(*types.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMessageStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockMessageStore) CreateMessage(ctx context.Context, msg *types.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
func (m *MockMessageStore) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	return messageOrNil(m.Called(ctx, id))
}
func (m *MockMessageStore) UpdateMessageText(ctx context.Context, id, text string, editedAt time.Time) (*types.Message, error) {
	return messageOrNil(m.Called(ctx, id, text, editedAt))
}
func (m *MockMessageStore) DeleteMessage(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockMessageStore) ListMessages(ctx context.Context, room string) ([]types.Message, error) {
	args := m.Called(ctx, room)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMessageStore) DeleteRoomMessages(ctx context.Context, room string) (int64, error) {
	args := m.Called(ctx, room)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockMessageStore) AddReaction(ctx context.Context, id string, reaction types.Reaction) (*types.Message, error) {
	return messageOrNil(m.Called(ctx, id, reaction))
}
func (m *MockMessageStore) RemoveReaction(ctx context.Context, id, user, emoji string) (*types.Message, error) {
	return messageOrNil(m.Called(ctx, id, user, emoji))
}
func (m *MockMessageStore) ReplaceReactions(ctx context.Context, id string, reactions []types.Reaction) (*types.Message, error) {
	return messageOrNil(m.Called(ctx, id, reactions))
}
func (m *MockMessageStore) CreateDirectMessage(ctx context.Context, dm *types.DirectMessage) error {
	args := m.Called(ctx, dm)
	return args.Error(0)
}
func (m *MockMessageStore) ListDirectMessages(ctx context.Context, dmRoomId string) ([]types.DirectMessage, error) {
	args := m.Called(ctx, dmRoomId)
	if dms, ok := args.Get(0).([]types.DirectMessage); ok {
		return dms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMessageStore) ListDirectRooms(ctx context.Context, participant string) ([]string, error) {
	args := m.Called(ctx, participant)
	if rooms, ok := args.Get(0).([]string); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMessageStore) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
