package database

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-relay/internal/types"
	"github.com/samber/lo"
)

// MemoryStore is a MessageStore kept entirely in process memory. Every
// operation runs under one lock, which makes reaction updates atomic.
type MemoryStore struct {
	mu       sync.Mutex
	messages map[string]*types.Message
	seqs     map[string]uint64
	seq      uint64
	dms      []types.DirectMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*types.Message),
		seqs:     make(map[string]uint64),
	}
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func (s *MemoryStore) Close(_ context.Context) error {
	return nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.Id = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Reactions == nil {
		msg.Reactions = []types.Reaction{}
	}

	s.seq++
	s.seqs[msg.Id] = s.seq
	s.messages[msg.Id] = copyMessage(msg)
	return nil
}

func (s *MemoryStore) lookup(id string) (*types.Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidID
	}

	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return msg, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return copyMessage(msg), nil
}

func (s *MemoryStore) UpdateMessageText(_ context.Context, id, text string, editedAt time.Time) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	msg.Message = text
	msg.EditedAt = &editedAt
	return copyMessage(msg), nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookup(id); err != nil {
		return err
	}

	delete(s.messages, id)
	delete(s.seqs, id)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, room string) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := make([]types.Message, 0)
	for _, msg := range s.messages {
		if msg.Room == room {
			messages = append(messages, *copyMessage(msg))
		}
	}

	sort.Slice(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return s.seqs[messages[i].Id] < s.seqs[messages[j].Id]
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

func (s *MemoryStore) DeleteRoomMessages(_ context.Context, room string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, msg := range s.messages {
		if msg.Room == room {
			delete(s.messages, id)
			delete(s.seqs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) AddReaction(_ context.Context, id string, reaction types.Reaction) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	if msg.HasReaction(reaction.User, reaction.Emoji) {
		return nil, ErrAlreadyExists
	}

	msg.Reactions = append(msg.Reactions, reaction)
	return copyMessage(msg), nil
}

func (s *MemoryStore) RemoveReaction(_ context.Context, id, user, emoji string) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	msg.Reactions = lo.Reject(msg.Reactions, func(r types.Reaction, _ int) bool {
		return r.User == user && r.Emoji == emoji
	})
	return copyMessage(msg), nil
}

func (s *MemoryStore) ReplaceReactions(_ context.Context, id string, reactions []types.Reaction) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	msg.Reactions = append([]types.Reaction{}, reactions...)
	return copyMessage(msg), nil
}

func (s *MemoryStore) CreateDirectMessage(_ context.Context, dm *types.DirectMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dm.Id = uuid.NewString()
	if dm.CreatedAt.IsZero() {
		dm.CreatedAt = time.Now().UTC()
	}

	s.dms = append(s.dms, *dm)
	return nil
}

func (s *MemoryStore) ListDirectMessages(_ context.Context, dmRoomId string) ([]types.DirectMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return lo.Filter(s.dms, func(dm types.DirectMessage, _ int) bool {
		return dm.DMRoomId == dmRoomId
	}), nil
}

func (s *MemoryStore) ListDirectRooms(_ context.Context, participant string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := make([]string, 0)
	for _, dm := range s.dms {
		if slices.Contains(Participants(dm.DMRoomId), participant) {
			rooms = append(rooms, dm.DMRoomId)
		}
	}

	rooms = lo.Uniq(rooms)
	sort.Strings(rooms)
	return rooms, nil
}

// Participants splits a direct-message room id into the two connection ids
// it was built from.
func Participants(dmRoomId string) []string {
	return strings.SplitN(dmRoomId, "-", 2)
}

func copyMessage(msg *types.Message) *types.Message {
	c := *msg
	c.Reactions = append([]types.Reaction{}, msg.Reactions...)
	if msg.EditedAt != nil {
		editedAt := *msg.EditedAt
		c.EditedAt = &editedAt
	}
	return &c
}
