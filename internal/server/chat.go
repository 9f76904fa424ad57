package server

import (
	"context"
	"strings"

	"github.com/npezzotti/go-relay/internal/stats"
	"github.com/npezzotti/go-relay/internal/types"
)

// History returns the messages of room, oldest first.
func (cs *ChatServer) History(ctx context.Context, room string) ([]types.Message, error) {
	msgs, err := cs.store.ListMessages(ctx, room)
	if err != nil {
		return nil, storeError(err)
	}
	return msgs, nil
}

// SendMessage stores a new message and broadcasts it to its room. Blank or
// oversized text is rejected with ErrInvalidInput before anything is
// stored.
func (cs *ChatServer) SendMessage(ctx context.Context, req SendMessageRequest) (*types.Message, error) {
	if err := cs.validateRequest(req); err != nil {
		return nil, err
	}

	msg := &types.Message{
		Room:      orDefault(req.Room, types.DefaultRoom),
		User:      orDefault(req.User, types.DefaultUsername),
		Message:   req.Message,
		CreatedAt: Now(),
		Reactions: []types.Reaction{},
	}

	if err := cs.store.CreateMessage(ctx, msg); err != nil {
		return nil, storeError(err)
	}

	cs.stats.Incr(stats.MessagesSent)
	cs.emitToRoom(msg.Room, EventReceiveMessage, msg, nil)
	return msg, nil
}

// ownedMessage loads the message id and checks that user wrote it.
func (cs *ChatServer) ownedMessage(ctx context.Context, id, user string) (*types.Message, error) {
	msg, err := cs.store.GetMessage(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}

	if msg.User != orDefault(user, types.DefaultUsername) {
		return nil, ErrUnauthorized
	}
	return msg, nil
}

// EditMessage replaces the text of a message written by req.User. The
// updated message goes to the room it was posted in.
func (cs *ChatServer) EditMessage(ctx context.Context, req EditMessageRequest) (*types.Message, error) {
	if err := cs.validateRequest(req); err != nil {
		return nil, err
	}

	if _, err := cs.ownedMessage(ctx, req.MessageId, req.User); err != nil {
		return nil, err
	}

	updated, err := cs.store.UpdateMessageText(ctx, req.MessageId, strings.TrimSpace(req.NewMessage), Now())
	if err != nil {
		return nil, storeError(err)
	}

	cs.emitToRoom(updated.Room, EventReceiveMessage, updated, nil)
	return updated, nil
}

// DeleteMessage removes a message written by req.User. The deletion notice
// goes to the room the message was stored in, whatever req.Room says.
func (cs *ChatServer) DeleteMessage(ctx context.Context, req DeleteMessageRequest) error {
	if err := cs.validateRequest(req); err != nil {
		return err
	}

	msg, err := cs.ownedMessage(ctx, req.MessageId, req.User)
	if err != nil {
		return err
	}

	if err := cs.store.DeleteMessage(ctx, msg.Id); err != nil {
		return storeError(err)
	}

	cs.emitToRoom(msg.Room, EventMessageDeleted, MessageDeleted{Room: msg.Room, MessageId: msg.Id}, nil)
	return nil
}

// ClearRoom deletes every message in room. Anyone may clear any room.
func (cs *ChatServer) ClearRoom(ctx context.Context, room string) (int64, error) {
	room = orDefault(room, types.DefaultRoom)

	n, err := cs.store.DeleteRoomMessages(ctx, room)
	if err != nil {
		return 0, storeError(err)
	}

	cs.log.Printf("cleared %d message(s) from room %q", n, room)
	cs.emitToRoom(room, EventChatCleared, ChatCleared{Room: room}, nil)
	return n, nil
}

// AddReaction attaches (req.User, req.Emoji) to a message and returns the
// number of reactions it now has. With the single reaction policy the new
// reaction replaces all others on the message.
func (cs *ChatServer) AddReaction(ctx context.Context, req ReactionRequest) (int, error) {
	if err := cs.validateRequest(req); err != nil {
		return 0, err
	}

	reaction := types.Reaction{
		User:  orDefault(req.User, types.DefaultUsername),
		Emoji: req.Emoji,
		At:    Now(),
	}

	var (
		updated *types.Message
		err     error
	)
	if cs.reactionPolicy == ReactionsSingle {
		updated, err = cs.store.ReplaceReactions(ctx, req.MessageId, []types.Reaction{reaction})
	} else {
		updated, err = cs.store.AddReaction(ctx, req.MessageId, reaction)
	}
	if err != nil {
		return 0, storeError(err)
	}

	return cs.reactionChanged(updated), nil
}

// RemoveReaction drops (req.User, req.Emoji) from a message. Removing a
// reaction that is not there succeeds.
func (cs *ChatServer) RemoveReaction(ctx context.Context, req ReactionRequest) (int, error) {
	if err := cs.validateRequest(req); err != nil {
		return 0, err
	}

	updated, err := cs.store.RemoveReaction(ctx, req.MessageId, orDefault(req.User, types.DefaultUsername), req.Emoji)
	if err != nil {
		return 0, storeError(err)
	}

	return cs.reactionChanged(updated), nil
}

func (cs *ChatServer) reactionChanged(msg *types.Message) int {
	cs.stats.Incr(stats.ReactionsChanged)
	cs.emitToRoom(msg.Room, EventReceiveMessage, msg, nil)
	return len(msg.Reactions)
}
