package server

import (
	"context"
	"slices"
	"strings"

	"github.com/npezzotti/go-relay/internal/database"
	"github.com/npezzotti/go-relay/internal/types"
	"github.com/samber/lo"
)

const dmRoomType = "dm"

// DMRoomID returns the id of the direct-message room shared by a and b.
func DMRoomID(a, b string) string {
	ids := []string{a, b}
	slices.Sort(ids)
	return strings.Join(ids, "-")
}

// StartDirect subscribes c, and the recipient if it is live, to the DM room
// the two of them share.
func (cs *ChatServer) StartDirect(c *Client, req StartDMRequest) (types.DMRoom, error) {
	if err := cs.validateRequest(req); err != nil {
		return types.DMRoom{}, err
	}

	roomId := DMRoomID(c.connId, req.RecipientId)

	cs.mu.Lock()
	cs.subscribeLocked(roomId, c)
	if recipient, ok := cs.clients[req.RecipientId]; ok {
		cs.subscribeLocked(roomId, recipient)
	}
	cs.mu.Unlock()

	return types.DMRoom{
		Id:          roomId,
		Type:        dmRoomType,
		OtherUserId: req.RecipientId,
	}, nil
}

// SendDirect stores a direct message and delivers it to the DM room only.
func (cs *ChatServer) SendDirect(ctx context.Context, req SendDMRequest) (*types.DirectMessage, error) {
	if err := cs.validateRequest(req); err != nil {
		return nil, err
	}

	dm := &types.DirectMessage{
		DMRoomId:       req.DMRoomId,
		SenderId:       req.SenderId,
		SenderUsername: req.SenderUsername,
		Text:           req.Text,
		CreatedAt:      Now(),
	}

	if err := cs.store.CreateDirectMessage(ctx, dm); err != nil {
		return nil, storeError(err)
	}

	cs.emitToRoom(dm.DMRoomId, EventReceiveDM, dm, nil)
	return dm, nil
}

// DMConversations lists the DM rooms connId has exchanged messages in.
func (cs *ChatServer) DMConversations(ctx context.Context, connId string) ([]types.DMRoom, error) {
	ids, err := cs.store.ListDirectRooms(ctx, connId)
	if err != nil {
		return nil, storeError(err)
	}

	return lo.Map(ids, func(id string, _ int) types.DMRoom {
		other, _ := lo.Find(database.Participants(id), func(p string) bool {
			return p != connId
		})
		if other == "" {
			other = connId
		}
		return types.DMRoom{Id: id, Type: dmRoomType, OtherUserId: other}
	}), nil
}

// DMHistory returns the messages of a DM room connId takes part in.
func (cs *ChatServer) DMHistory(ctx context.Context, connId string, req DMHistoryRequest) ([]types.DirectMessage, error) {
	if err := cs.validateRequest(req); err != nil {
		return nil, err
	}

	if !slices.Contains(database.Participants(req.DMRoomId), connId) {
		return nil, ErrUnauthorized
	}

	dms, err := cs.store.ListDirectMessages(ctx, req.DMRoomId)
	if err != nil {
		return nil, storeError(err)
	}
	return dms, nil
}
