package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-relay/internal/types"
)

const (
	selectMessageQuery   = "SELECT id, room, username, message, created_at, edited_at FROM messages WHERE id = $1"
	selectReactionsQuery = "SELECT username, emoji, created_at FROM reactions WHERE message_id = $1 ORDER BY id"
	insertReactionQuery  = "INSERT INTO reactions (message_id, username, emoji, created_at) VALUES ($1, $2, $3, $4)"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func parseId(id string) (uuid.UUID, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, ErrInvalidID
	}
	return u, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *types.Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	id := uuid.New()
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO messages (id, room, username, message, created_at) VALUES ($1, $2, $3, $4, $5)",
		id,
		msg.Room,
		msg.User,
		msg.Message,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	msg.Id = id.String()
	msg.Reactions = []types.Reaction{}
	return nil
}

func fetchMessage(ctx context.Context, q queryer, id uuid.UUID) (*types.Message, error) {
	var (
		msg      types.Message
		editedAt sql.NullTime
	)

	err := q.QueryRowContext(ctx, selectMessageQuery, id).Scan(
		&msg.Id,
		&msg.Room,
		&msg.User,
		&msg.Message,
		&msg.CreatedAt,
		&editedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select message: %w", err)
	}

	if editedAt.Valid {
		msg.EditedAt = &editedAt.Time
	}

	rows, err := q.QueryContext(ctx, selectReactionsQuery, id)
	if err != nil {
		return nil, fmt.Errorf("select reactions: %w", err)
	}
	defer rows.Close()

	msg.Reactions = make([]types.Reaction, 0)
	for rows.Next() {
		var r types.Reaction
		if err := rows.Scan(&r.User, &r.Emoji, &r.At); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		msg.Reactions = append(msg.Reactions, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &msg, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	mid, err := parseId(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return fetchMessage(ctx, s.conn, mid)
}

func (s *PostgresStore) UpdateMessageText(ctx context.Context, id, text string, editedAt time.Time) (*types.Message, error) {
	mid, err := parseId(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.conn.ExecContext(ctx,
		"UPDATE messages SET message = $2, edited_at = $3 WHERE id = $1",
		mid,
		text,
		editedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	return fetchMessage(ctx, s.conn, mid)
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) error {
	mid, err := parseId(id)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.conn.ExecContext(ctx, "DELETE FROM messages WHERE id = $1", mid)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, room string) ([]types.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx,
		"SELECT m.id, m.room, m.username, m.message, m.created_at, m.edited_at, "+
			"r.username, r.emoji, r.created_at "+
			"FROM messages m LEFT JOIN reactions r ON r.message_id = m.id "+
			"WHERE m.room = $1 ORDER BY m.created_at, m.seq, r.id",
		room,
	)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	messages := make([]types.Message, 0)
	for rows.Next() {
		var (
			msg           types.Message
			editedAt      sql.NullTime
			reactionUser  sql.NullString
			reactionEmoji sql.NullString
			reactionAt    sql.NullTime
		)

		err := rows.Scan(
			&msg.Id,
			&msg.Room,
			&msg.User,
			&msg.Message,
			&msg.CreatedAt,
			&editedAt,
			&reactionUser,
			&reactionEmoji,
			&reactionAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if n := len(messages); n == 0 || messages[n-1].Id != msg.Id {
			if editedAt.Valid {
				msg.EditedAt = &editedAt.Time
			}
			msg.Reactions = make([]types.Reaction, 0)
			messages = append(messages, msg)
		}

		if reactionUser.Valid && reactionEmoji.Valid {
			last := &messages[len(messages)-1]
			last.Reactions = append(last.Reactions, types.Reaction{
				User:  reactionUser.String,
				Emoji: reactionEmoji.String,
				At:    reactionAt.Time,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return messages, nil
}

func (s *PostgresStore) DeleteRoomMessages(ctx context.Context, room string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.conn.ExecContext(ctx, "DELETE FROM messages WHERE room = $1", room)
	if err != nil {
		return 0, fmt.Errorf("delete room messages: %w", err)
	}

	return res.RowsAffected()
}

// AddReaction relies on the unique (message_id, username, emoji) constraint:
// a duplicate insert affects no rows instead of adding a second record.
func (s *PostgresStore) AddReaction(ctx context.Context, id string, reaction types.Reaction) (*types.Message, error) {
	mid, err := parseId(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.conn.ExecContext(ctx,
		insertReactionQuery+" ON CONFLICT (message_id, username, emoji) DO NOTHING",
		mid,
		reaction.User,
		reaction.Emoji,
		reaction.At,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("insert reaction: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := fetchMessage(ctx, s.conn, mid); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyExists
	}

	return fetchMessage(ctx, s.conn, mid)
}

func (s *PostgresStore) RemoveReaction(ctx context.Context, id, user, emoji string) (*types.Message, error) {
	mid, err := parseId(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err = s.conn.ExecContext(ctx,
		"DELETE FROM reactions WHERE message_id = $1 AND username = $2 AND emoji = $3",
		mid,
		user,
		emoji,
	)
	if err != nil {
		return nil, fmt.Errorf("delete reaction: %w", err)
	}

	return fetchMessage(ctx, s.conn, mid)
}

func (s *PostgresStore) ReplaceReactions(ctx context.Context, id string, reactions []types.Reaction) (*types.Message, error) {
	mid, err := parseId(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// lock the message row so concurrent replacements serialise
	var locked string
	err = tx.QueryRowContext(ctx, "SELECT id FROM messages WHERE id = $1 FOR UPDATE", mid).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock message: %w", err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM reactions WHERE message_id = $1", mid); err != nil {
		return nil, fmt.Errorf("clear reactions: %w", err)
	}

	for _, r := range reactions {
		if _, err = tx.ExecContext(ctx, insertReactionQuery, mid, r.User, r.Emoji, r.At); err != nil {
			return nil, fmt.Errorf("insert reaction: %w", err)
		}
	}

	msg, err := fetchMessage(ctx, tx, mid)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return msg, nil
}

func (s *PostgresStore) CreateDirectMessage(ctx context.Context, dm *types.DirectMessage) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if dm.CreatedAt.IsZero() {
		dm.CreatedAt = time.Now().UTC()
	}

	parts := Participants(dm.DMRoomId)
	a, b := parts[0], parts[0]
	if len(parts) > 1 {
		b = parts[1]
	}

	id := uuid.New()
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO direct_messages (id, dm_room_id, participant_a, participant_b, sender_id, sender_username, text, created_at, read) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		id,
		dm.DMRoomId,
		a,
		b,
		dm.SenderId,
		dm.SenderUsername,
		dm.Text,
		dm.CreatedAt,
		dm.Read,
	)
	if err != nil {
		return fmt.Errorf("insert direct message: %w", err)
	}

	dm.Id = id.String()
	return nil
}

func (s *PostgresStore) ListDirectMessages(ctx context.Context, dmRoomId string) ([]types.DirectMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx,
		"SELECT id, dm_room_id, sender_id, sender_username, text, created_at, read FROM direct_messages "+
			"WHERE dm_room_id = $1 ORDER BY created_at",
		dmRoomId,
	)
	if err != nil {
		return nil, fmt.Errorf("select direct messages: %w", err)
	}
	defer rows.Close()

	dms := make([]types.DirectMessage, 0)
	for rows.Next() {
		var dm types.DirectMessage
		if err := rows.Scan(&dm.Id, &dm.DMRoomId, &dm.SenderId, &dm.SenderUsername, &dm.Text, &dm.CreatedAt, &dm.Read); err != nil {
			return nil, fmt.Errorf("scan direct message: %w", err)
		}
		dms = append(dms, dm)
	}

	return dms, rows.Err()
}

func (s *PostgresStore) ListDirectRooms(ctx context.Context, participant string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx,
		"SELECT DISTINCT dm_room_id FROM direct_messages WHERE participant_a = $1 OR participant_b = $1 ORDER BY dm_room_id",
		participant,
	)
	if err != nil {
		return nil, fmt.Errorf("select direct rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]string, 0)
	for rows.Next() {
		var room string
		if err := rows.Scan(&room); err != nil {
			return nil, fmt.Errorf("scan direct room: %w", err)
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}
