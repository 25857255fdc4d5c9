package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

var (
	ErrEmptyMessage     = errors.New("message content is empty")
	ErrDuplicateAccount = errors.New("account already exists")
)

const (
	roomColumns    = "id, kind, game_id, dm_key, created_at"
	messageColumns = "m.id, m.room_id, m.sender_id, u.username, u.avatar_url, m.content, m.created_at"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (Room, error) {
	var (
		room   Room
		gameId sql.NullInt64
		dmKey  sql.NullString
	)

	err := row.Scan(&room.Id, &room.Kind, &gameId, &dmKey, &room.CreatedAt)
	if err != nil {
		return Room{}, err
	}

	room.GameId = int(gameId.Int64)
	room.DmKey = dmKey.String
	return room, nil
}

func scanMessage(row rowScanner) (Message, error) {
	var msg Message
	err := row.Scan(
		&msg.Id,
		&msg.RoomId,
		&msg.SenderId,
		&msg.SenderName,
		&msg.SenderAvatar,
		&msg.Content,
		&msg.CreatedAt,
	)
	return msg, err
}

func (db *PgRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRowContext(ctx,
		"INSERT INTO users (username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id, username, email, avatar_url, created_at, updated_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		now,
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.AvatarUrl,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return User{}, ErrDuplicateAccount
	}

	return u, err
}

func (db *PgRepository) GetAccountById(ctx context.Context, id int) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, avatar_url, created_at, updated_at FROM users "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.AvatarUrl,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, avatar_url, created_at, updated_at FROM users "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.AvatarUrl,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgRepository) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	err := db.conn.QueryRowContext(ctx, query, args...).Scan(&ok)
	return ok, err
}

func (db *PgRepository) UserExists(ctx context.Context, userId int) (bool, error) {
	return db.exists(ctx, "SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)", userId)
}

func (db *PgRepository) GameExists(ctx context.Context, gameId int) (bool, error) {
	return db.exists(ctx, "SELECT EXISTS (SELECT 1 FROM games WHERE id = $1)", gameId)
}

func (db *PgRepository) IsRoomMember(ctx context.Context, roomId, userId int) (bool, error) {
	return db.exists(ctx,
		"SELECT EXISTS (SELECT 1 FROM chat_room_members WHERE room_id = $1 AND user_id = $2)",
		roomId,
		userId,
	)
}

func (db *PgRepository) queryIds(ctx context.Context, query string, args ...any) ([]int, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int, 0)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (db *PgRepository) GetFollowerIds(ctx context.Context, userId int) ([]int, error) {
	return db.queryIds(ctx, "SELECT follower_id FROM follows WHERE followee_id = $1", userId)
}

func (db *PgRepository) GetRoomMemberIds(ctx context.Context, roomId int) ([]int, error) {
	return db.queryIds(ctx, "SELECT user_id FROM chat_room_members WHERE room_id = $1", roomId)
}

func (db *PgRepository) GetRoom(ctx context.Context, roomId int) (Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM chat_rooms WHERE id = $1",
		roomId,
	)

	return scanRoom(row)
}

func (db *PgRepository) getGameRoom(ctx context.Context, gameId int) (Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM chat_rooms WHERE kind = 'GAME' AND game_id = $1",
		gameId,
	)

	return scanRoom(row)
}

func (db *PgRepository) getDmRoom(ctx context.Context, dmKey string) (Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM chat_rooms WHERE kind = 'DM' AND dm_key = $1",
		dmKey,
	)

	return scanRoom(row)
}

// ResolveGameRoom returns the GAME room for gameId, creating it on first use.
// Concurrent callers converge on the same row: the partial unique index makes
// every insert but one a no-op and the losers re-read the winner.
func (db *PgRepository) ResolveGameRoom(ctx context.Context, gameId int) (Room, error) {
	room, err := db.getGameRoom(ctx, gameId)
	if err == nil || !errors.Is(err, sql.ErrNoRows) {
		return room, err
	}

	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO chat_rooms (kind, game_id, created_at) VALUES ('GAME', $1, $2) "+
			"ON CONFLICT (game_id) WHERE kind = 'GAME' DO NOTHING RETURNING "+roomColumns,
		gameId,
		time.Now().UTC(),
	)

	room, err = scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return db.getGameRoom(ctx, gameId)
	}

	return room, err
}

// DmKey is the normalized identity of the unordered pair (a, b).
func DmKey(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// ResolveDmRoom returns the DM room shared by userA and userB, creating the
// room and both membership rows in one transaction on first use.
func (db *PgRepository) ResolveDmRoom(ctx context.Context, userA, userB int) (Room, error) {
	key := DmKey(userA, userB)

	room, err := db.getDmRoom(ctx, key)
	if err == nil || !errors.Is(err, sql.ErrNoRows) {
		return room, err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Room{}, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx,
		"INSERT INTO chat_rooms (kind, dm_key, created_at) VALUES ('DM', $1, $2) "+
			"ON CONFLICT (dm_key) WHERE kind = 'DM' DO NOTHING RETURNING "+roomColumns,
		key,
		now,
	)

	room, err = scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		// another transaction created the pair's room first
		if err := tx.Rollback(); err != nil {
			return Room{}, err
		}
		return db.getDmRoom(ctx, key)
	}
	if err != nil {
		return Room{}, err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO chat_room_members (room_id, user_id, created_at) VALUES ($1, $2, $4), ($1, $3, $4)",
		room.Id,
		userA,
		userB,
		now,
	)
	if err != nil {
		return Room{}, err
	}

	if err := tx.Commit(); err != nil {
		return Room{}, err
	}

	return room, nil
}

func (db *PgRepository) EnsureRoomMember(ctx context.Context, roomId, userId int) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO chat_room_members (room_id, user_id, created_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (room_id, user_id) DO NOTHING",
		roomId,
		userId,
		time.Now().UTC(),
	)

	return err
}

func (db *PgRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	content := strings.TrimSpace(params.Content)
	if content == "" {
		return Message{}, ErrEmptyMessage
	}

	row := db.conn.QueryRowContext(ctx,
		"WITH m AS ("+
			"INSERT INTO chat_messages (room_id, sender_id, content, created_at) VALUES ($1, $2, $3, $4) "+
			"RETURNING id, room_id, sender_id, content, created_at"+
			") SELECT "+messageColumns+" FROM m JOIN users u ON u.id = m.sender_id",
		params.RoomId,
		params.SenderId,
		content,
		params.CreatedAt,
	)

	return scanMessage(row)
}

// GetRecentMessages returns the last limit messages of a room, oldest first.
func (db *PgRepository) GetRecentMessages(ctx context.Context, roomId, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, room_id, sender_id, username, avatar_url, content, created_at FROM ("+
			"SELECT "+messageColumns+" FROM chat_messages m JOIN users u ON u.id = m.sender_id "+
			"WHERE m.room_id = $1 ORDER BY m.created_at DESC, m.id DESC LIMIT $2"+
			") recent ORDER BY created_at ASC, id ASC",
		roomId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgRepository) SetWatermark(ctx context.Context, roomId, userId int, ts time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO chat_read_state (room_id, user_id, last_read_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (room_id, user_id) DO UPDATE SET last_read_at = EXCLUDED.last_read_at",
		roomId,
		userId,
		ts,
	)

	return err
}

// GetUnreadCounts maps each of the user's rooms with unread messages to the
// number of messages from others created after the user's watermark.
func (db *PgRepository) GetUnreadCounts(ctx context.Context, userId int) (map[int]int, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT rm.room_id, COUNT(m.id) FROM chat_room_members rm "+
			"JOIN chat_messages m ON m.room_id = rm.room_id AND m.sender_id <> rm.user_id "+
			"LEFT JOIN chat_read_state rs ON rs.room_id = rm.room_id AND rs.user_id = rm.user_id "+
			"WHERE rm.user_id = $1 AND m.created_at > COALESCE(rs.last_read_at, 'epoch'::timestamptz) "+
			"GROUP BY rm.room_id",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var roomId, count int
		if err := rows.Scan(&roomId, &count); err != nil {
			return nil, err
		}
		counts[roomId] = count
	}

	return counts, rows.Err()
}

// CreateNotifications inserts one row per recipient and returns only the rows
// that were actually inserted; recipients that already hold a row for the
// same event key are skipped.
func (db *PgRepository) CreateNotifications(ctx context.Context, params CreateNotificationsParams) ([]Notification, error) {
	if len(params.Recipients) == 0 {
		return nil, nil
	}

	recipients := make([]int64, len(params.Recipients))
	for i, id := range params.Recipients {
		recipients[i] = int64(id)
	}

	rows, err := db.conn.QueryContext(ctx,
		"INSERT INTO notifications (user_id, type, actor_id, post_id, room_id, message, event_key, created_at) "+
			"SELECT r, $2, $3, $4, $5, $6, $7, $8 FROM unnest($1::int[]) AS r "+
			"ON CONFLICT (user_id, event_key) DO NOTHING "+
			"RETURNING id, user_id",
		pq.Array(recipients),
		params.Type,
		params.ActorId,
		params.PostId,
		params.RoomId,
		params.Message,
		params.EventKey,
		params.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	created := make([]Notification, 0, len(recipients))
	for rows.Next() {
		n := Notification{
			Type:      params.Type,
			ActorId:   params.ActorId,
			PostId:    params.PostId,
			RoomId:    params.RoomId,
			Message:   params.Message,
			EventKey:  params.EventKey,
			CreatedAt: params.CreatedAt,
		}
		if err := rows.Scan(&n.Id, &n.UserId); err != nil {
			return nil, err
		}
		created = append(created, n)
	}

	return created, rows.Err()
}

func (db *PgRepository) ListNotifications(ctx context.Context, userId, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT n.id, n.user_id, n.type, n.actor_id, u.username, n.post_id, n.room_id, "+
			"n.message, n.event_key, n.is_read, n.created_at "+
			"FROM notifications n JOIN users u ON u.id = n.actor_id "+
			"WHERE n.user_id = $1 ORDER BY n.created_at DESC, n.id DESC LIMIT $2",
		userId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]Notification, 0)
	for rows.Next() {
		var (
			n      Notification
			postId sql.NullInt64
			roomId sql.NullInt64
		)
		err := rows.Scan(
			&n.Id,
			&n.UserId,
			&n.Type,
			&n.ActorId,
			&n.ActorName,
			&postId,
			&roomId,
			&n.Message,
			&n.EventKey,
			&n.IsRead,
			&n.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		if postId.Valid {
			id := int(postId.Int64)
			n.PostId = &id
		}
		if roomId.Valid {
			id := int(roomId.Int64)
			n.RoomId = &id
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

func (db *PgRepository) GetNotificationSummary(ctx context.Context, userId int) (NotificationSummary, error) {
	var summary NotificationSummary
	err := db.conn.QueryRowContext(ctx,
		"SELECT "+
			"COUNT(*) FILTER (WHERE type = 'CHAT_MESSAGE'), "+
			"COUNT(*) FILTER (WHERE type = 'FOLLOWED_USER_POST') "+
			"FROM notifications WHERE user_id = $1 AND is_read = FALSE",
		userId,
	).Scan(&summary.UnreadChat, &summary.UnreadPost)
	if err != nil {
		return NotificationSummary{}, fmt.Errorf("count unread: %w", err)
	}

	latest, err := db.ListNotifications(ctx, userId, 1)
	if err != nil {
		return NotificationSummary{}, fmt.Errorf("latest notification: %w", err)
	}
	if len(latest) > 0 {
		summary.LastNotification = &latest[0]
	}

	return summary, nil
}

func (db *PgRepository) MarkAllNotificationsRead(ctx context.Context, userId int) (int, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND is_read = FALSE",
		userId,
	)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}
