package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-sync-service/internal/models"
)

var (
	ErrNotAParticipant = errors.New("not a room participant")
	// ErrStaleCursor means the pagination anchor points below the
	// retained history; callers reset to the latest page.
	ErrStaleCursor = errors.New("stale cursor")
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

const previewLength = 140

// MessageRepository defines the append/read contracts of the message
// store. All mutation goes through AppendMessage; nothing bypasses the
// membership check or the per-room id allocation.
type MessageRepository interface {
	AppendMessage(ctx context.Context, roomID int, senderID int, content string) (models.Message, error)
	FetchPage(ctx context.Context, roomID int, cursor int, limit int) ([]models.Message, int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// AppendMessage stores a message and refreshes the room's last-message
// snapshot. The row lock taken by the last_seq increment is the room's
// sole append serialization point: ids come out gapless and strictly
// increasing per room.
func (r *MessageRepo) AppendMessage(ctx context.Context, roomID int, senderID int, content string) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var member bool
	if err = tx.GetContext(ctx, &member, `SELECT EXISTS(SELECT 1 FROM room_participants WHERE room_id=$1 AND user_id=$2)`, roomID, senderID); err != nil {
		return models.Message{}, err
	}
	if !member {
		err = ErrNotAParticipant
		return models.Message{}, err
	}

	var seq int
	err = tx.GetContext(ctx, &seq, `UPDATE rooms SET last_seq = last_seq + 1 WHERE id=$1 RETURNING last_seq`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrRoomNotFound
		return models.Message{}, err
	}
	if err != nil {
		return models.Message{}, err
	}

	var createdAt time.Time
	err = tx.QueryRowxContext(ctx, `INSERT INTO messages (room_id, seq, sender_id, content) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		roomID, seq, senderID, content).Scan(&createdAt)
	if err != nil {
		return models.Message{}, err
	}

	preview := content
	if len(preview) > previewLength {
		preview = preview[:previewLength]
	}
	if _, err = tx.ExecContext(ctx, `UPDATE rooms SET last_message_seq=$2, last_message_sender=$3, last_message_preview=$4, last_message_at=$5, updated_at=$5 WHERE id=$1`,
		roomID, seq, senderID, preview, createdAt); err != nil {
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return models.Message{ID: seq, RoomID: roomID, SenderID: senderID, Content: content, CreatedAt: createdAt}, nil
}

// FetchPage returns a bounded page of messages in chronological order.
// The chronological ordering happens exactly once, here: every consumer
// treats a page as already oldest-first and never reorders it. No cursor
// selects the newest page; a cursor selects the messages strictly before
// the anchored id. The returned cursor anchors the next older page and is
// zero at the start of history.
func (r *MessageRepo) FetchPage(ctx context.Context, roomID int, cursor int, limit int) ([]models.Message, int, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	if cursor > 0 {
		var minSeq sql.NullInt64
		if err := r.db.GetContext(ctx, &minSeq, `SELECT MIN(seq) FROM messages WHERE room_id=$1`, roomID); err != nil {
			return nil, 0, err
		}
		if !minSeq.Valid || int64(cursor) < minSeq.Int64 {
			return nil, 0, ErrStaleCursor
		}
	}

	query := `SELECT seq, room_id, sender_id, content, created_at FROM messages WHERE room_id=$1 ORDER BY seq DESC LIMIT $2`
	args := []interface{}{roomID, limit}
	if cursor > 0 {
		query = `SELECT seq, room_id, sender_id, content, created_at FROM messages WHERE room_id=$1 AND seq < $2 ORDER BY seq DESC LIMIT $3`
		args = []interface{}{roomID, cursor, limit}
	}

	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, 0, err
	}

	// Single reversal: newest-first from the index scan to oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	nextCursor := 0
	if len(msgs) == limit {
		nextCursor = msgs[0].ID
	}
	return msgs, nextCursor, nil
}
