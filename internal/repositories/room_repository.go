package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-sync-service/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

const roomColumns = `id, type, job_ref, pair_key, last_seq, created_at, updated_at`

// RoomRepository abstracts room persistence and membership.
type RoomRepository interface {
	GetOrCreateDirectRoom(ctx context.Context, userID int, otherID int) (models.Room, bool, error)
	CreateJobRoom(ctx context.Context, jobRef string, clientID int, contractorID int) (models.Room, bool, error)
	ListRoomsForUser(ctx context.Context, userID int) ([]models.RoomSummary, error)
	IsParticipant(ctx context.Context, roomID int, userID int) (bool, error)
	Participants(ctx context.Context, roomID int) ([]int, error)
	GetRoom(ctx context.Context, roomID int) (models.Room, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// GetOrCreateDirectRoom returns the direct room for the unordered user
// pair, creating it when absent. The partial unique index on the
// normalized pair key makes concurrent calls from both participants
// converge on a single row; the losing insert falls through to a select.
func (r *RoomRepo) GetOrCreateDirectRoom(ctx context.Context, userID int, otherID int) (models.Room, bool, error) {
	if userID == otherID {
		return models.Room{}, false, errors.New("cannot open a direct room with self")
	}
	a, b := userID, otherID
	if b < a {
		a, b = b, a
	}
	pairKey := fmt.Sprintf("%d:%d", a, b)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var room models.Room
	err = tx.QueryRowxContext(ctx, `INSERT INTO rooms (type, pair_key) VALUES ($1, $2)
        ON CONFLICT (pair_key) WHERE type = 'direct' DO NOTHING
        RETURNING `+roomColumns, models.RoomTypeDirect, pairKey).StructScan(&room)

	created := false
	switch {
	case err == nil:
		created = true
		for _, id := range []int{a, b} {
			if _, err = tx.ExecContext(ctx, `INSERT INTO room_participants (room_id, user_id) VALUES ($1, $2)`, room.ID, id); err != nil {
				return models.Room{}, false, err
			}
		}
	case errors.Is(err, sql.ErrNoRows):
		if err = tx.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE type = $1 AND pair_key = $2`, models.RoomTypeDirect, pairKey); err != nil {
			return models.Room{}, false, err
		}
	default:
		return models.Room{}, false, err
	}

	if err = tx.Commit(); err != nil {
		return models.Room{}, false, err
	}
	return room, created, nil
}

// CreateJobRoom creates the room for an accepted job, idempotently: the
// unique job_ref index among job rooms absorbs redelivered acceptance
// events.
func (r *RoomRepo) CreateJobRoom(ctx context.Context, jobRef string, clientID int, contractorID int) (models.Room, bool, error) {
	if jobRef == "" {
		return models.Room{}, false, errors.New("job reference is empty")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var room models.Room
	err = tx.QueryRowxContext(ctx, `INSERT INTO rooms (type, job_ref) VALUES ($1, $2)
        ON CONFLICT (job_ref) WHERE type = 'job' DO NOTHING
        RETURNING `+roomColumns, models.RoomTypeJob, jobRef).StructScan(&room)

	created := false
	switch {
	case err == nil:
		created = true
		for _, id := range []int{clientID, contractorID} {
			if _, err = tx.ExecContext(ctx, `INSERT INTO room_participants (room_id, user_id) VALUES ($1, $2)`, room.ID, id); err != nil {
				return models.Room{}, false, err
			}
		}
	case errors.Is(err, sql.ErrNoRows):
		if err = tx.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE type = $1 AND job_ref = $2`, models.RoomTypeJob, jobRef); err != nil {
			return models.Room{}, false, err
		}
	default:
		return models.Room{}, false, err
	}

	if err = tx.Commit(); err != nil {
		return models.Room{}, false, err
	}
	return room, created, nil
}

// ListRoomsForUser returns the user's rooms, most recently updated first,
// with the denormalized last-message snapshot.
func (r *RoomRepo) ListRoomsForUser(ctx context.Context, userID int) ([]models.RoomSummary, error) {
	query := `SELECT r.id, r.type, r.job_ref, r.updated_at,
            r.last_message_seq, r.last_message_sender, r.last_message_preview, r.last_message_at,
            ARRAY(SELECT p.user_id FROM room_participants p WHERE p.room_id = r.id ORDER BY p.user_id) AS participants
        FROM rooms r
        INNER JOIN room_participants rp ON rp.room_id = r.id
        WHERE rp.user_id = $1
        ORDER BY r.updated_at DESC`
	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.RoomSummary
	for rows.Next() {
		var (
			summary      models.RoomSummary
			lastSeq      sql.NullInt64
			lastSender   sql.NullInt64
			lastPreview  sql.NullString
			lastAt       sql.NullTime
			participants pq.Int64Array
		)
		if err := rows.Scan(&summary.RoomID, &summary.Type, &summary.JobRef, &summary.UpdatedAt,
			&lastSeq, &lastSender, &lastPreview, &lastAt, &participants); err != nil {
			return nil, err
		}
		summary.Participants = make([]int, 0, len(participants))
		for _, id := range participants {
			summary.Participants = append(summary.Participants, int(id))
		}
		if lastSeq.Valid {
			summary.LastMessage = &models.LastMessage{
				Seq:      int(lastSeq.Int64),
				SenderID: int(lastSender.Int64),
				Preview:  lastPreview.String,
				SentAt:   lastAt.Time,
			}
		}
		result = append(result, summary)
	}
	return result, rows.Err()
}

// IsParticipant checks whether a user belongs to the room. It gates both
// pagination and push subscription.
func (r *RoomRepo) IsParticipant(ctx context.Context, roomID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM room_participants WHERE room_id=$1 AND user_id=$2)`, roomID, userID)
	return exists, err
}

// Participants returns the room's member ids.
func (r *RoomRepo) Participants(ctx context.Context, roomID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM room_participants WHERE room_id=$1 ORDER BY user_id`, roomID)
	return ids, err
}

// GetRoom fetches a room by id.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID int) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}
