package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Reply represents a member's reply to a question in the database.
type Reply struct {
	ID         int64
	UserID     int64
	RoomID     int64
	QuestionID int64
	Text       string
}

// ReplyRepository provides reply persistence operations.
type ReplyRepository struct {
	db *pgxpool.Pool
}

// NewReplyRepository creates a ReplyRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewReplyRepository(db *pgxpool.Pool) *ReplyRepository {
	return &ReplyRepository{db: db}
}

// Create inserts a reply.
//
// Precondition: text must be non-empty.
// Postcondition: Returns the created Reply with ID set.
func (r *ReplyRepository) Create(ctx context.Context, userID, roomID, questionID int64, text string) (Reply, error) {
	var rep Reply
	err := r.db.QueryRow(ctx,
		`INSERT INTO replies (user_id, room_id, question_id, text)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, user_id, room_id, question_id, text`,
		userID, roomID, questionID, text,
	).Scan(&rep.ID, &rep.UserID, &rep.RoomID, &rep.QuestionID, &rep.Text)
	if err != nil {
		return Reply{}, fmt.Errorf("inserting reply: %w", err)
	}
	return rep, nil
}

// ListForQuestion returns the replies recorded against a question, for
// clients rebuilding a round on reconnect.
func (r *ReplyRepository) ListForQuestion(ctx context.Context, questionID int64) ([]Reply, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, room_id, question_id, text
		 FROM replies WHERE question_id = $1
		 ORDER BY id`,
		questionID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying replies: %w", err)
	}
	defer rows.Close()

	var reps []Reply
	for rows.Next() {
		var rep Reply
		if err := rows.Scan(&rep.ID, &rep.UserID, &rep.RoomID, &rep.QuestionID, &rep.Text); err != nil {
			return nil, fmt.Errorf("scanning reply: %w", err)
		}
		reps = append(reps, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating replies: %w", err)
	}
	return reps, nil
}
