package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Question represents a host-posed question in the database.
type Question struct {
	ID     int64
	UserID int64
	RoomID int64
	Text   string
}

// ErrQuestionNotFound is returned when a question lookup yields no results.
var ErrQuestionNotFound = errors.New("question not found")

// QuestionRepository provides question persistence operations.
type QuestionRepository struct {
	db *pgxpool.Pool
}

// NewQuestionRepository creates a QuestionRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewQuestionRepository(db *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// Create inserts a question.
//
// Precondition: text must be non-empty.
// Postcondition: Returns the created Question with ID set.
func (r *QuestionRepository) Create(ctx context.Context, userID, roomID int64, text string) (Question, error) {
	var q Question
	err := r.db.QueryRow(ctx,
		`INSERT INTO questions (user_id, room_id, text)
		 VALUES ($1, $2, $3)
		 RETURNING id, user_id, room_id, text`,
		userID, roomID, text,
	).Scan(&q.ID, &q.UserID, &q.RoomID, &q.Text)
	if err != nil {
		return Question{}, fmt.Errorf("inserting question: %w", err)
	}
	return q, nil
}

// UpdateText replaces a question's text.
//
// Precondition: text must be non-empty.
// Postcondition: Returns the updated Question, or ErrQuestionNotFound if no
// question has the given id.
func (r *QuestionRepository) UpdateText(ctx context.Context, id int64, text string) (Question, error) {
	var q Question
	err := r.db.QueryRow(ctx,
		`UPDATE questions SET text = $2 WHERE id = $1
		 RETURNING id, user_id, room_id, text`,
		id, text,
	).Scan(&q.ID, &q.UserID, &q.RoomID, &q.Text)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Question{}, ErrQuestionNotFound
		}
		return Question{}, fmt.Errorf("updating question: %w", err)
	}
	return q, nil
}
