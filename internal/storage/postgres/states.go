package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRoomState represents one user's score in one room.
type UserRoomState struct {
	UserID int64
	RoomID int64
	Score  int
}

// ErrStateNotFound is returned when a (user, room) state lookup yields no
// results.
var ErrStateNotFound = errors.New("user room state not found")

// ErrStateExists is returned when attempting to create a duplicate
// (user, room) state.
var ErrStateExists = errors.New("user room state already exists")

// StateRepository provides per-room score persistence operations.
type StateRepository struct {
	db *pgxpool.Pool
}

// NewStateRepository creates a StateRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewStateRepository(db *pgxpool.Pool) *StateRepository {
	return &StateRepository{db: db}
}

// Create inserts a zero-score state for the (user, room) pair.
//
// Postcondition: Returns the created state, or ErrStateExists if the pair
// already holds one.
func (r *StateRepository) Create(ctx context.Context, userID, roomID int64) (UserRoomState, error) {
	var s UserRoomState
	err := r.db.QueryRow(ctx,
		`INSERT INTO user_room_states (user_id, room_id)
		 VALUES ($1, $2)
		 RETURNING user_id, room_id, score`,
		userID, roomID,
	).Scan(&s.UserID, &s.RoomID, &s.Score)
	if err != nil {
		if isDuplicateKeyError(err) {
			return UserRoomState{}, ErrStateExists
		}
		return UserRoomState{}, fmt.Errorf("inserting user room state: %w", err)
	}
	return s, nil
}

// Join upserts the (user, room) state and returns it, preserving the score
// a rejoining user already accumulated.
//
// Postcondition: The state row exists; the returned Score is the current
// accumulated score, zero on first join.
func (r *StateRepository) Join(ctx context.Context, userID, roomID int64) (UserRoomState, error) {
	var s UserRoomState
	err := r.db.QueryRow(ctx,
		`INSERT INTO user_room_states (user_id, room_id)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id, room_id)
		 DO UPDATE SET score = user_room_states.score
		 RETURNING user_id, room_id, score`,
		userID, roomID,
	).Scan(&s.UserID, &s.RoomID, &s.Score)
	if err != nil {
		return UserRoomState{}, fmt.Errorf("upserting user room state: %w", err)
	}
	return s, nil
}

// AddScore adjusts the score for the (user, room) pair by delta.
//
// Postcondition: Returns the updated state, or ErrStateNotFound if the pair
// holds no state.
func (r *StateRepository) AddScore(ctx context.Context, userID, roomID int64, delta int) (UserRoomState, error) {
	var s UserRoomState
	err := r.db.QueryRow(ctx,
		`UPDATE user_room_states SET score = score + $3
		 WHERE user_id = $1 AND room_id = $2
		 RETURNING user_id, room_id, score`,
		userID, roomID, delta,
	).Scan(&s.UserID, &s.RoomID, &s.Score)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserRoomState{}, ErrStateNotFound
		}
		return UserRoomState{}, fmt.Errorf("updating user room state: %w", err)
	}
	return s, nil
}

// Delete removes the (user, room) state.
//
// Postcondition: The state is deleted, or ErrStateNotFound if the pair holds
// no state.
func (r *StateRepository) Delete(ctx context.Context, userID, roomID int64) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM user_room_states WHERE user_id = $1 AND room_id = $2`,
		userID, roomID,
	)
	if err != nil {
		return fmt.Errorf("deleting user room state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateNotFound
	}
	return nil
}
