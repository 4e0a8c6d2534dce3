package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// User represents a player identity in the database.
type User struct {
	ID       int64
	Username string
}

// ErrUserNotFound is returned when a user lookup yields no results.
var ErrUserNotFound = errors.New("user not found")

// UserRepository provides user persistence operations.
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a UserRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// Mint inserts a user with a generated placeholder name, for connections
// that arrive without an identity. Players rename themselves later.
//
// Postcondition: Returns the created User with ID and Username set.
func (r *UserRepository) Mint(ctx context.Context) (User, error) {
	return r.Create(ctx, "Player_"+uuid.NewString()[:8])
}

// Create inserts a user with the given name.
//
// Precondition: username must be non-empty.
// Postcondition: Returns the created User with ID set.
func (r *UserRepository) Create(ctx context.Context, username string) (User, error) {
	var u User
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (username)
		 VALUES ($1)
		 RETURNING id, username`,
		username,
	).Scan(&u.ID, &u.Username)
	if err != nil {
		return User{}, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

// Get retrieves a user by id.
//
// Postcondition: Returns the User or ErrUserNotFound.
func (r *UserRepository) Get(ctx context.Context, id int64) (User, error) {
	var u User
	err := r.db.QueryRow(ctx,
		`SELECT id, username FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// Rename updates a user's name.
//
// Precondition: username must be non-empty.
// Postcondition: Returns the updated User, or ErrUserNotFound if no user
// has the given id.
func (r *UserRepository) Rename(ctx context.Context, id int64, username string) (User, error) {
	var u User
	err := r.db.QueryRow(ctx,
		`UPDATE users SET username = $2 WHERE id = $1
		 RETURNING id, username`,
		id, username,
	).Scan(&u.ID, &u.Username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("updating user: %w", err)
	}
	return u, nil
}

// Delete removes a user.
//
// Postcondition: The user is deleted, or ErrUserNotFound if no user has
// the given id.
func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
