package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Room represents a named game room in the database.
type Room struct {
	ID   int64
	Name string
}

// ErrRoomNotFound is returned when a room lookup yields no results.
var ErrRoomNotFound = errors.New("room not found")

// ErrRoomNameTooLong is returned when a room name exceeds the column width.
var ErrRoomNameTooLong = errors.New("room name too long")

// RoomRepository provides room persistence operations.
type RoomRepository struct {
	db *pgxpool.Pool
}

// NewRoomRepository creates a RoomRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewRoomRepository(db *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{db: db}
}

// Create inserts a room. An empty name defaults to "Room_<id>" using the
// sequence value assigned to the row.
//
// Postcondition: Returns the created Room, or ErrRoomNameTooLong when the
// name exceeds the column width.
func (r *RoomRepository) Create(ctx context.Context, name string) (Room, error) {
	var (
		room Room
		err  error
	)
	if name == "" {
		err = r.db.QueryRow(ctx,
			`INSERT INTO rooms (name)
			 VALUES ('Room_' || currval(pg_get_serial_sequence('rooms', 'id')))
			 RETURNING id, name`,
		).Scan(&room.ID, &room.Name)
	} else {
		err = r.db.QueryRow(ctx,
			`INSERT INTO rooms (name)
			 VALUES ($1)
			 RETURNING id, name`,
			name,
		).Scan(&room.ID, &room.Name)
	}
	if err != nil {
		if isValueTooLongError(err) {
			return Room{}, ErrRoomNameTooLong
		}
		return Room{}, fmt.Errorf("inserting room: %w", err)
	}
	return room, nil
}

// Get retrieves a room by id.
//
// Postcondition: Returns the Room or ErrRoomNotFound.
func (r *RoomRepository) Get(ctx context.Context, id int64) (Room, error) {
	var room Room
	err := r.db.QueryRow(ctx,
		`SELECT id, name FROM rooms WHERE id = $1`,
		id,
	).Scan(&room.ID, &room.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Room{}, ErrRoomNotFound
		}
		return Room{}, fmt.Errorf("querying room: %w", err)
	}
	return room, nil
}

// List returns all rooms ordered by id.
func (r *RoomRepository) List(ctx context.Context) ([]Room, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name FROM rooms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying rooms: %w", err)
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.Name); err != nil {
			return nil, fmt.Errorf("scanning room: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rooms: %w", err)
	}
	return rooms, nil
}

// ListUsers returns the users holding state in the given room, for clients
// rebuilding a member list on reconnect.
func (r *RoomRepository) ListUsers(ctx context.Context, roomID int64) ([]User, error) {
	rows, err := r.db.Query(ctx,
		`SELECT u.id, u.username
		 FROM users u
		 JOIN user_room_states s ON s.user_id = u.id
		 WHERE s.room_id = $1
		 ORDER BY u.id`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying room users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username); err != nil {
			return nil, fmt.Errorf("scanning room user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating room users: %w", err)
	}
	return users, nil
}

// Rename updates a room's name.
//
// Precondition: name must be non-empty.
// Postcondition: Returns the updated Room, ErrRoomNotFound if no room has
// the given id, or ErrRoomNameTooLong.
func (r *RoomRepository) Rename(ctx context.Context, id int64, name string) (Room, error) {
	var room Room
	err := r.db.QueryRow(ctx,
		`UPDATE rooms SET name = $2 WHERE id = $1
		 RETURNING id, name`,
		id, name,
	).Scan(&room.ID, &room.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Room{}, ErrRoomNotFound
		}
		if isValueTooLongError(err) {
			return Room{}, ErrRoomNameTooLong
		}
		return Room{}, fmt.Errorf("updating room: %w", err)
	}
	return room, nil
}

// Delete removes a room.
//
// Postcondition: The room is deleted, or ErrRoomNotFound if no room has
// the given id.
func (r *RoomRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}
