package room

import "context"

// UserIdentity is a minted user identity.
type UserIdentity struct {
	ID       int64
	Username string
}

// Question is a persisted question row.
type Question struct {
	ID   int64
	Text string
}

// Reply is a persisted reply row.
type Reply struct {
	ID   int64
	Text string
}

// Store is the persistence collaborator consumed by the coordinator. Every
// call may fail independently of in-memory state: the coordinator logs the
// failure and proceeds, treating its own tables as authoritative and the
// store as eventually consistent. Implementations must respect the context
// deadline.
type Store interface {
	// AddUser mints a fresh identity for a new connection.
	AddUser(ctx context.Context) (UserIdentity, error)
	// JoinRoom records membership and returns the authoritative score for
	// the (user, room) pair, initialising it to zero on first join.
	JoinRoom(ctx context.Context, userID, roomID int64) (int, error)
	// LeaveRoom removes the (user, room) membership record.
	LeaveRoom(ctx context.Context, userID, roomID int64) error
	// PostQuestion persists a question asked by the room host.
	PostQuestion(ctx context.Context, userID, roomID int64, text string) (Question, error)
	// PostReply persists a member's reply to a question.
	PostReply(ctx context.Context, userID, roomID, questionID int64, text string) (Reply, error)
	// AddScore adjusts the (user, room) score by delta and returns the new
	// total.
	AddScore(ctx context.Context, userID, roomID int64, delta int) (int, error)
	// ChangeUsername renames the user and returns the stored name.
	ChangeUsername(ctx context.Context, userID int64, username string) (string, error)
}
