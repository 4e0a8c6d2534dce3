package postgres

import (
	"context"
	"errors"

	"github.com/parlorgames/parlor/internal/room"
)

// GameStore is the persistence collaborator behind the room coordinator,
// composing the repositories into the room.Store surface.
type GameStore struct {
	users     *UserRepository
	questions *QuestionRepository
	replies   *ReplyRepository
	states    *StateRepository
}

// NewGameStore creates a GameStore over the given pool.
//
// Precondition: pool must be connected.
func NewGameStore(pool *Pool) *GameStore {
	db := pool.DB()
	return &GameStore{
		users:     NewUserRepository(db),
		questions: NewQuestionRepository(db),
		replies:   NewReplyRepository(db),
		states:    NewStateRepository(db),
	}
}

// AddUser mints a fresh identity for a new connection.
func (s *GameStore) AddUser(ctx context.Context) (room.UserIdentity, error) {
	u, err := s.users.Mint(ctx)
	if err != nil {
		return room.UserIdentity{}, err
	}
	return room.UserIdentity{ID: u.ID, Username: u.Username}, nil
}

// JoinRoom upserts the (user, room) state and returns the accumulated score.
func (s *GameStore) JoinRoom(ctx context.Context, userID, roomID int64) (int, error) {
	st, err := s.states.Join(ctx, userID, roomID)
	if err != nil {
		return 0, err
	}
	return st.Score, nil
}

// LeaveRoom removes the (user, room) state. A missing state is not an
// error: the join may never have been persisted.
func (s *GameStore) LeaveRoom(ctx context.Context, userID, roomID int64) error {
	err := s.states.Delete(ctx, userID, roomID)
	if errors.Is(err, ErrStateNotFound) {
		return nil
	}
	return err
}

// PostQuestion persists a question asked by the room host.
func (s *GameStore) PostQuestion(ctx context.Context, userID, roomID int64, text string) (room.Question, error) {
	q, err := s.questions.Create(ctx, userID, roomID, text)
	if err != nil {
		return room.Question{}, err
	}
	return room.Question{ID: q.ID, Text: q.Text}, nil
}

// PostReply persists a member's reply to a question.
func (s *GameStore) PostReply(ctx context.Context, userID, roomID, questionID int64, text string) (room.Reply, error) {
	rep, err := s.replies.Create(ctx, userID, roomID, questionID, text)
	if err != nil {
		return room.Reply{}, err
	}
	return room.Reply{ID: rep.ID, Text: rep.Text}, nil
}

// AddScore adjusts the (user, room) score by delta and returns the new
// total.
func (s *GameStore) AddScore(ctx context.Context, userID, roomID int64, delta int) (int, error) {
	st, err := s.states.AddScore(ctx, userID, roomID, delta)
	if err != nil {
		return 0, err
	}
	return st.Score, nil
}

// ChangeUsername renames the user and returns the stored name.
func (s *GameStore) ChangeUsername(ctx context.Context, userID int64, username string) (string, error) {
	u, err := s.users.Rename(ctx, userID, username)
	if err != nil {
		return "", err
	}
	return u.Username, nil
}
