// Package stateapi serves the CRUD persistence API over the game database:
// users, rooms, questions, replies, and per-room user state.
package stateapi

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/parlorgames/parlor/internal/config"
	"github.com/parlorgames/parlor/internal/storage/postgres"
)

// UserStore is the user persistence surface consumed by the handlers.
type UserStore interface {
	Create(ctx context.Context, username string) (postgres.User, error)
	Rename(ctx context.Context, id int64, username string) (postgres.User, error)
	Delete(ctx context.Context, id int64) error
}

// RoomStore is the room persistence surface consumed by the handlers.
type RoomStore interface {
	Create(ctx context.Context, name string) (postgres.Room, error)
	Get(ctx context.Context, id int64) (postgres.Room, error)
	List(ctx context.Context) ([]postgres.Room, error)
	ListUsers(ctx context.Context, roomID int64) ([]postgres.User, error)
	Rename(ctx context.Context, id int64, name string) (postgres.Room, error)
	Delete(ctx context.Context, id int64) error
}

// QuestionStore is the question persistence surface consumed by the handlers.
type QuestionStore interface {
	Create(ctx context.Context, userID, roomID int64, text string) (postgres.Question, error)
	UpdateText(ctx context.Context, id int64, text string) (postgres.Question, error)
}

// ReplyStore is the reply persistence surface consumed by the handlers.
type ReplyStore interface {
	Create(ctx context.Context, userID, roomID, questionID int64, text string) (postgres.Reply, error)
	ListForQuestion(ctx context.Context, questionID int64) ([]postgres.Reply, error)
}

// StateStore is the score persistence surface consumed by the handlers.
type StateStore interface {
	Create(ctx context.Context, userID, roomID int64) (postgres.UserRoomState, error)
	AddScore(ctx context.Context, userID, roomID int64, delta int) (postgres.UserRoomState, error)
	Delete(ctx context.Context, userID, roomID int64) error
}

// Stores bundles the persistence surfaces behind the API.
type Stores struct {
	Users     UserStore
	Rooms     RoomStore
	Questions QuestionStore
	Replies   ReplyStore
	States    StateStore
}

// NewStores builds the bundle from the concrete repositories over pool.
func NewStores(pool *postgres.Pool) Stores {
	db := pool.DB()
	return Stores{
		Users:     postgres.NewUserRepository(db),
		Rooms:     postgres.NewRoomRepository(db),
		Questions: postgres.NewQuestionRepository(db),
		Replies:   postgres.NewReplyRepository(db),
		States:    postgres.NewStateRepository(db),
	}
}

// Server owns the fiber application serving the state API.
type Server struct {
	cfg    config.StateAPIConfig
	app    *fiber.App
	stores Stores
	logger *zap.Logger
}

// NewServer creates the state API server and registers its routes.
//
// Precondition: logger must be non-nil; cfg must be validated.
func NewServer(cfg config.StateAPIConfig, stores Stores, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		stores: stores,
		logger: logger,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "parlor-state",
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	s.app.Use(recover.New())
	s.routes()

	return s
}

func (s *Server) routes() {
	users := s.app.Group("/users")
	users.Post("/", s.createUser)
	users.Put("/:id", s.updateUser)
	users.Delete("/:id", s.deleteUser)

	rooms := s.app.Group("/rooms")
	rooms.Get("/", s.listRooms)
	rooms.Get("/:id", s.getRoom)
	rooms.Get("/:id/users", s.listRoomUsers)
	rooms.Post("/", s.createRoom)
	rooms.Put("/:id", s.updateRoom)
	rooms.Delete("/:id", s.deleteRoom)

	questions := s.app.Group("/questions")
	questions.Post("/", s.createQuestion)
	questions.Put("/:id", s.updateQuestion)
	questions.Get("/:id/replies", s.listQuestionReplies)

	s.app.Post("/replies", s.createReply)

	states := s.app.Group("/states")
	states.Post("/", s.createState)
	states.Put("/", s.updateState)
	states.Delete("/", s.deleteState)
}

// App exposes the fiber application for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start runs the listener. Blocks until Stop or a listener error.
func (s *Server) Start() error {
	s.logger.Info("state api listening", zap.String("addr", s.cfg.Addr()))
	return s.app.Listen(s.cfg.Addr())
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop() {
	if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
		s.logger.Warn("state api shutdown", zap.Error(err))
	}
}

// errorHandler renders uncaught handler errors as the JSON error body.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	s.logger.Error("state api request failed",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", code),
		zap.Error(err),
	)
	return c.Status(code).JSON(errorBody{
		Error:   "request failed",
		Message: err.Error(),
	})
}
