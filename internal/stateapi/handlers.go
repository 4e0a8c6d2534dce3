package stateapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/parlorgames/parlor/internal/storage/postgres"
)

// errorBody is the JSON error envelope returned on every failed request.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type roomResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type questionResponse struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"user_id"`
	RoomID int64  `json:"room_id"`
	Text   string `json:"text"`
}

type replyResponse struct {
	ID         int64  `json:"id"`
	UserID     int64  `json:"user_id"`
	RoomID     int64  `json:"room_id"`
	QuestionID int64  `json:"question_id"`
	Text       string `json:"text"`
}

type stateResponse struct {
	UserID int64 `json:"user_id"`
	RoomID int64 `json:"room_id"`
	Score  int   `json:"score"`
}

func (s *Server) fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(errorBody{Error: "request failed", Message: message})
}

func userJSON(u postgres.User) userResponse {
	return userResponse{ID: u.ID, Username: u.Username}
}

func roomJSON(r postgres.Room) roomResponse {
	return roomResponse{ID: r.ID, Name: r.Name}
}

func (s *Server) createUser(c *fiber.Ctx) error {
	var req struct {
		Username *string `json:"username"`
	}
	if err := c.BodyParser(&req); err != nil || req.Username == nil || *req.Username == "" {
		return s.fail(c, fiber.StatusBadRequest, "You must provide a username")
	}
	u, err := s.stores.Users.Create(c.Context(), *req.Username)
	if err != nil {
		return s.fail(c, fiber.StatusInternalServerError, "Unknown failure adding user.")
	}
	return c.Status(fiber.StatusCreated).JSON(userJSON(u))
}

func (s *Server) updateUser(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return s.fail(c, fiber.StatusBadRequest, "Confirm both username and user id are provided")
	}
	var req struct {
		Username *string `json:"username"`
	}
	if err := c.BodyParser(&req); err != nil || req.Username == nil || *req.Username == "" {
		return s.fail(c, fiber.StatusBadRequest, "Confirm both username and user id are provided")
	}
	u, err := s.stores.Users.Rename(c.Context(), int64(id), *req.Username)
	if err != nil {
		if errors.Is(err, postgres.ErrUserNotFound) {
			return s.fail(c, fiber.StatusBadRequest,
				"Can only update existing users. Confirm user_id is correct")
		}
		return s.fail(c, fiber.StatusInternalServerError, "Unknown failure updating user.")
	}
	return c.Status(fiber.StatusCreated).JSON(userJSON(u))
}

func (s *Server) deleteUser(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return s.fail(c, fiber.StatusBadRequest, "No user id provided")
	}
	// Deleting an absent row is not an error: the end state is the same.
	if err := s.stores.Users.Delete(c.Context(), int64(id)); err != nil &&
		!errors.Is(err, postgres.ErrUserNotFound) {
		return s.fail(c, fiber.StatusInternalServerError, "Unknown failure deleting user.")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) listRooms(c *fiber.Ctx) error {
	rooms, err := s.stores.Rooms.List(c.Context())
	if err != nil {
		return s.fail(c, fiber.StatusInternalServerError, "Unknown failure listing rooms.")
	}
	out := make([]roomResponse, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, roomJSON(r))
	}
	return c.JSON(out)
}

func (s *Server) getRoom(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return s.fail(c, fiber.StatusBadRequest, "No room id provided")
	}
	r, err := s.stores.Rooms.Get(c.Context(), int64(id))
	if err != nil {
		if errors.Is(err, postgres.ErrRoomNotFound) {
			return s.fail(c, fiber.StatusNotFound, "Room does not exist")
		}
		return s.fail(c, fiber.StatusInternalServerError, "Unknown failure querying room.")
	}
	return c.JSON(roomJSON(r))
}

func (s *Server) listRoomUsers(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return s.fail(c, fiber.StatusBadRequest, "No room id provided")
	}
	users, err := s.stores.Rooms.ListUsers(c.Context(), int64(id))
	if err != nil {
		return s.fail(c, fiber.StatusInternalServerError, "Unknown failure listing room users.")
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, userJSON(u))
	}
	return c.JSON(out)
}

func (s *Server) createRoom(c *fiber.Ctx) error {
	// Room name is optional; an absent name is generated from the row id.
	var req struct {
		Name string `json:"name"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return s.fail(c, fiber.StatusBadRequest, "Malformed room body")
		}
	}
	r, err := s.stores.Rooms.Create(c.Context(), req.Name)
	if err != nil {
		if errors.Is(err, postgres.ErrRoomNameTooLong) {
			return s.fail(c, fiber.StatusInternalServerError, "Room name too long")
		}
		return s.fail(c, fiber.StatusInternalServerError, "Unknown failure adding room.")
	}
	return c.Status(fiber.StatusCreated).JSON(roomJSON(r))
}

func (s *Server) updateRoom(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return s.fail(c, fiber.StatusBadRequest, "Confirm both room name and room id are provided")
	}
	var req struct {
		Name *string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil || req.Name == nil || *req.Name == "" {
		return s.fail(c, fiber.StatusBadRequest, "Confirm both room name and room id are provided")
	}
	r, err := s.stores.Rooms.Rename(c.Context(), int64(id), *req.Name)
	if err != nil {
		switch {
		case errors.Is(err, postgres.ErrRoomNotFound):
			return s.fail(c, fiber.StatusBadRequest,
				"Can only update existing rooms. Confirm room_id is correct")
		case errors.Is(err, postgres.ErrRoomNameTooLong):
			return s.fail(c, fiber.StatusInternalServerError, "Room name too long")
		}
		return s.fail(c, fiber.StatusInternalServerError, "Unknown failure updating room.")
	}
	return c.Status(fiber.StatusCreated).JSON(roomJSON(r))
}

func (s *Server) deleteRoom(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return s.fail(c, fiber.StatusBadRequest, "No room id provided")
	}
	if err := s.stores.Rooms.Delete(c.Context(), int64(id)); err != nil &&
		!errors.Is(err, postgres.ErrRoomNotFound) {
		return s.fail(c, fiber.StatusInternalServerError, "Unknown failure deleting room.")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) createQuestion(c *fiber.Ctx) error {
	var req struct {
		UserID *int64  `json:"user_id"`
		RoomID *int64  `json:"room_id"`
		Text   *string `json:"text"`
	}
	if err := c.BodyParser(&req); err != nil ||
		req.UserID == nil || req.RoomID == nil || req.Text == nil || *req.Text == "" {
		return s.fail(c, fiber.StatusBadRequest, "Missing one of: text, user_id, room_id")
	}
	q, err := s.stores.Questions.Create(c.Context(), *req.UserID, *req.RoomID, *req.Text)
	if err != nil {
		return s.fail(c, fiber.StatusInternalServerError, "Unknown failure adding question.")
	}
	return c.Status(fiber.StatusCreated).JSON(questionResponse(q))
}

func (s *Server) updateQuestion(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return s.fail(c, fiber.StatusBadRequest, "Confirm both text and question id are provided")
	}
	var req struct {
		Text *string `json:"text"`
	}
	if err := c.BodyParser(&req); err != nil || req.Text == nil || *req.Text == "" {
		return s.fail(c, fiber.StatusBadRequest, "Confirm both text and question id are provided")
	}
	q, err := s.stores.Questions.UpdateText(c.Context(), int64(id), *req.Text)
	if err != nil {
		if errors.Is(err, postgres.ErrQuestionNotFound) {
			return s.fail(c, fiber.StatusBadRequest,
				"Can only update existing questions. Confirm question_id is correct")
		}
		return s.fail(c, fiber.StatusInternalServerError, "Unknown failure updating question.")
	}
	return c.Status(fiber.StatusCreated).JSON(questionResponse(q))
}

func (s *Server) listQuestionReplies(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return s.fail(c, fiber.StatusBadRequest, "No question id provided")
	}
	replies, err := s.stores.Replies.ListForQuestion(c.Context(), int64(id))
	if err != nil {
		return s.fail(c, fiber.StatusInternalServerError, "Unknown failure listing replies.")
	}
	out := make([]replyResponse, 0, len(replies))
	for _, rep := range replies {
		out = append(out, replyResponse(rep))
	}
	return c.JSON(out)
}

func (s *Server) createReply(c *fiber.Ctx) error {
	var req struct {
		UserID     *int64  `json:"user_id"`
		RoomID     *int64  `json:"room_id"`
		QuestionID *int64  `json:"question_id"`
		Text       *string `json:"text"`
	}
	if err := c.BodyParser(&req); err != nil ||
		req.UserID == nil || req.RoomID == nil || req.QuestionID == nil ||
		req.Text == nil || *req.Text == "" {
		return s.fail(c, fiber.StatusBadRequest, "Missing one of: text, user_id, room_id, question_id")
	}
	rep, err := s.stores.Replies.Create(c.Context(), *req.UserID, *req.RoomID, *req.QuestionID, *req.Text)
	if err != nil {
		return s.fail(c, fiber.StatusInternalServerError, "Unknown failure adding reply.")
	}
	return c.Status(fiber.StatusCreated).JSON(replyResponse(rep))
}

func (s *Server) createState(c *fiber.Ctx) error {
	var req struct {
		UserID *int64 `json:"user_id"`
		RoomID *int64 `json:"room_id"`
	}
	if err := c.BodyParser(&req); err != nil || req.UserID == nil || req.RoomID == nil {
		return s.fail(c, fiber.StatusBadRequest, "Missing one of: room_id, user_id.")
	}
	st, err := s.stores.States.Create(c.Context(), *req.UserID, *req.RoomID)
	if err != nil {
		if errors.Is(err, postgres.ErrStateExists) {
			return s.fail(c, fiber.StatusConflict, "State already exists for user and room")
		}
		return s.fail(c, fiber.StatusInternalServerError, "Unknown failure adding userRoomState.")
	}
	return c.Status(fiber.StatusCreated).JSON(stateResponse(st))
}

func (s *Server) updateState(c *fiber.Ctx) error {
	var req struct {
		UserID *int64 `json:"user_id"`
		RoomID *int64 `json:"room_id"`
		Amount *int   `json:"amount"`
	}
	if err := c.BodyParser(&req); err != nil ||
		req.UserID == nil || req.RoomID == nil || req.Amount == nil {
		return s.fail(c, fiber.StatusBadRequest, "Confirm user_id, room_id, and amount are provided")
	}
	st, err := s.stores.States.AddScore(c.Context(), *req.UserID, *req.RoomID, *req.Amount)
	if err != nil {
		if errors.Is(err, postgres.ErrStateNotFound) {
			return s.fail(c, fiber.StatusBadRequest, "Can only update existing userRoomStates.")
		}
		return s.fail(c, fiber.StatusInternalServerError, "Unknown failure updating userRoomState.")
	}
	return c.Status(fiber.StatusCreated).JSON(stateResponse(st))
}

func (s *Server) deleteState(c *fiber.Ctx) error {
	userID := c.QueryInt("user_id")
	roomID := c.QueryInt("room_id")
	if userID <= 0 || roomID <= 0 {
		return s.fail(c, fiber.StatusBadRequest, "Missing one of: user_id, room_id")
	}
	if err := s.stores.States.Delete(c.Context(), int64(userID), int64(roomID)); err != nil &&
		!errors.Is(err, postgres.ErrStateNotFound) {
		return s.fail(c, fiber.StatusInternalServerError, "Unknown failure deleting userRoomState.")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
