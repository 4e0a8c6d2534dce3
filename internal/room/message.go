// Package room implements the live room coordination core: the connection
// registry, the room table, protocol dispatch, and fan-out to room peers.
package room

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message kinds accepted on the room socket.
const (
	KindRoomInit       = "room_init"
	KindClaimHost      = "claim_host"
	KindPostQuestion   = "post_question"
	KindPostResponse   = "post_response"
	KindChooseResponse = "choose_response"
	KindChangeUsername = "change_username"
)

// ErrInvalidMessage is returned when an inbound frame fails schema
// validation. The sender gets the fixed "Invalid message" reply and no state
// changes.
var ErrInvalidMessage = errors.New("invalid message")

// Message is one inbound frame. Pointer fields distinguish absent from
// zero-valued; ids must be positive.
type Message struct {
	Type       string  `json:"type"`
	UserID     *int64  `json:"user_id"`
	RoomID     *int64  `json:"room_id,omitempty"`
	Text       *string `json:"text,omitempty"`
	QuestionID *int64  `json:"question_id,omitempty"`
}

// needsText reports whether the message kind carries a mandatory text field.
func needsText(kind string) bool {
	switch kind {
	case KindPostQuestion, KindPostResponse, KindChooseResponse, KindChangeUsername:
		return true
	}
	return false
}

// knownKind reports whether kind is one of the six protocol message kinds.
func knownKind(kind string) bool {
	switch kind {
	case KindRoomInit, KindClaimHost, KindPostQuestion,
		KindPostResponse, KindChooseResponse, KindChangeUsername:
		return true
	}
	return false
}

// Validate checks the frame against the protocol schema:
//   - type must be a known kind
//   - user_id must be present and positive
//   - room_id must be present and positive unless type is change_username
//   - text must be present and non-empty for post_question, post_response,
//     choose_response, and change_username
//   - question_id must be present and positive for post_response
//
// Postcondition: Returns nil or ErrInvalidMessage.
func (m Message) Validate() error {
	if !knownKind(m.Type) {
		return ErrInvalidMessage
	}
	if m.UserID == nil || *m.UserID <= 0 {
		return ErrInvalidMessage
	}
	if m.Type != KindChangeUsername && (m.RoomID == nil || *m.RoomID <= 0) {
		return ErrInvalidMessage
	}
	if needsText(m.Type) && (m.Text == nil || *m.Text == "") {
		return ErrInvalidMessage
	}
	if m.Type == KindPostResponse && (m.QuestionID == nil || *m.QuestionID <= 0) {
		return ErrInvalidMessage
	}
	return nil
}

// ParseMessage decodes and validates one inbound frame.
//
// Postcondition: Returns a validated Message, or ErrInvalidMessage for
// malformed JSON and schema violations alike.
func ParseMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %s", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
