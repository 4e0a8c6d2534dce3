package room

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func int64Ptr(v int64) *int64 {
	return &v
}

func strPtr(v string) *string {
	return &v
}

func TestParseMessage(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{
			name:    "valid room_init",
			payload: `{"type":"room_init","user_id":1,"room_id":42}`,
		},
		{
			name:    "valid claim_host",
			payload: `{"type":"claim_host","user_id":1,"room_id":42}`,
		},
		{
			name:    "valid post_question",
			payload: `{"type":"post_question","user_id":1,"room_id":42,"text":"what?"}`,
		},
		{
			name:    "valid post_response",
			payload: `{"type":"post_response","user_id":1,"room_id":42,"question_id":7,"text":"this"}`,
		},
		{
			name:    "valid choose_response",
			payload: `{"type":"choose_response","user_id":1,"room_id":42,"text":"this"}`,
		},
		{
			name:    "change_username needs no room",
			payload: `{"type":"change_username","user_id":1,"text":"Morgan"}`,
		},
		{
			name:    "not json",
			payload: `room_init please`,
			wantErr: true,
		},
		{
			name:    "unknown type",
			payload: `{"type":"start_game","user_id":1,"room_id":42}`,
			wantErr: true,
		},
		{
			name:    "missing user_id",
			payload: `{"type":"room_init","room_id":42}`,
			wantErr: true,
		},
		{
			name:    "zero user_id",
			payload: `{"type":"room_init","user_id":0,"room_id":42}`,
			wantErr: true,
		},
		{
			name:    "negative room_id",
			payload: `{"type":"room_init","user_id":1,"room_id":-3}`,
			wantErr: true,
		},
		{
			name:    "missing room_id",
			payload: `{"type":"claim_host","user_id":1}`,
			wantErr: true,
		},
		{
			name:    "post_question without text",
			payload: `{"type":"post_question","user_id":1,"room_id":42}`,
			wantErr: true,
		},
		{
			name:    "post_question with empty text",
			payload: `{"type":"post_question","user_id":1,"room_id":42,"text":""}`,
			wantErr: true,
		},
		{
			name:    "post_response without question_id",
			payload: `{"type":"post_response","user_id":1,"room_id":42,"text":"this"}`,
			wantErr: true,
		},
		{
			name:    "post_response with zero question_id",
			payload: `{"type":"post_response","user_id":1,"room_id":42,"question_id":0,"text":"this"}`,
			wantErr: true,
		},
		{
			name:    "change_username without text",
			payload: `{"type":"change_username","user_id":1}`,
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tc.payload))
			if tc.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidMessage)
				return
			}
			require.NoError(t, err)
			assert.True(t, knownKind(msg.Type))
		})
	}
}

func TestValidateUnknownKind(t *testing.T) {
	msg := Message{
		Type:   "not_a_kind",
		UserID: int64Ptr(1),
		RoomID: int64Ptr(1),
	}
	assert.ErrorIs(t, msg.Validate(), ErrInvalidMessage)
}

func TestPropertyValidMessagesRoundTrip(t *testing.T) {
	kinds := []string{
		KindRoomInit, KindClaimHost, KindPostQuestion,
		KindPostResponse, KindChooseResponse, KindChangeUsername,
	}
	rapid.Check(t, func(t *rapid.T) {
		msg := Message{
			Type:   rapid.SampledFrom(kinds).Draw(t, "type"),
			UserID: int64Ptr(rapid.Int64Range(1, 1<<40).Draw(t, "userID")),
			RoomID: int64Ptr(rapid.Int64Range(1, 1<<40).Draw(t, "roomID")),
		}
		if needsText(msg.Type) {
			msg.Text = strPtr(rapid.StringMatching(`[a-zA-Z0-9 ?!.]{1,80}`).Draw(t, "text"))
		}
		if msg.Type == KindPostResponse {
			msg.QuestionID = int64Ptr(rapid.Int64Range(1, 1<<40).Draw(t, "questionID"))
		}

		data, err := json.Marshal(msg)
		require.NoError(t, err)

		parsed, err := ParseMessage(data)
		require.NoError(t, err)
		assert.Equal(t, msg.Type, parsed.Type)
		assert.Equal(t, *msg.UserID, *parsed.UserID)
	})
}
