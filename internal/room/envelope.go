package room

import "encoding/json"

// Envelope kinds for outbound frames. Every frame the server sends carries
// an explicit kind discriminator so clients never have to guess the shape.
const (
	EnvelopeSnapshot = "snapshot"
	EnvelopeStatus   = "status"
	EnvelopeError    = "error"
	EnvelopeNotice   = "notice"
)

// Machine-readable reason codes on error envelopes.
const (
	CodeInvalidMessage = "invalid_message"
	CodeNotInRoom      = "not_in_room"
	CodeHostClaimed    = "host_claimed"
	CodeNotHost        = "not_host"
	CodeIsHost         = "is_host"
	CodeNoHost         = "no_host"
	CodeNoIdentity     = "no_identity"
)

// Envelope is a status, error, or notice frame.
type Envelope struct {
	Kind string `json:"kind"`
	Code string `json:"code,omitempty"`
	Text string `json:"text"`
}

// HostView is the host entry of a room snapshot.
type HostView struct {
	ConnectionID string `json:"connection_id"`
	Username     string `json:"username"`
}

// MemberView is one member entry of a room snapshot.
type MemberView struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
}

// Snapshot is the full current view of one room, sent to a caller after
// every room_init. Host is null while unclaimed.
type Snapshot struct {
	Kind        string       `json:"kind"`
	RoomID      int64        `json:"room_id"`
	Host        *HostView    `json:"host"`
	Connections []MemberView `json:"connections"`
}

func statusFrame(text string) []byte {
	return mustMarshal(Envelope{Kind: EnvelopeStatus, Text: text})
}

func errorFrame(code, text string) []byte {
	return mustMarshal(Envelope{Kind: EnvelopeError, Code: code, Text: text})
}

func noticeFrame(text string) []byte {
	return mustMarshal(Envelope{Kind: EnvelopeNotice, Text: text})
}

// mustMarshal encodes v, which is always one of the envelope types above and
// cannot fail to marshal.
func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
