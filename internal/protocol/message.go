package protocol

import (
	"encoding/json"
	"time"
)

// Type is the wire name of a message.
type Type string

// Client to relay.
const (
	TypeJoinRoom      Type = "join-room"
	TypeLeaveRoom     Type = "leave-room"
	TypeGetWhiteboard Type = "get-whiteboard"
	TypeSendMessage   Type = "send-message"
	TypeGetTimer      Type = "get-timer"
)

// Relay to client.
const (
	TypeRoomJoined       Type = "room-joined"
	TypeUserConnected    Type = "user-connected"
	TypeUserDisconnected Type = "user-disconnected"
	TypeWhiteboardState  Type = "whiteboard-state"
	TypeReceiveMessage   Type = "receive-message"
	TypeTimer            Type = "timer"
	TypeSessionEnded     Type = "session-ended"
	TypeError            Type = "error"
)

// Both directions.
const (
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
	TypeDrawStroke   Type = "draw-stroke"
	TypeClearBoard   Type = "clear-board"
)

// Message is the envelope for everything exchanged on a room channel.
// Only the fields relevant to Type are set.
type Message struct {
	Type   Type   `json:"type" msgpack:"type"`
	RoomID string `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	UserID string `json:"userId,omitempty" msgpack:"userId,omitempty"`
	Name   string `json:"name,omitempty" msgpack:"name,omitempty"`

	// Negotiation routing. Caller is filled in by the relay from the
	// connection identity, never trusted from the client.
	Target    string  `json:"target,omitempty" msgpack:"target,omitempty"`
	Caller    string  `json:"caller,omitempty" msgpack:"caller,omitempty"`
	SDP       Payload `json:"sdp,omitempty" msgpack:"sdp,omitempty"`
	Candidate Payload `json:"candidate,omitempty" msgpack:"candidate,omitempty"`

	Stroke  *Stroke       `json:"stroke,omitempty" msgpack:"stroke,omitempty"`
	Strokes []Stroke      `json:"strokes,omitempty" msgpack:"strokes,omitempty"`
	Chat    *ChatMessage  `json:"chat,omitempty" msgpack:"chat,omitempty"`
	History []ChatMessage `json:"history,omitempty" msgpack:"history,omitempty"`
	Peers   []string      `json:"peers,omitempty" msgpack:"peers,omitempty"`
	Timer   *TimerState   `json:"timer,omitempty" msgpack:"timer,omitempty"`
	Error   *ErrorPayload `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Payload is negotiation content the relay passes through untouched.
//
// JSON clients send an object (for example a browser RTCSessionDescription)
// and receive the same bytes back. Msgpack clients carry it as a bin field.
type Payload []byte

func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	if json.Valid(p) {
		return p, nil
	}
	return json.Marshal(string(p))
}

func (p *Payload) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = nil
		return nil
	}
	*p = append((*p)[:0], b...)
	return nil
}

// ChatMessage is one relayed chat line.
type ChatMessage struct {
	SenderID   string    `json:"senderId" msgpack:"senderId"`
	SenderName string    `json:"senderName" msgpack:"senderName"`
	Text       string    `json:"message" msgpack:"message"`
	Timestamp  time.Time `json:"timestamp" msgpack:"timestamp"`
}

// TimerState is the authority's view of a room's clock.
type TimerState struct {
	Started          bool       `json:"started" msgpack:"started"`
	ActiveStartedAt  *time.Time `json:"activeStartedAt,omitempty" msgpack:"activeStartedAt,omitempty"`
	DurationSeconds  int        `json:"durationSeconds" msgpack:"durationSeconds"`
	RemainingSeconds int        `json:"remainingSeconds" msgpack:"remainingSeconds"`
	Synced           bool       `json:"synced" msgpack:"synced"`
	ServerTime       time.Time  `json:"serverTime" msgpack:"serverTime"`
}

// Error codes carried in ErrorPayload.Code.
const (
	CodeRoomFull       = "room_full"
	CodeSessionEnded   = "session_ended"
	CodeNotJoined      = "not_joined"
	CodeAlreadyJoined  = "already_joined"
	CodeUnauthorized   = "unauthorized"
	CodeInvalidMessage = "invalid_message"
	CodeInvalidStroke  = "invalid_stroke"
	CodeWhiteboardFull = "whiteboard_full"
	CodeMessageTooLong = "message_too_long"
	CodeUnknownRoom    = "unknown_room"
)

// ErrorPayload reports a rejected request back to its sender.
type ErrorPayload struct {
	Code    string `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}

// NewError builds an error message for the given code.
func NewError(code, message string) *Message {
	return &Message{Type: TypeError, Error: &ErrorPayload{Code: code, Message: message}}
}
