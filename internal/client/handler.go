package client

import (
	"github.com/skillbridge/liveroom/internal/protocol"
)

// Handler routes relay messages to typed callbacks. Route is called for
// each message in arrival order, so a callback sees the relay's ordering:
// a user-disconnected is always handled before the user-connected that
// follows it. Nil callbacks drop their messages.
type Handler struct {
	Joined       func(msg *protocol.Message)
	PeerJoined   func(userID string)
	PeerLeft     func(userID string)
	Negotiation  func(n protocol.Negotiation)
	Board        func(msg *protocol.Message)
	Chat         func(m protocol.ChatMessage)
	Timer        func(t *protocol.TimerState)
	SessionEnded func(t *protocol.TimerState)
	Error        func(e *protocol.ErrorPayload)
}

// Route hands msg to its callback.
func (h *Handler) Route(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeRoomJoined:
		call(h.Joined, msg)

	case protocol.TypeUserConnected:
		call(h.PeerJoined, msg.UserID)

	case protocol.TypeUserDisconnected:
		call(h.PeerLeft, msg.UserID)

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		if n, ok := protocol.NegotiationFrom(msg); ok {
			call(h.Negotiation, n)
		}

	case protocol.TypeWhiteboardState, protocol.TypeDrawStroke, protocol.TypeClearBoard:
		call(h.Board, msg)

	case protocol.TypeReceiveMessage:
		if msg.Chat != nil {
			call(h.Chat, *msg.Chat)
		}

	case protocol.TypeTimer:
		if msg.Timer != nil {
			call(h.Timer, msg.Timer)
		}

	case protocol.TypeSessionEnded:
		call(h.SessionEnded, msg.Timer)

	case protocol.TypeError:
		if msg.Error != nil {
			call(h.Error, msg.Error)
		}

	default:
	}
}

func call[T any](fn func(T), v T) {
	if fn != nil {
		fn(v)
	}
}
