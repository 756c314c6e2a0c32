// Package chat relays text messages between the participants of a room.
package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/skillbridge/liveroom/internal/protocol"
	"github.com/skillbridge/liveroom/internal/room"
)

var (
	ErrEmpty     = errors.New("chat message is empty")
	ErrTooLong   = errors.New("chat message is too long")
	ErrNotJoined = errors.New("sender is not attached to the room")
)

// Options configures a Relay.
type Options struct {
	MaxLength  int // in runes, 0 disables the check
	MaxHistory int // messages kept for late joiners, 0 keeps none
	Now        func() time.Time
}

// Relay timestamps, logs and broadcasts chat lines. The log lives in the
// room state and goes away with the room.
type Relay struct {
	rooms *room.Registry
	opts  Options
}

func NewRelay(rooms *room.Registry, opts Options) *Relay {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Relay{rooms: rooms, opts: opts}
}

// Normalize trims text and checks it against maxLength runes (0 disables
// the check). Participants run it before sending so their local log holds
// exactly what the relay stores.
func Normalize(text string, maxLength int) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmpty
	}
	if n := utf8.RuneCountInString(text); maxLength > 0 && n > maxLength {
		return "", fmt.Errorf("%w: %d > %d", ErrTooLong, n, maxLength)
	}
	return text, nil
}

// Send delivers text from the participant on from to every other
// participant of roomID and returns the message as relayed.
func (c *Relay) Send(roomID string, from room.Conn, fromName, text string) (protocol.ChatMessage, error) {
	text, err := Normalize(text, c.opts.MaxLength)
	if err != nil {
		return protocol.ChatMessage{}, err
	}
	fromUserID := from.UserID()
	r, ok := c.rooms.Get(roomID)
	if !ok {
		return protocol.ChatMessage{}, room.ErrNotFound
	}
	if fromName == "" {
		fromName = fromUserID
	}

	var msg protocol.ChatMessage
	r.Do(func(st *room.State) {
		if !st.Holds(from) {
			err = ErrNotJoined
			return
		}
		// Stamped under the lock so log order and timestamps agree.
		msg = protocol.ChatMessage{
			SenderID:   fromUserID,
			SenderName: fromName,
			Text:       text,
			Timestamp:  c.opts.Now().UTC(),
		}
		if c.opts.MaxHistory > 0 {
			st.Chat = append(st.Chat, msg)
			if over := len(st.Chat) - c.opts.MaxHistory; over > 0 {
				st.Chat = append(st.Chat[:0:0], st.Chat[over:]...)
			}
		}
		m := msg
		st.Broadcast(&protocol.Message{Type: protocol.TypeReceiveMessage, RoomID: roomID, Chat: &m}, fromUserID)
	})
	return msg, err
}

// History returns the retained log of roomID, oldest first.
func (c *Relay) History(roomID string) []protocol.ChatMessage {
	r, ok := c.rooms.Get(roomID)
	if !ok {
		return nil
	}
	var out []protocol.ChatMessage
	r.Do(func(st *room.State) { out = HistoryOf(st) })
	return out
}

// HistoryOf copies the log out of st. The caller holds the room lock.
func HistoryOf(st *room.State) []protocol.ChatMessage {
	return append([]protocol.ChatMessage(nil), st.Chat...)
}
