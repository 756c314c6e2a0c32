package room

import (
	"sync"
	"time"

	"github.com/skillbridge/liveroom/internal/protocol"
)

// Capacity is the number of distinct participants a room admits.
const Capacity = 2

// Conn is one participant's live attachment to the relay.
type Conn interface {
	// ID identifies the transport connection, not the user.
	ID() string
	UserID() string
	// Deliver queues msg for the participant without blocking. It reports
	// false when the connection is closed or could not take the message.
	Deliver(msg *protocol.Message) bool
	Close()
}

// Room is the coordination unit for one scheduled session.
type Room struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex
	state      State
	ended      bool
	removed    bool
	emptySince time.Time
}

// State is the part of a room that is only reachable while holding the
// room's lock, through Room.Do.
type State struct {
	// Strokes is the ordered whiteboard.
	Strokes []protocol.Stroke
	// Chat is the in-memory log served to late joiners.
	Chat []protocol.ChatMessage

	members []Conn
}

func newRoom(id string, now time.Time) *Room {
	return &Room{ID: id, CreatedAt: now, emptySince: now}
}

// Do runs fn with exclusive access to the room state. Everything fn
// delivers is ordered with respect to every other Do on the same room.
func (r *Room) Do(fn func(st *State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.state)
}

// Ended reports whether the session was terminated.
func (r *Room) Ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}

// Participants returns attached user ids in join order.
func (st *State) Participants() []string {
	ids := make([]string, len(st.members))
	for i, c := range st.members {
		ids[i] = c.UserID()
	}
	return ids
}

// Conn returns the attachment for userID.
func (st *State) Conn(userID string) (Conn, bool) {
	for _, c := range st.members {
		if c.UserID() == userID {
			return c, true
		}
	}
	return nil, false
}

// Attached reports whether userID currently has a live attachment.
func (st *State) Attached(userID string) bool {
	_, ok := st.Conn(userID)
	return ok
}

// Holds reports whether conn is the current attachment of its user. A
// connection evicted by a reconnect no longer holds the slot even while
// its socket is still open.
func (st *State) Holds(conn Conn) bool {
	c, ok := st.Conn(conn.UserID())
	return ok && c.ID() == conn.ID()
}

// SendTo delivers msg to userID only.
func (st *State) SendTo(userID string, msg *protocol.Message) bool {
	c, ok := st.Conn(userID)
	if !ok {
		return false
	}
	return c.Deliver(msg)
}

// Broadcast delivers msg to every participant except the user id in
// except ("" reaches everyone) and returns the number of deliveries.
func (st *State) Broadcast(msg *protocol.Message, except string) int {
	n := 0
	for _, c := range st.members {
		if except != "" && c.UserID() == except {
			continue
		}
		if c.Deliver(msg) {
			n++
		}
	}
	return n
}

func (st *State) index(userID string) int {
	for i, c := range st.members {
		if c.UserID() == userID {
			return i
		}
	}
	return -1
}

func (st *State) remove(i int) Conn {
	c := st.members[i]
	st.members = append(st.members[:i], st.members[i+1:]...)
	return c
}
