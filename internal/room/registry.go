package room

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/skillbridge/liveroom/internal/protocol"
)

var (
	ErrRoomFull     = errors.New("room is full")
	ErrNotFound     = errors.New("room not found")
	ErrSessionEnded = errors.New("session has ended")
	ErrInvalidJoin  = errors.New("room id and user id are required")
)

// Options tunes a Registry.
type Options struct {
	// GracePeriod keeps an empty room (and its board and chat) alive for
	// reconnects. Zero removes a room as soon as its last participant leaves.
	GracePeriod time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

// Registry tracks which participants are attached to which room.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	grace time.Duration
	now   func() time.Time
	log   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		rooms: make(map[string]*Room),
		grace: opts.GracePeriod,
		now:   opts.Now,
		log:   opts.Logger,
	}
}

// JoinResult describes an admitted join.
type JoinResult struct {
	Room *Room
	// Peer is the other participant's user id, if one is attached.
	Peer string
	// Replaced is true when the join took over an existing attachment of
	// the same user id.
	Replaced bool
	// Created is true when this join created the room.
	Created bool
}

// Join attaches conn to roomID, creating the room on first use.
//
// admit, when non-nil, runs under the room lock right after the attachment
// and before the peer is notified, so anything it delivers to conn is
// ordered ahead of later room traffic.
//
// When another participant is already attached it receives exactly one
// user-connected message naming conn's user. A rejoin with the same user id
// replaces the previous attachment: the old connection is closed and the
// peer sees user-disconnected followed by user-connected. Joining again on
// the attachment already held changes nothing and notifies nobody.
func (g *Registry) Join(roomID string, conn Conn, admit func(st *State)) (JoinResult, error) {
	userID := conn.UserID()
	if roomID == "" || userID == "" {
		return JoinResult{}, ErrInvalidJoin
	}

	for {
		r, created := g.getOrCreate(roomID)

		var (
			res     JoinResult
			err     error
			retry   bool
			evicted Conn
		)
		r.Do(func(st *State) {
			if r.removed {
				retry = true
				return
			}
			if r.ended {
				err = ErrSessionEnded
				return
			}

			again := false
			if i := st.index(userID); i >= 0 {
				if st.members[i].ID() == conn.ID() {
					again = true
				} else {
					evicted = st.remove(i)
					res.Replaced = true
				}
			} else if len(st.members) >= Capacity {
				err = ErrRoomFull
				return
			}
			if !again {
				st.members = append(st.members, conn)
			}

			if admit != nil {
				admit(st)
			}

			for _, other := range st.members {
				if other.ID() == conn.ID() {
					continue
				}
				res.Peer = other.UserID()
				if again {
					continue
				}
				if res.Replaced {
					other.Deliver(&protocol.Message{Type: protocol.TypeUserDisconnected, RoomID: roomID, UserID: userID})
				}
				other.Deliver(&protocol.Message{Type: protocol.TypeUserConnected, RoomID: roomID, UserID: userID})
			}
		})
		if retry {
			continue
		}
		if evicted != nil {
			evicted.Close()
		}
		if err != nil {
			if created {
				g.dropIfEmpty(r)
			}
			return JoinResult{}, err
		}

		res.Room = r
		res.Created = created
		g.log.Debug("participant joined", "room", roomID, "user", userID, "conn", conn.ID(), "peer", res.Peer, "replaced", res.Replaced)
		return res, nil
	}
}

func (g *Registry) getOrCreate(roomID string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[roomID]; ok {
		return r, false
	}
	r := newRoom(roomID, g.now())
	g.rooms[roomID] = r
	g.log.Info("room created", "room", roomID)
	return r, true
}

// Leave detaches userID from roomID regardless of which connection holds
// the slot. It reports whether anything was detached.
func (g *Registry) Leave(roomID, userID string) bool {
	return g.detach(roomID, func(c Conn) bool { return c.UserID() == userID })
}

// Detach removes conn if it still holds its user's slot. A connection that
// was replaced by a reconnect is ignored, so a late transport close can
// never evict the newer attachment.
func (g *Registry) Detach(roomID string, conn Conn) bool {
	return g.detach(roomID, func(c Conn) bool { return c.ID() == conn.ID() })
}

func (g *Registry) detach(roomID string, match func(Conn) bool) bool {
	r, ok := g.Get(roomID)
	if !ok {
		return false
	}

	var (
		left  Conn
		empty bool
	)
	r.Do(func(st *State) {
		for i, c := range st.members {
			if match(c) {
				left = st.remove(i)
				break
			}
		}
		if left == nil {
			return
		}
		st.Broadcast(&protocol.Message{Type: protocol.TypeUserDisconnected, RoomID: roomID, UserID: left.UserID()}, "")
		if len(st.members) == 0 {
			r.emptySince = g.now()
			empty = true
		}
	})
	if left == nil {
		return false
	}

	g.log.Debug("participant left", "room", roomID, "user", left.UserID(), "conn", left.ID())
	if empty && g.grace <= 0 {
		g.dropIfEmpty(r)
	}
	return true
}

// ListParticipants returns the user ids attached to roomID in join order.
func (g *Registry) ListParticipants(roomID string) []string {
	r, ok := g.Get(roomID)
	if !ok {
		return nil
	}
	var ids []string
	r.Do(func(st *State) { ids = st.Participants() })
	return ids
}

// Get returns the room with the given id.
func (g *Registry) Get(roomID string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[roomID]
	return r, ok
}

// End terminates a session: msg is delivered to every participant, their
// connections are closed and further joins fail with ErrSessionEnded.
// It reports false if the room is unknown or already ended.
func (g *Registry) End(roomID string, msg *protocol.Message) bool {
	r, ok := g.Get(roomID)
	if !ok {
		return false
	}
	var closing []Conn
	ended := false
	r.Do(func(st *State) {
		if r.ended {
			return
		}
		r.ended, ended = true, true
		st.Broadcast(msg, "")
		closing = st.members
		st.members = nil
		r.emptySince = g.now()
	})
	for _, c := range closing {
		c.Close()
	}
	if ended {
		g.log.Info("session ended", "room", roomID, "participants", len(closing))
	}
	return ended
}

// Sweep removes rooms that have been empty for at least the grace period
// and returns their ids.
func (g *Registry) Sweep() []string {
	now := g.now()

	g.mu.Lock()
	candidates := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		candidates = append(candidates, r)
	}
	g.mu.Unlock()

	var swept []string
	for _, r := range candidates {
		expired := false
		r.Do(func(st *State) {
			expired = len(st.members) == 0 && now.Sub(r.emptySince) >= g.grace
		})
		if expired && g.dropIfEmpty(r) {
			swept = append(swept, r.ID)
		}
	}
	sort.Strings(swept)
	return swept
}

// dropIfEmpty removes r from the map if nobody is attached. The removed
// flag makes a Join that raced on the old pointer retry with a fresh room.
func (g *Registry) dropIfEmpty(r *Room) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	dropped := false
	r.Do(func(st *State) {
		if len(st.members) > 0 || r.removed {
			return
		}
		r.removed, dropped = true, true
	})
	if dropped && g.rooms[r.ID] == r {
		delete(g.rooms, r.ID)
		g.log.Info("room removed", "room", r.ID)
	}
	return dropped
}

// Len returns the number of live rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Info is an operator-facing snapshot of one room.
type Info struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	Strokes      int       `json:"strokes"`
	ChatMessages int       `json:"chatMessages"`
	CreatedAt    time.Time `json:"createdAt"`
	Ended        bool      `json:"ended"`
}

// Snapshot returns every room sorted by id.
func (g *Registry) Snapshot() []Info {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()

	out := make([]Info, 0, len(rooms))
	for _, r := range rooms {
		info := Info{ID: r.ID, CreatedAt: r.CreatedAt}
		r.Do(func(st *State) {
			info.Participants = st.Participants()
			info.Strokes = len(st.Strokes)
			info.ChatMessages = len(st.Chat)
			info.Ended = r.ended
		})
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
