package signaling

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/skillbridge/liveroom/internal/chat"
	"github.com/skillbridge/liveroom/internal/metrics"
	"github.com/skillbridge/liveroom/internal/protocol"
	"github.com/skillbridge/liveroom/internal/room"
	"github.com/skillbridge/liveroom/internal/session"
	"github.com/skillbridge/liveroom/internal/whiteboard"
)

// Config wires a Hub to the room services.
type Config struct {
	Rooms   *room.Registry
	Board   *whiteboard.Store
	Chat    *chat.Relay
	Timer   *session.Authority
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// SweepInterval is how often Run checks for expired sessions and idle
	// rooms.
	SweepInterval time.Duration
	// PersistTimeout bounds one session-record operation, retries included.
	PersistTimeout time.Duration
}

// Hub is the central brain of the signaling server. It dispatches what
// clients send to the room services and runs the housekeeping loop.
// Per-room ordering comes from the room lock, not from the hub.
type Hub struct {
	rooms   *room.Registry
	relay   *Relay
	board   *whiteboard.Store
	chat    *chat.Relay
	timer   *session.Authority
	metrics *metrics.Metrics
	log     *slog.Logger

	sweepInterval  time.Duration
	persistTimeout time.Duration

	mu      sync.Mutex
	clients map[*Client]struct{}

	// background status writes, waited for on shutdown
	pending sync.WaitGroup
}

func NewHub(cfg Config) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	return &Hub{
		rooms:          cfg.Rooms,
		relay:          NewRelay(cfg.Rooms, cfg.Metrics, cfg.Logger),
		board:          cfg.Board,
		chat:           cfg.Chat,
		timer:          cfg.Timer,
		metrics:        cfg.Metrics,
		log:            cfg.Logger,
		sweepInterval:  cfg.SweepInterval,
		persistTimeout: cfg.PersistTimeout,
		clients:        make(map[*Client]struct{}),
	}
}

// Register tracks a connected client. It is not in a room until it sends
// join-room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("client registered", "conn", c.id, "user", c.userID, "remote", c.conn.RemoteAddr())
}

// Unregister detaches a client whose transport closed. A client that was
// already replaced by a reconnect leaves the room untouched.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !ok {
		return
	}

	if roomID := c.RoomID(); roomID != "" {
		h.relay.Leave(roomID, c)
	}
	c.Close()
	h.log.Debug("client unregistered", "conn", c.id, "user", c.userID)
}

// Dispatch handles one message from c. It runs on c's read goroutine.
func (h *Hub) Dispatch(c *Client, msg *protocol.Message) {
	h.log.Debug("message received", "conn", c.id, "user", c.userID, "type", msg.Type)

	switch msg.Type {
	case protocol.TypeJoinRoom:
		h.join(c, msg)
	case protocol.TypeLeaveRoom:
		h.leave(c)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		h.negotiate(c, msg)
	case protocol.TypeGetWhiteboard:
		h.inRoom(c, msg, func(roomID string) {
			if err := h.board.ReplayTo(roomID, c); err != nil {
				h.reject(c, err)
			}
		})
	case protocol.TypeDrawStroke:
		h.inRoom(c, msg, func(roomID string) {
			if msg.Stroke == nil {
				c.Deliver(protocol.NewError(protocol.CodeInvalidMessage, "draw-stroke needs a stroke"))
				return
			}
			if err := h.board.AppendStroke(roomID, c, *msg.Stroke); err != nil {
				h.reject(c, err)
				return
			}
			h.metrics.Strokes.Inc()
		})
	case protocol.TypeClearBoard:
		h.inRoom(c, msg, func(roomID string) {
			if err := h.board.Clear(roomID, c); err != nil {
				h.reject(c, err)
				return
			}
			h.metrics.BoardClears.Inc()
		})
	case protocol.TypeSendMessage:
		h.inRoom(c, msg, func(roomID string) {
			if msg.Chat == nil {
				c.Deliver(protocol.NewError(protocol.CodeInvalidMessage, "send-message needs a chat body"))
				return
			}
			name := msg.Chat.SenderName
			if name == "" {
				name = c.name
			}
			if _, err := h.chat.Send(roomID, c, name, msg.Chat.Text); err != nil {
				h.reject(c, err)
				return
			}
			h.metrics.ChatMessages.Inc()
		})
	case protocol.TypeGetTimer:
		h.inRoom(c, msg, func(roomID string) {
			c.Deliver(&protocol.Message{Type: protocol.TypeTimer, RoomID: roomID, Timer: h.timer.State(roomID)})
		})
	default:
		h.log.Info("unknown message type", "conn", c.id, "type", msg.Type)
		c.Deliver(protocol.NewError(protocol.CodeInvalidMessage, "unknown message type "+string(msg.Type)))
	}
}

// inRoom runs fn with the client's room, after checking that msg does not
// address some other room.
func (h *Hub) inRoom(c *Client, msg *protocol.Message, fn func(roomID string)) {
	roomID := c.RoomID()
	if roomID == "" {
		c.Deliver(protocol.NewError(protocol.CodeNotJoined, "join a room first"))
		return
	}
	if msg.RoomID != "" && msg.RoomID != roomID {
		h.log.Warn("message addressed to another room", "conn", c.id, "user", c.userID, "joined", roomID, "room", msg.RoomID, "type", msg.Type)
		c.Deliver(protocol.NewError(protocol.CodeUnknownRoom, "not joined to room "+msg.RoomID))
		return
	}
	fn(roomID)
}

func (h *Hub) join(c *Client, msg *protocol.Message) {
	roomID := msg.RoomID
	switch {
	case roomID == "":
		c.Deliver(protocol.NewError(protocol.CodeInvalidMessage, "join-room needs a roomId"))
		return
	case msg.UserID != "" && msg.UserID != c.userID:
		h.log.Warn("join with foreign user id", "conn", c.id, "user", c.userID, "claimed", msg.UserID)
		h.countJoin(protocol.CodeUnauthorized)
		c.Deliver(protocol.NewError(protocol.CodeUnauthorized, "user id does not match the connection"))
		return
	}
	if current := c.RoomID(); current != "" {
		if current != roomID {
			c.Deliver(protocol.NewError(protocol.CodeAlreadyJoined, "already joined room "+current))
			return
		}
		// A repeated join on the same connection re-sends the ack.
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.persistTimeout)
	defer cancel()
	if err := h.timer.Admit(ctx, roomID); err != nil {
		h.rejectJoin(c, roomID, err)
		return
	}

	res, err := h.relay.Join(roomID, c, func(st *room.State) {
		peers := make([]string, 0, 1)
		for _, id := range st.Participants() {
			if id != c.userID {
				peers = append(peers, id)
			}
		}
		c.Deliver(&protocol.Message{
			Type:    protocol.TypeRoomJoined,
			RoomID:  roomID,
			UserID:  c.userID,
			Peers:   peers,
			History: chat.HistoryOf(st),
			Timer:   h.timer.State(roomID),
		})
	})
	if err != nil {
		h.rejectJoin(c, roomID, err)
		return
	}
	c.setRoom(roomID)
	h.countJoin(metrics.Accepted)
	h.log.Info("participant joined", "room", roomID, "user", c.userID, "conn", c.id, "peer", res.Peer, "replaced", res.Replaced)

	if res.Peer != "" {
		h.startTimer(ctx, roomID)
	}
}

func (h *Hub) rejectJoin(c *Client, roomID string, err error) {
	code := protocol.CodeInvalidMessage
	switch {
	case errors.Is(err, room.ErrRoomFull):
		code = protocol.CodeRoomFull
	case errors.Is(err, room.ErrSessionEnded), errors.Is(err, session.ErrSessionEnded):
		code = protocol.CodeSessionEnded
	case errors.Is(err, session.ErrNotFound):
		code = protocol.CodeUnknownRoom
	}
	h.countJoin(code)
	h.log.Info("join rejected", "room", roomID, "user", c.userID, "conn", c.id, "reason", err)
	c.Deliver(protocol.NewError(code, err.Error()))
}

func (h *Hub) countJoin(result string) {
	h.metrics.Joins.WithLabelValues(result).Inc()
}

// startTimer fixes the session start once both participants are present
// and pushes the authoritative clock to the room.
func (h *Hub) startTimer(ctx context.Context, roomID string) {
	_, err := h.timer.EnsureStarted(ctx, roomID)
	if err != nil {
		h.metrics.TimerPersist.WithLabelValues(metrics.Unsynced).Inc()
	} else {
		h.metrics.TimerPersist.WithLabelValues(metrics.Synced).Inc()
	}

	rm, ok := h.rooms.Get(roomID)
	if !ok {
		return
	}
	rm.Do(func(st *room.State) {
		st.Broadcast(&protocol.Message{Type: protocol.TypeTimer, RoomID: roomID, Timer: h.timer.State(roomID)}, "")
	})
}

func (h *Hub) leave(c *Client) {
	roomID := c.RoomID()
	if roomID == "" {
		c.Deliver(protocol.NewError(protocol.CodeNotJoined, "not in a room"))
		return
	}
	h.relay.Leave(roomID, c)
	c.setRoom("")
	h.log.Info("participant left", "room", roomID, "user", c.userID, "conn", c.id)
}

// negotiate relays an offer, answer or candidate. Routing problems are
// logged and counted, never answered: the sender is not told whether the
// target exists.
func (h *Hub) negotiate(c *Client, msg *protocol.Message) {
	n, ok := protocol.NegotiationFrom(msg)
	if !ok || n.To == "" {
		c.Deliver(protocol.NewError(protocol.CodeInvalidMessage, string(msg.Type)+" needs a target"))
		return
	}
	roomID := c.RoomID()
	if roomID == "" || (msg.RoomID != "" && msg.RoomID != roomID) {
		h.log.Warn("dropped negotiation outside the joined room", "conn", c.id, "user", c.userID, "joined", roomID, "room", msg.RoomID, "type", msg.Type)
		h.metrics.Signals.WithLabelValues(n.Kind.String(), metrics.Dropped).Inc()
		return
	}

	switch n.Kind {
	case protocol.KindOffer:
		_ = h.relay.SendOffer(roomID, c, n.To, n.Data)
	case protocol.KindAnswer:
		_ = h.relay.SendAnswer(roomID, c, n.To, n.Data)
	case protocol.KindCandidate:
		_ = h.relay.SendIceCandidate(roomID, c, n.To, n.Data)
	}
}

// reject maps a room service error onto an error message for c.
func (h *Hub) reject(c *Client, err error) {
	code := protocol.CodeInvalidMessage
	switch {
	case errors.Is(err, whiteboard.ErrFull):
		code = protocol.CodeWhiteboardFull
	case errors.Is(err, protocol.ErrEmptyStroke), errors.Is(err, protocol.ErrStrokeTooLong),
		errors.Is(err, protocol.ErrStrokeColor), errors.Is(err, protocol.ErrStrokeWidth),
		errors.Is(err, protocol.ErrStrokePoint):
		code = protocol.CodeInvalidStroke
	case errors.Is(err, chat.ErrTooLong):
		code = protocol.CodeMessageTooLong
	case errors.Is(err, whiteboard.ErrNotJoined), errors.Is(err, chat.ErrNotJoined):
		code = protocol.CodeNotJoined
	case errors.Is(err, room.ErrNotFound):
		code = protocol.CodeUnknownRoom
	}
	c.Deliver(protocol.NewError(code, err.Error()))
}

// Run sweeps expired sessions and idle rooms until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Tick()
		}
	}
}

// Tick runs one housekeeping pass.
func (h *Hub) Tick() {
	for _, roomID := range h.timer.Expire() {
		h.terminate(roomID)
	}
	for _, roomID := range h.rooms.Sweep() {
		h.timer.Forget(roomID)
	}

	rooms, participants := 0, 0
	for _, info := range h.rooms.Snapshot() {
		rooms++
		participants += len(info.Participants)
	}
	h.metrics.Rooms.Set(float64(rooms))
	h.metrics.Participants.Set(float64(participants))
}

// terminate force-ends a session whose time ran out: everyone gets
// session-ended and is disconnected, and the record is marked completed.
func (h *Hub) terminate(roomID string) {
	msg := &protocol.Message{Type: protocol.TypeSessionEnded, RoomID: roomID, Timer: h.timer.State(roomID)}
	h.rooms.End(roomID, msg)
	h.metrics.SessionsTerminated.Inc()
	h.log.Info("session time elapsed", "room", roomID)

	h.pending.Add(1)
	go func() {
		defer h.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.persistTimeout)
		defer cancel()
		h.timer.Complete(ctx, roomID)
	}()
}

// Close disconnects every client and waits for pending record writes.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	h.pending.Wait()
}
